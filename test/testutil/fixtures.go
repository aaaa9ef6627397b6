package testutil

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arcmill/arcmill/internal/events"
)

// NewTestLogger creates a logger for testing.
func NewTestLogger() *events.Logger {
	var buf bytes.Buffer
	return events.NewTestLogger(events.DebugLevel, "json", &buf)
}

// fixtureModTime keeps archive timestamps deterministic.
var fixtureModTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// Entry is one member of a fixture archive.
type Entry struct {
	Path    string
	Content string
	Dir     bool
}

// ProjectEntries is a small source-tree layout shared across tests.
func ProjectEntries() []Entry {
	return []Entry{
		{Path: "src/", Dir: true},
		{Path: "src/main.go", Content: "package main\n\nfunc main() {}\n"},
		{Path: "src/util/helper.go", Content: "package util\n"},
		{Path: "README.md", Content: "# demo\n"},
	}
}

// ZipArchive builds an in-memory zip from entries.
func ZipArchive(t *testing.T, entries []Entry) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, e := range entries {
		if e.Dir {
			_, err := zw.Create(strings.TrimSuffix(e.Path, "/") + "/")
			require.NoError(t, err)
			continue
		}

		w, err := zw.Create(e.Path)
		require.NoError(t, err)
		_, err = w.Write([]byte(e.Content))
		require.NoError(t, err)
	}

	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// TarArchive builds an in-memory tar from entries.
func TarArchive(t *testing.T, entries []Entry) []byte {
	t.Helper()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	for _, e := range entries {
		if e.Dir {
			require.NoError(t, tw.WriteHeader(&tar.Header{
				Name:     strings.TrimSuffix(e.Path, "/") + "/",
				Typeflag: tar.TypeDir,
				Mode:     0o755,
				ModTime:  fixtureModTime,
			}))
			continue
		}

		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     e.Path,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(e.Content)),
			ModTime:  fixtureModTime,
		}))
		_, err := tw.Write([]byte(e.Content))
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())
	return buf.Bytes()
}

// TgzArchive builds an in-memory gzip-compressed tar from entries.
func TgzArchive(t *testing.T, entries []Entry) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write(TarArchive(t, entries))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

// Truncate copies the first n bytes, simulating a cut-off transfer.
func Truncate(data []byte, n int) []byte {
	if n > len(data) {
		n = len(data)
	}
	out := make([]byte, n)
	copy(out, data[:n])
	return out
}

// ZipWithoutDirectory strips everything from the central directory on,
// leaving the local file headers intact. The standard codec refuses
// such an archive; header salvage does not.
func ZipWithoutDirectory(t *testing.T, data []byte) []byte {
	t.Helper()

	centralDirMagic := []byte{0x50, 0x4B, 0x01, 0x02}
	idx := bytes.Index(data, centralDirMagic)
	require.GreaterOrEqual(t, idx, 0, "fixture zip has no central directory")
	return Truncate(data, idx)
}
