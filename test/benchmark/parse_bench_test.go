package benchmark

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/arcmill/arcmill/internal/config"
	"github.com/arcmill/arcmill/internal/extract"
	"github.com/arcmill/arcmill/internal/format"
	"github.com/arcmill/arcmill/internal/models"
	"github.com/arcmill/arcmill/test/testutil"
)

// memberContent is the payload written to every fixture member.
var memberContent = bytes.Repeat([]byte("0123456789abcdef"), 8) // 128B

func makeZip(b *testing.B, members int) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for i := 0; i < members; i++ {
		f, err := w.Create(fmt.Sprintf("src/dir%02d/file_%04d.txt", i%16, i))
		if err != nil {
			b.Fatal(err)
		}
		if _, err := f.Write(memberContent); err != nil {
			b.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		b.Fatal(err)
	}
	return buf.Bytes()
}

func makeTar(b *testing.B, members int) []byte {
	var buf bytes.Buffer
	w := tar.NewWriter(&buf)
	for i := 0; i < members; i++ {
		hdr := &tar.Header{
			Name: fmt.Sprintf("src/dir%02d/file_%04d.txt", i%16, i),
			Mode: 0o644,
			Size: int64(len(memberContent)),
		}
		if err := w.WriteHeader(hdr); err != nil {
			b.Fatal(err)
		}
		if _, err := w.Write(memberContent); err != nil {
			b.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		b.Fatal(err)
	}
	return buf.Bytes()
}

func BenchmarkZipParse(b *testing.B) {
	handler := format.NewZipHandler()
	ctx := context.Background()

	for _, members := range []int{10, 100, 1000} {
		b.Run(fmt.Sprintf("%dMembers", members), func(b *testing.B) {
			data := makeZip(b, members)

			b.ResetTimer()
			b.ReportAllocs()
			b.SetBytes(int64(len(data)))

			for i := 0; i < b.N; i++ {
				nodes, err := handler.Load(ctx, data, format.ParseOptions{})
				if err != nil {
					b.Fatal(err)
				}
				if files, _ := models.CountNodes(nodes); files != members {
					b.Fatalf("parsed %d files, want %d", files, members)
				}
			}
		})
	}
}

func BenchmarkTarParse(b *testing.B) {
	handler := format.NewTarHandler()
	ctx := context.Background()

	for _, members := range []int{10, 100, 1000} {
		b.Run(fmt.Sprintf("%dMembers", members), func(b *testing.B) {
			data := makeTar(b, members)

			b.ResetTimer()
			b.ReportAllocs()
			b.SetBytes(int64(len(data)))

			for i := 0; i < b.N; i++ {
				if _, err := handler.Load(ctx, data, format.ParseOptions{}); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkZipSalvage(b *testing.B) {
	handler := format.NewZipHandler()
	ctx := context.Background()

	for _, members := range []int{10, 100, 1000} {
		b.Run(fmt.Sprintf("%dMembers", members), func(b *testing.B) {
			intact := makeZip(b, members)
			// Drop the central directory so only the header scan works.
			idx := bytes.Index(intact, []byte{0x50, 0x4B, 0x01, 0x02})
			if idx < 0 {
				b.Fatal("fixture zip has no central directory")
			}
			damaged := intact[:idx]
			cause := fmt.Errorf("zip: not a valid zip file")

			b.ResetTimer()
			b.ReportAllocs()
			b.SetBytes(int64(len(damaged)))

			for i := 0; i < b.N; i++ {
				outcome := handler.Repair(ctx, damaged, cause)
				if !outcome.Success {
					b.Fatalf("salvage failed: %v", outcome.Log)
				}
			}
		})
	}
}

func BenchmarkSniff(b *testing.B) {
	heads := map[string][]byte{
		"Zip":  makeZip(b, 4),
		"Tar":  makeTar(b, 4),
		"Miss": bytes.Repeat([]byte{0x00}, 512),
	}

	for name, head := range heads {
		b.Run(name, func(b *testing.B) {
			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				format.Sniff(head)
			}
		})
	}
}

func BenchmarkContentDigest(b *testing.B) {
	sizes := []int{
		1024,    // 1KB
		102400,  // 100KB
		1048576, // 1MB
	}

	for _, size := range sizes {
		b.Run(fmt.Sprintf("%dKB", size/1024), func(b *testing.B) {
			data := bytes.Repeat([]byte{0xA5}, size)

			b.ResetTimer()
			b.ReportAllocs()
			b.SetBytes(int64(size))

			for i := 0; i < b.N; i++ {
				models.ContentDigest(data)
			}
		})
	}
}

func BenchmarkExtractTree(b *testing.B) {
	handler := format.NewZipHandler()
	ctx := context.Background()
	logger := testutil.NewTestLogger()

	for _, members := range []int{10, 100} {
		b.Run(fmt.Sprintf("%dMembers", members), func(b *testing.B) {
			data := makeZip(b, members)
			nodes, err := handler.Load(ctx, data, format.ParseOptions{})
			if err != nil {
				b.Fatal(err)
			}

			sink, err := extract.NewSink(b.TempDir(), config.ExtractConfig{Conflict: "overwrite"}, logger)
			if err != nil {
				b.Fatal(err)
			}

			b.ResetTimer()
			b.ReportAllocs()
			b.SetBytes(int64(members * len(memberContent)))

			for i := 0; i < b.N; i++ {
				report, err := sink.WriteTree(ctx, handler, data, nodes, format.ParseOptions{})
				if err != nil {
					b.Fatal(err)
				}
				if report.Failed > 0 {
					b.Fatalf("%d members failed", report.Failed)
				}
			}
		})
	}
}
