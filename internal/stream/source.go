// Package stream provides bounded, chunked access to archive bytes
// regardless of where they live.
package stream

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
)

// Source is a finite, randomly addressable sequence of bytes.
type Source interface {
	// ReadAt fills p from the given offset. Semantics follow io.ReaderAt.
	ReadAt(p []byte, off int64) (int, error)

	// Size returns the total length in bytes.
	Size() int64

	// Name identifies the source for logs and format detection.
	Name() string
}

// BytesSource serves a source from an in-memory buffer.
type BytesSource struct {
	name   string
	reader *bytes.Reader
	size   int64
}

// NewBytesSource wraps data as a source.
func NewBytesSource(name string, data []byte) *BytesSource {
	return &BytesSource{
		name:   name,
		reader: bytes.NewReader(data),
		size:   int64(len(data)),
	}
}

func (s *BytesSource) ReadAt(p []byte, off int64) (int, error) {
	return s.reader.ReadAt(p, off)
}

func (s *BytesSource) Size() int64 { return s.size }

func (s *BytesSource) Name() string { return s.name }

// FileSource serves a source from a local file.
type FileSource struct {
	name string
	file *os.File
	size int64
}

// NewFileSource opens path for random access.
func NewFileSource(path string) (*FileSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat source: %w", err)
	}

	return &FileSource{
		name: filepath.Base(path),
		file: file,
		size: info.Size(),
	}, nil
}

func (s *FileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.file.ReadAt(p, off)
}

func (s *FileSource) Size() int64 { return s.size }

func (s *FileSource) Name() string { return s.name }

// Close releases the underlying file.
func (s *FileSource) Close() error {
	return s.file.Close()
}
