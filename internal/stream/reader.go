package stream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/arcmill/arcmill/internal/models"
)

// Chunk is one bounded slice of a source.
type Chunk struct {
	Data   []byte
	Offset int64
	Index  int
}

// ProgressFunc reports cumulative read progress after each chunk.
type ProgressFunc func(bytesRead, totalBytes int64, percentage float64)

// Chunker yields a source's bytes as ordered, fixed-size chunks. Only
// the last chunk may be shorter. A chunker is single-pass: once
// exhausted it keeps returning io.EOF.
type Chunker struct {
	src       Source
	chunkSize int
	offset    int64
	index     int
	progress  ProgressFunc
}

// NewChunker creates a chunker starting at offset zero.
func NewChunker(src Source, chunkSize int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	return &Chunker{src: src, chunkSize: chunkSize}, nil
}

// WithProgress installs a progress callback and returns the chunker.
func (c *Chunker) WithProgress(fn ProgressFunc) *Chunker {
	c.progress = fn
	return c
}

// Next returns the next chunk, or io.EOF once the source is consumed.
func (c *Chunker) Next() (Chunk, error) {
	size := c.src.Size()
	if c.offset >= size {
		return Chunk{}, io.EOF
	}

	length := int64(c.chunkSize)
	if remaining := size - c.offset; remaining < length {
		length = remaining
	}

	buf := make([]byte, length)
	n, err := c.src.ReadAt(buf, c.offset)
	if err != nil && !(errors.Is(err, io.EOF) && int64(n) == length) {
		return Chunk{}, &models.StreamError{Offset: c.offset, Err: err}
	}
	if int64(n) != length {
		return Chunk{}, &models.StreamError{
			Offset: c.offset,
			Err:    fmt.Errorf("short read: got %d of %d bytes", n, length),
		}
	}

	chunk := Chunk{Data: buf, Offset: c.offset, Index: c.index}
	c.offset += length
	c.index++

	if c.progress != nil {
		pct := float64(c.offset) / float64(size) * 100
		c.progress(c.offset, size, pct)
	}

	return chunk, nil
}

// BytesRead reports how far the chunker has advanced.
func (c *Chunker) BytesRead() int64 { return c.offset }

// StreamChunks produces chunks on a bounded channel until the source is
// exhausted, an error occurs, or ctx is cancelled. The error channel
// receives at most one value after the chunk channel closes.
func StreamChunks(ctx context.Context, src Source, chunkSize int) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, 1)
	errc := make(chan error, 1)

	chunker, err := NewChunker(src, chunkSize)
	if err != nil {
		close(chunks)
		errc <- err
		close(errc)
		return chunks, errc
	}

	go func() {
		defer close(chunks)
		defer close(errc)

		for {
			chunk, err := chunker.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				errc <- err
				return
			}

			select {
			case chunks <- chunk:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()

	return chunks, errc
}

// ReadAll assembles the full source through the chunker. Intended for
// sources already vetted against the memory budget.
func ReadAll(ctx context.Context, src Source, chunkSize int) ([]byte, error) {
	chunker, err := NewChunker(src, chunkSize)
	if err != nil {
		return nil, err
	}

	data := make([]byte, 0, src.Size())
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		chunk, err := chunker.Next()
		if errors.Is(err, io.EOF) {
			return data, nil
		}
		if err != nil {
			return nil, err
		}
		data = append(data, chunk.Data...)
	}
}
