package models_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arcmill/arcmill/internal/models"
)

func TestIsBinaryFile(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		content []byte
		want    bool
	}{
		{
			name:    "markdown by extension",
			path:    "notes/readme.md",
			content: []byte("# Hello"),
			want:    false,
		},
		{
			name:    "jpeg by extension regardless of content",
			path:    "images/photo.JPG",
			content: []byte("not actually an image"),
			want:    true,
		},
		{
			name:    "nested archive by extension",
			path:    "backup/inner.tgz",
			content: nil,
			want:    true,
		},
		{
			name:    "svg stays text",
			path:    "images/logo.svg",
			content: []byte("<svg><rect/></svg>"),
			want:    false,
		},
		{
			name:    "unknown extension falls through to the sniff",
			path:    "file.xyz",
			content: []byte("plain text body"),
			want:    false,
		},
		{
			name:    "unknown extension with a NUL",
			path:    "file.xyz",
			content: []byte{'a', 0x00, 'b'},
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, models.IsBinaryFile(tt.path, tt.content))
		})
	}
}

func TestIsBinaryContent(t *testing.T) {
	t.Run("empty is text", func(t *testing.T) {
		assert.False(t, models.IsBinaryContent(nil))
	})

	t.Run("tabs and newlines are text", func(t *testing.T) {
		assert.False(t, models.IsBinaryContent([]byte("col1\tcol2\r\nrow\n")))
	})

	t.Run("utf8 multibyte is text", func(t *testing.T) {
		assert.False(t, models.IsBinaryContent([]byte("héllo wörld, naïve ünïcode")))
	})

	t.Run("control-heavy head is binary", func(t *testing.T) {
		assert.True(t, models.IsBinaryContent([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}))
	})

	t.Run("sparse control bytes stay text", func(t *testing.T) {
		content := append([]byte("mostly readable text with one stray "), 0x1B)
		assert.False(t, models.IsBinaryContent(content))
	})

	t.Run("nul beyond the sniff window is missed", func(t *testing.T) {
		content := append(bytes.Repeat([]byte{'a'}, 9000), 0x00)
		assert.False(t, models.IsBinaryContent(content))
	})
}
