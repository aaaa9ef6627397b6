package models

import (
	"bytes"
	"path/filepath"
	"strings"
)

// Extensions whose content is binary by definition, grouped by family.
var binaryExtensions = map[string]bool{
	// archives and compression
	".zip": true, ".tar": true, ".gz": true, ".tgz": true, ".bz2": true,
	".xz": true, ".7z": true, ".rar": true,
	// images, audio, video
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
	".ico": true, ".mp3": true, ".flac": true, ".ogg": true, ".wav": true,
	".mp4": true, ".mkv": true, ".avi": true, ".mov": true,
	// documents
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	// executables and libraries
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".wasm": true,
	// fonts
	".ttf": true, ".otf": true, ".woff": true, ".woff2": true,
}

const (
	// How much of the head gets sniffed.
	binarySniffLen = 8192

	// Control bytes beyond this share of the sniff mean binary.
	maxControlShare = 0.3
)

// IsBinaryFile reports whether a file holds binary content, judged by
// its extension first and a content sniff for everything else.
func IsBinaryFile(path string, content []byte) bool {
	if binaryExtensions[strings.ToLower(filepath.Ext(path))] {
		return true
	}
	return IsBinaryContent(content)
}

// IsBinaryContent sniffs the leading bytes. A NUL anywhere in the head
// or a heavy share of control characters means the data is not text;
// bytes above ASCII are left alone so UTF-8 and legacy encodings pass.
func IsBinaryContent(content []byte) bool {
	if len(content) == 0 {
		return false
	}

	sniff := content
	if len(sniff) > binarySniffLen {
		sniff = sniff[:binarySniffLen]
	}

	if bytes.IndexByte(sniff, 0x00) >= 0 {
		return true
	}

	control := 0
	for _, b := range sniff {
		if b < 0x20 && b != '\t' && b != '\n' && b != '\r' {
			control++
		}
	}
	return float64(control) > float64(len(sniff))*maxControlShare
}
