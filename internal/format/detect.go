package format

import (
	"bytes"
	"encoding/binary"
)

// Magic numbers for the supported codecs. ZIP and RAR compare as
// big-endian 32-bit reads; 7z is a 5-byte sequence; TAR carries
// "ustar" at a fixed offset; GZIP is identified by its first two
// bytes.
const (
	zipLocalMagic   = 0x504B0304
	zipEmptyMagic   = 0x504B0506
	rarMagic        = 0x52617221
	tarMagic        = "ustar"
	tarMagicOffset  = 257
	tarSniffMinimum = tarMagicOffset + len(tarMagic)
)

var sevenZipMagic = []byte{0x37, 0x7A, 0xBC, 0xAF, 0x27}

// Sniff identifies a format from the leading bytes of an archive.
// A miss returns ("", false); it is never an error on its own.
func Sniff(firstChunk []byte) (Format, bool) {
	if len(firstChunk) >= 4 {
		switch binary.BigEndian.Uint32(firstChunk) {
		case zipLocalMagic, zipEmptyMagic:
			return FormatZip, true
		case rarMagic:
			return FormatRar, true
		}
	}

	if len(firstChunk) >= len(sevenZipMagic) && bytes.HasPrefix(firstChunk, sevenZipMagic) {
		return Format7z, true
	}

	if len(firstChunk) >= tarSniffMinimum &&
		string(firstChunk[tarMagicOffset:tarMagicOffset+len(tarMagic)]) == tarMagic {
		return FormatTar, true
	}

	if len(firstChunk) >= 2 && firstChunk[0] == 0x1F && firstChunk[1] == 0x8B {
		return FormatTgz, true
	}

	return "", false
}
