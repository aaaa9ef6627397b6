package format

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/arcmill/arcmill/internal/models"
)

// ZipHandler parses zip archives with the standard library codec.
type ZipHandler struct{}

func NewZipHandler() *ZipHandler { return &ZipHandler{} }

func (h *ZipHandler) ID() Format { return FormatZip }

func (h *ZipHandler) Extensions() []string { return []string{".zip"} }

func (h *ZipHandler) MimeTypes() []string {
	return []string{"application/zip", "application/x-zip-compressed"}
}

// Load reads the central directory, which carries every member's
// uncompressed size without touching the compressed streams.
func (h *ZipHandler) Load(ctx context.Context, data []byte, _ ParseOptions) ([]*models.FileNode, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &models.ParseError{Format: string(FormatZip), Err: err}
	}

	b := newTreeBuilder()
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if f.FileInfo().IsDir() {
			b.AddFolder(f.Name)
			continue
		}

		n := b.AddFile(f.Name, int64(f.UncompressedSize64))
		if n == nil {
			continue
		}
		if !f.Modified.IsZero() {
			n.SetMeta(MetaModified, f.Modified.UTC().Format(time.RFC3339))
		}
		n.SetMeta(MetaMethod, zipMethodName(f.Method))
		n.SetMeta(MetaCRC, fmt.Sprintf("%08x", f.CRC32))
	}

	return b.Nodes(), nil
}

// Extract returns one member's decompressed content.
func (h *ZipHandler) Extract(ctx context.Context, data []byte, memberPath string, _ ParseOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &models.ParseError{Format: string(FormatZip), Err: err}
	}

	target := models.NormalizeEntryPath(memberPath)
	for _, f := range zr.File {
		if models.NormalizeEntryPath(f.Name) != target {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, &models.ParseError{Format: string(FormatZip), Path: target, Err: err}
		}
		defer rc.Close()

		return io.ReadAll(rc)
	}

	return nil, fmt.Errorf("%s: %w", target, models.ErrMemberNotFound)
}

// Validate applies the shared structural checks.
func (h *ZipHandler) Validate(nodes []*models.FileNode) *models.ValidationResult {
	return ValidateStructure(nodes)
}

// Repair scans for local file headers directly, bypassing the central
// directory and all CRC checks. Truncated archives usually lose the
// directory at the tail first, while the local headers up front
// survive.
func (h *ZipHandler) Repair(ctx context.Context, data []byte, cause error) (outcome *models.RepairOutcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = models.FailedRepair(fmt.Sprintf("zip salvage panicked: %v", r))
		}
	}()

	log := []string{fmt.Sprintf("lenient zip reparse after: %v", cause)}
	signature := []byte{0x50, 0x4B, 0x03, 0x04}

	b := newTreeBuilder()
	tolerated := 0
	offset := 0

	for {
		if err := ctx.Err(); err != nil {
			return models.FailedRepair(append(log, err.Error())...)
		}

		idx := bytes.Index(data[offset:], signature)
		if idx < 0 {
			break
		}
		pos := offset + idx

		entry, next, err := readZipLocalHeader(data, pos)
		if err != nil {
			tolerated++
			log = append(log, fmt.Sprintf("skipped malformed header at offset %d: %v", pos, err))
			offset = pos + len(signature)
			continue
		}
		offset = next

		if strings.HasSuffix(entry.name, "/") {
			b.AddFolder(entry.name)
			continue
		}

		n := b.AddFile(entry.name, entry.size)
		if n == nil {
			continue
		}
		n.SetMeta(MetaSalvaged, "true")
		if !entry.sizeKnown {
			n.SetMeta(MetaSizeUnknown, "true")
		}
	}

	if b.Len() == 0 {
		return models.FailedRepair(append(log, "no local file headers found")...)
	}

	nodes := b.Nodes()
	models.WalkTree(nodes, func(n *models.FileNode) bool {
		n.PartiallyRecovered = true
		return true
	})
	log = append(log, fmt.Sprintf("salvaged %d members, %d headers skipped", b.Len(), tolerated))

	// The central directory is gone either way, so even a clean header
	// scan is not a full-confidence parse.
	confidence := 0.9 * float64(b.Len()) / float64(b.Len()+tolerated)

	return &models.RepairOutcome{
		Success:    true,
		Nodes:      nodes,
		Log:        log,
		Confidence: models.ClampConfidence(confidence),
	}
}

type zipLocalEntry struct {
	name      string
	size      int64
	sizeKnown bool
}

const zipLocalHeaderLen = 30

// readZipLocalHeader decodes one local file header at pos and returns
// the offset where scanning should resume.
func readZipLocalHeader(data []byte, pos int) (zipLocalEntry, int, error) {
	if pos+zipLocalHeaderLen > len(data) {
		return zipLocalEntry{}, 0, io.ErrUnexpectedEOF
	}

	h := data[pos:]
	flags := binary.LittleEndian.Uint16(h[6:8])
	compressedSize := binary.LittleEndian.Uint32(h[18:22])
	uncompressedSize := binary.LittleEndian.Uint32(h[22:26])
	nameLen := int(binary.LittleEndian.Uint16(h[26:28]))
	extraLen := int(binary.LittleEndian.Uint16(h[28:30]))

	if nameLen == 0 {
		return zipLocalEntry{}, 0, errors.New("zero-length member name")
	}

	nameStart := pos + zipLocalHeaderLen
	nameEnd := nameStart + nameLen
	if nameEnd > len(data) {
		return zipLocalEntry{}, 0, io.ErrUnexpectedEOF
	}

	entry := zipLocalEntry{name: string(data[nameStart:nameEnd])}

	// Flag bit 3 defers sizes to a trailing data descriptor: the header
	// reads zero and the payload length is unknown, so scanning resumes
	// right after the header and relies on the signature search to find
	// the next member.
	if flags&0x8 != 0 && compressedSize == 0 {
		next := nameEnd + extraLen
		if next > len(data) {
			next = len(data)
		}
		return entry, next, nil
	}

	entry.size = int64(uncompressedSize)
	entry.sizeKnown = true

	next := nameEnd + extraLen + int(compressedSize)
	if next > len(data) {
		next = len(data)
	}
	return entry, next, nil
}

func zipMethodName(m uint16) string {
	switch m {
	case zip.Store:
		return "store"
	case zip.Deflate:
		return "deflate"
	default:
		return fmt.Sprintf("method-%d", m)
	}
}
