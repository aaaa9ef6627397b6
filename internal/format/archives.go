package format

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mholt/archives"

	"github.com/arcmill/arcmill/internal/models"
)

// RarHandler parses rar archives through the mholt codec suite.
type RarHandler struct{}

func NewRarHandler() *RarHandler { return &RarHandler{} }

func (h *RarHandler) ID() Format { return FormatRar }

func (h *RarHandler) Extensions() []string { return []string{".rar"} }

func (h *RarHandler) MimeTypes() []string {
	return []string{"application/vnd.rar", "application/x-rar-compressed"}
}

func (h *RarHandler) Load(ctx context.Context, data []byte, opts ParseOptions) ([]*models.FileNode, error) {
	nodes, err := loadViaExtractor(ctx, archives.Rar{Password: opts.Password}, data)
	if err != nil {
		return nil, &models.ParseError{Format: string(FormatRar), Err: err}
	}
	return nodes, nil
}

func (h *RarHandler) Extract(ctx context.Context, data []byte, memberPath string, opts ParseOptions) ([]byte, error) {
	return extractViaExtractor(ctx, archives.Rar{Password: opts.Password}, data, memberPath)
}

func (h *RarHandler) Validate(nodes []*models.FileNode) *models.ValidationResult {
	return ValidateStructure(nodes)
}

func (h *RarHandler) Repair(ctx context.Context, data []byte, cause error) *models.RepairOutcome {
	return salvageViaExtractor(ctx, archives.Rar{ContinueOnError: true}, string(FormatRar), data, cause)
}

// SevenZipHandler parses 7z archives through the mholt codec suite.
type SevenZipHandler struct{}

func NewSevenZipHandler() *SevenZipHandler { return &SevenZipHandler{} }

func (h *SevenZipHandler) ID() Format { return Format7z }

func (h *SevenZipHandler) Extensions() []string { return []string{".7z"} }

func (h *SevenZipHandler) MimeTypes() []string {
	return []string{"application/x-7z-compressed"}
}

func (h *SevenZipHandler) Load(ctx context.Context, data []byte, opts ParseOptions) ([]*models.FileNode, error) {
	nodes, err := loadViaExtractor(ctx, archives.SevenZip{Password: opts.Password}, data)
	if err != nil {
		return nil, &models.ParseError{Format: string(Format7z), Err: err}
	}
	return nodes, nil
}

func (h *SevenZipHandler) Extract(ctx context.Context, data []byte, memberPath string, opts ParseOptions) ([]byte, error) {
	return extractViaExtractor(ctx, archives.SevenZip{Password: opts.Password}, data, memberPath)
}

func (h *SevenZipHandler) Validate(nodes []*models.FileNode) *models.ValidationResult {
	return ValidateStructure(nodes)
}

func (h *SevenZipHandler) Repair(ctx context.Context, data []byte, cause error) *models.RepairOutcome {
	return salvageViaExtractor(ctx, archives.SevenZip{ContinueOnError: true}, string(Format7z), data, cause)
}

// loadViaExtractor walks archive members without reading their
// content; sizes come from the codec headers.
func loadViaExtractor(ctx context.Context, ex archives.Extractor, data []byte) ([]*models.FileNode, error) {
	b := newTreeBuilder()

	err := ex.Extract(ctx, bytes.NewReader(data), func(ctx context.Context, f archives.FileInfo) error {
		addArchiveMember(b, f)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return b.Nodes(), nil
}

func addArchiveMember(b *treeBuilder, f archives.FileInfo) {
	if f.IsDir() {
		b.AddFolder(f.NameInArchive)
		return
	}
	if f.LinkTarget != "" {
		return
	}

	n := b.AddFile(f.NameInArchive, f.Size())
	if n != nil && !f.ModTime().IsZero() {
		n.SetMeta(MetaModified, f.ModTime().UTC().Format(time.RFC3339))
	}
}

var errMemberFound = errors.New("member found")

func extractViaExtractor(ctx context.Context, ex archives.Extractor, data []byte, memberPath string) ([]byte, error) {
	target := models.NormalizeEntryPath(memberPath)

	var content []byte
	err := ex.Extract(ctx, bytes.NewReader(data), func(ctx context.Context, f archives.FileInfo) error {
		if f.IsDir() || models.NormalizeEntryPath(f.NameInArchive) != target {
			return nil
		}

		rc, err := f.Open()
		if err != nil {
			return err
		}
		defer rc.Close()

		content, err = io.ReadAll(rc)
		if err != nil {
			return err
		}
		return errMemberFound
	})

	if errors.Is(err, errMemberFound) {
		return content, nil
	}
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%s: %w", target, models.ErrMemberNotFound)
}

// salvageViaExtractor reruns the codec with per-member errors
// tolerated, keeping whatever still enumerates.
func salvageViaExtractor(ctx context.Context, ex archives.Extractor, formatName string, data []byte, cause error) *models.RepairOutcome {
	log := []string{fmt.Sprintf("lenient %s reparse after: %v", formatName, cause)}

	b := newTreeBuilder()
	err := ex.Extract(ctx, bytes.NewReader(data), func(ctx context.Context, f archives.FileInfo) error {
		addArchiveMember(b, f)
		return nil
	})
	if err != nil {
		log = append(log, fmt.Sprintf("codec stopped early: %v", err))
	}

	if b.Len() == 0 {
		return models.FailedRepair(append(log, "no members readable")...)
	}

	nodes := b.Nodes()
	models.WalkTree(nodes, func(n *models.FileNode) bool {
		n.PartiallyRecovered = true
		if n.Type == models.NodeFile {
			n.SetMeta(MetaSalvaged, "true")
		}
		return true
	})
	log = append(log, fmt.Sprintf("salvaged %d members", b.Len()))

	confidence := 0.9
	if err != nil {
		confidence = 0.5
	}

	return &models.RepairOutcome{
		Success:    true,
		Nodes:      nodes,
		Log:        log,
		Confidence: confidence,
	}
}
