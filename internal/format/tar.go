package format

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/arcmill/arcmill/internal/models"
)

// TarHandler parses uncompressed tar archives.
type TarHandler struct{}

func NewTarHandler() *TarHandler { return &TarHandler{} }

func (h *TarHandler) ID() Format { return FormatTar }

func (h *TarHandler) Extensions() []string { return []string{".tar"} }

func (h *TarHandler) MimeTypes() []string { return []string{"application/x-tar"} }

func (h *TarHandler) Load(ctx context.Context, data []byte, _ ParseOptions) ([]*models.FileNode, error) {
	nodes, err := loadTarStream(ctx, bytes.NewReader(data))
	if err != nil {
		return nil, &models.ParseError{Format: string(FormatTar), Err: err}
	}
	return nodes, nil
}

func (h *TarHandler) Extract(ctx context.Context, data []byte, memberPath string, _ ParseOptions) ([]byte, error) {
	return extractTarMember(ctx, bytes.NewReader(data), memberPath)
}

func (h *TarHandler) Validate(nodes []*models.FileNode) *models.ValidationResult {
	return ValidateStructure(nodes)
}

func (h *TarHandler) Repair(ctx context.Context, data []byte, cause error) *models.RepairOutcome {
	return salvageTar(ctx, bytes.NewReader(data), cause)
}

// TgzHandler parses gzip-compressed tar archives.
type TgzHandler struct{}

func NewTgzHandler() *TgzHandler { return &TgzHandler{} }

func (h *TgzHandler) ID() Format { return FormatTgz }

func (h *TgzHandler) Extensions() []string { return []string{".tgz", ".tar.gz"} }

func (h *TgzHandler) MimeTypes() []string {
	return []string{"application/gzip", "application/x-gtar"}
}

func (h *TgzHandler) Load(ctx context.Context, data []byte, _ ParseOptions) ([]*models.FileNode, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, &models.ParseError{Format: string(FormatTgz), Err: err}
	}
	defer gz.Close()

	nodes, err := loadTarStream(ctx, gz)
	if err != nil {
		return nil, &models.ParseError{Format: string(FormatTgz), Err: err}
	}
	return nodes, nil
}

func (h *TgzHandler) Extract(ctx context.Context, data []byte, memberPath string, _ ParseOptions) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, &models.ParseError{Format: string(FormatTgz), Err: err}
	}
	defer gz.Close()

	return extractTarMember(ctx, gz, memberPath)
}

func (h *TgzHandler) Validate(nodes []*models.FileNode) *models.ValidationResult {
	return ValidateStructure(nodes)
}

func (h *TgzHandler) Repair(ctx context.Context, data []byte, cause error) *models.RepairOutcome {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return models.FailedRepair(
			fmt.Sprintf("lenient tgz reparse after: %v", cause),
			fmt.Sprintf("gzip header unreadable: %v", err),
		)
	}
	defer gz.Close()

	return salvageTar(ctx, gz, cause)
}

// loadTarStream enumerates members from a tar stream. Sizes come from
// the headers; payloads are skipped.
func loadTarStream(ctx context.Context, r io.Reader) ([]*models.FileNode, error) {
	b := newTreeBuilder()
	tr := tar.NewReader(r)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		addTarHeader(b, hdr)
	}

	return b.Nodes(), nil
}

func addTarHeader(b *treeBuilder, hdr *tar.Header) {
	switch hdr.Typeflag {
	case tar.TypeDir:
		b.AddFolder(hdr.Name)
	case tar.TypeReg:
		n := b.AddFile(hdr.Name, hdr.Size)
		if n != nil && !hdr.ModTime.IsZero() {
			n.SetMeta(MetaModified, hdr.ModTime.UTC().Format(time.RFC3339))
		}
	default:
		// symlinks, devices, and the rest have no place in the tree
	}
}

func extractTarMember(ctx context.Context, r io.Reader, memberPath string) ([]byte, error) {
	target := models.NormalizeEntryPath(memberPath)
	tr := tar.NewReader(r)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		if hdr.Typeflag != tar.TypeReg || models.NormalizeEntryPath(hdr.Name) != target {
			continue
		}
		return io.ReadAll(tr)
	}

	return nil, fmt.Errorf("%s: %w", target, models.ErrMemberNotFound)
}

// salvageTar reads headers until the stream gives out, keeping every
// member parsed before the failure. tar.Reader cannot resync past a
// bad header, so salvage stops there.
func salvageTar(ctx context.Context, r io.Reader, cause error) *models.RepairOutcome {
	log := []string{fmt.Sprintf("lenient tar reparse after: %v", cause)}

	b := newTreeBuilder()
	truncated := false
	tr := tar.NewReader(r)

	for {
		if err := ctx.Err(); err != nil {
			return models.FailedRepair(append(log, err.Error())...)
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			truncated = true
			log = append(log, fmt.Sprintf("stopped at unreadable header: %v", err))
			break
		}
		addTarHeader(b, hdr)
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
	if truncated {
		confidence = 0.5
	}

	return &models.RepairOutcome{
		Success:    true,
		Nodes:      nodes,
		Log:        log,
		Confidence: confidence,
	}
}
