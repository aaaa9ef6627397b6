// Package format detects archive formats and parses them into file
// trees. Codecs plug in through the Handler interface; the registry
// owns dispatch, detection, and the repair/validate lifecycle around
// them.
package format

import (
	"context"

	"github.com/arcmill/arcmill/internal/models"
)

// Format identifies an archive codec.
type Format string

const (
	FormatZip Format = "zip"
	FormatTar Format = "tar"
	FormatTgz Format = "tgz"
	FormatRar Format = "rar"
	Format7z  Format = "7z"
)

// Metadata keys attached to parsed nodes.
const (
	MetaModified    = "modified"
	MetaMethod      = "method"
	MetaCRC         = "crc32"
	MetaSizeUnknown = "size_unknown"
	MetaSalvaged    = "salvaged"
)

// ParseOptions tune a single parse request.
type ParseOptions struct {
	// Password opens encrypted rar and 7z archives. Codecs without
	// encryption support ignore it.
	Password string
}

// Handler parses one archive format. Load enumerates every member,
// materializing implicit parent folders, and reports sizes from codec
// headers without decompressing where the format allows it.
type Handler interface {
	ID() Format
	Extensions() []string
	MimeTypes() []string

	Load(ctx context.Context, data []byte, opts ParseOptions) ([]*models.FileNode, error)
}

// Repairer is implemented by handlers that can reparse leniently after
// a load failure. Repair never panics; codec errors become a failed
// outcome.
type Repairer interface {
	Repair(ctx context.Context, data []byte, cause error) *models.RepairOutcome
}

// Validator is implemented by handlers with structural checks beyond
// the shared baseline.
type Validator interface {
	Validate(nodes []*models.FileNode) *models.ValidationResult
}

// Extractor is implemented by handlers that can return a single
// member's content.
type Extractor interface {
	Extract(ctx context.Context, data []byte, memberPath string, opts ParseOptions) ([]byte, error)
}

// CanRepair reports whether a handler offers the lenient reparse path.
func CanRepair(h Handler) bool {
	_, ok := h.(Repairer)
	return ok
}

// CanExtract reports whether a handler can return member content.
func CanExtract(h Handler) bool {
	_, ok := h.(Extractor)
	return ok
}
