// Package extract writes parsed archive trees to the local file
// system. Writes are atomic (temp file plus rename) and member paths
// are confined to the destination directory.
package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/arcmill/arcmill/internal/config"
	"github.com/arcmill/arcmill/internal/events"
	"github.com/arcmill/arcmill/internal/format"
	"github.com/arcmill/arcmill/internal/models"
)

// ConflictStrategy decides what happens when a destination file
// already exists.
type ConflictStrategy string

const (
	ConflictOverwrite ConflictStrategy = "overwrite"
	ConflictRename    ConflictStrategy = "rename"
	ConflictSkip      ConflictStrategy = "skip"
	ConflictError     ConflictStrategy = "error"
)

// ParseConflictStrategy maps a config value onto a strategy.
func ParseConflictStrategy(s string) (ConflictStrategy, error) {
	switch strategy := ConflictStrategy(strings.ToLower(s)); strategy {
	case ConflictOverwrite, ConflictRename, ConflictSkip, ConflictError:
		return strategy, nil
	default:
		return "", fmt.Errorf("unknown conflict strategy: %q", s)
	}
}

// Report summarizes one tree extraction. Renamed members are counted
// as written too.
type Report struct {
	Written int
	Renamed int
	Skipped int
	Failed  int
	Bytes   int64
}

// Sink writes extracted members under a single destination directory.
type Sink struct {
	destDir       string
	conflict      ConflictStrategy
	preserveTimes bool
	logger        *events.Logger
}

// NewSink creates the destination directory and returns a sink
// configured from cfg.
func NewSink(destDir string, cfg config.ExtractConfig, logger *events.Logger) (*Sink, error) {
	strategy, err := ParseConflictStrategy(cfg.Conflict)
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(destDir)
	if err != nil {
		return nil, fmt.Errorf("resolve destination: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create destination: %w", err)
	}

	return &Sink{
		destDir:       abs,
		conflict:      strategy,
		preserveTimes: cfg.PreserveTimes,
		logger:        logger.WithField("component", "extract"),
	}, nil
}

// Dir returns the resolved destination directory.
func (s *Sink) Dir() string {
	return s.destDir
}

// WriteTree extracts every file member of a parsed forest into the
// destination, creating folders first so empty directories survive.
// Members the codec cannot produce are counted in Report.Failed and
// passed over; destination trouble (unsafe paths, conflicts under the
// error strategy, filesystem failures) stops the run.
func (s *Sink) WriteTree(ctx context.Context, h format.Handler, data []byte, nodes []*models.FileNode, opts format.ParseOptions) (*Report, error) {
	ex, ok := h.(format.Extractor)
	if !ok {
		return nil, models.ErrExtractUnsupported
	}

	report := &Report{}
	var abort error

	models.WalkTree(nodes, func(n *models.FileNode) bool {
		if err := ctx.Err(); err != nil {
			abort = err
			return false
		}

		if n.IsContainer() {
			dir, err := s.safePath(n.Path)
			if err == nil {
				err = os.MkdirAll(dir, 0o755)
			}
			if err != nil {
				abort = fmt.Errorf("create directory %s: %w", n.Path, err)
				return false
			}
			return true
		}

		content, err := ex.Extract(ctx, data, n.Path, opts)
		if err != nil {
			report.Failed++
			s.logger.WithError(err).WithField("path", n.Path).Warn("Member not extractable")
			return true
		}

		dest, outcome, err := s.place(n.Path, content, memberModTime(n))
		if err != nil {
			abort = fmt.Errorf("write %s: %w", n.Path, err)
			return false
		}

		switch outcome {
		case placedSkipped:
			report.Skipped++
		case placedRenamed:
			report.Renamed++
			fallthrough
		default:
			report.Written++
			report.Bytes += int64(len(content))
			s.logger.WithFields(map[string]interface{}{
				"path": n.Path,
				"dest": dest,
				"size": len(content),
			}).Debug("Wrote member")
		}
		return true
	})

	if abort != nil {
		return report, abort
	}

	s.logger.WithFields(map[string]interface{}{
		"dest":    s.destDir,
		"written": report.Written,
		"skipped": report.Skipped,
		"failed":  report.Failed,
		"bytes":   report.Bytes,
	}).Info("Extraction finished")

	return report, nil
}

// WriteMember extracts one file member and writes it at its archive
// path inside the destination. It returns the final path, or "" when
// the skip strategy left an existing file in place.
func (s *Sink) WriteMember(ctx context.Context, h format.Handler, data []byte, node *models.FileNode, opts format.ParseOptions) (string, error) {
	ex, ok := h.(format.Extractor)
	if !ok {
		return "", models.ErrExtractUnsupported
	}
	if node == nil || node.Type != models.NodeFile {
		return "", fmt.Errorf("member is not a file")
	}

	content, err := ex.Extract(ctx, data, node.Path, opts)
	if err != nil {
		return "", err
	}

	dest, outcome, err := s.place(node.Path, content, memberModTime(node))
	if err != nil {
		return "", fmt.Errorf("write %s: %w", node.Path, err)
	}
	if outcome == placedSkipped {
		s.logger.WithField("path", node.Path).Info("Member skipped, destination exists")
		return "", nil
	}

	s.logger.WithFields(map[string]interface{}{
		"path": node.Path,
		"dest": dest,
		"size": len(content),
	}).Info("Member extracted")

	return dest, nil
}

// WriteFile places one payload at relPath under the destination,
// honoring the conflict strategy. It returns the final path, or ""
// when the skip strategy left an existing file in place.
func (s *Sink) WriteFile(relPath string, content []byte, modTime time.Time) (string, error) {
	dest, outcome, err := s.place(relPath, content, modTime)
	if err != nil {
		return "", err
	}
	if outcome == placedSkipped {
		return "", nil
	}
	return dest, nil
}

type placeOutcome int

const (
	placedNew placeOutcome = iota
	placedRenamed
	placedSkipped
)

// place resolves the destination path, applies the conflict strategy,
// and writes the payload atomically.
func (s *Sink) place(relPath string, content []byte, modTime time.Time) (string, placeOutcome, error) {
	dest, err := s.safePath(relPath)
	if err != nil {
		return "", placedNew, err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", placedNew, fmt.Errorf("create parent directory: %w", err)
	}

	outcome := placedNew
	if _, err := os.Lstat(dest); err == nil {
		switch s.conflict {
		case ConflictError:
			return "", placedNew, fmt.Errorf("destination already exists: %s", relPath)
		case ConflictSkip:
			return dest, placedSkipped, nil
		case ConflictRename:
			renamed, err := conflictPath(dest)
			if err != nil {
				return "", placedNew, err
			}
			dest = renamed
			outcome = placedRenamed
		}
	}

	if err := s.writeAtomic(dest, content); err != nil {
		return "", outcome, err
	}

	if s.preserveTimes && !modTime.IsZero() {
		if err := os.Chtimes(dest, time.Now(), modTime); err != nil {
			s.logger.WithError(err).WithField("dest", dest).Debug("Could not restore mod time")
		}
	}

	return dest, outcome, nil
}

// writeAtomic writes through a temp file in the same directory and
// renames it into place, so readers never observe partial content.
func (s *Sink) writeAtomic(dest string, content []byte) error {
	tempPath := fmt.Sprintf("%s.tmp.%d", dest, time.Now().UnixNano())

	if err := os.WriteFile(tempPath, content, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if f, err := os.Open(tempPath); err == nil {
		_ = f.Sync()
		_ = f.Close()
	}

	if err := os.Rename(tempPath, dest); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}

// safePath confines an archive member path to the destination
// directory. Leading separators are stripped the way tar extractors
// do; traversal outside the destination and null bytes are rejected.
func (s *Sink) safePath(memberPath string) (string, error) {
	if strings.ContainsRune(memberPath, 0) {
		return "", fmt.Errorf("member path contains null byte")
	}

	cleaned := filepath.Clean(filepath.FromSlash(memberPath))
	cleaned = strings.TrimPrefix(cleaned, string(filepath.Separator))
	if cleaned == "." || cleaned == "" {
		return "", fmt.Errorf("empty member path")
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("member path escapes destination: %s", memberPath)
	}

	full := filepath.Join(s.destDir, cleaned)
	if full != s.destDir && !strings.HasPrefix(full, s.destDir+string(filepath.Separator)) {
		return "", fmt.Errorf("member path escapes destination: %s", memberPath)
	}

	return full, nil
}

// conflictPath finds a free sibling name for dest. Numbered suffixes
// keep multiple conflicts within one extraction distinct.
func conflictPath(dest string) (string, error) {
	dir := filepath.Dir(dest)
	base := filepath.Base(dest)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for i := 1; i <= 1000; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s.conflict-%d%s", stem, i, ext))
		if _, err := os.Lstat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("no free conflict name for %s", base)
}

// memberModTime reads the recorded modification time off a node, zero
// when absent or unparseable.
func memberModTime(n *models.FileNode) time.Time {
	v := n.Meta(format.MetaModified)
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
