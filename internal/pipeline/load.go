package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/arcmill/arcmill/internal/events"
	"github.com/arcmill/arcmill/internal/format"
	"github.com/arcmill/arcmill/internal/models"
	"github.com/arcmill/arcmill/internal/resilience"
	"github.com/arcmill/arcmill/internal/stream"
)

// loadOne runs one archive through every phase: detect, read, parse,
// salvage on parse failure, validate. The archive record is registered
// up front so failed loads stay visible.
func (s *Service) loadOne(ctx context.Context, src stream.Source, opts Options) (*models.Archive, error) {
	start := time.Now()
	archive := models.NewArchive(src.Name(), src.Size())
	s.addArchive(archive)

	ctx = events.WithArchiveID(ctx, archive.ID)
	logger := events.FromContext(ctx).WithFields(map[string]interface{}{
		"archive": archive.Name,
		"size":    archive.Size,
	})
	logger.Info("Loading archive")

	archive.SetStatus(models.StatusLoading)
	s.emit(Event{Type: EventStarted, Timestamp: time.Now(), Archive: archive})

	if max := s.cfg.MaxFileSize; max > 0 && src.Size() > max {
		err := fmt.Errorf("archive is %d bytes, limit is %d", src.Size(), max)
		return archive, s.failArchive(ctx, archive, err, false)
	}

	// Detect from the filename and the first chunk.
	s.setPhase("detecting", archive.Name)
	s.emit(Event{Type: EventDetecting, Timestamp: time.Now(), Archive: archive})

	chunker, err := stream.NewChunker(src, s.streamCfg.ChunkSize)
	if err != nil {
		return archive, s.failArchive(ctx, archive, err, false)
	}
	var lastRead int64
	chunker.WithProgress(func(read, total int64, pct float64) {
		s.noteBytes(archive, read-lastRead, pct)
		lastRead = read
	})

	var head []byte
	first, err := chunker.Next()
	switch {
	case errors.Is(err, io.EOF):
		// Empty source; the extension alone may still resolve.
	case err != nil:
		return archive, s.failArchive(ctx, archive, fmt.Errorf("read archive: %w", err), false)
	default:
		head = first.Data
	}

	handler, err := s.registry.Resolve(src.Name(), head)
	if err != nil {
		return archive, s.failArchive(ctx, archive, err, false)
	}
	archive.Format = string(handler.ID())
	logger = logger.WithField("format", archive.Format)
	logger.Debug("Detected archive format")

	// Read the rest.
	s.setPhase("reading", archive.Name)
	data := make([]byte, 0, src.Size())
	data = append(data, head...)
	for {
		if err := ctx.Err(); err != nil {
			return archive, s.failArchive(ctx, archive, err, true, "retry the load")
		}

		chunk, err := chunker.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return archive, s.failArchive(ctx, archive, fmt.Errorf("read archive: %w", err), false)
		}
		data = append(data, chunk.Data...)
	}

	// Parse through the controller under the format's breaker key,
	// holding one parser pool slot.
	archive.SetStatus(models.StatusProcessing)
	s.setPhase("parsing", archive.Name)
	s.emit(Event{Type: EventParsing, Timestamp: time.Now(), Archive: archive})

	parseOpts := format.ParseOptions{Password: opts.Password}
	result, err := s.controller.ExecuteWith(ctx, resilience.Request{
		Key:      "parse:" + archive.Format,
		Priority: opts.Priority,
		Resource: "parser",
		Op: func(opCtx context.Context) (interface{}, error) {
			return handler.Load(opCtx, data, parseOpts)
		},
	})

	var nodes []*models.FileNode
	salvageConfidence := 1.0
	salvaged := false

	if err == nil {
		nodes = result.([]*models.FileNode)
	} else {
		var open *models.CircuitOpenError
		switch {
		case errors.As(err, &open):
			return archive, s.failArchive(ctx, archive, err, true,
				"wait for the parser breaker to close", "retry the load")
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return archive, s.failArchive(ctx, archive, err, true, "retry the load")
		case errors.Is(err, models.ErrRetriesExhausted):
			return archive, s.failArchive(ctx, archive, err, true,
				"retry the load", "raise the operation timeout")
		}

		outcome, rerr := s.salvage(ctx, archive, handler, data, err, opts.Priority)
		if rerr != nil || outcome == nil || !outcome.Success {
			archive.AddError(models.ArchiveError{
				Message:     err.Error(),
				Severity:    models.SeverityError,
				Recoverable: false,
			})
			archive.SetStatus(models.StatusCorrupted)
			s.noteError(err)
			s.emit(Event{Type: EventFailed, Timestamp: time.Now(), Archive: archive, Error: err})
			logger.WithError(err).Error("Archive is corrupted beyond salvage")
			return archive, err
		}

		nodes = outcome.Nodes
		salvageConfidence = outcome.Confidence
		salvaged = true
		archive.AddError(models.ArchiveError{
			Message:     fmt.Sprintf("parse failed (%v), salvaged %d members", err, len(nodes)),
			Severity:    models.SeverityWarning,
			Recoverable: true,
		})
		logger.WithFields(map[string]interface{}{
			"members":    len(nodes),
			"confidence": salvageConfidence,
		}).Info("Archive salvaged")
	}

	// Structural validation.
	archive.SetStatus(models.StatusAnalyzing)
	s.setPhase("validating", archive.Name)

	var validation *models.ValidationResult
	if v, ok := handler.(format.Validator); ok {
		validation = v.Validate(nodes)
	} else {
		validation = format.ValidateStructure(nodes)
	}
	for _, issue := range validation.Issues {
		if issue.Severity == models.SeverityError || issue.Severity == models.SeverityCritical {
			archive.AddError(models.ArchiveError{
				Message:     issue.String(),
				Severity:    models.SeverityError,
				Recoverable: true,
			})
		}
	}

	nodeErrors := s.emitFileEvents(archive, nodes)

	archive.FileTree = nodes
	archive.HealthScore = healthScore(nodes, salvageConfidence)
	archive.Progress = 100

	if salvaged || nodeErrors > 0 || !validation.Valid {
		archive.SetStatus(models.StatusPartial)
	} else {
		archive.SetStatus(models.StatusCompleted)
	}

	progress := s.updateProgress(func(p *Progress) {
		p.LoadedArchives++
	})
	s.emit(Event{Type: EventCompleted, Timestamp: time.Now(), Archive: archive, Progress: progress})

	logger.WithFields(map[string]interface{}{
		"status":   string(archive.Status),
		"files":    archive.FileCount(),
		"health":   archive.HealthScore,
		"duration": time.Since(start),
	}).Info("Archive loaded")

	return archive, nil
}

// salvage runs the handler's lenient reparse under its own breaker
// key. An unsuccessful outcome is data, not an operational failure, so
// only timeouts and panics inside the handler count against the
// breaker.
func (s *Service) salvage(
	ctx context.Context,
	archive *models.Archive,
	handler format.Handler,
	data []byte,
	cause error,
	priority int,
) (*models.RepairOutcome, error) {
	repairer, ok := handler.(format.Repairer)
	if !ok {
		return nil, nil
	}

	archive.SetStatus(models.StatusRepairing)
	s.setPhase("repairing", archive.Name)
	s.emit(Event{Type: EventRepairing, Timestamp: time.Now(), Archive: archive, Error: cause})
	events.FromContext(ctx).WithError(cause).Warn("Parse failed, attempting salvage")

	result, err := s.controller.ExecuteWith(ctx, resilience.Request{
		Key:      "repair:" + archive.Format,
		Priority: priority,
		Resource: "parser",
		Op: func(opCtx context.Context) (interface{}, error) {
			return repairer.Repair(opCtx, data, cause), nil
		},
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.RepairOutcome), nil
}

// failArchive records a load failure on the archive and the run, emits
// the failed event, and returns err for the caller to propagate.
func (s *Service) failArchive(ctx context.Context, archive *models.Archive, err error, recoverable bool, actions ...string) error {
	archive.AddError(models.ArchiveError{
		Message:         err.Error(),
		Severity:        models.SeverityError,
		Recoverable:     recoverable,
		RecoveryActions: actions,
	})
	archive.SetStatus(models.StatusError)
	s.noteError(err)
	s.emit(Event{Type: EventFailed, Timestamp: time.Now(), Archive: archive, Error: err})
	events.FromContext(ctx).WithError(err).WithField("archive", archive.Name).Error("Archive load failed")
	return err
}

// emitFileEvents announces every parsed member and returns the number
// of nodes carrying errors.
func (s *Service) emitFileEvents(archive *models.Archive, nodes []*models.FileNode) int {
	nodeErrors := 0
	models.WalkTree(nodes, func(n *models.FileNode) bool {
		if n.Error != "" {
			nodeErrors++
			s.emit(Event{Type: EventFileError, Timestamp: time.Now(), Archive: archive, Node: n})
			return true
		}
		if n.Type == models.NodeFile {
			s.emit(Event{Type: EventFileIndexed, Timestamp: time.Now(), Archive: archive, Node: n})
		}
		return true
	})
	return nodeErrors
}

// noteBytes folds one chunk into the run progress and the archive's
// own percentage.
func (s *Service) noteBytes(archive *models.Archive, delta int64, archivePct float64) {
	archive.Progress = archivePct
	progress := s.updateProgress(func(p *Progress) {
		p.Archive = archive.Name
		p.BytesRead += delta
		if p.TotalBytes > 0 {
			p.Percent = float64(p.BytesRead) / float64(p.TotalBytes) * 100
		}
	})
	s.emit(Event{Type: EventProgress, Timestamp: time.Now(), Archive: archive, Progress: progress})
}

func (s *Service) noteError(err error) {
	s.updateProgress(func(p *Progress) {
		p.Errors = append(p.Errors, err)
	})
}

// healthScore rates a parsed tree in [0, 1]: the share of nodes
// without errors, scaled by the salvage confidence when a lenient
// reparse produced the tree.
func healthScore(nodes []*models.FileNode, salvageConfidence float64) float64 {
	total := 0
	bad := 0
	models.WalkTree(nodes, func(n *models.FileNode) bool {
		total++
		if n.Error != "" {
			bad++
		}
		return true
	})

	score := salvageConfidence
	if total > 0 {
		score *= 1 - float64(bad)/float64(total)
	}
	return models.ClampConfidence(score)
}
