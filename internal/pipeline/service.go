// Package pipeline orchestrates archive ingestion end to end: format
// detection, chunked reading, parsing through the resilience
// controller, salvage of corrupted archives, and structural
// validation. One run at a time; progress and events are observable
// while it executes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/arcmill/arcmill/internal/config"
	"github.com/arcmill/arcmill/internal/events"
	"github.com/arcmill/arcmill/internal/format"
	"github.com/arcmill/arcmill/internal/history"
	"github.com/arcmill/arcmill/internal/models"
	"github.com/arcmill/arcmill/internal/resilience"
	"github.com/arcmill/arcmill/internal/stream"
)

// Options tune a load request.
type Options struct {
	// Password opens encrypted rar and 7z archives.
	Password string

	// Priority orders the request in the controller's queue, higher
	// first.
	Priority int
}

// Service runs the ingestion pipeline.
type Service struct {
	registry   *format.Registry
	controller *resilience.Controller
	logger     *events.Logger

	cfg       config.PipelineConfig
	streamCfg config.StreamConfig

	// Progress tracking
	progress   atomic.Value // *Progress
	progressMu sync.Mutex
	events     chan Event

	// Run state
	mu           sync.Mutex
	running      bool
	cancelFn     context.CancelFunc
	eventsClosed bool

	// Loaded archives and their bulk-action history
	archiveMu sync.RWMutex
	archives  []*models.Archive
	history   *history.UndoManager[[]*models.Archive]
}

// NewService creates a pipeline service.
func NewService(
	registry *format.Registry,
	controller *resilience.Controller,
	cfg *config.Config,
	logger *events.Logger,
) *Service {
	return &Service{
		registry:   registry,
		controller: controller,
		logger:     logger.WithField("component", "pipeline"),
		cfg:        cfg.Pipeline,
		streamCfg:  cfg.Stream,
		events:     make(chan Event, cfg.Pipeline.EventBuffer),
		history:    history.NewUndoManager[[]*models.Archive](cfg.Pipeline.HistoryLimit),
	}
}

// Events returns the event channel. It is closed when the current run
// finishes and recreated by the next one.
func (s *Service) Events() <-chan Event {
	return s.events
}

// GetProgress returns current progress.
func (s *Service) GetProgress() *Progress {
	if p := s.progress.Load(); p != nil {
		return p.(*Progress)
	}
	return nil
}

// Cancel stops an ongoing run.
func (s *Service) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelFn != nil {
		s.logger.Info("Cancelling pipeline run")
		s.cancelFn()
	}
}

// Load ingests a single archive. The returned archive record is kept
// in the service's list even when the load fails; the error reports
// why the terminal status is not completed.
func (s *Service) Load(ctx context.Context, src stream.Source, opts Options) (*models.Archive, error) {
	runCtx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer s.finish()

	s.beginRun(src.Size(), 1)
	archive, err := s.loadOne(runCtx, src, opts)
	s.endRun(err)
	return archive, err
}

// LoadAll ingests several archives concurrently. The controller's
// queue bounds how many parse concurrently; per-archive failures are
// recorded on each archive record and do not abort the siblings. The
// archive list is snapshotted before and after for undo.
func (s *Service) LoadAll(ctx context.Context, sources []stream.Source, opts Options) ([]*models.Archive, error) {
	if len(sources) == 0 {
		return nil, nil
	}

	runCtx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer s.finish()

	var total int64
	for _, src := range sources {
		total += src.Size()
	}
	s.beginRun(total, len(sources))
	s.snapshotHistory(fmt.Sprintf("before loading %d archive(s)", len(sources)))

	s.logger.WithFields(map[string]interface{}{
		"archives": len(sources),
		"bytes":    total,
	}).Info("Starting bulk load")

	results := make([]*models.Archive, len(sources))
	g, gctx := errgroup.WithContext(runCtx)
	for i, src := range sources {
		g.Go(func() error {
			archive, lerr := s.loadOne(gctx, src, opts)
			results[i] = archive
			if lerr != nil && (errors.Is(lerr, context.Canceled) || errors.Is(lerr, context.DeadlineExceeded)) {
				return lerr
			}
			// Other failures live on the archive record.
			return nil
		})
	}
	err = g.Wait()

	s.snapshotHistory(fmt.Sprintf("loaded %d archive(s)", len(sources)))
	s.endRun(err)
	return results, err
}

// begin claims the single-run slot and installs a cancellable context.
func (s *Service) begin(ctx context.Context) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil, models.ErrPipelineBusy
	}
	s.running = true

	// Create a new events channel if the previous run closed it
	if s.eventsClosed {
		s.events = make(chan Event, s.cfg.EventBuffer)
		s.eventsClosed = false
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancelFn = cancel

	// Stamp the run so every log line below carries the same trace_id.
	runCtx = events.WithLogger(runCtx, s.logger)
	runCtx = events.WithTraceID(runCtx, uuid.NewString())
	return runCtx, nil
}

func (s *Service) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	if s.cancelFn != nil {
		s.cancelFn()
		s.cancelFn = nil
	}
	if !s.eventsClosed {
		close(s.events)
		s.eventsClosed = true
	}
}

func (s *Service) beginRun(totalBytes int64, archiveCount int) {
	s.progressMu.Lock()
	defer s.progressMu.Unlock()
	s.progress.Store(&Progress{
		Phase:         "initializing",
		TotalArchives: archiveCount,
		TotalBytes:    totalBytes,
		StartTime:     time.Now(),
	})
}

func (s *Service) endRun(err error) {
	phase := "completed"
	if err != nil {
		phase = "failed"
	}
	p := s.updateProgress(func(p *Progress) {
		p.Phase = phase
	})

	s.logger.WithFields(map[string]interface{}{
		"duration": time.Since(p.StartTime),
		"archives": p.LoadedArchives,
		"errors":   len(p.Errors),
	}).Info("Pipeline run finished")
}

// updateProgress applies mutate to a copy of the current progress and
// publishes it.
func (s *Service) updateProgress(mutate func(*Progress)) *Progress {
	s.progressMu.Lock()
	defer s.progressMu.Unlock()

	next := Progress{}
	if p, ok := s.progress.Load().(*Progress); ok && p != nil {
		next = *p
	}
	mutate(&next)
	s.progress.Store(&next)
	return &next
}

func (s *Service) setPhase(phase, archiveName string) {
	s.updateProgress(func(p *Progress) {
		p.Phase = phase
		p.Archive = archiveName
	})
}

func (s *Service) emit(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.eventsClosed {
		return
	}

	select {
	case s.events <- event:
	default:
		// Channel full, drop event
		s.logger.Debug("Event channel full, dropping event")
	}
}
