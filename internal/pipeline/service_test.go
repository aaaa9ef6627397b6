package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arcmill/arcmill/internal/config"
	"github.com/arcmill/arcmill/internal/events"
	"github.com/arcmill/arcmill/internal/format"
	"github.com/arcmill/arcmill/internal/models"
	"github.com/arcmill/arcmill/internal/pipeline"
	"github.com/arcmill/arcmill/internal/resilience"
	"github.com/arcmill/arcmill/internal/stream"
	"github.com/arcmill/arcmill/test/testutil"
)

func newService(t *testing.T, mutate func(*config.Config)) (*pipeline.Service, *format.Registry, *resilience.Controller, *testutil.LogOutput) {
	t.Helper()

	out := testutil.NewLogOutput()
	logger := events.NewTestLogger(events.DebugLevel, "json", out)

	cfg := testutil.TestConfig()
	if mutate != nil {
		mutate(cfg)
	}

	registry := format.NewRegistry(logger)
	controller := resilience.NewController(cfg.Resilience, logger)
	svc := pipeline.NewService(registry, controller, cfg, logger)
	return svc, registry, controller, out
}

// collectEvents drains the service's event channel until the run
// closes it. The returned func blocks for that close and hands back
// everything received.
func collectEvents(svc *pipeline.Service) func() []pipeline.Event {
	var mu sync.Mutex
	var got []pipeline.Event
	done := make(chan struct{})

	go func() {
		defer close(done)
		for ev := range svc.Events() {
			mu.Lock()
			got = append(got, ev)
			mu.Unlock()
		}
	}()

	return func() []pipeline.Event {
		<-done
		mu.Lock()
		defer mu.Unlock()
		return got
	}
}

func hasEvent(evs []pipeline.Event, typ pipeline.EventType) bool {
	for _, ev := range evs {
		if ev.Type == typ {
			return true
		}
	}
	return false
}

func TestLoadZipArchiveEndToEnd(t *testing.T) {
	svc, registry, _, _ := newService(t, nil)
	registry.Register(format.NewZipHandler())

	ctx, cancel := testutil.TestContext()
	defer cancel()

	data := testutil.ZipArchive(t, testutil.ProjectEntries())
	src := stream.NewBytesSource("project.zip", data)
	drain := collectEvents(svc)

	archive, err := svc.Load(ctx, src, pipeline.Options{})
	require.NoError(t, err)
	require.NotNil(t, archive)

	assert.Equal(t, models.StatusCompleted, archive.Status)
	assert.Equal(t, "zip", archive.Format)
	assert.Equal(t, 1.0, archive.HealthScore)
	assert.Equal(t, float64(100), archive.Progress)
	assert.Equal(t, 3, archive.FileCount())
	assert.NotNil(t, models.FindByPath(archive.FileTree, "src/util/helper.go"))

	archives := svc.Archives()
	require.Len(t, archives, 1)
	assert.Same(t, archive, archives[0])

	evs := drain()
	require.NotEmpty(t, evs)
	assert.Equal(t, pipeline.EventStarted, evs[0].Type)
	assert.Equal(t, pipeline.EventCompleted, evs[len(evs)-1].Type)
	assert.True(t, hasEvent(evs, pipeline.EventDetecting))
	assert.True(t, hasEvent(evs, pipeline.EventParsing))
	assert.True(t, hasEvent(evs, pipeline.EventFileIndexed))
	assert.False(t, hasEvent(evs, pipeline.EventFailed))

	progress := svc.GetProgress()
	require.NotNil(t, progress)
	assert.Equal(t, "completed", progress.Phase)
	assert.Equal(t, int64(len(data)), progress.BytesRead)
	assert.Equal(t, 1, progress.LoadedArchives)
}

func TestLoadKeepsFailedArchiveVisible(t *testing.T) {
	svc, _, _, out := newService(t, nil)

	ctx, cancel := testutil.TestContext()
	defer cancel()

	src := stream.NewBytesSource("mystery.bin", []byte("not an archive at all"))
	drain := collectEvents(svc)

	archive, err := svc.Load(ctx, src, pipeline.Options{})
	require.Error(t, err)

	var noHandler *models.NoHandlerError
	assert.ErrorAs(t, err, &noHandler)

	require.NotNil(t, archive)
	assert.Equal(t, models.StatusError, archive.Status)
	require.Len(t, archive.Errors, 1)
	assert.False(t, archive.Errors[0].Recoverable)

	// The failed record stays in the list rather than vanishing.
	require.Len(t, svc.Archives(), 1)
	assert.Equal(t, models.StatusError, svc.Archives()[0].Status)

	evs := drain()
	assert.Equal(t, pipeline.EventFailed, evs[len(evs)-1].Type)
	assert.True(t, out.HasMessage("Archive load failed"))
}

func TestLoadSalvagesZipWithoutCentralDirectory(t *testing.T) {
	svc, registry, _, out := newService(t, nil)
	registry.Register(format.NewZipHandler())

	ctx, cancel := testutil.TestContext()
	defer cancel()

	data := testutil.ZipWithoutDirectory(t, testutil.ZipArchive(t, testutil.ProjectEntries()))
	src := stream.NewBytesSource("project.zip", data)
	drain := collectEvents(svc)

	archive, err := svc.Load(ctx, src, pipeline.Options{})
	require.NoError(t, err, "salvage should rescue the load")

	assert.Equal(t, models.StatusPartial, archive.Status)
	assert.InDelta(t, 0.9, archive.HealthScore, 0.001)
	assert.Equal(t, 3, archive.FileCount())

	salvagedNode := models.FindByPath(archive.FileTree, "src/main.go")
	require.NotNil(t, salvagedNode)
	assert.True(t, salvagedNode.PartiallyRecovered)

	require.Len(t, archive.Errors, 1)
	assert.Equal(t, models.SeverityWarning, archive.Errors[0].Severity)
	assert.True(t, archive.Errors[0].Recoverable)

	evs := drain()
	assert.True(t, hasEvent(evs, pipeline.EventRepairing))
	assert.Equal(t, pipeline.EventCompleted, evs[len(evs)-1].Type)
	assert.True(t, out.HasMessage("Archive salvaged"))
}

func TestLoadMarksCorruptedWhenHandlerCannotRepair(t *testing.T) {
	svc, registry, _, _ := newService(t, nil)

	handler := testutil.NewMockBasicHandler("bin", ".bin")
	parseErr := &models.ParseError{Format: "bin", Err: errors.New("truncated index")}
	handler.On("Load", mock.Anything, mock.Anything, mock.Anything).Return(nil, parseErr)
	registry.Register(handler)

	ctx, cancel := testutil.TestContext()
	defer cancel()

	src := stream.NewBytesSource("data.bin", []byte("payload"))
	archive, err := svc.Load(ctx, src, pipeline.Options{})

	require.Error(t, err)
	assert.ErrorIs(t, err, parseErr)
	assert.Equal(t, models.StatusCorrupted, archive.Status)
	require.Len(t, archive.Errors, 1)
	assert.False(t, archive.Errors[0].Recoverable)
	handler.AssertExpectations(t)
}

func TestLoadMarksCorruptedWhenRepairReportsFailure(t *testing.T) {
	svc, registry, _, _ := newService(t, nil)

	handler := testutil.NewMockHandler("bin", ".bin")
	parseErr := &models.ParseError{Format: "bin", Err: errors.New("bad magic")}
	handler.On("Load", mock.Anything, mock.Anything, mock.Anything).Return(nil, parseErr)
	handler.On("Repair", mock.Anything, mock.Anything, parseErr).
		Return(models.FailedRepair("nothing recognizable"))
	registry.Register(handler)

	ctx, cancel := testutil.TestContext()
	defer cancel()

	archive, err := svc.Load(ctx, stream.NewBytesSource("data.bin", []byte("x")), pipeline.Options{})

	require.Error(t, err)
	assert.Equal(t, models.StatusCorrupted, archive.Status)
	handler.AssertExpectations(t)
}

func TestLoadPartialWhenNodesCarryErrors(t *testing.T) {
	svc, registry, _, _ := newService(t, nil)

	broken := models.NewFileNode("broken.txt", "broken.txt", models.NodeFile)
	broken.Error = "payload unreadable"
	nodes := []*models.FileNode{
		models.NewFileNode("ok1.txt", "ok1.txt", models.NodeFile),
		models.NewFileNode("ok2.txt", "ok2.txt", models.NodeFile),
		models.NewFileNode("ok3.txt", "ok3.txt", models.NodeFile),
		broken,
	}

	handler := testutil.NewMockBasicHandler("bin", ".bin")
	handler.On("Load", mock.Anything, mock.Anything, mock.Anything).Return(nodes, nil)
	registry.Register(handler)

	ctx, cancel := testutil.TestContext()
	defer cancel()

	drain := collectEvents(svc)
	archive, err := svc.Load(ctx, stream.NewBytesSource("data.bin", []byte("x")), pipeline.Options{})

	require.NoError(t, err, "node-level errors do not fail the load")
	assert.Equal(t, models.StatusPartial, archive.Status)
	assert.InDelta(t, 0.75, archive.HealthScore, 0.001)

	evs := drain()
	assert.True(t, hasEvent(evs, pipeline.EventFileError))
}

func TestLoadEnforcesMaxFileSize(t *testing.T) {
	svc, registry, _, _ := newService(t, func(cfg *config.Config) {
		cfg.Pipeline.MaxFileSize = 8
	})
	registry.Register(format.NewZipHandler())

	ctx, cancel := testutil.TestContext()
	defer cancel()

	archive, err := svc.Load(ctx, stream.NewBytesSource("big.zip", make([]byte, 64)), pipeline.Options{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit is 8")
	assert.Equal(t, models.StatusError, archive.Status)
}

func TestLoadRejectsConcurrentRun(t *testing.T) {
	svc, registry, _, _ := newService(t, nil)

	release := make(chan struct{})
	handler := testutil.NewMockBasicHandler("bin", ".bin")
	handler.On("Load", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return([]*models.FileNode{}, nil)
	registry.Register(handler)

	ctx, cancel := testutil.TestContext()
	defer cancel()

	firstDone := make(chan error, 1)
	go func() {
		_, err := svc.Load(ctx, stream.NewBytesSource("a.bin", []byte("x")), pipeline.Options{})
		firstDone <- err
	}()

	testutil.WaitForCondition(t, func() bool {
		p := svc.GetProgress()
		return p != nil && p.Phase == "parsing"
	}, 2*time.Second, "first load reaches the parse phase")

	_, err := svc.Load(ctx, stream.NewBytesSource("b.bin", []byte("y")), pipeline.Options{})
	assert.ErrorIs(t, err, models.ErrPipelineBusy)

	close(release)
	require.NoError(t, <-firstDone)

	// The slot frees up once the run finishes.
	_, err = svc.Load(ctx, stream.NewBytesSource("c.bin", []byte("z")), pipeline.Options{})
	require.NoError(t, err)
}

func TestCancelAbortsRunningLoad(t *testing.T) {
	svc, registry, _, _ := newService(t, nil)

	handler := testutil.NewMockBasicHandler("bin", ".bin")
	handler.On("Load", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.Canceled)
	registry.Register(handler)

	ctx, cancel := testutil.TestContext()
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := svc.Load(ctx, stream.NewBytesSource("a.bin", []byte("x")), pipeline.Options{})
		done <- err
	}()

	testutil.WaitForCondition(t, func() bool {
		p := svc.GetProgress()
		return p != nil && p.Phase == "parsing"
	}, 2*time.Second, "load reaches the parse phase")

	svc.Cancel()

	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	require.Len(t, svc.Archives(), 1)
	assert.Equal(t, models.StatusError, svc.Archives()[0].Status)
}

func TestParseFailuresOpenFormatBreaker(t *testing.T) {
	svc, registry, controller, _ := newService(t, func(cfg *config.Config) {
		cfg.Resilience.FailureThreshold = 2
		cfg.Resilience.CooldownPeriod = time.Minute
	})

	handler := testutil.NewMockBasicHandler("bin", ".bin")
	handler.On("Load", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, &models.ParseError{Format: "bin", Err: errors.New("always broken")})
	registry.Register(handler)

	ctx, cancel := testutil.TestContext()
	defer cancel()

	for i := 0; i < 2; i++ {
		_, err := svc.Load(ctx, stream.NewBytesSource("a.bin", []byte("x")), pipeline.Options{})
		require.Error(t, err)
	}

	snap, ok := controller.BreakerState("parse:bin")
	require.True(t, ok)
	assert.Equal(t, resilience.StateOpen, snap.State)

	// The third load is rejected at admission; the handler never runs.
	archive, err := svc.Load(ctx, stream.NewBytesSource("a.bin", []byte("x")), pipeline.Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrCircuitOpen)
	assert.Equal(t, models.StatusError, archive.Status)
	require.Len(t, archive.Errors, 1)
	assert.True(t, archive.Errors[0].Recoverable)
	assert.NotEmpty(t, archive.Errors[0].RecoveryActions)
	handler.AssertNumberOfCalls(t, "Load", 2)
}

func TestLoadAllIsolatesPerArchiveFailures(t *testing.T) {
	svc, registry, _, _ := newService(t, nil)
	registry.Register(format.NewZipHandler())

	ctx, cancel := testutil.TestContext()
	defer cancel()

	good := stream.NewBytesSource("good.zip", testutil.ZipArchive(t, testutil.ProjectEntries()))
	bad := stream.NewBytesSource("mystery.xyz", []byte("no known magic here"))

	archives, err := svc.LoadAll(ctx, []stream.Source{good, bad}, pipeline.Options{})
	require.NoError(t, err, "per-archive failures do not abort the bulk load")
	require.Len(t, archives, 2)

	assert.Equal(t, models.StatusCompleted, archives[0].Status)
	assert.Equal(t, models.StatusError, archives[1].Status)
	assert.Len(t, svc.Archives(), 2)
}

func TestLoadAllSnapshotsForUndo(t *testing.T) {
	svc, registry, _, _ := newService(t, nil)
	registry.Register(format.NewZipHandler())

	ctx, cancel := testutil.TestContext()
	defer cancel()

	data := testutil.ZipArchive(t, testutil.ProjectEntries())
	sources := []stream.Source{
		stream.NewBytesSource("one.zip", data),
		stream.NewBytesSource("two.zip", data),
		stream.NewBytesSource("three.zip", data),
	}

	archives, err := svc.LoadAll(ctx, sources, pipeline.Options{})
	require.NoError(t, err)
	require.Len(t, archives, 3)
	require.Len(t, svc.Archives(), 3)

	desc, ok := svc.Undo()
	require.True(t, ok)
	assert.Equal(t, "before loading 3 archive(s)", desc)
	assert.Empty(t, svc.Archives())

	desc, ok = svc.Redo()
	require.True(t, ok)
	assert.Equal(t, "loaded 3 archive(s)", desc)
	assert.Len(t, svc.Archives(), 3)
}

func TestRemoveIsUndoable(t *testing.T) {
	svc, registry, _, _ := newService(t, nil)
	registry.Register(format.NewZipHandler())

	ctx, cancel := testutil.TestContext()
	defer cancel()

	data := testutil.ZipArchive(t, testutil.ProjectEntries())
	archives, err := svc.LoadAll(ctx, []stream.Source{
		stream.NewBytesSource("one.zip", data),
		stream.NewBytesSource("two.zip", data),
	}, pipeline.Options{})
	require.NoError(t, err)

	assert.Equal(t, 0, svc.Remove("no-such-id"))
	assert.Equal(t, 1, svc.Remove(archives[0].ID))

	require.Len(t, svc.Archives(), 1)
	assert.Equal(t, archives[1].ID, svc.Archives()[0].ID)

	_, ok := svc.Undo()
	require.True(t, ok)
	assert.Len(t, svc.Archives(), 2)

	_, ok = svc.Redo()
	require.True(t, ok)
	require.Len(t, svc.Archives(), 1)

	_, found := svc.Archive(archives[1].ID)
	assert.True(t, found)
	_, found = svc.Archive(archives[0].ID)
	assert.False(t, found)
}

func TestEventsChannelRecreatedPerRun(t *testing.T) {
	svc, registry, _, _ := newService(t, nil)
	registry.Register(format.NewZipHandler())

	ctx, cancel := testutil.TestContext()
	defer cancel()

	data := testutil.ZipArchive(t, testutil.ProjectEntries())

	// Each run closes its channel on completion; the buffered events
	// stay readable after the close.
	_, err := svc.Load(ctx, stream.NewBytesSource("one.zip", data), pipeline.Options{})
	require.NoError(t, err)
	first := drainEvents(svc.Events())
	require.NotEmpty(t, first)
	assert.Equal(t, pipeline.EventStarted, first[0].Type)

	_, err = svc.Load(ctx, stream.NewBytesSource("two.zip", data), pipeline.Options{})
	require.NoError(t, err)
	second := drainEvents(svc.Events())
	require.NotEmpty(t, second)
	assert.Equal(t, pipeline.EventStarted, second[0].Type)
	assert.Equal(t, pipeline.EventCompleted, second[len(second)-1].Type)
}

func drainEvents(ch <-chan pipeline.Event) []pipeline.Event {
	var out []pipeline.Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}
