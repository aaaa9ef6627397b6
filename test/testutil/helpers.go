package testutil

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcmill/arcmill/internal/config"
)

// TestHelpers bundles filesystem scaffolding for a single test.
type TestHelpers struct {
	t       *testing.T
	tempDir string
	cleanup []func()
}

// NewTestHelpers creates helpers rooted in a fresh scratch directory.
func NewTestHelpers(t *testing.T) *TestHelpers {
	return &TestHelpers{t: t, tempDir: t.TempDir()}
}

// TempDir returns this test's scratch directory.
func (h *TestHelpers) TempDir() string {
	return h.tempDir
}

// CreateTempBinaryFile writes content under the scratch directory,
// creating parent directories as needed, and returns the full path.
func (h *TestHelpers) CreateTempBinaryFile(name string, content []byte) string {
	path := filepath.Join(h.tempDir, name)
	require.NoError(h.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(h.t, os.WriteFile(path, content, 0o644))
	return path
}

// AssertFileExists fails the test when path is missing.
func (h *TestHelpers) AssertFileExists(path string) {
	_, err := os.Stat(path)
	assert.NoError(h.t, err, "file should exist: %s", path)
}

// AssertFileContent fails the test unless path holds exactly want.
func (h *TestHelpers) AssertFileContent(path, want string) {
	content, err := os.ReadFile(path)
	require.NoError(h.t, err)
	assert.Equal(h.t, want, string(content))
}

// AddCleanup registers fn to run on Cleanup, last added first.
func (h *TestHelpers) AddCleanup(fn func()) {
	h.cleanup = append(h.cleanup, fn)
}

// Cleanup runs the registered cleanup functions.
func (h *TestHelpers) Cleanup() {
	for i := len(h.cleanup) - 1; i >= 0; i-- {
		h.cleanup[i]()
	}
}

// TestContext returns a context that out-waits any reasonable test.
func TestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// TestConfig returns defaults tuned for fast tests: short retry and
// cooldown windows, machine-readable debug logs, a small event buffer.
func TestConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Log.Level = "debug"
	cfg.Log.Format = "json"
	cfg.Log.Color = false
	cfg.Resilience.RetryDelay = 10 * time.Millisecond
	cfg.Resilience.MaxRetryDelay = 50 * time.Millisecond
	cfg.Resilience.OperationTimeout = 2 * time.Second
	cfg.Resilience.CooldownPeriod = 50 * time.Millisecond
	cfg.Pipeline.EventBuffer = 16
	return cfg
}

// WaitForCondition polls until condition holds; the timeout fails the
// test with message.
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			t.Fatalf("Timeout waiting for condition: %s", message)
		case <-ticker.C:
			if condition() {
				return
			}
		}
	}
}

// LogEntry is one parsed line of JSON log output.
type LogEntry struct {
	Level   string    `json:"level"`
	Message string    `json:"msg"`
	Time    time.Time `json:"time"`
}

// LogOutput is an io.Writer that parses JSON log lines as they arrive.
// Lines that do not parse are counted as written and dropped.
type LogOutput struct {
	mu      sync.RWMutex
	entries []LogEntry
}

// NewLogOutput creates an empty log capture.
func NewLogOutput() *LogOutput {
	return &LogOutput{}
}

// Write implements io.Writer.
func (lo *LogOutput) Write(p []byte) (int, error) {
	lo.mu.Lock()
	defer lo.mu.Unlock()

	var entry LogEntry
	if err := json.Unmarshal(p, &entry); err == nil {
		lo.entries = append(lo.entries, entry)
	}
	return len(p), nil
}

// HasMessage reports whether any captured line contains message.
func (lo *LogOutput) HasMessage(message string) bool {
	lo.mu.RLock()
	defer lo.mu.RUnlock()

	for _, entry := range lo.entries {
		if strings.Contains(entry.Message, message) {
			return true
		}
	}
	return false
}
