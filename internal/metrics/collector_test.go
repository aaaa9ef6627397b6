package metrics_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcmill/arcmill/internal/events"
	"github.com/arcmill/arcmill/internal/metrics"
	"github.com/arcmill/arcmill/internal/resilience"
	"github.com/arcmill/arcmill/test/testutil"
)

func newController(t *testing.T, failureThreshold int) *resilience.Controller {
	t.Helper()

	cfg := testutil.TestConfig()
	cfg.Resilience.FailureThreshold = failureThreshold

	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)
	return resilience.NewController(cfg.Resilience, logger)
}

func TestCollectorExportsOperationCounters(t *testing.T) {
	ctrl := newController(t, 100)

	ok := func(ctx context.Context) (interface{}, error) { return "ok", nil }
	fail := func(ctx context.Context) (interface{}, error) { return nil, errors.New("boom") }

	for i := 0; i < 2; i++ {
		_, err := ctrl.Execute(context.Background(), "parse:zip", ok)
		require.NoError(t, err)
	}
	_, err := ctrl.Execute(context.Background(), "parse:rar", fail)
	require.Error(t, err)

	c := metrics.NewCollector(ctrl)

	expected := `
# HELP arcmill_operation_runs_total Completed executions by operation key
# TYPE arcmill_operation_runs_total counter
arcmill_operation_runs_total{key="parse:rar"} 1
arcmill_operation_runs_total{key="parse:zip"} 2
# HELP arcmill_operation_successes_total Successful executions by operation key
# TYPE arcmill_operation_successes_total counter
arcmill_operation_successes_total{key="parse:rar"} 0
arcmill_operation_successes_total{key="parse:zip"} 2
# HELP arcmill_operation_failures_total Failed executions by operation key
# TYPE arcmill_operation_failures_total counter
arcmill_operation_failures_total{key="parse:rar"} 1
arcmill_operation_failures_total{key="parse:zip"} 0
`
	require.NoError(t, promtest.CollectAndCompare(c, strings.NewReader(expected),
		"arcmill_operation_runs_total",
		"arcmill_operation_successes_total",
		"arcmill_operation_failures_total",
	))
}

func TestCollectorExportsBreakerAndPoolGauges(t *testing.T) {
	ctrl := newController(t, 1)

	_, err := ctrl.Execute(context.Background(), "fetchX", func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("remote unavailable")
	})
	require.Error(t, err)

	require.NoError(t, ctrl.AcquireResource(context.Background(), "parser", 1))
	defer ctrl.ReleaseResource("parser", 1)

	c := metrics.NewCollector(ctrl)

	expected := `
# HELP arcmill_breaker_state Current circuit state per operation key (1 for the active state)
# TYPE arcmill_breaker_state gauge
arcmill_breaker_state{key="fetchX",state="open"} 1
# HELP arcmill_pool_capacity Configured units per resource pool
# TYPE arcmill_pool_capacity gauge
arcmill_pool_capacity{type="parser"} 4
# HELP arcmill_pool_in_use Units currently held per resource pool
# TYPE arcmill_pool_in_use gauge
arcmill_pool_in_use{type="parser"} 1
# HELP arcmill_pool_waiting Acquirers blocked per resource pool
# TYPE arcmill_pool_waiting gauge
arcmill_pool_waiting{type="parser"} 0
`
	require.NoError(t, promtest.CollectAndCompare(c, strings.NewReader(expected),
		"arcmill_breaker_state",
		"arcmill_pool_capacity",
		"arcmill_pool_in_use",
		"arcmill_pool_waiting",
	))
}

func TestCollectorDescriptorsStable(t *testing.T) {
	ctrl := newController(t, 5)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(metrics.NewCollector(ctrl)))

	// A second collector over the same controller produces identical
	// descriptors, which the registry reports as duplicates.
	err := reg.Register(metrics.NewCollector(ctrl))
	require.Error(t, err)

	// An idle controller still exposes the three top-level gauges.
	assert.Equal(t, 3, promtest.CollectAndCount(metrics.NewCollector(ctrl)))
}

func TestMetricsHandlerServesScrape(t *testing.T) {
	ctrl := newController(t, 5)

	h, err := metrics.Handler(ctrl)
	require.NoError(t, err)

	ts := httptest.NewServer(h)
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "arcmill_queue_depth")
	assert.Contains(t, string(body), "arcmill_max_concurrent")
}
