// Package metrics exports resilience controller statistics in
// Prometheus format. The collector reads controller snapshots at
// scrape time; nothing here keeps state of its own, so it can sit on
// any registry the caller owns.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arcmill/arcmill/internal/resilience"
)

const namespace = "arcmill"

// Collector implements prometheus.Collector over a controller's
// per-operation metrics, breaker states, and resource pools.
type Collector struct {
	controller *resilience.Controller

	opRuns         *prometheus.Desc
	opSuccesses    *prometheus.Desc
	opFailures     *prometheus.Desc
	opTimeouts     *prometheus.Desc
	opRetries      *prometheus.Desc
	opLatency      *prometheus.Desc
	opSuccessRatio *prometheus.Desc

	breakerState    *prometheus.Desc
	breakerFailures *prometheus.Desc

	poolCapacity *prometheus.Desc
	poolInUse    *prometheus.Desc
	poolWaiting  *prometheus.Desc

	queueDepth    *prometheus.Desc
	running       *prometheus.Desc
	maxConcurrent *prometheus.Desc
}

// NewCollector builds a collector for one controller. Register it on
// whatever registry should expose it.
func NewCollector(controller *resilience.Controller) *Collector {
	return &Collector{
		controller: controller,

		opRuns: prometheus.NewDesc(
			namespace+"_operation_runs_total",
			"Completed executions by operation key",
			[]string{"key"}, nil,
		),
		opSuccesses: prometheus.NewDesc(
			namespace+"_operation_successes_total",
			"Successful executions by operation key",
			[]string{"key"}, nil,
		),
		opFailures: prometheus.NewDesc(
			namespace+"_operation_failures_total",
			"Failed executions by operation key",
			[]string{"key"}, nil,
		),
		opTimeouts: prometheus.NewDesc(
			namespace+"_operation_timeouts_total",
			"Attempts cut off by the operation timeout",
			[]string{"key"}, nil,
		),
		opRetries: prometheus.NewDesc(
			namespace+"_operation_retries_total",
			"Retry attempts by operation key",
			[]string{"key"}, nil,
		),
		opLatency: prometheus.NewDesc(
			namespace+"_operation_latency_seconds",
			"Running mean execution latency by operation key",
			[]string{"key"}, nil,
		),
		opSuccessRatio: prometheus.NewDesc(
			namespace+"_operation_success_ratio",
			"Running mean success ratio by operation key",
			[]string{"key"}, nil,
		),

		breakerState: prometheus.NewDesc(
			namespace+"_breaker_state",
			"Current circuit state per operation key (1 for the active state)",
			[]string{"key", "state"}, nil,
		),
		breakerFailures: prometheus.NewDesc(
			namespace+"_breaker_consecutive_failures",
			"Consecutive failures counted toward the trip threshold",
			[]string{"key"}, nil,
		),

		poolCapacity: prometheus.NewDesc(
			namespace+"_pool_capacity",
			"Configured units per resource pool",
			[]string{"type"}, nil,
		),
		poolInUse: prometheus.NewDesc(
			namespace+"_pool_in_use",
			"Units currently held per resource pool",
			[]string{"type"}, nil,
		),
		poolWaiting: prometheus.NewDesc(
			namespace+"_pool_waiting",
			"Acquirers blocked per resource pool",
			[]string{"type"}, nil,
		),

		queueDepth: prometheus.NewDesc(
			namespace+"_queue_depth",
			"Executions waiting for a concurrency slot",
			nil, nil,
		),
		running: prometheus.NewDesc(
			namespace+"_running",
			"Executions holding a concurrency slot",
			nil, nil,
		),
		maxConcurrent: prometheus.NewDesc(
			namespace+"_max_concurrent",
			"Current tuned concurrency limit",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.opRuns
	ch <- c.opSuccesses
	ch <- c.opFailures
	ch <- c.opTimeouts
	ch <- c.opRetries
	ch <- c.opLatency
	ch <- c.opSuccessRatio
	ch <- c.breakerState
	ch <- c.breakerFailures
	ch <- c.poolCapacity
	ch <- c.poolInUse
	ch <- c.poolWaiting
	ch <- c.queueDepth
	ch <- c.running
	ch <- c.maxConcurrent
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, om := range c.controller.AllMetrics() {
		ch <- prometheus.MustNewConstMetric(c.opRuns, prometheus.CounterValue, float64(om.Runs), om.Key)
		ch <- prometheus.MustNewConstMetric(c.opSuccesses, prometheus.CounterValue, float64(om.Successes), om.Key)
		ch <- prometheus.MustNewConstMetric(c.opFailures, prometheus.CounterValue, float64(om.Failures), om.Key)
		ch <- prometheus.MustNewConstMetric(c.opTimeouts, prometheus.CounterValue, float64(om.Timeouts), om.Key)
		ch <- prometheus.MustNewConstMetric(c.opRetries, prometheus.CounterValue, float64(om.Retries), om.Key)
		ch <- prometheus.MustNewConstMetric(c.opLatency, prometheus.GaugeValue, om.AvgLatency.Seconds(), om.Key)
		ch <- prometheus.MustNewConstMetric(c.opSuccessRatio, prometheus.GaugeValue, om.SuccessRate, om.Key)
	}

	for _, b := range c.controller.Breakers() {
		ch <- prometheus.MustNewConstMetric(c.breakerState, prometheus.GaugeValue, 1, b.Key, string(b.State))
		ch <- prometheus.MustNewConstMetric(c.breakerFailures, prometheus.GaugeValue, float64(b.Failures), b.Key)
	}

	for _, p := range c.controller.PoolStats() {
		ch <- prometheus.MustNewConstMetric(c.poolCapacity, prometheus.GaugeValue, float64(p.Total), p.Type)
		ch <- prometheus.MustNewConstMetric(c.poolInUse, prometheus.GaugeValue, float64(p.InUse), p.Type)
		ch <- prometheus.MustNewConstMetric(c.poolWaiting, prometheus.GaugeValue, float64(p.Waiting), p.Type)
	}

	ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(c.controller.QueueDepth()))
	ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, float64(c.controller.Running()))
	ch <- prometheus.MustNewConstMetric(c.maxConcurrent, prometheus.GaugeValue, float64(c.controller.Tuning().MaxConcurrent))
}

// Handler registers a fresh collector on its own registry and returns
// the scrape endpoint, the usual wiring for the monitor mux.
func Handler(controller *resilience.Controller) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(controller)); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}
