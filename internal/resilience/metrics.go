package resilience

import (
	"sort"
	"sync"
	"time"
)

// OpMetrics accumulates per-key execution statistics. Latency and
// success rate are running means updated per sample, never replayed.
type OpMetrics struct {
	Key         string        `json:"key"`
	Runs        int64         `json:"runs"`
	Successes   int64         `json:"successes"`
	Failures    int64         `json:"failures"`
	Timeouts    int64         `json:"timeouts"`
	Retries     int64         `json:"retries"`
	AvgLatency  time.Duration `json:"avg_latency"`
	SuccessRate float64       `json:"success_rate"`
	LastRun     time.Time     `json:"last_run"`
	LastOutcome ItemStatus    `json:"last_outcome,omitempty"`
}

// interval accumulates samples since the last adaptive recompute.
type interval struct {
	runs       int64
	successes  int64
	latencySum time.Duration
	completed  int64
}

func (w interval) successRate() float64 {
	if w.runs == 0 {
		return 1.0
	}
	return float64(w.successes) / float64(w.runs)
}

func (w interval) avgLatency() time.Duration {
	if w.runs == 0 {
		return 0
	}
	return w.latencySum / time.Duration(w.runs)
}

// metricsBook owns all per-key metrics plus the rolling interval the
// adaptive scaler consumes.
type metricsBook struct {
	mu     sync.Mutex
	ops    map[string]*OpMetrics
	window interval
}

func newMetricsBook() *metricsBook {
	return &metricsBook{ops: make(map[string]*OpMetrics)}
}

func (m *metricsBook) op(key string) *OpMetrics {
	om, ok := m.ops[key]
	if !ok {
		om = &OpMetrics{Key: key}
		m.ops[key] = om
	}
	return om
}

// recordRun folds one finished execution into the key's averages.
func (m *metricsBook) recordRun(key string, latency time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	om := m.op(key)
	om.Runs++
	om.AvgLatency += (latency - om.AvgLatency) / time.Duration(om.Runs)

	var success float64
	if ok {
		om.Successes++
		om.LastOutcome = ItemCompleted
		success = 1
	} else {
		om.Failures++
		om.LastOutcome = ItemFailed
	}
	om.SuccessRate += (success - om.SuccessRate) / float64(om.Runs)
	om.LastRun = time.Now()

	m.window.runs++
	m.window.latencySum += latency
	if ok {
		m.window.successes++
		m.window.completed++
	}
}

func (m *metricsBook) recordTimeout(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.op(key).Timeouts++
}

func (m *metricsBook) recordRetry(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.op(key).Retries++
}

// drainWindow returns the interval accumulated since the previous call
// and starts a fresh one.
func (m *metricsBook) drainWindow() interval {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.window
	m.window = interval{}
	return w
}

func (m *metricsBook) snapshot(key string) (OpMetrics, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	om, ok := m.ops[key]
	if !ok {
		return OpMetrics{}, false
	}
	return *om, true
}

func (m *metricsBook) all() []OpMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]OpMetrics, 0, len(m.ops))
	for _, om := range m.ops {
		out = append(out, *om)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Metrics returns the statistics recorded for one operation key.
func (c *Controller) Metrics(key string) (OpMetrics, bool) {
	return c.metrics.snapshot(key)
}

// AllMetrics returns statistics for every key seen so far, ordered by key.
func (c *Controller) AllMetrics() []OpMetrics {
	return c.metrics.all()
}
