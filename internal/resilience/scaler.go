package resilience

import (
	"context"
	"time"
)

// Tuning is the live knob set the adaptive scaler adjusts. New
// executions pick these up at admission; running ones are unaffected.
type Tuning struct {
	MaxConcurrent int           `json:"max_concurrent"`
	Timeout       time.Duration `json:"timeout"`
	BatchSize     int           `json:"batch_size"`
}

// Scaling thresholds. Success and latency bounds come from the
// contract for adaptive concurrency; the batch thresholds are
// completions per interval.
const (
	scaleUpSuccessRate   = 0.95
	scaleUpLatency       = time.Second
	scaleDownSuccessRate = 0.80
	scaleDownLatency     = 5 * time.Second

	timeoutPressure = 0.8
	timeoutGrowth   = 1.5

	batchStep      = 5
	batchFloor     = 1
	batchCeiling   = 100
	throughputHigh = 50
	throughputLow  = 5
)

// Tuning returns the current knob values.
func (c *Controller) Tuning() Tuning {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tuning
}

// Retune recomputes the tuning from the samples gathered since the
// last call. It reports whether anything changed; an empty interval or
// an unchanged outcome is a no-op.
func (c *Controller) Retune() (Tuning, bool) {
	w := c.metrics.drainWindow()
	if w.runs == 0 {
		return c.Tuning(), false
	}

	rate := w.successRate()
	latency := w.avgLatency()

	c.mu.Lock()
	next := c.tuning

	switch {
	case rate > scaleUpSuccessRate && latency < scaleUpLatency:
		if next.MaxConcurrent < c.cfg.ConcurrencyCap {
			next.MaxConcurrent++
		}
	case rate < scaleDownSuccessRate || latency > scaleDownLatency:
		if next.MaxConcurrent > 1 {
			next.MaxConcurrent--
		}
	}

	if latency > time.Duration(timeoutPressure*float64(next.Timeout)) {
		grown := time.Duration(float64(next.Timeout) * timeoutGrowth)
		if grown > c.cfg.MaxTimeout {
			grown = c.cfg.MaxTimeout
		}
		next.Timeout = grown
	}

	switch {
	case w.completed >= throughputHigh && next.BatchSize+batchStep <= batchCeiling:
		next.BatchSize += batchStep
	case w.completed < throughputLow && next.BatchSize-batchStep >= batchFloor:
		next.BatchSize -= batchStep
	}

	changed := next != c.tuning
	if changed {
		c.tuning = next
		// A raised bound may unblock queued waiters right away.
		c.dispatchLocked()
	}
	c.mu.Unlock()

	if changed {
		c.logger.WithFields(map[string]interface{}{
			"max_concurrent": next.MaxConcurrent,
			"timeout":        next.Timeout,
			"batch_size":     next.BatchSize,
			"success_rate":   rate,
			"avg_latency":    latency,
		}).Info("Adjusted tuning")
	}

	return next, changed
}

// StartAdaptive recomputes tuning every interval until ctx ends. It is
// a no-op unless adaptive scaling is enabled in config.
func (c *Controller) StartAdaptive(ctx context.Context) {
	if !c.cfg.Adaptive {
		return
	}

	go func() {
		ticker := time.NewTicker(c.cfg.AdaptiveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Retune()
			}
		}
	}()
}
