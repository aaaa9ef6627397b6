// Package resilience wraps archive operations with a priority queue,
// per-key circuit breakers, timeout and retry handling, resource
// pools, and optional adaptive concurrency scaling.
//
// The breaker and pool maps are mutated only inside the Controller;
// no two transitions for one key ever interleave.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/arcmill/arcmill/internal/config"
	"github.com/arcmill/arcmill/internal/events"
	"github.com/arcmill/arcmill/internal/models"
)

// Operation is the unit of work the controller protects. The context
// carries the attempt deadline; well-behaved operations return when it
// ends, ill-behaved ones are abandoned to finish on their own.
type Operation func(ctx context.Context) (interface{}, error)

// Request describes one execution.
type Request struct {
	Key      string
	Priority int
	Timeout  time.Duration // zero means the current tuned timeout
	Resource string        // optional resource pool type
	Units    int64         // pool units held per attempt, default 1
	Op       Operation
}

// Controller runs operations under concurrency, breaker, timeout, and
// retry policy.
type Controller struct {
	cfg     config.ResilienceConfig
	logger  *events.Logger
	metrics *metricsBook
	limiter *rate.Limiter

	mu         sync.Mutex
	tuning     Tuning
	breakers   map[string]*breaker
	pools      map[string]*resourcePool
	waitq      waitQueue
	running    int
	seq        uint64
	observers  map[int]func(Transition)
	timeoutObs map[int]func(key string, attempt int, limit time.Duration)
	nextSub    int
}

// NewController creates a controller from config.
func NewController(cfg config.ResilienceConfig, logger *events.Logger) *Controller {
	c := &Controller{
		cfg:     cfg,
		logger:  logger.WithField("component", "resilience"),
		metrics: newMetricsBook(),
		tuning: Tuning{
			MaxConcurrent: cfg.MaxConcurrent,
			Timeout:       cfg.OperationTimeout,
			BatchSize:     cfg.BatchSize,
		},
		breakers:   make(map[string]*breaker),
		pools:      make(map[string]*resourcePool),
		observers:  make(map[int]func(Transition)),
		timeoutObs: make(map[int]func(string, int, time.Duration)),
	}

	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return c
}

// Execute runs op under key's breaker at default priority.
func (c *Controller) Execute(ctx context.Context, key string, op Operation) (interface{}, error) {
	return c.ExecuteWith(ctx, Request{Key: key, Op: op})
}

// ExecuteWith runs one request through admission, queueing, and the
// retry loop. A breaker that is open and still cooling rejects here,
// before the operation or a concurrency slot is touched.
func (c *Controller) ExecuteWith(ctx context.Context, req Request) (interface{}, error) {
	if req.Op == nil {
		return nil, errors.New("resilience: nil operation")
	}

	now := time.Now()
	c.mu.Lock()
	b := c.breakerLocked(req.Key)
	ok, tr := b.admit(req.Key, now)
	if !ok {
		retryAt := b.nextRetry
		c.mu.Unlock()
		return nil, &models.CircuitOpenError{Key: req.Key, RetryAt: retryAt}
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.tuning.Timeout
	}
	c.notifyLocked(tr)
	c.mu.Unlock()

	item := &Item{
		ID:         uuid.NewString(),
		Key:        req.Key,
		Priority:   req.Priority,
		Timeout:    timeout,
		Status:     ItemQueued,
		EnqueuedAt: now,
	}

	value, latency, err := c.run(ctx, req, item)

	switch {
	case err == nil:
		item.Status = ItemCompleted
		c.metrics.recordRun(req.Key, latency, true)
		c.recordSuccess(req.Key)
		return value, nil

	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, models.ErrQueueDrained):
		// Cancelled by the caller or dropped while queued. The
		// operation's health is unknown, so the breaker stays put.
		return nil, err

	default:
		c.metrics.recordRun(req.Key, latency, false)
		c.recordFailure(req.Key, item.Reason)
		return nil, err
	}
}

// run owns the slot/throttle/attempt cycle. A timed-out attempt gives
// its slot back, re-enters the queue after backoff, and tries again
// while retries remain. The returned latency is the final attempt's.
func (c *Controller) run(ctx context.Context, req Request, item *Item) (interface{}, time.Duration, error) {
	for {
		if err := c.acquireSlot(ctx, item); err != nil {
			item.Status = ItemFailed
			item.Reason = err.Error()
			return nil, 0, err
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				c.releaseSlot()
				item.Status = ItemFailed
				item.Reason = err.Error()
				return nil, 0, err
			}
		}

		value, latency, err := c.dispatch(ctx, req, item)
		c.releaseSlot()

		if err == nil {
			return value, latency, nil
		}

		var te *models.TimeoutError
		if !errors.As(err, &te) {
			item.Status = ItemFailed
			item.Reason = err.Error()
			return nil, latency, err
		}

		c.fireTimeout(item.Key, item.Retries, item.Timeout)
		c.metrics.recordTimeout(item.Key)

		if item.Retries >= c.cfg.RetryAttempts {
			item.Status = ItemFailed
			item.Reason = "max retries exceeded"
			return nil, latency, fmt.Errorf("operation %q: %w", item.Key, models.ErrRetriesExhausted)
		}

		item.Retries++
		item.Status = ItemQueued
		c.metrics.recordRetry(item.Key)

		if err := c.backoff(ctx, item.Retries); err != nil {
			item.Status = ItemFailed
			item.Reason = err.Error()
			return nil, latency, err
		}
	}
}

// dispatch runs a single attempt, holding any requested pool units for
// exactly its duration.
func (c *Controller) dispatch(ctx context.Context, req Request, item *Item) (interface{}, time.Duration, error) {
	if req.Resource != "" {
		units := req.Units
		if units <= 0 {
			units = 1
		}
		if err := c.AcquireResource(ctx, req.Resource, units); err != nil {
			return nil, 0, err
		}
		defer c.ReleaseResource(req.Resource, units)
	}

	item.Status = ItemRunning
	start := time.Now()
	value, err := c.attempt(ctx, item, req.Op)
	return value, time.Since(start), err
}

// attempt races the operation against the item's timeout. The caller's
// own cancellation or deadline is surfaced as ctx.Err, never as an
// operation timeout.
func (c *Controller) attempt(ctx context.Context, item *Item, op Operation) (interface{}, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, item.Timeout)
	defer cancel()

	type outcome struct {
		value interface{}
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("operation panic: %v", r)}
			}
		}()
		value, err := op(attemptCtx)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil {
			// The operation respected its attempt deadline.
			return nil, &models.TimeoutError{Key: item.Key, Attempt: item.Retries, Limit: item.Timeout}
		}
		return out.value, out.err

	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &models.TimeoutError{Key: item.Key, Attempt: item.Retries, Limit: item.Timeout}
	}
}

// backoff sleeps base times 2^(retry-1), capped, plus random jitter
// bounded by the delay itself and by one second.
func (c *Controller) backoff(ctx context.Context, retry int) error {
	delay := c.cfg.RetryDelay << uint(retry-1)
	if delay <= 0 || delay > c.cfg.MaxRetryDelay {
		delay = c.cfg.MaxRetryDelay
	}

	jitterCap := delay
	if jitterCap > time.Second {
		jitterCap = time.Second
	}
	delay += time.Duration(rand.Int63n(int64(jitterCap)))

	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// acquireSlot parks the caller in the priority queue until a
// concurrency slot frees. Cancellation removes a still-queued waiter;
// a grant that raced the cancellation is handed straight back.
func (c *Controller) acquireSlot(ctx context.Context, item *Item) error {
	c.mu.Lock()
	if c.waitq.Len() == 0 && c.running < c.tuning.MaxConcurrent {
		c.running++
		c.mu.Unlock()
		return nil
	}

	w := &waiter{item: item, ready: make(chan error, 1), seq: c.seq}
	c.seq++
	c.waitq.enqueue(w)
	c.mu.Unlock()

	select {
	case err := <-w.ready:
		return err

	case <-ctx.Done():
		c.mu.Lock()
		removed := c.waitq.remove(w)
		c.mu.Unlock()
		if !removed {
			if err := <-w.ready; err == nil {
				c.releaseSlot()
			}
		}
		return ctx.Err()
	}
}

func (c *Controller) releaseSlot() {
	c.mu.Lock()
	c.running--
	c.dispatchLocked()
	c.mu.Unlock()
}

// dispatchLocked grants slots to queue heads while capacity remains.
func (c *Controller) dispatchLocked() {
	for c.waitq.Len() > 0 && c.running < c.tuning.MaxConcurrent {
		w := c.waitq.dequeue()
		c.running++
		w.ready <- nil
	}
}

// ClearQueue fails every queued-but-undispatched item and reports how
// many were dropped. Running operations are unaffected.
func (c *Controller) ClearQueue() int {
	c.mu.Lock()
	dropped := c.waitq.Len()
	for c.waitq.Len() > 0 {
		w := c.waitq.dequeue()
		w.item.Status = ItemFailed
		w.item.Reason = models.ErrQueueDrained.Error()
		w.ready <- models.ErrQueueDrained
	}
	c.mu.Unlock()

	if dropped > 0 {
		c.logger.WithField("dropped", dropped).Info("Cleared queue")
	}
	return dropped
}

// QueueDepth reports how many items wait for a slot.
func (c *Controller) QueueDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waitq.Len()
}

// Running reports how many operations hold slots right now.
func (c *Controller) Running() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// BreakerState returns the breaker for key, if one exists yet.
func (c *Controller) BreakerState(key string) (BreakerSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.breakers[key]
	if !ok {
		return BreakerSnapshot{}, false
	}
	return b.snapshot(key), true
}

// Breakers returns every breaker created so far, ordered by key.
func (c *Controller) Breakers() []BreakerSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]BreakerSnapshot, 0, len(c.breakers))
	for key, b := range c.breakers {
		out = append(out, b.snapshot(key))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Subscribe registers fn for every breaker transition. Callbacks run
// synchronously under the controller lock; keep them brief and do not
// call back into the Controller. The returned func removes the
// subscription.
func (c *Controller) Subscribe(fn func(Transition)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.observers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

// OnTimeout registers fn to run whenever an attempt times out, before
// any retry is scheduled. Same calling discipline as Subscribe.
func (c *Controller) OnTimeout(fn func(key string, attempt int, limit time.Duration)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.timeoutObs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.timeoutObs, id)
		c.mu.Unlock()
	}
}

func (c *Controller) breakerLocked(key string) *breaker {
	b, ok := c.breakers[key]
	if !ok {
		b = newBreaker()
		c.breakers[key] = b
	}
	return b
}

func (c *Controller) recordSuccess(key string) {
	c.mu.Lock()
	tr := c.breakerLocked(key).recordSuccess(key, time.Now())
	c.notifyLocked(tr)
	c.mu.Unlock()
}

func (c *Controller) recordFailure(key, cause string) {
	c.mu.Lock()
	tr := c.breakerLocked(key).recordFailure(
		key, time.Now(), c.cfg.FailureThreshold, c.cfg.CooldownPeriod, cause)
	c.notifyLocked(tr)
	c.mu.Unlock()
}

func (c *Controller) notifyLocked(tr *Transition) {
	if tr == nil {
		return
	}

	c.logger.WithFields(map[string]interface{}{
		"key":    tr.Key,
		"from":   tr.From,
		"to":     tr.To,
		"reason": tr.Reason,
	}).Info("Breaker transition")

	for _, fn := range c.observers {
		fn(*tr)
	}
}

func (c *Controller) fireTimeout(key string, attempt int, limit time.Duration) {
	c.logger.WithFields(map[string]interface{}{
		"key":     key,
		"attempt": attempt,
		"timeout": limit,
	}).Warn("Operation timed out")

	c.mu.Lock()
	for _, fn := range c.timeoutObs {
		fn(key, attempt, limit)
	}
	c.mu.Unlock()
}
