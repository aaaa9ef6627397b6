package resilience

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/arcmill/arcmill/internal/models"
)

// PoolStats is a point-in-time view of one resource pool.
type PoolStats struct {
	Type      string `json:"type"`
	Total     int64  `json:"total"`
	Available int64  `json:"available"`
	InUse     int64  `json:"in_use"`
	Waiting   int    `json:"waiting"`
}

// resourcePool bounds units of one resource type. The semaphore does
// the blocking; the counters only exist for observability.
type resourcePool struct {
	sem   *semaphore.Weighted
	total int64

	mu      sync.Mutex
	inUse   int64
	waiting int
}

func newResourcePool(total int64) *resourcePool {
	return &resourcePool{
		sem:   semaphore.NewWeighted(total),
		total: total,
	}
}

func (p *resourcePool) acquire(ctx context.Context, n int64) error {
	p.mu.Lock()
	p.waiting++
	p.mu.Unlock()

	err := p.sem.Acquire(ctx, n)

	p.mu.Lock()
	p.waiting--
	if err == nil {
		p.inUse += n
	}
	p.mu.Unlock()

	return err
}

func (p *resourcePool) release(n int64) {
	p.mu.Lock()
	p.inUse -= n
	p.mu.Unlock()
	p.sem.Release(n)
}

func (p *resourcePool) stats(typ string) PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return PoolStats{
		Type:      typ,
		Total:     p.total,
		Available: p.total - p.inUse,
		InUse:     p.inUse,
		Waiting:   p.waiting,
	}
}

// AcquireResource reserves n units of a typed resource, blocking until
// they are free or ctx ends. Unknown types get a pool at the configured
// default capacity on first use.
func (c *Controller) AcquireResource(ctx context.Context, typ string, n int64) error {
	pool := c.pool(typ)
	if n > pool.total {
		return &models.PoolExhaustedError{Type: typ, Requested: n, Capacity: pool.total}
	}

	if err := pool.acquire(ctx, n); err != nil {
		return fmt.Errorf("acquire %d %s units: %w", n, typ, err)
	}
	return nil
}

// ReleaseResource returns n units to a pool. Every acquire must be
// paired with a release on all exit paths.
func (c *Controller) ReleaseResource(typ string, n int64) {
	c.pool(typ).release(n)
}

// PoolStats reports every pool created so far, ordered by type.
func (c *Controller) PoolStats() []PoolStats {
	c.mu.Lock()
	types := make([]string, 0, len(c.pools))
	pools := make([]*resourcePool, 0, len(c.pools))
	for typ, pool := range c.pools {
		types = append(types, typ)
		pools = append(pools, pool)
	}
	c.mu.Unlock()

	stats := make([]PoolStats, len(pools))
	for i, pool := range pools {
		stats[i] = pool.stats(types[i])
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Type < stats[j].Type })
	return stats
}

func (c *Controller) pool(typ string) *resourcePool {
	c.mu.Lock()
	defer c.mu.Unlock()

	pool, ok := c.pools[typ]
	if !ok {
		pool = newResourcePool(int64(c.cfg.PoolSize))
		c.pools[typ] = pool
		c.logger.WithFields(map[string]interface{}{
			"type":     typ,
			"capacity": c.cfg.PoolSize,
		}).Debug("Created resource pool")
	}
	return pool
}
