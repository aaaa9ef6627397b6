package resilience_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcmill/arcmill/internal/config"
	"github.com/arcmill/arcmill/internal/models"
	"github.com/arcmill/arcmill/internal/resilience"
	"github.com/arcmill/arcmill/test/testutil"
)

func TestConcurrencyNeverExceedsBound(t *testing.T) {
	ctrl, _ := newController(t, func(rc *config.ResilienceConfig) {
		rc.MaxConcurrent = 2
	})
	ctx := context.Background()

	var current, peak int32
	release := make(chan struct{})

	op := func(ctx context.Context) (interface{}, error) {
		cur := atomic.AddInt32(&current, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if cur <= p || atomic.CompareAndSwapInt32(&peak, p, cur) {
				break
			}
		}
		<-release
		atomic.AddInt32(&current, -1)
		return nil, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ctrl.Execute(ctx, "bounded", op)
			assert.NoError(t, err)
		}()
	}

	testutil.WaitForCondition(t, func() bool {
		return ctrl.Running() == 2 && ctrl.QueueDepth() == 3
	}, time.Second, "two running, three queued")

	close(release)
	wg.Wait()

	assert.EqualValues(t, 2, atomic.LoadInt32(&peak))
	assert.Equal(t, 0, ctrl.Running())
	assert.Equal(t, 0, ctrl.QueueDepth())
}

func TestHigherPriorityDispatchesFirst(t *testing.T) {
	ctrl, _ := newController(t, func(rc *config.ResilienceConfig) {
		rc.MaxConcurrent = 1
	})
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := ctrl.Execute(ctx, "blocker", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		})
		assert.NoError(t, err)
	}()
	<-started

	var mu sync.Mutex
	var order []string

	enqueue := func(key string, priority int, depth int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ctrl.ExecuteWith(ctx, resilience.Request{
				Key:      key,
				Priority: priority,
				Op: func(ctx context.Context) (interface{}, error) {
					mu.Lock()
					order = append(order, key)
					mu.Unlock()
					return nil, nil
				},
			})
			assert.NoError(t, err)
		}()
		testutil.WaitForCondition(t, func() bool {
			return ctrl.QueueDepth() == depth
		}, time.Second, "waiter enqueued")
	}

	enqueue("low", 1, 1)
	enqueue("high", 5, 2)
	enqueue("mid", 3, 3)

	close(release)
	wg.Wait()

	assert.Equal(t, []string{"high", "mid", "low"}, order)
}

func TestEqualPriorityDispatchesInArrivalOrder(t *testing.T) {
	ctrl, _ := newController(t, func(rc *config.ResilienceConfig) {
		rc.MaxConcurrent = 1
	})
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = ctrl.Execute(ctx, "blocker", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		})
	}()
	<-started

	var mu sync.Mutex
	var order []string

	for i, key := range []string{"first", "second", "third"} {
		key := key
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ctrl.ExecuteWith(ctx, resilience.Request{
				Key:      key,
				Priority: 7,
				Op: func(ctx context.Context) (interface{}, error) {
					mu.Lock()
					order = append(order, key)
					mu.Unlock()
					return nil, nil
				},
			})
			assert.NoError(t, err)
		}()
		depth := i + 1
		testutil.WaitForCondition(t, func() bool {
			return ctrl.QueueDepth() == depth
		}, time.Second, "waiter enqueued")
	}

	close(release)
	wg.Wait()

	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestClearQueueFailsWaitingItems(t *testing.T) {
	ctrl, out := newController(t, func(rc *config.ResilienceConfig) {
		rc.MaxConcurrent = 1
	})
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := ctrl.Execute(ctx, "blocker", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		})
		assert.NoError(t, err)
	}()
	<-started

	errs := make(chan error, 2)
	for _, key := range []string{"droppedA", "droppedB"} {
		key := key
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ctrl.Execute(ctx, key, func(ctx context.Context) (interface{}, error) {
				return nil, nil
			})
			errs <- err
		}()
	}

	testutil.WaitForCondition(t, func() bool {
		return ctrl.QueueDepth() == 2
	}, time.Second, "two waiters queued")

	dropped := ctrl.ClearQueue()
	assert.Equal(t, 2, dropped)

	close(release)
	wg.Wait()
	close(errs)

	count := 0
	for err := range errs {
		require.Error(t, err)
		assert.ErrorIs(t, err, models.ErrQueueDrained)
		count++
	}
	assert.Equal(t, 2, count)

	// Dropped items never ran, so their breakers stay untouched.
	for _, key := range []string{"droppedA", "droppedB"} {
		snap, ok := ctrl.BreakerState(key)
		require.True(t, ok)
		assert.Equal(t, resilience.StateClosed, snap.State)
		assert.Equal(t, 0, snap.Failures)
	}

	assert.Equal(t, 0, ctrl.ClearQueue(), "second clear finds nothing")
	assert.True(t, out.HasMessage("Cleared queue"))
}

func TestQueuedItemHonorsCallerCancellation(t *testing.T) {
	ctrl, _ := newController(t, func(rc *config.ResilienceConfig) {
		rc.MaxConcurrent = 1
	})

	started := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = ctrl.Execute(context.Background(), "blocker", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := ctrl.Execute(ctx, "impatient", func(ctx context.Context) (interface{}, error) {
			return nil, nil
		})
		errCh <- err
	}()

	testutil.WaitForCondition(t, func() bool {
		return ctrl.QueueDepth() == 1
	}, time.Second, "waiter queued")

	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled waiter did not return")
	}

	assert.Equal(t, 0, ctrl.QueueDepth())

	close(release)
	wg.Wait()
}
