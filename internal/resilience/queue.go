package resilience

import (
	"container/heap"
	"time"
)

// ItemStatus tracks a queue item through dispatch.
type ItemStatus string

const (
	ItemQueued    ItemStatus = "queued"
	ItemRunning   ItemStatus = "running"
	ItemCompleted ItemStatus = "completed"
	ItemFailed    ItemStatus = "failed"
)

// Item is one admitted operation. Status moves queued to running to a
// terminal state; a timed-out attempt re-enters queued with Retries
// incremented.
type Item struct {
	ID         string        `json:"id"`
	Key        string        `json:"key"`
	Priority   int           `json:"priority"`
	Timeout    time.Duration `json:"timeout"`
	Retries    int           `json:"retries"`
	Status     ItemStatus    `json:"status"`
	Reason     string        `json:"reason,omitempty"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
}

// waiter parks one caller until a concurrency slot is granted. The
// ready channel carries nil on grant or the drain error when the
// queue is cleared while the caller still waits.
type waiter struct {
	item  *Item
	ready chan error
	seq   uint64
	index int
}

// waitQueue orders waiters by descending priority, ties broken by
// arrival order. Only the head is ever dispatched.
type waitQueue []*waiter

func (q waitQueue) Len() int { return len(q) }

func (q waitQueue) Less(i, j int) bool {
	if q[i].item.Priority != q[j].item.Priority {
		return q[i].item.Priority > q[j].item.Priority
	}
	return q[i].seq < q[j].seq
}

func (q waitQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *waitQueue) Push(x interface{}) {
	w := x.(*waiter)
	w.index = len(*q)
	*q = append(*q, w)
}

func (q *waitQueue) Pop() interface{} {
	old := *q
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*q = old[:n-1]
	return w
}

func (q *waitQueue) enqueue(w *waiter) {
	heap.Push(q, w)
}

func (q *waitQueue) dequeue() *waiter {
	return heap.Pop(q).(*waiter)
}

func (q *waitQueue) remove(w *waiter) bool {
	if w.index < 0 {
		return false
	}
	heap.Remove(q, w.index)
	return true
}
