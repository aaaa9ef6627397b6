// Package history provides a bounded undo/redo stack for bulk archive
// operations.
package history

import (
	"sync"
	"time"
)

// DefaultCapacity bounds the history when no explicit limit is given.
const DefaultCapacity = 50

// Action is one recorded step: a state snapshot, what produced it, and
// when.
type Action[T any] struct {
	State       T         `json:"state"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// UndoManager keeps a bounded, ordered action history with a movable
// pointer. Undo and redo walk the pointer without discarding entries;
// only a push truncates the redo tail.
type UndoManager[T any] struct {
	mu       sync.Mutex
	capacity int
	entries  []Action[T]
	pointer  int // index of the current entry, -1 when empty
}

// NewUndoManager creates a history bounded to capacity entries. A
// non-positive capacity falls back to DefaultCapacity.
func NewUndoManager[T any](capacity int) *UndoManager[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &UndoManager[T]{
		capacity: capacity,
		pointer:  -1,
	}
}

// Push records a new action after the current pointer, discarding any
// redo tail. Over capacity the oldest entry is evicted, so sustained
// pressure loses the oldest undo step rather than the newest.
func (u *UndoManager[T]) Push(state T, description string) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.entries = append(u.entries[:u.pointer+1], Action[T]{
		State:       state,
		Description: description,
		Timestamp:   time.Now(),
	})
	u.pointer++

	if len(u.entries) > u.capacity {
		copy(u.entries, u.entries[1:])
		u.entries = u.entries[:len(u.entries)-1]
		u.pointer--
	}
}

// Undo moves the pointer back one step and returns the action there.
// At the oldest entry it reports false and leaves the pointer alone.
func (u *UndoManager[T]) Undo() (Action[T], bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.pointer <= 0 {
		var zero Action[T]
		return zero, false
	}
	u.pointer--
	return u.entries[u.pointer], true
}

// Redo moves the pointer forward one step and returns the action
// there. At the newest entry it reports false and leaves the pointer
// alone.
func (u *UndoManager[T]) Redo() (Action[T], bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.pointer >= len(u.entries)-1 {
		var zero Action[T]
		return zero, false
	}
	u.pointer++
	return u.entries[u.pointer], true
}

// JumpTo relocates the pointer to an absolute index, for history
// scrubbing. An out-of-range index reports false and changes nothing.
func (u *UndoManager[T]) JumpTo(index int) (Action[T], bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if index < 0 || index >= len(u.entries) {
		var zero Action[T]
		return zero, false
	}
	u.pointer = index
	return u.entries[index], true
}

// Current returns the action at the pointer, if any.
func (u *UndoManager[T]) Current() (Action[T], bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.pointer < 0 {
		var zero Action[T]
		return zero, false
	}
	return u.entries[u.pointer], true
}

// CanUndo reports whether a step exists before the pointer.
func (u *UndoManager[T]) CanUndo() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.pointer > 0
}

// CanRedo reports whether a step exists past the pointer.
func (u *UndoManager[T]) CanRedo() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.pointer < len(u.entries)-1
}

// Len reports how many actions the history holds.
func (u *UndoManager[T]) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.entries)
}

// Index reports the pointer position, -1 when empty.
func (u *UndoManager[T]) Index() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.pointer
}

// Entries returns a copy of the history, oldest first.
func (u *UndoManager[T]) Entries() []Action[T] {
	u.mu.Lock()
	defer u.mu.Unlock()

	out := make([]Action[T], len(u.entries))
	copy(out, u.entries)
	return out
}

// Clear empties the history.
func (u *UndoManager[T]) Clear() {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.entries = nil
	u.pointer = -1
}
