// Package queue implements the internal (high priority) and external
// (low priority) FIFO event queues, and an immediate-mode flag. A
// deferred restore closure saves and restores that flag around a scoped
// change. The queues do not consult the flag: RaiseInternal always
// appends to the internal queue.
package queue

import (
	"sync"

	"github.com/comalice/scxml-core/event"
)

// Queues holds one session's internal and external event queues.
type Queues struct {
	mu       sync.Mutex
	internal []event.Event
	external []event.Event

	immediateMode bool
}

func New() *Queues {
	return &Queues{immediateMode: true}
}

// RaiseInternal appends ev to the back of the internal queue (§4.3).
func (q *Queues) RaiseInternal(ev event.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.internal = append(q.internal, ev)
}

// PushExternal appends ev to the back of the external queue. Safe to call
// from any goroutine; the only safe cross-thread entry point (§5).
func (q *Queues) PushExternal(ev event.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.external = append(q.external, ev)
}

// HasInternal reports whether the internal queue is non-empty.
func (q *Queues) HasInternal() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.internal) > 0
}

// HasExternal reports whether the external queue is non-empty.
func (q *Queues) HasExternal() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.external) > 0
}

// PopInternal dequeues the next internal event. ok is false if the queue
// was empty.
func (q *Queues) PopInternal() (event.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.internal) == 0 {
		return event.Event{}, false
	}
	ev := q.internal[0]
	q.internal = q.internal[1:]
	return ev, true
}

// PopExternal dequeues the next external event. The internal queue takes
// strict priority (P4): callers must check HasInternal first and must
// never consult the external queue while the internal one is non-empty.
func (q *Queues) PopExternal() (event.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.external) == 0 {
		return event.Event{}, false
	}
	ev := q.external[0]
	q.external = q.external[1:]
	return ev, true
}

// ImmediateMode reports the current immediate-mode flag.
func (q *Queues) ImmediateMode() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.immediateMode
}

// SetImmediateMode sets the flag directly. Prefer WithImmediateMode for
// scoped changes.
func (q *Queues) SetImmediateMode(v bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.immediateMode = v
}

// WithImmediateMode runs fn with immediate mode set to v, restoring the
// prior value afterward even if fn panics — the Go equivalent of
// ImmediateModeGuard's RAII restoration.
func (q *Queues) WithImmediateMode(v bool, fn func()) {
	q.mu.Lock()
	prev := q.immediateMode
	q.immediateMode = v
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.immediateMode = prev
		q.mu.Unlock()
	}()

	fn()
}

// Reset clears both queues and sets the immediate-mode flag back to its
// default (true).
func (q *Queues) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.internal = nil
	q.external = nil
	q.immediateMode = true
}
