package interpreter

import (
	"context"
	"sync"
	"time"

	"github.com/comalice/scxml-core/event"
)

// Dispatcher delivers a <send> to a target outside this session through
// another named I/O processor (HTTP, WebSocket). For an unknown or
// unreachable target Send returns an error, and the sending session
// raises error.communication itself (§6.2, §6.3).
type Dispatcher interface {
	Send(ctx context.Context, sessionID string, ev event.Event, target, typ string) error
}

// NoopDispatcher is the default when no external I/O processor is wired;
// every send to a non-local target fails closed with error.communication
// left to the caller to raise.
type NoopDispatcher struct{}

func (NoopDispatcher) Send(context.Context, string, event.Event, string, string) error {
	return errSendTargetUnreachable
}

var errSendTargetUnreachable = dispatchError("interpreter: no dispatcher configured for external send targets")

type dispatchError string

func (e dispatchError) Error() string { return string(e) }

// Scheduler runs delayed <send> deliveries and supports <cancel> on top
// of the stdlib time.AfterFunc timer wheel (see DESIGN.md for why this
// one concern stays on the standard library).
type Scheduler struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
}

func NewScheduler() *Scheduler {
	return &Scheduler{timers: make(map[string]*time.Timer)}
}

// Schedule runs fn after delay, keyed by sendID so a later <cancel> can
// abort it. A zero delay still runs fn via time.AfterFunc(0, ...) rather
// than inline: a send must never be delivered synchronously within the
// action block that issued it.
func (s *Scheduler) Schedule(sendID string, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.timers[sendID]; ok {
		existing.Stop()
	}
	s.timers[sendID] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, sendID)
		s.mu.Unlock()
		fn()
	})
}

// Cancel stops a pending delayed send. No-op if sendID is unknown or
// already fired (§6.2 <cancel>: cancelling a non-pending send is not an
// error).
func (s *Scheduler) Cancel(sendID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[sendID]; ok {
		t.Stop()
		delete(s.timers, sendID)
	}
}

// StopAll cancels every pending timer, used at session stop.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
