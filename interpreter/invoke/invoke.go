// Package invoke implements deferral of <invoke> at state entry,
// execution at macrostep boundaries, child-session routing,
// cancellation, and finalize dispatch, per W3C SCXML 6.4's "finalize
// runs before the event is processed" ordering.
package invoke

import (
	"context"
	"sync"

	"github.com/comalice/scxml-core/document"
	"github.com/comalice/scxml-core/event"
)

// ChildSession is the minimal surface the manager needs from an invoked
// child: something it can start, stop, and forward events into. A real
// child is another interpreter.Session; this interface avoids an import
// cycle between invoke and the top-level interpreter package.
type ChildSession interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, ev event.Event) error
}

// Starter creates a child session for one <invoke> declaration. Supplied
// by the interpreter package, which knows how to build a child
// interpreter.Session from Invoke.Src/Content/Type.
type Starter interface {
	Start(ctx context.Context, parentSessionID string, inv document.Invoke, invokeID string) (ChildSession, error)
}

// ActionRunner executes finalize actions against the parent's data model.
type ActionRunner interface {
	RunActions(ctx context.Context, actions []document.ActionNode, ev event.Event) error
}

type pendingInvoke struct {
	ownerState document.StateID
	decl       document.Invoke
	invokeID   string
}

type activeInvoke struct {
	ownerState document.StateID
	decl       document.Invoke
	child      ChildSession
	cancelled  bool
}

// Manager owns the pending/active invoke bookkeeping for one session.
type Manager struct {
	mu       sync.Mutex
	pending  []pendingInvoke
	active   map[string]*activeInvoke // invokeID -> active
	byState  map[document.StateID][]string
	idSeq    int
}

func New() *Manager {
	return &Manager{
		active:  make(map[string]*activeInvoke),
		byState: make(map[document.StateID][]string),
	}
}

// Defer records an <invoke> encountered during entry to ownerState. It is
// not started until ExecutePending runs at the next macrostep boundary
// (§4.7 Deferral).
func (m *Manager) Defer(ownerState document.StateID, decl document.Invoke, invokeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, pendingInvoke{ownerState: ownerState, decl: decl, invokeID: invokeID})
}

// NextInvokeID generates a stable, monotonically increasing invoke id for
// declarations without a static id or id-location result yet.
func (m *Manager) NextInvokeID(stateID document.StateID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idSeq++
	return string(stateID) + ".invoke" + itoa(m.idSeq)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// ExecutePending starts every pending invoke whose owning state is still
// in the configuration, and drops the rest (§4.7 Execution at macrostep
// boundary). Must be called only at a macrostep boundary, never mid-step.
func (m *Manager) ExecutePending(ctx context.Context, parentSessionID string, active map[document.StateID]bool, starter Starter) error {
	m.mu.Lock()
	toStart := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, p := range toStart {
		if !active[p.ownerState] {
			continue // state exited before the boundary; drop silently
		}
		child, err := starter.Start(ctx, parentSessionID, p.decl, p.invokeID)
		if err != nil {
			return err
		}
		m.mu.Lock()
		m.active[p.invokeID] = &activeInvoke{ownerState: p.ownerState, decl: p.decl, child: child}
		m.byState[p.ownerState] = append(m.byState[p.ownerState], p.invokeID)
		m.mu.Unlock()
	}
	return nil
}

// CancelForState cancels every still-active invoke owned by stateID,
// called when stateID exits, before it is removed from the configuration
// (I6). Also drops any still-pending invoke for that state so it never
// starts at the next boundary (P7).
func (m *Manager) CancelForState(ctx context.Context, stateID document.StateID) error {
	m.mu.Lock()
	ids := m.byState[stateID]
	delete(m.byState, stateID)
	var toCancel []*activeInvoke
	for _, id := range ids {
		if a, ok := m.active[id]; ok {
			a.cancelled = true
			toCancel = append(toCancel, a)
			delete(m.active, id)
		}
	}
	var remainingPending []pendingInvoke
	for _, p := range m.pending {
		if p.ownerState != stateID {
			remainingPending = append(remainingPending, p)
		}
	}
	m.pending = remainingPending
	m.mu.Unlock()

	for _, a := range toCancel {
		if err := a.child.Stop(ctx); err != nil {
			return err
		}
	}
	return nil
}

// IsCancelled reports whether invokeID has been cancelled or is not an
// active invoke at all (unknown or already removed); used to filter late
// child-to-parent events, §4.7 step 1.
func (m *Manager) IsCancelled(invokeID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.active[invokeID]
	return !ok || a.cancelled
}

// Autoforward reports whether invokeID should receive forwarded events,
// and returns its child session.
func (m *Manager) Autoforward(invokeID string) (ChildSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.active[invokeID]
	if !ok || a.cancelled || !a.decl.Autoforward {
		return nil, false
	}
	return a.child, true
}

// AllAutoforwardTargets returns every active, non-cancelled, autoforward
// child session, used to broadcast a non-platform parent event (§4.7
// step 3).
func (m *Manager) AllAutoforwardTargets() []ChildSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ChildSession
	for _, a := range m.active {
		if !a.cancelled && a.decl.Autoforward {
			out = append(out, a.child)
		}
	}
	return out
}

// Finalize returns the finalize actions declared for invokeID, if it is
// still active and not cancelled.
func (m *Manager) Finalize(invokeID string) ([]document.ActionNode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.active[invokeID]
	if !ok || a.cancelled {
		return nil, false
	}
	return a.decl.Finalize, true
}

// StopAll cancels every active invoke, used at session stop.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	var all []*activeInvoke
	for _, a := range m.active {
		a.cancelled = true
		all = append(all, a)
	}
	m.active = make(map[string]*activeInvoke)
	m.byState = make(map[document.StateID][]string)
	m.pending = nil
	m.mu.Unlock()

	for _, a := range all {
		if err := a.child.Stop(ctx); err != nil {
			return err
		}
	}
	return nil
}

// HasPendingOrActiveFor reports whether stateID currently owns any
// pending or active invoke (P7 test hook).
func (m *Manager) HasPendingOrActiveFor(stateID document.StateID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pending {
		if p.ownerState == stateID {
			return true
		}
	}
	return len(m.byState[stateID]) > 0
}
