package interpreter

import (
	"context"
	"errors"
	"sort"

	"github.com/comalice/scxml-core/document"
	"github.com/comalice/scxml-core/event"
	"github.com/comalice/scxml-core/interpreter/microstep"
	"github.com/comalice/scxml-core/interpreter/selector"
)

// maxStableIterations caps the eventless/internal-queue drain cycle run by
// runToStable (§4.6 safety bounds). A cyclic eventless transition or an
// action that perpetually re-raises the same internal event would
// otherwise spin this loop forever.
const maxStableIterations = 10000

// ErrIterationOverflow is returned when runToStable exceeds
// maxStableIterations without reaching a stable configuration (§7
// "Iteration overflow"). The session is halted rather than left spinning.
var ErrIterationOverflow = errors.New("interpreter: iteration cap exceeded without reaching a stable configuration")

// enterStates runs the initial, transition-free entry at session start:
// add each state to the configuration, run its onentry blocks, and defer
// any <invoke> it declares (§3.2, §4.5 steps 5-7 with no preceding exit).
func (s *Session) enterStates(ctx context.Context, chain []document.StateID, ev event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range chain {
		if s.active[id] {
			continue
		}
		s.active[id] = true
		node, ok := s.model.GetState(id)
		if !ok {
			continue
		}
		if s.model.BindingMode() == document.LateBinding {
			if err := s.binder.InitOnEntry(ctx, s.id, s.model, id); err != nil {
				s.logger.Warn("late data-model init failed", map[string]any{"state": string(id), "error": err.Error()})
			}
		}
		s.queues.WithImmediateMode(false, func() {
			for _, block := range node.OnEntry {
				_ = s.RunActions(ctx, block.Actions, ev)
			}
		})
		for _, decl := range node.Invokes {
			invID := decl.ID
			if invID == "" {
				invID = s.invokes.NextInvokeID(id)
			}
			s.invokes.Defer(id, decl, invID)
		}
	}
	return nil
}

// runToStable drives eventless and internal-queue microsteps until the
// configuration is stable: no eventless transition is enabled and the
// internal queue is empty (§4.6's inner "mainEventLoop" cycle).
func (s *Session) runToStable(ctx context.Context) error {
	for iterations := 0; ; iterations++ {
		if iterations >= maxStableIterations {
			s.mu.Lock()
			s.halted = true
			s.mu.Unlock()
			s.logger.Error("iteration cap exceeded, halting session", map[string]any{"cap": maxStableIterations})
			return ErrIterationOverflow
		}

		s.mu.Lock()
		active := cloneActive(s.active)
		s.mu.Unlock()

		selected, err := selector.Select(s.model, s.oracle, active, nil, s)
		if err != nil {
			return err
		}
		if len(selected) > 0 {
			if err := s.applyMicrostep(ctx, selected, event.Event{}); err != nil {
				return err
			}
			if s.halted {
				return nil
			}
			continue
		}

		if !s.queues.HasInternal() {
			return nil
		}
		ev, ok := s.queues.PopInternal()
		if !ok {
			return nil
		}
		s.bindEvent(ctx, ev)
		selected, err = selector.Select(s.model, s.oracle, active, &ev, s)
		if err != nil {
			return err
		}
		if len(selected) > 0 {
			if err := s.applyMicrostep(ctx, selected, ev); err != nil {
				return err
			}
		}
		if s.halted {
			return nil
		}
	}
}

// processExternalEvent handles one event popped from the external queue:
// forward it to autoforwarding invoked children, select and apply its
// transitions, drain to stability, then start any invokes deferred along
// the way (§4.6, §4.7).
func (s *Session) processExternalEvent(ctx context.Context, ev event.Event) error {
	// §4.7 step 1: drop events from a child invoke that was cancelled
	// before the event arrived (e.g. the owning state already exited).
	if ev.InvokeID != "" && s.invokes.IsCancelled(ev.InvokeID) {
		return nil
	}

	// §4.7 step 2 / W3C 6.4: finalize runs before the event is processed,
	// against the parent's own data model.
	if ev.InvokeID != "" {
		if actions, ok := s.invokes.Finalize(ev.InvokeID); ok && len(actions) > 0 {
			s.queues.WithImmediateMode(false, func() {
				if err := s.RunActions(ctx, actions, ev); err != nil {
					s.logger.Warn("invoke finalize failed", map[string]any{"invoke_id": ev.InvokeID, "error": err.Error()})
				}
			})
		}
	}

	if !event.IsPlatformEvent(ev.Name) {
		for _, child := range s.invokes.AllAutoforwardTargets() {
			_ = child.Send(ctx, ev)
		}
	}

	s.mu.Lock()
	active := cloneActive(s.active)
	s.mu.Unlock()

	s.bindEvent(ctx, ev)
	selected, err := selector.Select(s.model, s.oracle, active, &ev, s)
	if err != nil {
		return err
	}
	if len(selected) > 0 {
		if err := s.applyMicrostep(ctx, selected, ev); err != nil {
			return err
		}
	}
	if s.halted {
		return nil
	}
	if err := s.runToStable(ctx); err != nil {
		return err
	}
	if s.halted {
		return nil
	}
	return s.invokes.ExecutePending(ctx, s.id, s.snapshotActive(), (*starterAdapter)(s))
}

func (s *Session) snapshotActive() map[document.StateID]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneActive(s.active)
}

// bindEvent binds `_event` for the duration of processing ev (§5.10), so
// guard expressions and executable content can read _event.name/_event.data.
// Failures are logged, not raised: a scripting host that cannot bind a
// global is a host-configuration problem, not a document execution error.
func (s *Session) bindEvent(ctx context.Context, ev event.Event) {
	if err := s.host.SetEvent(ctx, s.id, eventFields(ev)); err != nil {
		s.logger.Warn("binding _event failed", map[string]any{"event": ev.Name, "error": err.Error()})
	}
}

func eventFields(ev event.Event) map[string]any {
	return map[string]any{
		"name":       ev.Name,
		"type":       ev.Kind.String(),
		"sendid":     ev.SendID,
		"origin":     ev.Origin,
		"origintype": ev.OriginType,
		"invokeid":   ev.InvokeID,
		"data":       ev.Data,
	}
}

// diffStates returns the ids present in b but not in a, as strings.
func diffStates(a, b map[document.StateID]bool) []string {
	var out []string
	for id := range b {
		if !a[id] {
			out = append(out, string(id))
		}
	}
	return out
}

func cloneActive(active map[document.StateID]bool) map[document.StateID]bool {
	out := make(map[document.StateID]bool, len(active))
	for k, v := range active {
		out[k] = v
	}
	return out
}

// applyMicrostep runs the microstep executor over selected and commits
// its result: new configuration, done-event propagation, a debug log of
// deferred invokes, and top-level-final halt detection.
func (s *Session) applyMicrostep(ctx context.Context, selected []selector.Selected, ev event.Event) error {
	s.mu.Lock()
	active := cloneActive(s.active)
	s.mu.Unlock()

	var result microstep.Result
	var err error
	s.queues.WithImmediateMode(false, func() {
		result, err = s.executor.Execute(ctx, s.model, s.oracle, s.hist, active, selected, ev)
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.active = result.Active
	s.mu.Unlock()

	s.publish(ctx, Transition{
		SessionID: s.id,
		EventName: ev.Name,
		Entered:   diffStates(active, result.Active),
		Exited:    diffStates(result.Active, active),
	})

	for _, ev := range result.DoneEvents {
		s.queues.RaiseInternal(ev)
	}
	for _, inv := range result.Invokes {
		if inv.Decl.IDLocation != "" {
			// Bound once the invoke actually starts (starterAdapter.Start);
			// recorded here only for diagnostics.
			s.logger.Debug("invoke deferred", map[string]any{"state": string(inv.StateID), "invoke_id": inv.InvokeID})
		}
	}
	if result.EnteredTopLevelFinal {
		// §3 Lifecycle / §4.5 step 9: reaching a top-level <final> halts
		// the session outside the ordinary per-microstep exit processing,
		// so every state still in the configuration exits here, deepest
		// first, before the session is marked halted.
		s.runOnExitSweep(ctx, ev)
		s.mu.Lock()
		s.halted = true
		s.mu.Unlock()
		if s.parent != nil {
			s.parent.PushExternal(event.Event{
				Name:     event.DoneInvokeName(s.invokeID),
				Kind:     event.External,
				InvokeID: s.invokeID,
				Origin:   s.id,
			})
		}
	}
	return nil
}

// runOnExitSweep runs onexit for every state still in the configuration,
// deepest-first with reverse document-order tie-break, and cancels any
// invoke each one owns, then clears the configuration. This is the exit
// processing a session performs when it shuts down outside an ordinary
// microstep: reaching a top-level <final> (§4.5 step 9) or an explicit
// stop() call (§4.10). Unlike applyMicrostep's exit set, this always
// covers the whole active configuration, since nothing remains running
// afterward to re-enter.
func (s *Session) runOnExitSweep(ctx context.Context, ev event.Event) {
	s.mu.Lock()
	active := cloneActive(s.active)
	s.mu.Unlock()

	states := make([]document.StateID, 0, len(active))
	depths := make(map[document.StateID]int, len(active))
	orders := make(map[document.StateID]int, len(active))
	for id := range active {
		states = append(states, id)
		if d, err := s.oracle.Depth(id); err == nil {
			depths[id] = d
		}
		if o, err := s.oracle.DocOrder(id); err == nil {
			orders[id] = o
		}
	}
	sort.Slice(states, func(i, j int) bool {
		if depths[states[i]] != depths[states[j]] {
			return depths[states[i]] > depths[states[j]]
		}
		return orders[states[i]] > orders[states[j]]
	})

	s.queues.WithImmediateMode(false, func() {
		for _, id := range states {
			node, ok := s.model.GetState(id)
			if !ok {
				continue
			}
			for _, block := range node.OnExit {
				_ = s.RunActions(ctx, block.Actions, ev)
			}
			if err := s.invokes.CancelForState(ctx, id); err != nil {
				s.logger.Warn("invoke cancellation failed during shutdown exit sweep", map[string]any{"state": string(id), "error": err.Error()})
			}
		}
	})

	s.mu.Lock()
	s.active = make(map[document.StateID]bool)
	s.mu.Unlock()
}
