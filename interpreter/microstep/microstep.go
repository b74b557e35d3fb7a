// Package microstep takes one resolved, non-conflicting transition set
// and computes and applies the exit/entry sequence for a single
// microstep (§4.5): history captured before exit, block-structured
// onentry/onexit execution (§4.5.1, each block running to its own first
// failure without affecting sibling blocks), invoke deferral, and
// done.state.* generation (§3.7, §5.7).
package microstep

import (
	"context"
	"errors"
	"sort"

	"github.com/comalice/scxml-core/document"
	"github.com/comalice/scxml-core/event"
	"github.com/comalice/scxml-core/interpreter/hierarchy"
	"github.com/comalice/scxml-core/interpreter/selector"
)

// structuralDoneDataError is implemented by donedata evaluation errors
// that mark a malformed declaration (e.g. a <param> with an empty
// location) rather than a runtime expression failure. Checked by duck
// typing so this package has no direct dependency on datamodel.
type structuralDoneDataError interface {
	Structural() bool
}

// ActionRunner executes a flat list of executable-content actions in
// order, stopping at the first failure (§4.5.1). A failure is reported
// to the interpreter's error.execution handling by the runner itself,
// not by the caller here.
type ActionRunner interface {
	RunActions(ctx context.Context, actions []document.ActionNode, ev event.Event) error
}

// HistoryRecorder captures the active descendants of an exiting state
// that declares history children. Matches history.Store.
type HistoryRecorder interface {
	Record(stateID document.StateID, active map[document.StateID]bool)
}

// InvokeRegistrar defers <invoke> declarations encountered on entry and
// cancels invokes owned by a state on exit. Matches invoke.Manager.
type InvokeRegistrar interface {
	Defer(ownerState document.StateID, decl document.Invoke, invokeID string)
	NextInvokeID(stateID document.StateID) string
	CancelForState(ctx context.Context, stateID document.StateID) error
}

// DoneDataEvaluator evaluates a <final> state's donedata content into a
// JSON-safe value for the done.state.* event's Data field (§4.9). A nil
// evaluator, or a DoneData with HasContent false, yields nil Data.
type DoneDataEvaluator interface {
	Evaluate(ctx context.Context, dd *document.DoneData) (any, error)
}

// DeferredInvoke is one <invoke> declaration registered during this
// microstep, surfaced to the caller (the Session facade) for diagnostics.
// Any idlocation variable is bound to InvokeID later, when the invoke
// actually starts.
type DeferredInvoke struct {
	StateID  document.StateID
	Decl     document.Invoke
	InvokeID string
}

// Result is the outcome of applying one microstep.
type Result struct {
	Active     map[document.StateID]bool
	// DoneEvents holds every internally-raised event produced while
	// generating done.state.*: the done.state.* events themselves, plus
	// any error.execution raised along the way by a failing donedata
	// evaluation (§4.9). The caller raises each of these on the internal
	// queue without needing to know which is which.
	DoneEvents          []event.Event
	Invokes             []DeferredInvoke
	EnteredTopLevelFinal bool
}

// Executor applies resolved transitions to a configuration. It holds the
// session-scoped collaborators that the pure hierarchy.Oracle cannot
// reach: action execution, history recording, and invoke bookkeeping.
type Executor struct {
	hist     HistoryRecorder
	invokes  InvokeRegistrar
	actions  ActionRunner
	donedata DoneDataEvaluator
}

func New(hist HistoryRecorder, invokes InvokeRegistrar, actions ActionRunner, donedata DoneDataEvaluator) *Executor {
	return &Executor{hist: hist, invokes: invokes, actions: actions, donedata: donedata}
}

// Execute applies selected to active, per §4.5 steps 1-9.
func (x *Executor) Execute(ctx context.Context, model document.Model, oracle *hierarchy.Oracle, histResolver hierarchy.HistoryResolver, active map[document.StateID]bool, selected []selector.Selected, ev event.Event) (Result, error) {
	next := cloneActive(active)

	exitSet, err := x.unionExitSet(oracle, selected)
	if err != nil {
		return Result{}, err
	}

	// Step 2: record history before anything exits (I5).
	for _, s := range exitSet {
		x.hist.Record(s, active)
	}

	// Step 3: exit states deepest-first, reverse document-order tie break.
	for _, s := range exitSet {
		node, ok := model.GetState(s)
		if !ok {
			continue
		}
		for _, block := range node.OnExit {
			_ = x.actions.RunActions(ctx, block.Actions, ev)
		}
		if err := x.invokes.CancelForState(ctx, s); err != nil {
			return Result{}, err
		}
		delete(next, s)
	}

	// Step 4: execute transition actions, in the document-order already
	// established by the selector.
	for _, sel := range selected {
		if len(sel.Transition.Actions) == 0 {
			continue
		}
		_ = x.actions.RunActions(ctx, sel.Transition.Actions, ev)
	}

	// Step 5/6: enter states and run onentry, ancestor-before-descendant.
	entered, err := x.entrySet(oracle, histResolver, selected)
	if err != nil {
		return Result{}, err
	}
	var deferredInvokes []DeferredInvoke
	var enteredFinals []document.StateID
	topLevelFinal := false
	for _, s := range entered {
		if next[s] {
			continue // already active via another transition's chain
		}
		next[s] = true
		node, ok := model.GetState(s)
		if !ok {
			continue
		}
		for _, block := range node.OnEntry {
			_ = x.actions.RunActions(ctx, block.Actions, ev)
		}
		// Step 7: defer invokes.
		for _, decl := range node.Invokes {
			id := decl.ID
			if id == "" {
				id = x.invokes.NextInvokeID(s)
			}
			x.invokes.Defer(s, decl, id)
			deferredInvokes = append(deferredInvokes, DeferredInvoke{StateID: s, Decl: decl, InvokeID: id})
		}
		if node.Kind == document.Final {
			enteredFinals = append(enteredFinals, s)
			if parent, ok2, perr := oracle.Parent(s); perr == nil && ok2 && parent == model.RootState() {
				topLevelFinal = true
			} else if perr == nil && !ok2 {
				topLevelFinal = true
			}
		}
	}

	// Step 8: done.state.* generation, cascading through completed
	// parallels (§3.7, §5.7). Donedata evaluation failures never abort
	// the microstep: they raise error.execution (folded into the
	// returned event list) and either suppress the one done.state event
	// (structural error) or still emit it with nil data (runtime error).
	doneEvents, err := x.doneEvents(ctx, model, oracle, next, enteredFinals, ev)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Active:               next,
		DoneEvents:           doneEvents,
		Invokes:              deferredInvokes,
		EnteredTopLevelFinal: topLevelFinal,
	}, nil
}

func cloneActive(active map[document.StateID]bool) map[document.StateID]bool {
	out := make(map[document.StateID]bool, len(active))
	for k, v := range active {
		out[k] = v
	}
	return out
}

// unionExitSet merges every selected transition's precomputed exit set
// and re-sorts the union deepest-first, reverse document order.
func (x *Executor) unionExitSet(oracle *hierarchy.Oracle, selected []selector.Selected) ([]document.StateID, error) {
	seen := make(map[document.StateID]bool)
	var all []document.StateID
	for _, sel := range selected {
		for _, s := range sel.ExitSet {
			if seen[s] {
				continue
			}
			seen[s] = true
			all = append(all, s)
		}
	}
	if len(all) == 0 {
		return nil, nil
	}
	depths := make(map[document.StateID]int, len(all))
	orders := make(map[document.StateID]int, len(all))
	for _, s := range all {
		d, err := oracle.Depth(s)
		if err != nil {
			return nil, err
		}
		depths[s] = d
		o, err := oracle.DocOrder(s)
		if err != nil {
			return nil, err
		}
		orders[s] = o
	}
	sort.Slice(all, func(i, j int) bool {
		if depths[all[i]] != depths[all[j]] {
			return depths[all[i]] > depths[all[j]]
		}
		return orders[all[i]] > orders[all[j]]
	})
	return all, nil
}

// entrySet builds the full ordered entry chain across every selected
// transition's targets, ancestors before descendants.
func (x *Executor) entrySet(oracle *hierarchy.Oracle, histResolver hierarchy.HistoryResolver, selected []selector.Selected) ([]document.StateID, error) {
	var out []document.StateID
	for _, sel := range selected {
		t := sel.Transition
		if len(t.Targets) == 0 {
			continue
		}
		lcca, err := oracle.LCCASet(append([]document.StateID{t.Source}, t.Targets...))
		if err != nil {
			return nil, err
		}
		for _, target := range t.Targets {
			chain, err := oracle.EntryChainTo(lcca, target, histResolver)
			if err != nil {
				return nil, err
			}
			out = append(out, chain...)
		}
	}
	return out, nil
}

// doneEvents implements §3.7/§5.7: a <final> child makes its compound
// parent done immediately; a parallel parent is done only once every
// region's active leaf is itself a <final> state, and completion
// cascades upward through further enclosing parallels.
func (x *Executor) doneEvents(ctx context.Context, model document.Model, oracle *hierarchy.Oracle, active map[document.StateID]bool, enteredFinals []document.StateID, ev event.Event) ([]event.Event, error) {
	var out []event.Event
	seen := make(map[document.StateID]bool)
	for _, f := range enteredFinals {
		fnode, ok := model.GetState(f)
		if !ok {
			continue
		}
		cur := f
		var curDone *document.DoneData = fnode.Done
		for {
			parent, hasParent, err := oracle.Parent(cur)
			if err != nil {
				return nil, err
			}
			if !hasParent {
				break
			}
			pnode, ok := model.GetState(parent)
			if !ok {
				break
			}
			switch pnode.Kind {
			case document.Compound:
				if cur != f || seen[parent] {
					break // only the entered <final>'s own parent is made done
				}
				seen[parent] = true
				data, err := x.evaluateDone(ctx, curDone)
				if err != nil {
					out = append(out, errorExecutionEvent(err))
					var structural structuralDoneDataError
					if errors.As(err, &structural) && structural.Structural() {
						// §4.9: a malformed donedata declaration suppresses
						// this done.state event entirely; do not cascade
						// further for this final.
						break
					}
					data = nil // runtime failure: still emit, with nil data
				}
				out = append(out, event.Event{Name: event.DoneStateName(string(parent)), Data: data, Kind: event.Platform})
				cur = parent
				curDone = nil
				continue
			case document.Parallel:
				if seen[parent] {
					break
				}
				if !x.allRegionsDone(model, active, pnode) {
					break
				}
				seen[parent] = true
				out = append(out, event.Event{Name: event.DoneStateName(string(parent)), Kind: event.Platform})
				cur = parent
				curDone = nil
				continue
			}
			break
		}
	}
	return out, nil
}

func (x *Executor) evaluateDone(ctx context.Context, dd *document.DoneData) (any, error) {
	if dd == nil || !dd.HasContent || x.donedata == nil {
		return nil, nil
	}
	return x.donedata.Evaluate(ctx, dd)
}

// errorExecutionEvent wraps a donedata evaluation failure as the
// internal error.execution event §4.9 requires be raised alongside
// whatever happens to the done.state event itself.
func errorExecutionEvent(err error) event.Event {
	return event.Event{Name: event.ErrorExecution, Data: err.Error(), Kind: event.Internal}
}

// allRegionsDone reports whether every direct child (region) of a
// parallel state has, as its deepest active descendant, a <final> state.
func (x *Executor) allRegionsDone(model document.Model, active map[document.StateID]bool, parallel *document.StateNode) bool {
	for _, region := range parallel.Children {
		leaf := leafOf(model, active, region)
		node, ok := model.GetState(leaf)
		if !ok || node.Kind != document.Final {
			return false
		}
	}
	return true
}

// leafOf follows the unique active child at each level below s to find
// the deepest active descendant (valid because at most one child of any
// compound state is active at a time).
func leafOf(model document.Model, active map[document.StateID]bool, s document.StateID) document.StateID {
	cur := s
	for {
		node, ok := model.GetState(cur)
		if !ok {
			return cur
		}
		var next document.StateID
		for _, c := range node.Children {
			if active[c] {
				next = c
				break
			}
		}
		if next == "" {
			return cur
		}
		cur = next
	}
}
