// Package selector implements candidate gathering, guard evaluation, and
// Appendix D.2 conflict resolution (computeExitSet / hasIntersection /
// removeConflictingTransitions) as functions over document.Model plus a
// small GuardEvaluator seam.
package selector

import (
	"sort"

	"github.com/comalice/scxml-core/document"
	"github.com/comalice/scxml-core/event"
	"github.com/comalice/scxml-core/interpreter/hierarchy"
)

// GuardEvaluator evaluates a transition's guard expression against the
// current event. Empty guards are treated as true by the caller before
// GuardEvaluator is even consulted (§4.4 step 2).
type GuardEvaluator interface {
	// Eval returns the guard's truth value. If evaluation fails, ok is
	// false; the implementation raises error.execution itself, and the
	// selector treats the guard as false, without invoking Eval again for
	// the same transition in this selection pass (§4.4: "must not re-evaluate an expression that
	// has already been evaluated").
	Eval(guardExpr string) (result bool, ok bool)
}

// Selected is one transition chosen for this microstep, paired with its
// precomputed exit set.
type Selected struct {
	Transition *document.Transition
	ExitSet    []document.StateID
}

// Select runs candidate gathering, guard evaluation, and conflict
// resolution for one event (or eventless selection when ev is nil),
// returning the filtered, document-order transition set for one
// microstep (§4.4).
func Select(model document.Model, oracle *hierarchy.Oracle, active map[document.StateID]bool, ev *event.Event, guards GuardEvaluator) ([]Selected, error) {
	candidates, err := gatherCandidates(model, oracle, active, ev, guards)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	return resolveConflicts(oracle, active, candidates)
}

// gatherCandidates walks each active atomic state up to the root,
// collecting the first matching+enabled transition per active state, in
// document order of the active states' paths (§4.4 step 1).
func gatherCandidates(model document.Model, oracle *hierarchy.Oracle, active map[document.StateID]bool, ev *event.Event, guards GuardEvaluator) ([]*document.Transition, error) {
	atomics, err := activeAtomics(model, active)
	if err != nil {
		return nil, err
	}
	var candidates []*document.Transition
	seenSource := make(map[document.StateID]bool)
	evaluated := make(map[*document.Transition]bool)
	for _, leaf := range atomics {
		anc, err := oracle.Ancestors(leaf)
		if err != nil {
			return nil, err
		}
		chain := append([]document.StateID{leaf}, anc...)
		for _, s := range chain {
			if seenSource[s] {
				continue // already found an enabled transition on this source from another leaf path
			}
			node, ok := model.GetState(s)
			if !ok {
				continue
			}
			for _, t := range node.Transitions {
				if !matches(t, ev) {
					continue
				}
				if evaluated[t] {
					continue // guard already false or failed from another leaf path
				}
				evaluated[t] = true
				enabled, ok := evalGuard(t.Guard, guards)
				if !ok {
					continue
				}
				if enabled {
					candidates = append(candidates, t)
					seenSource[s] = true
					break
				}
			}
			if seenSource[s] {
				break
			}
		}
	}
	return candidates, nil
}

func matches(t *document.Transition, ev *event.Event) bool {
	if ev == nil {
		return t.IsEventless()
	}
	if t.IsEventless() {
		return false
	}
	for _, d := range t.Events {
		if event.MatchesDescriptor(string(d), ev.Name) {
			return true
		}
	}
	return false
}

// evalGuard returns (result, ok). ok is false only when the guard is
// non-empty and evaluation failed; in that case the caller must raise
// error.execution (done by the interpreter package, which owns the
// scripting host) and treat the transition as not enabled.
func evalGuard(guard string, guards GuardEvaluator) (bool, bool) {
	if guard == "" {
		return true, true
	}
	if guards == nil {
		return false, true
	}
	return guards.Eval(guard)
}

func activeAtomics(model document.Model, active map[document.StateID]bool) ([]document.StateID, error) {
	var out []document.StateID
	orders := make(map[document.StateID]int)
	for id := range active {
		node, ok := model.GetState(id)
		if !ok {
			continue
		}
		if node.Kind == document.Atomic || node.Kind == document.Final {
			out = append(out, id)
			orders[id] = node.DocOrder
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if orders[out[i]] != orders[out[j]] {
			return orders[out[i]] < orders[out[j]]
		}
		return out[i] < out[j]
	})
	return out, nil
}

// resolveConflicts implements Appendix D.2: two transitions conflict when
// their exit sets intersect, one's target equals the other's source, or
// one exits a parallel ancestor of the other's source. A transition whose
// source is a proper descendant of the other's source preempts it;
// otherwise earlier document order wins. Applied in document order,
// maintaining a filtered set; preempted transitions are removed as
// discovered (§4.4 step 3).
func resolveConflicts(oracle *hierarchy.Oracle, active map[document.StateID]bool, candidates []*document.Transition) ([]Selected, error) {
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].DocOrder < candidates[j].DocOrder })

	exitSets := make(map[*document.Transition][]document.StateID, len(candidates))
	for _, t := range candidates {
		es, err := computeExitSet(oracle, active, t)
		if err != nil {
			return nil, err
		}
		exitSets[t] = es
	}

	var filtered []*document.Transition
	for _, t := range candidates {
		conflict := false
		var preempted []*document.Transition
		for _, kept := range filtered {
			c, err := conflicts(oracle, t, kept, exitSets[t], exitSets[kept])
			if err != nil {
				return nil, err
			}
			if !c {
				continue
			}
			desc, err := oracle.IsDescendant(t.Source, kept.Source)
			if err != nil {
				return nil, err
			}
			if desc {
				// t's source is a proper descendant of kept's source: t
				// preempts kept.
				preempted = append(preempted, kept)
				continue
			}
			// Otherwise the earlier-in-document-order transition wins;
			// candidates are processed in document order so kept (already
			// filtered) wins and t is dropped.
			conflict = true
		}
		if conflict {
			continue
		}
		if len(preempted) > 0 {
			filtered = removeAll(filtered, preempted)
		}
		filtered = append(filtered, t)
	}

	out := make([]Selected, 0, len(filtered))
	for _, t := range filtered {
		out = append(out, Selected{Transition: t, ExitSet: exitSets[t]})
	}
	return out, nil
}

func removeAll(set []*document.Transition, remove []*document.Transition) []*document.Transition {
	if len(remove) == 0 {
		return set
	}
	dead := make(map[*document.Transition]bool, len(remove))
	for _, r := range remove {
		dead[r] = true
	}
	out := set[:0:0]
	for _, s := range set {
		if !dead[s] {
			out = append(out, s)
		}
	}
	return out
}

// conflicts reports whether a and b conflict per Appendix D.2(a-c).
func conflicts(oracle *hierarchy.Oracle, a, b *document.Transition, exitA, exitB []document.StateID) (bool, error) {
	if hasIntersection(exitA, exitB) {
		return true, nil
	}
	for _, target := range a.Targets {
		if target == b.Source {
			return true, nil
		}
	}
	for _, target := range b.Targets {
		if target == a.Source {
			return true, nil
		}
	}
	// (c) one exits a parallel ancestor of the other's source: true when
	// a parallel state in a's exit set is an ancestor of b's source, or
	// vice versa.
	for _, s := range exitA {
		isParallel, err := oracle.IsParallel(s)
		if err != nil {
			return false, err
		}
		if !isParallel {
			continue
		}
		desc, err := oracle.IsDescendant(b.Source, s)
		if err != nil {
			return false, err
		}
		if desc {
			return true, nil
		}
	}
	for _, s := range exitB {
		isParallel, err := oracle.IsParallel(s)
		if err != nil {
			return false, err
		}
		if !isParallel {
			continue
		}
		desc, err := oracle.IsDescendant(a.Source, s)
		if err != nil {
			return false, err
		}
		if desc {
			return true, nil
		}
	}
	return false, nil
}

func hasIntersection(a, b []document.StateID) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[document.StateID]bool, len(a))
	for _, x := range a {
		set[x] = true
	}
	for _, x := range b {
		if set[x] {
			return true
		}
	}
	return false
}

// computeExitSet computes the exit set for one (source, target) pair
// (§4.4 Exit set computation, §4.1 exit_chain contract).
func computeExitSet(oracle *hierarchy.Oracle, active map[document.StateID]bool, t *document.Transition) ([]document.StateID, error) {
	if len(t.Targets) == 0 {
		return nil, nil // targetless: actions only, no state change
	}
	if t.Type == document.Internal {
		strict, err := isStrictInternal(oracle, t)
		if err != nil {
			return nil, err
		}
		if strict {
			return strictInternalExitSet(oracle, active, t)
		}
	}
	lcca, err := oracle.LCCASet(append([]document.StateID{t.Source}, t.Targets...))
	if err != nil {
		return nil, err
	}
	exitSet, err := oracle.ExitChain(active, t.Source, lcca)
	if err != nil {
		return nil, err
	}
	reenterLCCA := false
	for _, target := range t.Targets {
		if target == lcca {
			// Ancestor/self-retargeting transition: lcca is itself a
			// target, so it must be re-entered and therefore exited too.
			reenterLCCA = true
			break
		}
	}
	if reenterLCCA && active[lcca] {
		already := false
		for _, s := range exitSet {
			if s == lcca {
				already = true
				break
			}
		}
		if !already {
			exitSet = append(exitSet, lcca)
		}
	}
	return exitSet, nil
}

// isStrictInternal reports whether t qualifies for strict-internal
// semantics: source is compound (not parallel, not atomic) and every
// target is a proper descendant of source (§4.4 Internal vs external
// semantics).
func isStrictInternal(oracle *hierarchy.Oracle, t *document.Transition) (bool, error) {
	compound, err := oracle.IsCompound(t.Source)
	if err != nil || !compound {
		return false, err
	}
	for _, target := range t.Targets {
		desc, err := oracle.IsDescendant(target, t.Source)
		if err != nil {
			return false, err
		}
		if !desc {
			return false, nil
		}
	}
	return true, nil
}

func strictInternalExitSet(oracle *hierarchy.Oracle, active map[document.StateID]bool, t *document.Transition) ([]document.StateID, error) {
	onPath := make(map[document.StateID]bool)
	for _, target := range t.Targets {
		anc, err := oracle.Ancestors(target)
		if err != nil {
			return nil, err
		}
		onPath[target] = true
		for _, a := range anc {
			onPath[a] = true
			if a == t.Source {
				break
			}
		}
	}
	var out []document.StateID
	for id := range active {
		desc, err := oracle.IsDescendant(id, t.Source)
		if err != nil {
			return nil, err
		}
		if desc && !onPath[id] {
			out = append(out, id)
		}
	}
	return out, nil
}
