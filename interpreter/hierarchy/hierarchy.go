// Package hierarchy provides the pure, document-order-aware relations over
// a document.Model that the rest of the interpreter core is built on:
// parent/ancestor queries, least common compound ancestor, entry/exit
// chains, and document order. Every function here is a pure read over the
// model; none mutate interpreter state.
package hierarchy

import (
	"fmt"

	"github.com/comalice/scxml-core/document"
)

// MalformedDocument is returned when the document graph violates the
// invariants this package depends on (cyclic parent chain, dangling
// reference). It is fatal at the point it is discovered (§4.1 contract).
type MalformedDocument struct {
	Reason string
}

func (e *MalformedDocument) Error() string {
	return fmt.Sprintf("malformed document: %s", e.Reason)
}

// HistoryResolver lets EntryChainTo resolve a history pseudo-state's
// recorded (or default) children without this package depending on the
// history package, avoiding an import cycle and keeping the oracle pure
// with respect to mutable runtime state.
type HistoryResolver interface {
	// InitialOrHistoryChild returns the child to descend into for a
	// compound/parallel state: a history recording's target if the state
	// has a history child with a recording, otherwise the static initial
	// child. ok is false if neither is available.
	InitialOrHistoryChild(compound document.StateID) (document.StateID, bool)
}

// Oracle wraps a document.Model with the hierarchy relations. It holds no
// mutable state of its own.
type Oracle struct {
	model document.Model
}

func New(model document.Model) *Oracle {
	return &Oracle{model: model}
}

func (o *Oracle) state(id document.StateID) (*document.StateNode, error) {
	n, ok := o.model.GetState(id)
	if !ok {
		return nil, &MalformedDocument{Reason: fmt.Sprintf("unknown state %q", id)}
	}
	return n, nil
}

// Parent returns the parent of s, or "" with ok=false if s is the root.
func (o *Oracle) Parent(s document.StateID) (document.StateID, bool, error) {
	n, err := o.state(s)
	if err != nil {
		return "", false, err
	}
	if n.Parent == "" {
		return "", false, nil
	}
	return n.Parent, true, nil
}

// Ancestors returns s's ancestor chain, closest first, not including s
// itself, ending at (and including) the root.
func (o *Oracle) Ancestors(s document.StateID) ([]document.StateID, error) {
	var chain []document.StateID
	cur := s
	seen := map[document.StateID]bool{cur: true}
	for {
		n, err := o.state(cur)
		if err != nil {
			return nil, err
		}
		if n.Parent == "" {
			return chain, nil
		}
		if seen[n.Parent] {
			return nil, &MalformedDocument{Reason: fmt.Sprintf("cyclic parent chain at %q", n.Parent)}
		}
		seen[n.Parent] = true
		chain = append(chain, n.Parent)
		cur = n.Parent
	}
}

// IsDescendant reports whether b appears in a's strict ancestor chain.
func (o *Oracle) IsDescendant(a, b document.StateID) (bool, error) {
	chain, err := o.Ancestors(a)
	if err != nil {
		return false, err
	}
	for _, anc := range chain {
		if anc == b {
			return true, nil
		}
	}
	return false, nil
}

// IsCompound reports whether s is a compound (non-parallel, non-atomic)
// state.
func (o *Oracle) IsCompound(s document.StateID) (bool, error) {
	n, err := o.state(s)
	if err != nil {
		return false, err
	}
	return n.Kind == document.Compound, nil
}

// IsParallel reports whether s is a parallel state.
func (o *Oracle) IsParallel(s document.StateID) (bool, error) {
	n, err := o.state(s)
	if err != nil {
		return false, err
	}
	return n.Kind == document.Parallel, nil
}

// LCCA returns the least common *compound* ancestor of a and b: the
// deepest state that is a common ancestor-or-self of both and is either
// compound or the document root (parallel ancestors are skipped). If
// a == b, LCCA returns a itself per §4.1 contract.
func (o *Oracle) LCCA(a, b document.StateID) (document.StateID, error) {
	if a == b {
		return a, nil
	}
	ancA, err := o.selfAndAncestors(a)
	if err != nil {
		return "", err
	}
	ancB, err := o.selfAndAncestors(b)
	if err != nil {
		return "", err
	}
	setB := make(map[document.StateID]bool, len(ancB))
	for _, x := range ancB {
		setB[x] = true
	}
	for _, x := range ancA {
		if !setB[x] {
			continue
		}
		n, err := o.state(x)
		if err != nil {
			return "", err
		}
		if n.Kind == document.Compound || n.Parent == "" {
			return x, nil
		}
		// Parallel ancestors are not compound; keep walking up ancA for a
		// shallower common ancestor that is compound or the root.
	}
	return "", &MalformedDocument{Reason: fmt.Sprintf("no common compound ancestor for %q, %q", a, b)}
}

// LCCASet folds LCCA pairwise across a non-empty set of states.
func (o *Oracle) LCCASet(states []document.StateID) (document.StateID, error) {
	if len(states) == 0 {
		return "", &MalformedDocument{Reason: "LCCASet called with empty set"}
	}
	acc := states[0]
	for _, s := range states[1:] {
		next, err := o.LCCA(acc, s)
		if err != nil {
			return "", err
		}
		acc = next
	}
	return acc, nil
}

func (o *Oracle) selfAndAncestors(s document.StateID) ([]document.StateID, error) {
	anc, err := o.Ancestors(s)
	if err != nil {
		return nil, err
	}
	return append([]document.StateID{s}, anc...), nil
}

// DocOrder returns the pre-order index assigned at load time.
func (o *Oracle) DocOrder(s document.StateID) (int, error) {
	n, err := o.state(s)
	if err != nil {
		return 0, err
	}
	return n.DocOrder, nil
}

// Depth returns the distance of s from the root (root has depth 0).
func (o *Oracle) Depth(s document.StateID) (int, error) {
	anc, err := o.Ancestors(s)
	if err != nil {
		return 0, err
	}
	return len(anc), nil
}

// EntryChainTo builds the sequence of states to enter in order to reach
// leaf, starting below stopBefore (leaf itself is always included, even
// when it equals stopBefore), descending into
// initial/history children and, for parallel states, into every region
// (§4.1 entry_chain_to / §4.5 step 5).
func (o *Oracle) EntryChainTo(stopBefore, leaf document.StateID, hist HistoryResolver) ([]document.StateID, error) {
	anc, err := o.Ancestors(leaf)
	if err != nil {
		return nil, err
	}
	var path []document.StateID
	stopFound := stopBefore == ""
	for i := len(anc) - 1; i >= 0; i-- {
		if anc[i] == stopBefore {
			stopFound = true
			continue
		}
		if stopFound {
			path = append(path, anc[i])
		}
	}
	path = append(path, leaf)
	tail, err := o.descendInto(leaf, hist)
	if err != nil {
		return nil, err
	}
	path = append(path, tail...)
	return path, nil
}

// descendInto returns the states entered below s when s is itself entered:
// nothing for atomic/final/history states, the resolved child (recursively)
// for compound states, and every region's deepest-initial chain for
// parallel states.
func (o *Oracle) descendInto(s document.StateID, hist HistoryResolver) ([]document.StateID, error) {
	n, err := o.state(s)
	if err != nil {
		return nil, err
	}
	return o.descendIntoImpl(n, hist)
}

func (o *Oracle) descendIntoImpl(n *document.StateNode, hist HistoryResolver) ([]document.StateID, error) {
	switch n.Kind {
	case document.Atomic, document.Final, document.HistoryShallow, document.HistoryDeep:
		return nil, nil
	case document.Compound:
		var child document.StateID
		if hist != nil {
			if c, ok := hist.InitialOrHistoryChild(n.ID); ok {
				child = c
			}
		}
		if child == "" {
			if len(n.Initial) == 0 {
				return nil, &MalformedDocument{Reason: fmt.Sprintf("compound state %q has no initial child", n.ID)}
			}
			child = n.Initial[0]
		}
		rest, err := o.EntryChainTo(n.ID, child, hist)
		if err != nil {
			return nil, err
		}
		return rest, nil
	case document.Parallel:
		var out []document.StateID
		for _, regionID := range n.Children {
			region, err := o.state(regionID)
			if err != nil {
				return nil, err
			}
			out = append(out, regionID)
			tail, err := o.descendIntoImpl(region, hist)
			if err != nil {
				return nil, err
			}
			out = append(out, tail...)
		}
		return out, nil
	default:
		return nil, &MalformedDocument{Reason: fmt.Sprintf("unknown state kind for %q", n.ID)}
	}
}

// ExitChain returns the active descendants of from (from itself included),
// plus the active ancestors of from strictly between from and stopBefore,
// ordered deepest-first with reverse document-order tie-break (§4.1). The
// ancestor walk is bounded at stopBefore rather than excluding stopBefore's
// own descendants, since stopBefore is always an ancestor-or-self of from
// (it is the transition's LCCA) and excluding its descendants would
// otherwise exclude from itself.
func (o *Oracle) ExitChain(active map[document.StateID]bool, from, stopBefore document.StateID) ([]document.StateID, error) {
	var candidates []document.StateID
	for s := range active {
		if s == from {
			candidates = append(candidates, s)
			continue
		}
		desc, err := o.IsDescendant(s, from)
		if err != nil {
			return nil, err
		}
		if desc {
			candidates = append(candidates, s)
		}
	}
	if from != stopBefore {
		anc, err := o.Ancestors(from)
		if err != nil {
			return nil, err
		}
		for _, a := range anc {
			if a == stopBefore {
				break
			}
			if active[a] {
				candidates = append(candidates, a)
			}
		}
	}
	depths := make(map[document.StateID]int, len(candidates))
	orders := make(map[document.StateID]int, len(candidates))
	for _, s := range candidates {
		d, err := o.Depth(s)
		if err != nil {
			return nil, err
		}
		depths[s] = d
		ord, err := o.DocOrder(s)
		if err != nil {
			return nil, err
		}
		orders[s] = ord
	}
	sortExitOrder(candidates, depths, orders)
	return candidates, nil
}

func sortExitOrder(states []document.StateID, depths, orders map[document.StateID]int) {
	// Insertion sort: deepest first, ties broken by reverse document order.
	// The set sizes here are small (state-tree fan-out), so O(n^2) is fine
	// and keeps this dependency-free.
	for i := 1; i < len(states); i++ {
		j := i
		for j > 0 && less(states[j], states[j-1], depths, orders) {
			states[j], states[j-1] = states[j-1], states[j]
			j--
		}
	}
}

func less(a, b document.StateID, depths, orders map[document.StateID]int) bool {
	if depths[a] != depths[b] {
		return depths[a] > depths[b]
	}
	return orders[a] > orders[b]
}
