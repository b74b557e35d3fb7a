// Package memdoc is an in-memory, directly-constructed document.Model,
// built with a fluent Builder. SCXML/XML parsing is out of scope (§1);
// this is the reference Model implementation used by tests, the CLI demo,
// and embedded callers that assemble a document programmatically.
//
// Built as a push/pop stack over a fluent builder, flattened and
// validated before use, covering the full SCXML state-kind set
// (compound/parallel/history/final) and transition shape.
package memdoc

import (
	"fmt"

	"github.com/comalice/scxml-core/document"
)

type memModel struct {
	name     string
	location string
	binding  document.BindingMode
	scripts  []string

	root   document.StateID
	states map[document.StateID]*document.StateNode
	order  []document.StateID // pre-order, assigned at Build
}

func (m *memModel) RootState() document.StateID { return m.root }

func (m *memModel) GetState(id document.StateID) (*document.StateNode, bool) {
	n, ok := m.states[id]
	return n, ok
}

func (m *memModel) AllStates() []document.StateID {
	out := make([]document.StateID, len(m.order))
	copy(out, m.order)
	return out
}

func (m *memModel) InitialStates() []document.StateID {
	root, ok := m.states[m.root]
	if !ok {
		return nil
	}
	if root.Kind == document.Parallel {
		out := make([]document.StateID, len(root.Children))
		copy(out, root.Children)
		return out
	}
	return root.Initial
}

func (m *memModel) TopLevelScripts() []string { return m.scripts }
func (m *memModel) BindingMode() document.BindingMode { return m.binding }
func (m *memModel) Name() string     { return m.name }
func (m *memModel) Location() string { return m.location }

// Builder assembles a memModel with a push/pop stack over the currently
// open compound/parallel container.
type Builder struct {
	model             *memModel
	stack             []document.StateID
	current           document.StateID
	transitionCounter int
	err               error
}

func NewBuilder(name, location string, binding document.BindingMode) *Builder {
	return &Builder{
		model: &memModel{
			name:     name,
			location: location,
			binding:  binding,
			states:   make(map[document.StateID]*document.StateNode),
		},
	}
}

// WithTopLevelScript records a <script> child of <scxml>, run once at
// session start before the initial transition (§4.6 bootstrap).
func (b *Builder) WithTopLevelScript(src string) *Builder {
	b.model.scripts = append(b.model.scripts, src)
	return b
}

func (b *Builder) addState(id string, kind document.StateKind) *Builder {
	if b.err != nil {
		return b
	}
	sid := document.StateID(id)
	if _, exists := b.model.states[sid]; exists {
		b.err = fmt.Errorf("memdoc: duplicate state id %q", id)
		return b
	}
	var parent document.StateID
	if len(b.stack) > 0 {
		parent = b.stack[len(b.stack)-1]
	}
	node := &document.StateNode{ID: sid, Kind: kind, Parent: parent}
	b.model.states[sid] = node
	if parent != "" {
		p := b.model.states[parent]
		p.Children = append(p.Children, sid)
	} else if b.model.root == "" {
		b.model.root = sid
	} else {
		b.err = fmt.Errorf("memdoc: state %q has no parent but a root already exists", id)
		return b
	}
	b.current = sid
	return b
}

func (b *Builder) Compound(id string) *Builder {
	b.addState(id, document.Compound)
	b.stack = append(b.stack, document.StateID(id))
	return b
}

func (b *Builder) Parallel(id string) *Builder {
	b.addState(id, document.Parallel)
	b.stack = append(b.stack, document.StateID(id))
	return b
}

func (b *Builder) Atomic(id string) *Builder { return b.addState(id, document.Atomic) }
func (b *Builder) Final(id string) *Builder  { return b.addState(id, document.Final) }

func (b *Builder) ShallowHistory(id string) *Builder {
	return b.addState(id, document.HistoryShallow)
}

func (b *Builder) DeepHistory(id string) *Builder {
	return b.addState(id, document.HistoryDeep)
}

// Up closes the most recently opened Compound/Parallel container,
// returning to its parent so a sibling can be started.
func (b *Builder) Up() *Builder {
	if len(b.stack) > 0 {
		b.stack = b.stack[:len(b.stack)-1]
	}
	return b
}

func (b *Builder) node() *document.StateNode {
	if b.err != nil {
		return nil
	}
	return b.model.states[b.current]
}

// WithInitial sets the initial child (or children, for a parallel root's
// unusual but legal single-compound-region case) of the most recently
// added compound/parallel state.
func (b *Builder) WithInitial(ids ...string) *Builder {
	n := b.node()
	if n == nil {
		return b
	}
	n.Initial = toStateIDs(ids)
	return b
}

// WithHistoryDefault sets the default transition targets used when a
// history pseudostate has no recording yet (W3C 3.10).
func (b *Builder) WithHistoryDefault(ids ...string) *Builder {
	n := b.node()
	if n == nil {
		return b
	}
	n.HistoryDefault = toStateIDs(ids)
	return b
}

func (b *Builder) OnEntry(actions ...document.ActionNode) *Builder {
	n := b.node()
	if n == nil {
		return b
	}
	n.OnEntry = append(n.OnEntry, document.Block{Actions: actions})
	return b
}

func (b *Builder) OnExit(actions ...document.ActionNode) *Builder {
	n := b.node()
	if n == nil {
		return b
	}
	n.OnExit = append(n.OnExit, document.Block{Actions: actions})
	return b
}

func (b *Builder) Data(items ...document.DataItem) *Builder {
	n := b.node()
	if n == nil {
		return b
	}
	n.Data = append(n.Data, items...)
	return b
}

func (b *Builder) Invoke(inv document.Invoke) *Builder {
	n := b.node()
	if n == nil {
		return b
	}
	n.Invokes = append(n.Invokes, inv)
	return b
}

// DoneData attaches donedata to the current <final> state.
func (b *Builder) DoneData(dd document.DoneData) *Builder {
	n := b.node()
	if n == nil {
		return b
	}
	n.Done = &dd
	return b
}

// Transition adds a transition on the most recently added state.
func (b *Builder) Transition(events []string, guard string, targets []string, typ document.TransitionType, actions ...document.ActionNode) *Builder {
	n := b.node()
	if n == nil {
		return b
	}
	descs := make([]document.EventDescriptor, len(events))
	for i, e := range events {
		descs[i] = document.EventDescriptor(e)
	}
	t := &document.Transition{
		Source:   b.current,
		Events:   descs,
		Guard:    guard,
		Targets:  toStateIDs(targets),
		Type:     typ,
		DocOrder: b.transitionCounter,
		Actions:  actions,
	}
	b.transitionCounter++
	n.Transitions = append(n.Transitions, t)
	return b
}

func toStateIDs(ids []string) []document.StateID {
	out := make([]document.StateID, len(ids))
	for i, id := range ids {
		out[i] = document.StateID(id)
	}
	return out
}

// Build validates the tree and assigns pre-order DocOrder indices, then
// returns the finished, read-only Model.
func (b *Builder) Build() (document.Model, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.model.root == "" {
		return nil, fmt.Errorf("memdoc: no root state defined")
	}
	if err := b.validate(b.model.root, make(map[document.StateID]bool)); err != nil {
		return nil, err
	}
	b.model.order = nil
	b.assignDocOrder(b.model.root, 0)
	return b.model, nil
}

func (b *Builder) validate(id document.StateID, seen map[document.StateID]bool) error {
	if seen[id] {
		return fmt.Errorf("memdoc: cycle detected at state %q", id)
	}
	seen[id] = true
	n := b.model.states[id]
	switch n.Kind {
	case document.Compound:
		if len(n.Children) == 0 {
			return fmt.Errorf("memdoc: compound state %q has no children", id)
		}
		if len(n.Initial) == 0 {
			return fmt.Errorf("memdoc: compound state %q has no initial child", id)
		}
		if _, ok := b.model.states[n.Initial[0]]; !ok {
			return fmt.Errorf("memdoc: compound state %q initial %q does not exist", id, n.Initial[0])
		}
	case document.Parallel:
		if len(n.Children) == 0 {
			return fmt.Errorf("memdoc: parallel state %q has no regions", id)
		}
	case document.Atomic, document.Final:
		if len(n.Children) > 0 {
			return fmt.Errorf("memdoc: atomic/final state %q cannot have children", id)
		}
	case document.HistoryShallow, document.HistoryDeep:
		if len(n.Children) > 0 {
			return fmt.Errorf("memdoc: history state %q cannot have children", id)
		}
	}
	for _, t := range n.Transitions {
		for _, target := range t.Targets {
			if _, ok := b.model.states[target]; !ok {
				return fmt.Errorf("memdoc: transition from %q targets unknown state %q", id, target)
			}
		}
	}
	for _, c := range n.Children {
		if err := b.validate(c, seen); err != nil {
			return err
		}
	}
	delete(seen, id)
	return nil
}

func (b *Builder) assignDocOrder(id document.StateID, next int) int {
	n := b.model.states[id]
	n.DocOrder = next
	next++
	b.model.order = append(b.model.order, id)
	for _, c := range n.Children {
		next = b.assignDocOrder(c, next)
	}
	return next
}
