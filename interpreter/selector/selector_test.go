package selector

import (
	"testing"

	"github.com/comalice/scxml-core/document"
	"github.com/comalice/scxml-core/event"
	"github.com/comalice/scxml-core/interpreter/hierarchy"
)

type fakeModel struct {
	states map[document.StateID]*document.StateNode
	root   document.StateID
}

func (m *fakeModel) RootState() document.StateID { return m.root }
func (m *fakeModel) GetState(id document.StateID) (*document.StateNode, bool) {
	n, ok := m.states[id]
	return n, ok
}
func (m *fakeModel) AllStates() []document.StateID     { return nil }
func (m *fakeModel) InitialStates() []document.StateID { return nil }
func (m *fakeModel) TopLevelScripts() []string         { return nil }
func (m *fakeModel) BindingMode() document.BindingMode { return document.EarlyBinding }
func (m *fakeModel) Name() string                      { return "test" }
func (m *fakeModel) Location() string                  { return "" }

type allowGuards struct{}

func (allowGuards) Eval(string) (bool, bool) { return true, true }

type denyGuards struct{}

func (denyGuards) Eval(string) (bool, bool) { return false, true }

// root(compound: a, b) where a has a transition on "go" to b.
func buildLinearModel() *fakeModel {
	root := &document.StateNode{ID: "root", Kind: document.Compound, Initial: []document.StateID{"a"}, Children: []document.StateID{"a", "b"}}
	a := &document.StateNode{ID: "a", Parent: "root", Kind: document.Atomic}
	a.Transitions = []*document.Transition{{
		Source: "a", Events: []document.EventDescriptor{"go"}, Targets: []document.StateID{"b"}, Type: document.External, DocOrder: 0,
	}}
	b := &document.StateNode{ID: "b", Parent: "root", Kind: document.Atomic}
	return &fakeModel{root: "root", states: map[document.StateID]*document.StateNode{"root": root, "a": a, "b": b}}
}

func TestSelectMatchesEventDescriptor(t *testing.T) {
	m := buildLinearModel()
	oracle := hierarchy.New(m)
	active := map[document.StateID]bool{"root": true, "a": true}

	ev := event.New("go", nil)
	selected, err := Select(m, oracle, active, &ev, allowGuards{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(selected) != 1 || selected[0].Transition.Source != "a" {
		t.Fatalf("want transition from a selected, got %v", selected)
	}
}

func TestSelectSkipsNonMatchingEvent(t *testing.T) {
	m := buildLinearModel()
	oracle := hierarchy.New(m)
	active := map[document.StateID]bool{"root": true, "a": true}

	ev := event.New("other", nil)
	selected, err := Select(m, oracle, active, &ev, allowGuards{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(selected) != 0 {
		t.Fatalf("want no transition selected for a non-matching event, got %v", selected)
	}
}

func TestSelectDropsTransitionOnFailedGuard(t *testing.T) {
	m := buildLinearModel()
	m.states["a"].Transitions[0].Guard = "cond"
	oracle := hierarchy.New(m)
	active := map[document.StateID]bool{"root": true, "a": true}

	ev := event.New("go", nil)
	selected, err := Select(m, oracle, active, &ev, denyGuards{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(selected) != 0 {
		t.Fatalf("want guard=false to drop the transition, got %v", selected)
	}
}

func TestSelectEventlessIgnoresEventedTransitions(t *testing.T) {
	m := buildLinearModel() // a's only transition requires "go"
	oracle := hierarchy.New(m)
	active := map[document.StateID]bool{"root": true, "a": true}

	selected, err := Select(m, oracle, active, nil, allowGuards{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(selected) != 0 {
		t.Fatalf("want no eventless transition on a document with only evented transitions, got %v", selected)
	}
}

func TestSelectExitSetForSiblingTransition(t *testing.T) {
	m := buildLinearModel()
	oracle := hierarchy.New(m)
	active := map[document.StateID]bool{"root": true, "a": true}

	ev := event.New("go", nil)
	selected, err := Select(m, oracle, active, &ev, allowGuards{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(selected) != 1 {
		t.Fatalf("want one transition selected, got %v", selected)
	}
	want := []document.StateID{"a"}
	if !equalIDs(selected[0].ExitSet, want) {
		t.Fatalf("ExitSet for sibling transition a->b = %v, want %v (not the whole chain up to root)", selected[0].ExitSet, want)
	}
}

// c (compound, initial=x) contains atomic x, y. x has a transition
// targeting c itself: an ancestor/self-retargeting transition, whose
// target equals its own lcca(x,c)==c.
func buildAncestorRetargetModel() *fakeModel {
	c := &document.StateNode{ID: "c", Kind: document.Compound, Initial: []document.StateID{"x"}, Children: []document.StateID{"x", "y"}}
	x := &document.StateNode{ID: "x", Parent: "c", Kind: document.Atomic}
	x.Transitions = []*document.Transition{{
		Source: "x", Events: []document.EventDescriptor{"go"}, Targets: []document.StateID{"c"}, Type: document.External, DocOrder: 0,
	}}
	y := &document.StateNode{ID: "y", Parent: "c", Kind: document.Atomic}
	return &fakeModel{root: "c", states: map[document.StateID]*document.StateNode{"c": c, "x": x, "y": y}}
}

func TestSelectExitSetForAncestorRetargetingTransition(t *testing.T) {
	m := buildAncestorRetargetModel()
	oracle := hierarchy.New(m)
	active := map[document.StateID]bool{"c": true, "x": true}

	ev := event.New("go", nil)
	selected, err := Select(m, oracle, active, &ev, allowGuards{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(selected) != 1 {
		t.Fatalf("want one transition selected, got %v", selected)
	}
	want := map[document.StateID]bool{"x": true, "c": true}
	got := selected[0].ExitSet
	if len(got) != len(want) {
		t.Fatalf("ExitSet = %v, want exactly %v (the retargeted ancestor c must be re-entered, hence exited)", got, want)
	}
	for _, s := range got {
		if !want[s] {
			t.Fatalf("ExitSet = %v, want exactly %v", got, want)
		}
	}
}

func equalIDs(a, b []document.StateID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestMatchesDescriptorWildcard(t *testing.T) {
	t1 := &document.Transition{Events: []document.EventDescriptor{"error.*"}}
	if !matches(t1, &event.Event{Name: "error.execution"}) {
		t.Fatal("want error.* to match error.execution")
	}
	if matches(t1, &event.Event{Name: "errorish"}) {
		t.Fatal("want error.* to not match errorish")
	}
}
