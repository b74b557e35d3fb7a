package history

import (
	"testing"

	"github.com/comalice/scxml-core/document"
)

type fakeModel struct {
	states map[document.StateID]*document.StateNode
}

func (m *fakeModel) RootState() document.StateID                 { return "root" }
func (m *fakeModel) GetState(id document.StateID) (*document.StateNode, bool) {
	n, ok := m.states[id]
	return n, ok
}
func (m *fakeModel) AllStates() []document.StateID       { return nil }
func (m *fakeModel) InitialStates() []document.StateID   { return nil }
func (m *fakeModel) TopLevelScripts() []string           { return nil }
func (m *fakeModel) BindingMode() document.BindingMode   { return document.EarlyBinding }
func (m *fakeModel) Name() string                        { return "test" }
func (m *fakeModel) Location() string                    { return "" }

// c (compound, children: h(shallow, default x), x, y)
func buildModel() *fakeModel {
	return &fakeModel{states: map[document.StateID]*document.StateNode{
		"c": {ID: "c", Kind: document.Compound, Children: []document.StateID{"h", "x", "y"}, Initial: []document.StateID{"x"}},
		"h": {ID: "h", Parent: "c", Kind: document.HistoryShallow, HistoryDefault: []document.StateID{"x"}},
		"x": {ID: "x", Parent: "c", Kind: document.Atomic},
		"y": {ID: "y", Parent: "c", Kind: document.Atomic},
	}}
}

func TestShallowHistoryRoundTrip(t *testing.T) {
	store := New(buildModel())
	active := map[document.StateID]bool{"c": true, "y": true}
	store.Record("c", active)

	targets, restored := store.Restore("h")
	if !restored {
		t.Fatal("expected a recorded history")
	}
	if len(targets) != 1 || targets[0] != "y" {
		t.Fatalf("Restore(h) = %v, want [y]", targets)
	}
}

func TestHistoryDefaultWhenUnrecorded(t *testing.T) {
	store := New(buildModel())
	targets, restored := store.Restore("h")
	if restored {
		t.Fatal("expected no recording yet")
	}
	if len(targets) != 1 || targets[0] != "x" {
		t.Fatalf("Restore(h) = %v, want default [x]", targets)
	}
}
