package memdoc

import (
	"testing"

	"github.com/comalice/scxml-core/document"
)

func buildTrafficLight(t *testing.T) document.Model {
	t.Helper()
	m, err := NewBuilder("traffic-light", "", document.EarlyBinding).
		Compound("traffic").WithInitial("red").
		Atomic("red").Transition([]string{"timer"}, "", []string{"green"}, document.External).
		Atomic("green").Transition([]string{"timer"}, "", []string{"yellow"}, document.External).
		Atomic("yellow").Transition([]string{"timer"}, "", []string{"red"}, document.External).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return m
}

func TestBuildAssignsDocOrder(t *testing.T) {
	m := buildTrafficLight(t)
	all := m.AllStates()
	if len(all) != 4 {
		t.Fatalf("want 4 states, got %d: %v", len(all), all)
	}
	if all[0] != "traffic" {
		t.Fatalf("want root first in doc order, got %v", all[0])
	}
}

func TestInitialStates(t *testing.T) {
	m := buildTrafficLight(t)
	init := m.InitialStates()
	if len(init) != 1 || init[0] != "red" {
		t.Fatalf("want [red], got %v", init)
	}
	root, ok := m.GetState(m.RootState())
	if !ok {
		t.Fatal("root missing")
	}
	if len(root.Initial) != 1 || root.Initial[0] != "red" {
		t.Fatalf("want traffic.Initial = [red], got %v", root.Initial)
	}
}

func TestBuildRejectsMissingInitial(t *testing.T) {
	_, err := NewBuilder("bad", "", document.EarlyBinding).
		Compound("root").
		Atomic("a").
		Build()
	if err == nil {
		t.Fatal("want error for compound with no Initial set")
	}
}

func TestBuildRejectsUnknownTransitionTarget(t *testing.T) {
	_, err := NewBuilder("bad", "", document.EarlyBinding).
		Compound("root").WithInitial("a").
		Atomic("a").Transition([]string{"go"}, "", []string{"nonexistent"}, document.External).
		Build()
	if err == nil {
		t.Fatal("want error for transition to unknown state")
	}
}
