package interpreter

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/comalice/scxml-core/document"
	"github.com/comalice/scxml-core/document/memdoc"
	"github.com/comalice/scxml-core/event"
	"github.com/comalice/scxml-core/interpreter/invoke"
	"github.com/comalice/scxml-core/scripting/gojahost"
)

type fakeChildSession struct{}

func (fakeChildSession) Start(context.Context) error             { return nil }
func (fakeChildSession) Stop(context.Context) error              { return nil }
func (fakeChildSession) Send(context.Context, event.Event) error { return nil }

type fakeInvokeStarter struct{}

func (fakeInvokeStarter) Start(context.Context, string, document.Invoke, string) (invoke.ChildSession, error) {
	return fakeChildSession{}, nil
}

func buildTrafficLight(t *testing.T) document.Model {
	t.Helper()
	m, err := memdoc.NewBuilder("traffic-light", "", document.EarlyBinding).
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

func activeSet(ids []document.StateID) map[document.StateID]bool {
	out := make(map[document.StateID]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

func TestSessionStartEntersInitialConfiguration(t *testing.T) {
	sess := New(buildTrafficLight(t), gojahost.New())
	ctx := context.Background()
	if err := sess.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sess.Stop(ctx)

	active := activeSet(sess.ActiveStates())
	if !active["traffic"] || !active["red"] {
		t.Fatalf("expected traffic/red active, got %v", active)
	}
}

func TestSessionSendAdvancesCycle(t *testing.T) {
	sess := New(buildTrafficLight(t), gojahost.New())
	ctx := context.Background()
	if err := sess.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sess.Stop(ctx)

	if err := sess.Send(ctx, event.Event{Name: "timer"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if activeSet(sess.ActiveStates())["green"] {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	active := activeSet(sess.ActiveStates())
	if !active["green"] || active["red"] {
		t.Fatalf("expected green active and red exited after one timer event, got %v", active)
	}
}

func TestSessionStopSavesSnapshot(t *testing.T) {
	var saved []string
	sess := New(buildTrafficLight(t), gojahost.New(), WithPersister(fakePersister{onSave: func(a []string) { saved = a }}))
	ctx := context.Background()
	if err := sess.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sess.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	found := false
	for _, id := range saved {
		if id == "red" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected snapshot to include active state red, got %v", saved)
	}
}

func TestSessionStartRejectsDocumentOnTopLevelScriptFailure(t *testing.T) {
	m, err := memdoc.NewBuilder("bad-script", "", document.EarlyBinding).
		WithTopLevelScript("this is not valid javascript (((").
		Compound("root").WithInitial("a").
		Atomic("a").
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	sess := New(m, gojahost.New())
	ctx := context.Background()
	if err := sess.Start(ctx); err == nil {
		t.Fatal("expected Start to reject the document on a failing top-level script, got nil error")
	}
	if sess.IsRunning() {
		t.Fatal("expected session not to be running after a rejected top-level script")
	}
}

func TestSessionStartHaltsOnEventlessCycleIterationOverflow(t *testing.T) {
	m, err := memdoc.NewBuilder("cyclic", "", document.EarlyBinding).
		Compound("root").WithInitial("a").
		Atomic("a").Transition(nil, "", []string{"b"}, document.External).
		Atomic("b").Transition(nil, "", []string{"a"}, document.External).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	sess := New(m, gojahost.New())
	ctx := context.Background()
	err = sess.Start(ctx)
	if err == nil {
		t.Fatal("expected Start to fail with an iteration overflow on a cyclic eventless transition")
	}
	if !errors.Is(err, ErrIterationOverflow) {
		t.Fatalf("expected ErrIterationOverflow, got %v", err)
	}
}

func TestProcessExternalEventRunsFinalizeAndDropsCancelledInvokeEvents(t *testing.T) {
	m := buildTrafficLight(t)
	host := gojahost.New()
	sess := New(m, host)
	ctx := context.Background()
	if err := sess.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sess.Stop(ctx)

	// Register an active invoke whose finalize assigns a variable, bypassing
	// the full <invoke> entry path since no ChildFactory is configured here.
	sess.invokes.Defer("red", document.Invoke{
		ID:       "inv1",
		Finalize: []document.ActionNode{{Kind: document.ActionAssign, AssignLocation: "finalized", AssignExpr: "true"}},
	}, "inv1")
	if err := sess.invokes.ExecutePending(ctx, sess.id, sess.snapshotActive(), fakeInvokeStarter{}); err != nil {
		t.Fatalf("ExecutePending: %v", err)
	}

	if err := sess.processExternalEvent(ctx, event.Event{Name: "reply", InvokeID: "inv1"}); err != nil {
		t.Fatalf("processExternalEvent: %v", err)
	}
	v, err := host.EvaluateExpression(ctx, sess.id, "finalized")
	if err != nil || !v.Truthy() {
		t.Fatalf("expected finalize actions to run before selection, got %v err=%v", v, err)
	}

	// A stale/unknown invoke id must be dropped before selection runs, so
	// it cannot trigger a transition even though its event name matches one.
	before := activeSet(sess.ActiveStates())
	if err := sess.processExternalEvent(ctx, event.Event{Name: "timer", InvokeID: "unknown-invoke"}); err != nil {
		t.Fatalf("processExternalEvent: %v", err)
	}
	after := activeSet(sess.ActiveStates())
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("expected stale invoke event to be dropped without affecting configuration, before=%v after=%v", before, after)
	}
}

func TestVisualizeRendersActiveStates(t *testing.T) {
	sess := New(buildTrafficLight(t), gojahost.New())
	ctx := context.Background()
	if err := sess.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sess.Stop(ctx)

	dot := sess.Visualize()
	if dot == "" {
		t.Fatal("expected non-empty DOT output")
	}
}
