package invoke

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comalice/scxml-core/document"
	"github.com/comalice/scxml-core/event"
)

type fakeChild struct {
	started bool
	stopped bool
	sent    []event.Event
}

func (c *fakeChild) Start(context.Context) error { c.started = true; return nil }
func (c *fakeChild) Stop(context.Context) error   { c.stopped = true; return nil }
func (c *fakeChild) Send(_ context.Context, ev event.Event) error {
	c.sent = append(c.sent, ev)
	return nil
}

type fakeStarter struct {
	children map[string]*fakeChild
}

func newFakeStarter() *fakeStarter {
	return &fakeStarter{children: make(map[string]*fakeChild)}
}

func (s *fakeStarter) Start(_ context.Context, _ string, _ document.Invoke, invokeID string) (ChildSession, error) {
	c := &fakeChild{}
	s.children[invokeID] = c
	return c, nil
}

func TestExecutePendingStartsOnlyInvokesWithActiveOwner(t *testing.T) {
	m := New()
	m.Defer("s1", document.Invoke{}, "inv1")
	m.Defer("s2", document.Invoke{}, "inv2")

	starter := newFakeStarter()
	active := map[document.StateID]bool{"s1": true}

	err := m.ExecutePending(context.Background(), "parent", active, starter)
	require.NoError(t, err)

	assert.True(t, starter.children["inv1"].started)
	assert.Nil(t, starter.children["inv2"], "invoke owned by an already-exited state must not start")
	assert.True(t, m.HasPendingOrActiveFor("s1"))
	assert.False(t, m.HasPendingOrActiveFor("s2"))
}

func TestCancelForStateStopsActiveAndDropsPending(t *testing.T) {
	m := New()
	m.Defer("s1", document.Invoke{}, "inv1")
	starter := newFakeStarter()
	active := map[document.StateID]bool{"s1": true}
	require.NoError(t, m.ExecutePending(context.Background(), "parent", active, starter))

	m.Defer("s1", document.Invoke{}, "inv2") // still pending when s1 exits

	require.NoError(t, m.CancelForState(context.Background(), "s1"))

	assert.True(t, starter.children["inv1"].stopped)
	assert.True(t, m.IsCancelled("inv1"))
	assert.False(t, m.HasPendingOrActiveFor("s1"))
}

func TestAutoforwardRespectsDeclarationAndCancellation(t *testing.T) {
	m := New()
	m.Defer("s1", document.Invoke{Autoforward: true}, "inv1")
	m.Defer("s1", document.Invoke{Autoforward: false}, "inv2")
	starter := newFakeStarter()
	active := map[document.StateID]bool{"s1": true}
	require.NoError(t, m.ExecutePending(context.Background(), "parent", active, starter))

	targets := m.AllAutoforwardTargets()
	assert.Len(t, targets, 1)

	_, ok := m.Autoforward("inv2")
	assert.False(t, ok, "non-autoforward invoke must not be a target")

	child, ok := m.Autoforward("inv1")
	assert.True(t, ok)
	assert.Same(t, starter.children["inv1"], child)

	require.NoError(t, m.CancelForState(context.Background(), "s1"))
	_, ok = m.Autoforward("inv1")
	assert.False(t, ok, "cancelled invoke must stop being an autoforward target")
}

func TestFinalizeReturnsActionsOnlyWhileActive(t *testing.T) {
	m := New()
	finalizeActions := []document.ActionNode{{Kind: document.ActionLog, LogLabel: "done"}}
	m.Defer("s1", document.Invoke{Finalize: finalizeActions}, "inv1")
	starter := newFakeStarter()
	active := map[document.StateID]bool{"s1": true}
	require.NoError(t, m.ExecutePending(context.Background(), "parent", active, starter))

	got, ok := m.Finalize("inv1")
	require.True(t, ok)
	assert.Equal(t, finalizeActions, got)

	require.NoError(t, m.CancelForState(context.Background(), "s1"))
	_, ok = m.Finalize("inv1")
	assert.False(t, ok)
}

func TestStopAllCancelsEverything(t *testing.T) {
	m := New()
	m.Defer("s1", document.Invoke{}, "inv1")
	m.Defer("s2", document.Invoke{}, "inv2")
	starter := newFakeStarter()
	active := map[document.StateID]bool{"s1": true, "s2": true}
	require.NoError(t, m.ExecutePending(context.Background(), "parent", active, starter))

	require.NoError(t, m.StopAll(context.Background()))

	assert.True(t, starter.children["inv1"].stopped)
	assert.True(t, starter.children["inv2"].stopped)
	assert.False(t, m.HasPendingOrActiveFor("s1"))
	assert.False(t, m.HasPendingOrActiveFor("s2"))
}

func TestNextInvokeIDIsStableAndUnique(t *testing.T) {
	m := New()
	first := m.NextInvokeID("s1")
	second := m.NextInvokeID("s1")
	assert.NotEqual(t, first, second)
}
