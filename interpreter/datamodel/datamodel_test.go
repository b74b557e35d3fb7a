package datamodel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comalice/scxml-core/document"
	"github.com/comalice/scxml-core/scripting"
)

// fakeHost is a minimal in-memory scripting.Host: expressions are looked
// up verbatim in a table rather than actually evaluated, and variables
// land in a session-scoped map.
type fakeHost struct {
	expr      map[string]scripting.Value
	failExpr  map[string]bool
	variables map[string]map[string]scripting.Value
	dom       map[string]map[string]string
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		expr:      make(map[string]scripting.Value),
		failExpr:  make(map[string]bool),
		variables: make(map[string]map[string]scripting.Value),
		dom:       make(map[string]map[string]string),
	}
}

func (h *fakeHost) CreateSession(context.Context, string) error  { return nil }
func (h *fakeHost) DestroySession(context.Context, string) error { return nil }

func (h *fakeHost) EvaluateExpression(_ context.Context, _ string, expr string) (scripting.Value, error) {
	if h.failExpr[expr] {
		return scripting.Value{}, assert.AnError
	}
	return h.expr[expr], nil
}

func (h *fakeHost) ExecuteScript(context.Context, string, string) error { return nil }

func (h *fakeHost) SetVariable(_ context.Context, sessionID, name string, v scripting.Value) error {
	if h.variables[sessionID] == nil {
		h.variables[sessionID] = make(map[string]scripting.Value)
	}
	h.variables[sessionID][name] = v
	return nil
}

func (h *fakeHost) SetVariableDOM(_ context.Context, sessionID, name, xmlText string) error {
	if h.dom[sessionID] == nil {
		h.dom[sessionID] = make(map[string]string)
	}
	h.dom[sessionID][name] = xmlText
	return nil
}

func (h *fakeHost) IsVariablePreInitialised(_ context.Context, sessionID, name string) bool {
	_, ok := h.variables[sessionID][name]
	return ok
}

func (h *fakeHost) SetupSystemVariables(context.Context, string, string, map[string]string) error {
	return nil
}
func (h *fakeHost) BindIn(context.Context, string, func(string) bool) error { return nil }
func (h *fakeHost) SetEvent(context.Context, string, map[string]any) error  { return nil }

func (h *fakeHost) ArrayLength(context.Context, string, string) (int, bool, error) {
	return 0, false, nil
}
func (h *fakeHost) BindArrayItem(context.Context, string, string, int, string, string) error {
	return nil
}

type fakeLoader struct {
	content map[string]string
}

func (l *fakeLoader) Load(_ context.Context, _, src string) (string, error) {
	return l.content[src], nil
}

func TestBinderInitEarlyBindsExprDataAcrossAllStates(t *testing.T) {
	m, err := newDataModel()
	require.NoError(t, err)

	host := newFakeHost()
	host.expr["1 + 1"] = scripting.Value{Kind: scripting.Int64, Int64: 2}
	b := NewBinder(host, nil)

	require.NoError(t, b.InitEarly(context.Background(), "sess1", m))

	v := host.variables["sess1"]["count"]
	assert.Equal(t, int64(2), v.Int64)
}

func TestBinderInitEarlyFallsBackToNullOnFailure(t *testing.T) {
	m, err := newDataModel()
	require.NoError(t, err)

	host := newFakeHost()
	host.failExpr["1 + 1"] = true
	b := NewBinder(host, nil)

	err = b.InitEarly(context.Background(), "sess1", m)
	assert.Error(t, err)
	assert.Equal(t, scripting.Null, host.variables["sess1"]["count"].Kind)
}

func TestBinderLoadsSrc(t *testing.T) {
	host := newFakeHost()
	loader := &fakeLoader{content: map[string]string{"data.xml": "<root/>"}}
	b := NewBinder(host, loader)

	err := b.bindOne(context.Background(), "sess1", "", document.DataItem{ID: "doc", Src: "data.xml"})
	require.NoError(t, err)
	assert.Equal(t, "<root/>", host.dom["sess1"]["doc"])
}

func TestDoneDataEvaluatorPrefersExprOverParams(t *testing.T) {
	host := newFakeHost()
	host.expr["contentExpr"] = scripting.Value{Kind: scripting.String, String: "hello"}
	eval := NewDoneDataEvaluator(host, "sess1")

	dd := &document.DoneData{
		HasContent:  true,
		ContentExpr: "contentExpr",
		Params:      []document.Param{{Name: "ignored", Location: "whatever"}},
	}
	got, err := eval.Evaluate(context.Background(), dd)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestDoneDataEvaluatorSkipsFailedParamsKeepsRest(t *testing.T) {
	host := newFakeHost()
	host.expr["good"] = scripting.Value{Kind: scripting.Int64, Int64: 7}
	host.failExpr["bad"] = true
	eval := NewDoneDataEvaluator(host, "sess1")

	dd := &document.DoneData{
		HasContent: true,
		Params: []document.Param{
			{Name: "a", Location: "good"},
			{Name: "b", Location: "bad"},
		},
	}
	got, err := eval.Evaluate(context.Background(), dd)
	require.NoError(t, err)
	out := got.(map[string]any)
	assert.Equal(t, int64(7), out["a"])
	_, present := out["b"]
	assert.False(t, present, "a param whose location fails to evaluate must be omitted, not zero-valued")
}

func TestDoneDataEvaluatorEmptyParamLocationIsStructural(t *testing.T) {
	host := newFakeHost()
	eval := NewDoneDataEvaluator(host, "sess1")

	dd := &document.DoneData{
		HasContent: true,
		Params:     []document.Param{{Name: "a", Location: ""}},
	}
	got, err := eval.Evaluate(context.Background(), dd)
	require.Error(t, err)
	assert.Nil(t, got)
	var structural *StructuralError
	require.ErrorAs(t, err, &structural)
	assert.True(t, structural.Structural())
}

func TestDoneDataEvaluatorFailingContentExprIsNotStructural(t *testing.T) {
	host := newFakeHost()
	host.failExpr["bad"] = true
	eval := NewDoneDataEvaluator(host, "sess1")

	dd := &document.DoneData{HasContent: true, ContentExpr: "bad"}
	got, err := eval.Evaluate(context.Background(), dd)
	require.Error(t, err)
	assert.Nil(t, got)
	var structural *StructuralError
	assert.False(t, errors.As(err, &structural), "a failing ContentExpr is a runtime error, not structural")
}

func TestDoneDataEvaluatorNoContentYieldsNil(t *testing.T) {
	host := newFakeHost()
	eval := NewDoneDataEvaluator(host, "sess1")
	got, err := eval.Evaluate(context.Background(), &document.DoneData{HasContent: false})
	require.NoError(t, err)
	assert.Nil(t, got)
}

// newDataModel builds a tiny one-state model whose single <data> item
// evaluates an expr, enough to exercise InitEarly/InitOnEntry.
func newDataModel() (document.Model, error) {
	return testModel{
		root: "root",
		states: map[document.StateID]*document.StateNode{
			"root": {
				ID:   "root",
				Kind: document.Atomic,
				Data: []document.DataItem{{ID: "count", Expr: "1 + 1"}},
			},
		},
	}, nil
}

type testModel struct {
	root   document.StateID
	states map[document.StateID]*document.StateNode
}

func (m testModel) RootState() document.StateID { return m.root }
func (m testModel) GetState(id document.StateID) (*document.StateNode, bool) {
	n, ok := m.states[id]
	return n, ok
}
func (m testModel) AllStates() []document.StateID {
	out := make([]document.StateID, 0, len(m.states))
	for id := range m.states {
		out = append(out, id)
	}
	return out
}
func (m testModel) InitialStates() []document.StateID   { return []document.StateID{m.root} }
func (m testModel) TopLevelScripts() []string            { return nil }
func (m testModel) BindingMode() document.BindingMode    { return document.EarlyBinding }
func (m testModel) Name() string                         { return "test" }
func (m testModel) Location() string                     { return "" }
