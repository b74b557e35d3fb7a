// Package gojahost implements scripting.Host with an embedded ECMAScript
// runtime (github.com/dop251/goja), one goja.Runtime per session, matching
// how the W3C SCXML "ecmascript" data model binds expressions. Compiled
// programs are cached per session with an LRU so a repeatedly-evaluated
// guard or action expression is parsed once.
package gojahost

import (
	"context"
	"fmt"
	"sync"

	"github.com/dop251/goja"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/comalice/scxml-core/scripting"
)

const programCacheSize = 256

// Host is a goja-backed scripting.Host. One goja.Runtime is created per
// SCXML session; programs are compiled once and cached per session to
// avoid re-parsing guards/expressions on every microstep.
type Host struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

type session struct {
	vm       *goja.Runtime
	programs *lru.Cache[string, *goja.Program]
}

func New() *Host {
	return &Host{sessions: make(map[string]*session)}
}

func (h *Host) CreateSession(_ context.Context, sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.sessions[sessionID]; exists {
		return nil
	}
	cache, err := lru.New[string, *goja.Program](programCacheSize)
	if err != nil {
		return errors.Wrap(err, "gojahost: allocate program cache")
	}
	h.sessions[sessionID] = &session{vm: goja.New(), programs: cache}
	return nil
}

func (h *Host) DestroySession(_ context.Context, sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, sessionID)
	return nil
}

func (h *Host) get(sessionID string) (*session, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("gojahost: no such session %q", sessionID)
	}
	return s, nil
}

func (h *Host) compile(s *session, expr string) (*goja.Program, error) {
	if p, ok := s.programs.Get(expr); ok {
		return p, nil
	}
	p, err := goja.Compile("", expr, false)
	if err != nil {
		return nil, err
	}
	s.programs.Add(expr, p)
	return p, nil
}

func (h *Host) EvaluateExpression(_ context.Context, sessionID, expr string) (scripting.Value, error) {
	s, err := h.get(sessionID)
	if err != nil {
		return scripting.NullValue(), err
	}
	if expr == "" {
		return scripting.NullValue(), nil
	}
	prog, err := h.compile(s, expr)
	if err != nil {
		return scripting.NullValue(), &scripting.Error{SessionID: sessionID, Expr: expr, Cause: err}
	}
	result, err := s.vm.RunProgram(prog)
	if err != nil {
		return scripting.NullValue(), &scripting.Error{SessionID: sessionID, Expr: expr, Cause: err}
	}
	return fromGoja(result), nil
}

func (h *Host) ExecuteScript(_ context.Context, sessionID, src string) error {
	s, err := h.get(sessionID)
	if err != nil {
		return err
	}
	prog, err := h.compile(s, src)
	if err != nil {
		return &scripting.Error{SessionID: sessionID, Expr: src, Cause: err}
	}
	if _, err := s.vm.RunProgram(prog); err != nil {
		return &scripting.Error{SessionID: sessionID, Expr: src, Cause: err}
	}
	return nil
}

func (h *Host) SetVariable(_ context.Context, sessionID, name string, v scripting.Value) error {
	s, err := h.get(sessionID)
	if err != nil {
		return err
	}
	return s.vm.Set(name, toGoja(s.vm, v))
}

func (h *Host) SetVariableDOM(ctx context.Context, sessionID, name, xmlText string) error {
	// No XML DOM support at this layer; bind the raw text so downstream
	// expressions can at least inspect it as a string. A full XML-aware
	// data model is a scripting-host concern outside this package's scope
	// (§1 Out of scope: "scripting host itself").
	return h.SetVariable(ctx, sessionID, name, scripting.StringValue(xmlText))
}

func (h *Host) IsVariablePreInitialised(_ context.Context, sessionID, name string) bool {
	s, err := h.get(sessionID)
	if err != nil {
		return false
	}
	v := s.vm.Get(name)
	return v != nil && !goja.IsUndefined(v)
}

func (h *Host) SetupSystemVariables(_ context.Context, sessionID, machineName string, ioProcessors map[string]string) error {
	s, err := h.get(sessionID)
	if err != nil {
		return err
	}
	if err := s.vm.Set("_sessionid", sessionID); err != nil {
		return err
	}
	if err := s.vm.Set("_name", machineName); err != nil {
		return err
	}
	procs := make(map[string]map[string]string, len(ioProcessors))
	for name, location := range ioProcessors {
		procs[name] = map[string]string{"location": location}
	}
	return s.vm.Set("_ioprocessors", procs)
}

// SetEvent binds `_event` to fields, replacing whatever binding was there
// before; no earlier binding is kept or restored.
func (h *Host) SetEvent(ctx context.Context, sessionID string, fields map[string]any) error {
	s, err := h.get(sessionID)
	if err != nil {
		return err
	}
	return s.vm.Set("_event", fields)
}

// BindIn provides the SCXML `In(stateID)` predicate using a caller-supplied
// membership function, registered as a global so guard expressions can
// call `In('foo')` per W3C 5.9.
func (h *Host) BindIn(_ context.Context, sessionID string, isIn func(stateID string) bool) error {
	s, err := h.get(sessionID)
	if err != nil {
		return err
	}
	return s.vm.Set("In", func(stateID string) bool { return isIn(stateID) })
}

func (h *Host) ArrayLength(_ context.Context, sessionID, expr string) (int, bool, error) {
	s, err := h.get(sessionID)
	if err != nil {
		return 0, false, err
	}
	prog, err := h.compile(s, expr)
	if err != nil {
		return 0, false, &scripting.Error{SessionID: sessionID, Expr: expr, Cause: err}
	}
	v, err := s.vm.RunProgram(prog)
	if err != nil {
		return 0, false, &scripting.Error{SessionID: sessionID, Expr: expr, Cause: err}
	}
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return 0, false, nil // ToObject would throw for these
	}
	obj := v.ToObject(s.vm)
	if obj == nil {
		return 0, false, nil
	}
	lengthVal := obj.Get("length")
	if lengthVal == nil {
		return 0, false, nil
	}
	return int(lengthVal.ToInteger()), true, nil
}

func (h *Host) BindArrayItem(_ context.Context, sessionID, expr string, index int, itemVar, indexVar string) error {
	s, err := h.get(sessionID)
	if err != nil {
		return err
	}
	prog, err := h.compile(s, expr)
	if err != nil {
		return &scripting.Error{SessionID: sessionID, Expr: expr, Cause: err}
	}
	v, err := s.vm.RunProgram(prog)
	if err != nil {
		return &scripting.Error{SessionID: sessionID, Expr: expr, Cause: err}
	}
	obj := v.ToObject(s.vm)
	if obj == nil {
		return fmt.Errorf("gojahost: %q is not indexable", expr)
	}
	item := obj.Get(fmt.Sprintf("%d", index))
	if err := s.vm.Set(itemVar, item); err != nil {
		return err
	}
	if indexVar != "" {
		if err := s.vm.Set(indexVar, index); err != nil {
			return err
		}
	}
	return nil
}

func fromGoja(v goja.Value) scripting.Value {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return scripting.NullValue()
	}
	exported := v.Export()
	switch x := exported.(type) {
	case bool:
		return scripting.Value{Kind: scripting.Bool, Bool: x}
	case int64:
		return scripting.Value{Kind: scripting.Int64, Int64: x}
	case float64:
		if x == float64(int64(x)) {
			return scripting.Value{Kind: scripting.Double, Double: x}
		}
		return scripting.Value{Kind: scripting.Double, Double: x}
	case string:
		return scripting.Value{Kind: scripting.String, String: x}
	default:
		if fn, ok := goja.AssertFunction(v); ok {
			return scripting.Value{Kind: scripting.Function, Ref: fn}
		}
		return scripting.Value{Kind: scripting.Object, Ref: exported}
	}
}

func toGoja(vm *goja.Runtime, v scripting.Value) any {
	switch v.Kind {
	case scripting.Null:
		return goja.Null()
	case scripting.Bool:
		return v.Bool
	case scripting.Int64:
		return v.Int64
	case scripting.Double:
		return v.Double
	case scripting.String:
		return v.String
	default:
		return v.Ref
	}
}
