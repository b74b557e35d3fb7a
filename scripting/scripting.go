// Package scripting defines the Scripting Host interface (C2, §6.2): the
// external collaborator that evaluates expressions, holds per-session
// variable bindings, and reports success/error back to the interpreter
// core. The core never depends on a concrete expression language; see
// gojahost for an ECMAScript-backed implementation.
package scripting

import "context"

// ValueKind tags the sum type returned by expression evaluation.
type ValueKind int

const (
	Null ValueKind = iota
	Bool
	Int64
	Double
	String
	Object
	Function
)

// Value is the scripting host's value sum type (§6.2). Object and Function
// hold opaque references meaningful only to the host implementation;
// interpreter/datamodel converts values to a JSON-safe form (its
// unexported toJSON) when building donedata.
type Value struct {
	Kind   ValueKind
	Bool   bool
	Int64  int64
	Double float64
	String string
	Ref    any // opaque object/function reference
}

func NullValue() Value           { return Value{Kind: Null} }
func BoolValue(b bool) Value     { return Value{Kind: Bool, Bool: b} }
func StringValue(s string) Value { return Value{Kind: String, String: s} }

// Truthy reports whether v should be treated as true by a guard
// expression's implicit boolean coercion.
func (v Value) Truthy() bool {
	switch v.Kind {
	case Null:
		return false
	case Bool:
		return v.Bool
	case Int64:
		return v.Int64 != 0
	case Double:
		return v.Double != 0
	case String:
		return v.String != ""
	default:
		return v.Ref != nil
	}
}

// Host is the scripting/data-model collaborator (§6.2).
type Host interface {
	CreateSession(ctx context.Context, sessionID string) error
	DestroySession(ctx context.Context, sessionID string) error

	EvaluateExpression(ctx context.Context, sessionID, expr string) (Value, error)
	ExecuteScript(ctx context.Context, sessionID, src string) error
	SetVariable(ctx context.Context, sessionID, name string, v Value) error
	SetVariableDOM(ctx context.Context, sessionID, name, xmlText string) error
	IsVariablePreInitialised(ctx context.Context, sessionID, name string) bool

	// SetupSystemVariables binds the SCXML system variables (_sessionid,
	// _name, _ioprocessors) for sessionID (§4.7 original_source addition).
	SetupSystemVariables(ctx context.Context, sessionID, machineName string, ioProcessors map[string]string) error

	// BindIn registers the SCXML In(stateID) predicate (§5.9) against a
	// caller-supplied membership function, so guard expressions can call
	// In('someState') without the host knowing about document.Model.
	BindIn(ctx context.Context, sessionID string, isIn func(stateID string) bool) error

	// SetEvent binds `_event` for the duration of processing one event
	// (§5.10). Called once per event before guards/actions run against it;
	// it is not called for the initial entry or for eventless microsteps,
	// which therefore see whatever `_event` was last bound.
	SetEvent(ctx context.Context, sessionID string, fields map[string]any) error

	// ArrayLength evaluates expr and reports its length as an array-like
	// value (host-defined: arrays and array-likes only). ok is false if
	// expr does not evaluate to something with a length, used by <foreach>
	// (§4.6.3) to raise error.execution without an implicit 0-iteration
	// success.
	ArrayLength(ctx context.Context, sessionID, expr string) (length int, ok bool, err error)

	// BindArrayItem evaluates expr, indexes into it at index, and binds
	// the result to itemVar (and, if indexVar != "", the 0-based index to
	// indexVar), for one <foreach> iteration.
	BindArrayItem(ctx context.Context, sessionID, expr string, index int, itemVar, indexVar string) error
}

// Error distinguishes evaluation failures from the host so the interpreter
// can apply the right fallback (guard=false, leave variable unbound,
// etc.) without inspecting error strings.
type Error struct {
	SessionID string
	Expr      string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return "scripting: evaluation failed for session " + e.SessionID
	}
	return "scripting: " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }
