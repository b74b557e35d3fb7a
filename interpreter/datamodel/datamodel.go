// Package datamodel implements the data-model binding and donedata
// conversion rules of W3C SCXML 5.3/B.2 and 5.7/4.9: early vs. late
// <data> initialisation, <data src="...">  loading, and the structural-
// vs-runtime error distinction when evaluating a <final> state's
// donedata.
//
// donedata conversion produces encoding/json-compatible any values from
// either a <content> expression or a set of <param> elements.
package datamodel

import (
	"context"

	"github.com/pkg/errors"

	"github.com/comalice/scxml-core/document"
	"github.com/comalice/scxml-core/scripting"
)

// SrcLoader resolves a <data src="..."> reference relative to the
// document's base location into literal content. Concrete loaders (file,
// HTTP) live outside this package; tests can supply a map-backed fake.
type SrcLoader interface {
	Load(ctx context.Context, baseLocation, src string) (string, error)
}

// Binder initialises one session's data model against a scripting.Host,
// honouring the document's declared BindingMode (§5.3, B.2).
type Binder struct {
	host   scripting.Host
	loader SrcLoader
}

func NewBinder(host scripting.Host, loader SrcLoader) *Binder {
	return &Binder{host: host, loader: loader}
}

// InitEarly binds every <data> item in the document at session start,
// regardless of whether its state has yet been entered (early binding is
// the default and the only mode some profiles support, §B.2).
func (b *Binder) InitEarly(ctx context.Context, sessionID string, model document.Model) error {
	for _, id := range model.AllStates() {
		node, ok := model.GetState(id)
		if !ok {
			continue
		}
		for _, d := range node.Data {
			if err := b.bindOne(ctx, sessionID, model.Location(), d); err != nil {
				return err
			}
		}
	}
	return nil
}

// InitOnEntry binds the <data> items declared directly on stateID, the
// first time (and only the first time) it is entered under late binding
// (§5.3: "the data model variables... are not created until the state
// that declares them is entered for the first time").
func (b *Binder) InitOnEntry(ctx context.Context, sessionID string, model document.Model, stateID document.StateID) error {
	node, ok := model.GetState(stateID)
	if !ok {
		return nil
	}
	for _, d := range node.Data {
		if err := b.bindOne(ctx, sessionID, model.Location(), d); err != nil {
			return err
		}
	}
	return nil
}

func (b *Binder) bindOne(ctx context.Context, sessionID, baseLocation string, d document.DataItem) error {
	switch {
	case d.Expr != "":
		v, err := b.host.EvaluateExpression(ctx, sessionID, d.Expr)
		if err != nil {
			// §5.3: a failed data-model initialisation expression leaves
			// the variable bound to null and raises error.execution; the
			// caller (interpreter package, which owns the event queue) is
			// responsible for the raise once this error surfaces.
			_ = b.host.SetVariable(ctx, sessionID, d.ID, scripting.NullValue())
			return errors.Wrapf(err, "datamodel: init %q", d.ID)
		}
		return b.host.SetVariable(ctx, sessionID, d.ID, v)
	case d.Src != "":
		if b.loader == nil {
			return errors.Errorf("datamodel: %q declares src but no SrcLoader is configured", d.ID)
		}
		content, err := b.loader.Load(ctx, baseLocation, d.Src)
		if err != nil {
			_ = b.host.SetVariable(ctx, sessionID, d.ID, scripting.NullValue())
			return errors.Wrapf(err, "datamodel: load src for %q", d.ID)
		}
		return b.host.SetVariableDOM(ctx, sessionID, d.ID, content)
	case d.Content != "":
		return b.host.SetVariableDOM(ctx, sessionID, d.ID, d.Content)
	default:
		return b.host.SetVariable(ctx, sessionID, d.ID, scripting.NullValue())
	}
}

// StructuralError marks a donedata evaluation failure caused by the
// declaration itself being malformed, as opposed to a runtime expression
// failure. §4.9: a <param> with an empty location is a structural error;
// the caller must raise error.execution and suppress the done.state
// event entirely rather than emit it with partial data.
type StructuralError struct {
	Reason string
}

func (e *StructuralError) Error() string { return "datamodel: " + e.Reason }

// Structural reports true, letting callers detect this error by duck
// typing (interface{ Structural() bool }) without importing this
// package's concrete type.
func (e *StructuralError) Structural() bool { return true }

// DoneDataEvaluator evaluates a <final> state's donedata into a JSON-safe
// value, implementing microstep.DoneDataEvaluator (§4.9, §5.7).
type DoneDataEvaluator struct {
	host      scripting.Host
	sessionID string
}

func NewDoneDataEvaluator(host scripting.Host, sessionID string) *DoneDataEvaluator {
	return &DoneDataEvaluator{host: host, sessionID: sessionID}
}

// Evaluate implements §4.9: expr content takes precedence over params;
// each param is read from its named variable.
//
// A <param> with an empty location is a structural error: Evaluate
// returns a *StructuralError and the caller must suppress the
// done.state event entirely, after still raising error.execution. A
// param whose Location fails to evaluate at runtime (e.g. the variable
// was bound but its value expression throws) is a narrower runtime
// failure: that single param is omitted and the rest of the donedata is
// still produced. A failing ContentExpr is also a runtime failure: the
// caller raises error.execution but still emits the done.state event,
// with nil data.
func (d *DoneDataEvaluator) Evaluate(ctx context.Context, dd *document.DoneData) (any, error) {
	if dd == nil || !dd.HasContent {
		return nil, nil
	}
	if dd.ContentExpr != "" {
		v, err := d.host.EvaluateExpression(ctx, d.sessionID, dd.ContentExpr)
		if err != nil {
			return nil, errors.Wrap(err, "datamodel: donedata content expr")
		}
		return toJSON(v), nil
	}
	if len(dd.Params) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(dd.Params))
	for _, p := range dd.Params {
		if p.Location == "" {
			return nil, &StructuralError{Reason: "param " + p.Name + " declares an empty location"}
		}
		v, err := d.host.EvaluateExpression(ctx, d.sessionID, p.Location)
		if err != nil {
			continue // runtime failure for this one param; omit it, keep the rest
		}
		out[p.Name] = toJSON(v)
	}
	return out, nil
}

// toJSON projects a scripting.Value into a plain Go value safe for
// encoding/json and equality comparison in tests, mirroring the original
// engine's convertScriptValueToJson.
func toJSON(v scripting.Value) any {
	switch v.Kind {
	case scripting.Null:
		return nil
	case scripting.Bool:
		return v.Bool
	case scripting.Int64:
		return v.Int64
	case scripting.Double:
		return v.Double
	case scripting.String:
		return v.String
	case scripting.Function:
		return nil // functions have no JSON projection (§4.9 implicit)
	default:
		return v.Ref
	}
}
