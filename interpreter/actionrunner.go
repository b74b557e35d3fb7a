package interpreter

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/comalice/scxml-core/document"
	"github.com/comalice/scxml-core/event"
	"github.com/comalice/scxml-core/scripting"
)

// RunActions implements microstep.ActionRunner: executes actions in
// order, stopping at the first failure without affecting sibling blocks
// (§4.5.1). A failure raises error.execution on the internal queue
// before returning.
func (s *Session) RunActions(ctx context.Context, actions []document.ActionNode, ev event.Event) error {
	for _, a := range actions {
		if err := s.runOne(ctx, a, ev); err != nil {
			s.raiseExecutionError(err)
			return err
		}
	}
	return nil
}

func (s *Session) runOne(ctx context.Context, a document.ActionNode, ev event.Event) error {
	switch a.Kind {
	case document.ActionRaise:
		return s.runRaise(ctx, a)
	case document.ActionSend:
		return s.runSend(ctx, a)
	case document.ActionCancel:
		return s.runCancel(ctx, a)
	case document.ActionAssign:
		return s.runAssign(ctx, a)
	case document.ActionScript:
		return s.host.ExecuteScript(ctx, s.id, a.ScriptSource)
	case document.ActionLog:
		return s.runLog(ctx, a)
	case document.ActionIf:
		return s.runIf(ctx, a, ev)
	case document.ActionForeach:
		return s.runForeach(ctx, a, ev)
	default:
		return nil
	}
}

func (s *Session) runRaise(ctx context.Context, a document.ActionNode) error {
	data, err := s.evalOptional(ctx, a.EventData)
	if err != nil {
		return err
	}
	s.queues.RaiseInternal(event.Event{Name: a.EventName, Data: data, Kind: event.Internal})
	return nil
}

func (s *Session) runSend(ctx context.Context, a document.ActionNode) error {
	id := a.SendID
	if id == "" {
		id = uuid.NewString()
	}
	data, err := s.buildSendData(ctx, a)
	if err != nil {
		return err
	}
	ev := event.Event{Name: a.SendEventName, Data: data, Kind: event.External, SendID: id, Origin: s.id}
	deliver := func() {
		s.deliverSend(ctx, ev, a.SendTarget, a.SendType)
	}
	if a.SendDelayMS > 0 {
		s.scheduler.Schedule(id, time.Duration(a.SendDelayMS)*time.Millisecond, deliver)
		return nil
	}
	// Even a zero-delay send must not be delivered synchronously within
	// this action block (§6.2): schedule it for "as soon as possible".
	s.scheduler.Schedule(id, 0, deliver)
	return nil
}

func (s *Session) deliverSend(ctx context.Context, ev event.Event, target, typ string) {
	switch {
	case target == "" || target == "#_internal":
		ev.Kind = event.Internal
		s.queues.RaiseInternal(ev)
	case target == "#_parent":
		if s.parent == nil {
			s.raiseCommunicationError(errNoParentSession)
			return
		}
		ev.Origin = s.id
		ev.OriginType = "#_scxml_" + s.id
		ev.InvokeID = s.invokeID
		s.parent.PushExternal(ev)
	case strings.HasPrefix(target, "#_scxml_"):
		// Every #_scxml_<id> target goes to this session's own external
		// queue; the id is not compared with s.id or looked up.
		s.queues.PushExternal(ev)
	default:
		if err := s.dispatcher.Send(ctx, s.id, ev, target, typ); err != nil {
			s.raiseCommunicationError(err)
		}
	}
}

func (s *Session) buildSendData(ctx context.Context, a document.ActionNode) (any, error) {
	if len(a.SendParams) > 0 {
		out := make(map[string]any, len(a.SendParams))
		for _, p := range a.SendParams {
			if p.Location == "" {
				continue
			}
			v, err := s.host.EvaluateExpression(ctx, s.id, p.Location)
			if err != nil {
				return nil, err
			}
			out[p.Name] = valueToAny(v)
		}
		return out, nil
	}
	if len(a.SendNamelist) > 0 {
		out := make(map[string]any, len(a.SendNamelist))
		for _, name := range a.SendNamelist {
			v, err := s.host.EvaluateExpression(ctx, s.id, name)
			if err != nil {
				return nil, err
			}
			out[name] = valueToAny(v)
		}
		return out, nil
	}
	if a.SendContent != "" {
		v, err := s.host.EvaluateExpression(ctx, s.id, a.SendContent)
		if err == nil {
			return valueToAny(v), nil
		}
		return a.SendContent, nil // literal content, not an expression
	}
	return nil, nil
}

func (s *Session) runCancel(_ context.Context, a document.ActionNode) error {
	s.scheduler.Cancel(a.CancelSendID)
	return nil
}

func (s *Session) runAssign(ctx context.Context, a document.ActionNode) error {
	v, err := s.host.EvaluateExpression(ctx, s.id, a.AssignExpr)
	if err != nil {
		return err
	}
	return s.host.SetVariable(ctx, s.id, a.AssignLocation, v)
}

func (s *Session) runLog(ctx context.Context, a document.ActionNode) error {
	v, err := s.evalOptional(ctx, a.LogExpr)
	if err != nil {
		return err
	}
	s.logger.Info(a.LogLabel, map[string]any{"value": v})
	return nil
}

func (s *Session) runIf(ctx context.Context, a document.ActionNode, ev event.Event) error {
	for _, branch := range a.IfBranches {
		if branch.Cond == "" {
			return s.RunActions(ctx, branch.Body, ev)
		}
		v, err := s.host.EvaluateExpression(ctx, s.id, branch.Cond)
		if err != nil {
			return err
		}
		if v.Truthy() {
			return s.RunActions(ctx, branch.Body, ev)
		}
	}
	return nil
}

func (s *Session) runForeach(ctx context.Context, a document.ActionNode, ev event.Event) error {
	length, ok, err := s.host.ArrayLength(ctx, s.id, a.ForeachArray)
	if err != nil {
		return err
	}
	if !ok {
		return errForeachNotArray
	}
	for i := 0; i < length; i++ {
		if err := s.host.BindArrayItem(ctx, s.id, a.ForeachArray, i, a.ForeachItem, a.ForeachIndex); err != nil {
			return err
		}
		if err := s.RunActions(ctx, a.ForeachBody, ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) evalOptional(ctx context.Context, expr string) (any, error) {
	if expr == "" {
		return nil, nil
	}
	v, err := s.host.EvaluateExpression(ctx, s.id, expr)
	if err != nil {
		return nil, err
	}
	return valueToAny(v), nil
}

func valueToAny(v scripting.Value) any {
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
	default:
		return v.Ref
	}
}

// Eval implements selector.GuardEvaluator.
func (s *Session) Eval(guardExpr string) (bool, bool) {
	v, err := s.host.EvaluateExpression(context.Background(), s.id, guardExpr)
	if err != nil {
		s.raiseExecutionError(err)
		return false, false
	}
	return v.Truthy(), true
}

func (s *Session) raiseExecutionError(cause error) {
	s.queues.RaiseInternal(event.Event{Name: event.ErrorExecution, Data: cause.Error(), Kind: event.Internal})
}

func (s *Session) raiseCommunicationError(cause error) {
	s.queues.RaiseInternal(event.Event{Name: event.ErrorCommunication, Data: cause.Error(), Kind: event.Internal})
}

type actionError string

func (e actionError) Error() string { return string(e) }

const (
	errNoParentSession  actionError = "send target #_parent used but this session has no parent"
	errForeachNotArray  actionError = "foreach array expression did not evaluate to an indexable value"
)
