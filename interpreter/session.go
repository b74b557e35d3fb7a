// Package interpreter wires the hierarchy oracle, history store, event
// queues, scripting host, selector, microstep executor, and invoke
// manager into one running SCXML session (§4.6, §4.10): a struct built
// via functional options over pluggable collaborators (dispatcher,
// persister, publisher, src loader, child factory), started with
// Start/Stop and driven by Send.
package interpreter

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/comalice/scxml-core/document"
	"github.com/comalice/scxml-core/event"
	"github.com/comalice/scxml-core/interpreter/datamodel"
	"github.com/comalice/scxml-core/interpreter/hierarchy"
	"github.com/comalice/scxml-core/interpreter/history"
	"github.com/comalice/scxml-core/interpreter/invoke"
	"github.com/comalice/scxml-core/interpreter/microstep"
	"github.com/comalice/scxml-core/interpreter/queue"
	"github.com/comalice/scxml-core/logging"
	"github.com/comalice/scxml-core/persistence"
	"github.com/comalice/scxml-core/scripting"
	"github.com/comalice/scxml-core/visualize"
)

// RunState is the session's own explicit state machine, distinct from
// the SCXML configuration: it tracks where the driver is in the
// macrostep/microstep lifecycle so Stop and concurrent Send calls behave
// predictably.
type RunState int

const (
	Idle RunState = iota
	Running
	Stopping
	Stopped
)

func (r RunState) String() string {
	switch r {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ParentLink is the subset of queue.Queues a child session needs to
// deliver a #_parent send; queue.Queues satisfies it directly.
type ParentLink interface {
	PushExternal(ev event.Event)
}

// ChildFactory loads the child document for <invoke type="scxml">; the
// child Session itself is built from it by the session's invoke starter.
// Other invoke types are out of scope: only the nested-scxml profile is
// supported.
type ChildFactory interface {
	LoadDocument(ctx context.Context, src, srcExpr, content string) (document.Model, error)
}

// Option configures a Session at construction time.
type Option func(*Session)

func WithLogger(l logging.Logger) Option         { return func(s *Session) { s.logger = l } }
func WithDispatcher(d Dispatcher) Option         { return func(s *Session) { s.dispatcher = d } }
func WithSrcLoader(l datamodel.SrcLoader) Option { return func(s *Session) { s.srcLoader = l } }
func WithChildFactory(f ChildFactory) Option     { return func(s *Session) { s.childFactory = f } }

// WithPersister attaches a snapshot store. When set, Stop saves the
// session's final configuration so a later process can inspect it; the
// snapshot is not automatically reloaded on a later Start.
func WithPersister(p persistence.Persister) Option { return func(s *Session) { s.persister = p } }
func WithParent(p ParentLink, invokeID, parentSessionID string) Option {
	return func(s *Session) {
		s.parent = p
		s.invokeID = invokeID
		s.parentSessionID = parentSessionID
	}
}

// Session is one running SCXML interpreter instance.
type Session struct {
	mu sync.Mutex

	id    string
	model document.Model

	oracle  *hierarchy.Oracle
	hist    *history.Store
	queues  *queue.Queues
	invokes *invoke.Manager
	host    scripting.Host
	binder  *datamodel.Binder
	executor *microstep.Executor

	active map[document.StateID]bool
	state  RunState

	logger       logging.Logger
	dispatcher   Dispatcher
	scheduler    *Scheduler
	srcLoader    datamodel.SrcLoader
	childFactory ChildFactory
	persister    persistence.Persister
	publisher    Publisher

	parent          ParentLink
	invokeID        string
	parentSessionID string

	children map[string]*Session

	halted bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// New constructs a Session for model, not yet started.
func New(model document.Model, host scripting.Host, opts ...Option) *Session {
	sessionID := uuid.NewString()
	oracle := hierarchy.New(model)
	hist := history.New(model)
	s := &Session{
		id:       sessionID,
		model:    model,
		oracle:   oracle,
		hist:     hist,
		queues:   queue.New(),
		invokes:  invoke.New(),
		host:     host,
		logger:   logging.NoOp{},
		dispatcher: NoopDispatcher{},
		scheduler: NewScheduler(),
		children: make(map[string]*Session),
		active:   make(map[document.StateID]bool),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithSession(sessionID)
	s.binder = datamodel.NewBinder(host, s.srcLoader)
	doneEval := datamodel.NewDoneDataEvaluator(host, sessionID)
	s.executor = microstep.New(hist, s.invokes, s, doneEval)
	return s
}

// ID returns the session's identifier, exposed to the document as
// _sessionid.
func (s *Session) ID() string { return s.id }

// ActiveStates returns a snapshot of the current configuration.
func (s *Session) ActiveStates() []document.StateID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]document.StateID, 0, len(s.active))
	for id := range s.active {
		out = append(out, id)
	}
	return out
}

// IsRunning reports whether the session's driver loop is active.
func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Running
}

// Visualize renders the current configuration as Graphviz DOT source.
func (s *Session) Visualize() string {
	s.mu.Lock()
	active := make(map[string]bool, len(s.active))
	for id := range s.active {
		active[string(id)] = true
	}
	s.mu.Unlock()
	return visualize.ExportDOT(s.model, active)
}

func (s *Session) ioProcessors() map[string]string {
	procs := map[string]string{"scxml": "#_scxml_" + s.id}
	if s.dispatcher != nil {
		procs["http"] = "#_scxml_" + s.id
	}
	return procs
}

// Start binds system variables and the data model, computes the initial
// configuration, and launches the driver loop (§3.2, §4.10 load/start).
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return fmt.Errorf("interpreter: session %s already started", s.id)
	}
	s.state = Running
	s.mu.Unlock()

	if err := s.host.CreateSession(ctx, s.id); err != nil {
		return err
	}
	if err := s.host.SetupSystemVariables(ctx, s.id, s.model.Name(), s.ioProcessors()); err != nil {
		return err
	}
	if err := s.host.BindIn(ctx, s.id, s.isIn); err != nil {
		return err
	}

	if s.model.BindingMode() == document.EarlyBinding {
		if err := s.binder.InitEarly(ctx, s.id, s.model); err != nil {
			s.logger.Warn("early data-model init failed", logging.Fields{"error": err.Error()})
		}
	}
	for _, src := range s.model.TopLevelScripts() {
		if err := s.host.ExecuteScript(ctx, s.id, src); err != nil {
			s.mu.Lock()
			s.state = Idle
			s.mu.Unlock()
			return fmt.Errorf("interpreter: session %s rejected: top-level script failed: %w", s.id, err)
		}
	}

	entry, err := s.oracle.EntryChainTo("", s.model.RootState(), s.hist)
	if err != nil {
		return err
	}
	if err := s.enterStates(ctx, entry, event.Event{}); err != nil {
		return err
	}

	if err := s.runToStable(ctx); err != nil {
		return err
	}
	if !s.halted {
		if err := s.invokes.ExecutePending(ctx, s.id, s.active, (*starterAdapter)(s)); err != nil {
			return err
		}
	}

	go s.loop(ctx)
	return nil
}

// Send enqueues an external event (§4.10 send, the only thread-safe
// entry point into a running session).
func (s *Session) Send(_ context.Context, ev event.Event) error {
	s.mu.Lock()
	running := s.state == Running
	s.mu.Unlock()
	if !running {
		return fmt.Errorf("interpreter: session %s is not running", s.id)
	}
	if ev.Kind == event.Internal {
		ev.Kind = event.External
	}
	s.queues.PushExternal(ev)
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Stop halts the driver loop and cancels every active invoke (§4.10 stop).
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return nil
	}
	s.state = Stopping
	s.mu.Unlock()

	close(s.stop)
	<-s.done

	if s.persister != nil {
		if err := s.persister.Save(ctx, s.snapshot()); err != nil {
			s.logger.Warn("snapshot save failed", logging.Fields{"error": err.Error()})
		}
	}

	// §3 Lifecycle / §4.10 stop(): exit every state still in the
	// configuration before tearing down invokes and the scripting session.
	// Runs after the snapshot save, which persists the configuration as it
	// stood at the moment of stop() rather than the empty post-exit one.
	s.runOnExitSweep(ctx, event.Event{})

	s.scheduler.StopAll()
	if err := s.invokes.StopAll(ctx); err != nil {
		return err
	}
	if err := s.host.DestroySession(ctx, s.id); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = Stopped
	s.mu.Unlock()
	return nil
}

// snapshot builds the persistable projection of this session's current
// configuration.
func (s *Session) snapshot() persistence.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := make([]string, 0, len(s.active))
	for id := range s.active {
		active = append(active, string(id))
	}
	return persistence.Snapshot{SessionID: s.id, Document: s.model.Name(), Active: active}
}

// loop drains external events until stopped or the document halts via a
// top-level <final> (§3.7).
func (s *Session) loop(ctx context.Context) {
	defer close(s.done)
	for {
		s.mu.Lock()
		halted := s.halted
		s.mu.Unlock()
		if halted {
			return
		}
		for s.queues.HasExternal() {
			ev, ok := s.queues.PopExternal()
			if !ok {
				break
			}
			if err := s.processExternalEvent(ctx, ev); err != nil {
				s.logger.Error("processing external event failed", logging.Fields{"event": ev.Name, "error": err.Error()})
			}
			s.mu.Lock()
			halted = s.halted
			s.mu.Unlock()
			if halted {
				return
			}
		}
		select {
		case <-s.stop:
			return
		case <-s.wake:
		}
	}
}

func (s *Session) isIn(stateID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[document.StateID(stateID)]
}

type starterAdapter Session

func (a *starterAdapter) Start(ctx context.Context, parentSessionID string, inv document.Invoke, invokeID string) (invoke.ChildSession, error) {
	s := (*Session)(a)
	if inv.Type != "" && inv.Type != "scxml" {
		return nil, fmt.Errorf("interpreter: invoke type %q is out of scope; only the nested-scxml profile is supported", inv.Type)
	}
	if s.childFactory == nil {
		return nil, fmt.Errorf("interpreter: invoke requires a ChildFactory and none is configured")
	}
	childModel, err := s.childFactory.LoadDocument(ctx, inv.Src, inv.SrcExpr, inv.Content)
	if err != nil {
		return nil, err
	}
	child := New(childModel, s.host, WithLogger(s.logger), WithDispatcher(s.dispatcher), WithSrcLoader(s.srcLoader), WithChildFactory(s.childFactory), WithParent(s.queues, invokeID, parentSessionID))
	s.mu.Lock()
	s.children[child.id] = child
	s.mu.Unlock()
	if err := child.Start(ctx); err != nil {
		return nil, err
	}
	if inv.IDLocation != "" {
		_ = s.host.SetVariable(ctx, s.id, inv.IDLocation, scripting.StringValue(invokeID))
	}
	return child, nil
}
