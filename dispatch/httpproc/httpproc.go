// Package httpproc implements the Basic HTTP Event I/O Processor (W3C
// SCXML 6.2/6.3): an HTTP endpoint external senders can POST events to,
// and an outbound sender for <send> targets addressed by an http(s) URL.
//
// Built on go-chi/chi/v5 the idiomatic way: a *chi.Mux with a single
// /sessions/{sessionID}/events route whose session id is looked up among
// the registered receivers, POST body decoded into an event.Event.
package httpproc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/comalice/scxml-core/event"
	"github.com/comalice/scxml-core/logging"
)

// Receiver is the subset of interpreter.Session this processor needs to
// hand off a decoded inbound event.
type Receiver interface {
	Send(ctx context.Context, ev event.Event) error
}

// inboundEvent is the wire shape POSTed to /sessions/{id}/events.
type inboundEvent struct {
	Name string `json:"name"`
	Data any    `json:"data,omitempty"`
}

// Processor is the HTTP Event I/O Processor. One Processor can front
// many sessions, registered by id as they start.
type Processor struct {
	mu        sync.RWMutex
	receivers map[string]Receiver
	logger    logging.Logger
	router    *chi.Mux
	client    *http.Client
}

func New(logger logging.Logger) *Processor {
	p := &Processor{
		receivers: make(map[string]Receiver),
		logger:    logger,
		router:    chi.NewRouter(),
		client:    &http.Client{},
	}
	p.router.Post("/sessions/{sessionID}/events", p.handlePost)
	return p
}

// Handler returns the processor's http.Handler for embedding in a larger
// mux or ListenAndServe call directly.
func (p *Processor) Handler() http.Handler { return p.router }

// Register makes sessionID reachable at /sessions/{sessionID}/events.
func (p *Processor) Register(sessionID string, r Receiver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.receivers[sessionID] = r
}

// Unregister stops routing events to sessionID. Session.Stop does not
// call it.
func (p *Processor) Unregister(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.receivers, sessionID)
}

func (p *Processor) handlePost(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	p.mu.RLock()
	recv, ok := p.receivers[sessionID]
	p.mu.RUnlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	var in inboundEvent
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "malformed event body: "+err.Error(), http.StatusBadRequest)
		return
	}
	ev := event.Event{Name: in.Name, Data: in.Data, Kind: event.External, OriginType: "http"}
	if err := recv.Send(r.Context(), ev); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Send implements interpreter.Dispatcher for http(s) targets: a <send>
// naming a plain http(s) URL is POSTed there as a JSON event body
// (§6.2).
func (p *Processor) Send(ctx context.Context, sessionID string, ev event.Event, target, typ string) error {
	body, err := json.Marshal(inboundEvent{Name: ev.Name, Data: ev.Data})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("http dispatch failed", logging.Fields{"target": target, "error": err.Error()})
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		p.logger.Warn("http dispatch rejected", logging.Fields{"target": target, "status": resp.StatusCode})
	}
	return nil
}
