// Package wsproc implements a WebSocket-based Event I/O Processor:
// inbound events arrive as JSON frames on an upgraded connection, and
// an outbound <send> whose target is the id of a session with an open
// connection here is written back on that connection the same way.
//
// Built on gorilla/websocket: one goroutine per connection reading
// frames into a decoded event.Event, a write mutex guarding concurrent
// sends on the same connection (gorilla/websocket connections are not
// safe for concurrent writers).
package wsproc

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/comalice/scxml-core/event"
	"github.com/comalice/scxml-core/logging"
)

// Receiver is the subset of interpreter.Session this processor needs to
// hand off a decoded inbound event.
type Receiver interface {
	Send(ctx context.Context, ev event.Event) error
}

type wireEvent struct {
	Name string `json:"name"`
	Data any    `json:"data,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// conn wraps one upgraded WebSocket with a write mutex, since gorilla's
// *websocket.Conn permits only one concurrent writer.
type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *conn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

// Processor upgrades HTTP connections to WebSocket and routes frames to
// and from registered sessions.
type Processor struct {
	mu     sync.RWMutex
	conns  map[string]*conn
	logger logging.Logger
}

func New(logger logging.Logger) *Processor {
	return &Processor{conns: make(map[string]*conn), logger: logger}
}

// ServeHTTP upgrades the connection for sessionID and pumps inbound
// frames to recv until the connection closes.
func (p *Processor) ServeHTTP(w http.ResponseWriter, r *http.Request, sessionID string, recv Receiver) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Warn("websocket upgrade failed", logging.Fields{"error": err.Error()})
		return
	}
	c := &conn{ws: ws}
	p.mu.Lock()
	p.conns[sessionID] = c
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.conns, sessionID)
		p.mu.Unlock()
		ws.Close()
	}()

	for {
		var in wireEvent
		if err := ws.ReadJSON(&in); err != nil {
			return
		}
		ev := event.Event{Name: in.Name, Data: in.Data, Kind: event.External, OriginType: "websocket"}
		if err := recv.Send(r.Context(), ev); err != nil {
			p.logger.Warn("websocket inbound event rejected", logging.Fields{"error": err.Error()})
		}
	}
}

// Send implements interpreter.Dispatcher for targets addressed by an
// already-registered session id. This processor does not dial out; it
// only delivers to connections that dialed in.
func (p *Processor) Send(_ context.Context, _ string, ev event.Event, target, _ string) error {
	p.mu.RLock()
	c, ok := p.conns[target]
	p.mu.RUnlock()
	if !ok {
		return errNoSuchConnection
	}
	return c.writeJSON(wireEvent{Name: ev.Name, Data: ev.Data})
}

type wsError string

func (e wsError) Error() string { return string(e) }

const errNoSuchConnection wsError = "wsproc: no open connection for target session"
