// Package hub accepts client connections, parses inbound action messages,
// dispatches them to the request store, the vehicle status engine and the
// credential service, and fans resulting events out to every other
// connected client. One goroutine per connection; the live connection set
// is hub-owned and mutex-guarded, never ambient state.
package hub

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/jmtrans/freightboard/blob"
	"github.com/jmtrans/freightboard/creds"
	"github.com/jmtrans/freightboard/request"
	"github.com/jmtrans/freightboard/settings"
	"github.com/jmtrans/freightboard/vehstatus"
)

// Conn is one live client connection. Sends are serialized per connection
// so broadcasts from background tasks can't interleave bytes with direct
// acks from the receive loop.
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *Conn) send(data string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return websocket.Message.Send(c.ws, data)
}

// reply marshals and sends a direct message to this connection.
func (c *Conn) reply(h *Hub, v any) {
	data, err := encodeJSON(v)
	if err != nil {
		h.logger.Error("hub: encode reply", "error", err)
		return
	}
	if err := c.send(data); err != nil {
		h.logger.Error("hub: send reply", "error", err)
	}
}

// Hub routes inbound actions and owns the live connection set.
type Hub struct {
	requests *request.Store
	statuses *vehstatus.Engine
	users    *creds.Service
	blobs    *blob.Store
	appCfg   *settings.Store
	logger   *slog.Logger

	mu    sync.Mutex
	conns map[*Conn]struct{}

	handlers map[Action]handlerFunc
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets a custom logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// New creates a hub over its collaborators and builds the action table.
func New(requests *request.Store, statuses *vehstatus.Engine, users *creds.Service, blobs *blob.Store, appCfg *settings.Store, opts ...Option) *Hub {
	h := &Hub{
		requests: requests,
		statuses: statuses,
		users:    users,
		blobs:    blobs,
		appCfg:   appCfg,
		logger:   slog.Default(),
		conns:    make(map[*Conn]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	h.handlers = h.buildHandlers()
	return h
}

// Handler returns the websocket endpoint to mount on a router.
func (h *Hub) Handler() http.Handler {
	return websocket.Handler(h.serve)
}

// ConnCount reports the number of live connections.
func (h *Hub) ConnCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) serve(ws *websocket.Conn) {
	c := &Conn{ws: ws}
	remote := ws.Request().RemoteAddr

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("hub: client connected", "remote", remote)

	defer func() {
		h.remove(c)
		h.logger.Info("hub: client disconnected", "remote", remote)
	}()

	for {
		var raw string
		if err := websocket.Message.Receive(ws, &raw); err != nil {
			return
		}
		h.process(c, raw)
	}
}

// process handles one inbound message. Errors and panics are confined to
// the message: the connection stays open and the loop continues.
func (h *Hub) process(c *Conn, raw string) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("hub: handler panic", "panic", r)
			c.reply(h, ack{Action: "error", Status: StatusError, Message: msgInternalError})
		}
	}()

	var msg map[string]any
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		h.logger.Error("hub: unparseable message", "error", err)
		c.reply(h, ack{Action: "error", Status: StatusError, Message: msgInternalError})
		return
	}

	action := Action(getString(msg, "action"))
	h.logger.Info("hub: received", "action", action)

	handler, ok := h.handlers[action]
	if !ok {
		c.reply(h, ack{Action: "error", Status: StatusError, Message: "Неизвестная команда"})
		return
	}
	if err := handler(c, msg); err != nil {
		h.logger.Error("hub: handler failed", "action", action, "error", err)
		c.reply(h, ack{Action: string(action), Status: StatusError, Message: msgInternalError})
	}
}

func (h *Hub) remove(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	c.ws.Close()
}

// Broadcast serializes event once and sends it to every live connection
// except exclude (nil means everyone). Fan-out is best-effort: a failed
// send evicts that connection without aborting delivery to the rest.
func (h *Hub) Broadcast(event any, exclude *Conn) {
	data, err := encodeJSON(event)
	if err != nil {
		h.logger.Error("hub: encode broadcast", "error", err)
		return
	}

	h.mu.Lock()
	targets := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		if c != exclude {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.send(data); err != nil {
			h.logger.Error("hub: broadcast send failed, dropping client", "error", err)
			h.remove(c)
		}
	}
}

// BroadcastStatuses pushes a fresh statuses_sync snapshot to every client.
// Used by the hub after status mutations and by the background scheduler.
func (h *Hub) BroadcastStatuses() {
	rows, err := h.statuses.List()
	if err != nil {
		h.logger.Error("hub: statuses snapshot failed", "error", err)
		return
	}
	if rows == nil {
		rows = []vehstatus.Row{}
	}
	h.Broadcast(map[string]any{"action": "statuses_sync", "data": rows}, nil)
}

// encodeJSON marshals without HTML escaping so Georgian and Cyrillic text
// crosses the wire readable, not as \uXXXX runs.
func encodeJSON(v any) (string, error) {
	var b strings.Builder
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(b.String(), "\n"), nil
}

func getString(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func getMap(m map[string]any, key string) map[string]any {
	if mm, ok := m[key].(map[string]any); ok {
		return mm
	}
	return nil
}
