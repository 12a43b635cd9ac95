// Package wshub implements the WebSocket service multiplexer and request
// correlator (spec.md §4.1): origin-validated upgrades at /ws, dispatch by
// envelope type to registered service handlers, per-operation-class
// timeouts, heartbeats, and best-effort broadcast.
package wshub

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/on-the-go/daemon/internal/apierr"
	"github.com/on-the-go/daemon/internal/eventbus"
)

// Handler answers one envelope for one connection. Implementations either
// reply synchronously or kick off an async operation that later calls
// Hub.Reply/Hub.Broadcast when it completes.
type Handler func(connectionID string, env Envelope) (result json.RawMessage, err error)

const (
	timeoutConnect = 120 * time.Second
	timeoutPrompt  = 60 * time.Second // cleanup timer; the ack itself is immediate
	timeoutDefault = 15 * time.Second
)

// Config configures the Hub.
type Config struct {
	MaxConnections  int
	AllowedOrigins  []string // ["*"] permits all
	ReadBufferSize  int
	WriteBufferSize int
}

// Hub is the process-global WS multiplexer singleton (spec.md §5).
type Hub struct {
	cfg Config
	bus *eventbus.Bus

	mu          sync.RWMutex
	handlers    map[string]Handler
	connections map[string]*Connection

	upgrader websocket.Upgrader

	disconnectMu sync.RWMutex
	onDisconnect []func(connectionID string)
}

// New constructs a Hub bound to bus for broadcast fan-out.
func New(cfg Config, bus *eventbus.Bus) *Hub {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 10
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = 1024
	}
	if cfg.WriteBufferSize <= 0 {
		cfg.WriteBufferSize = 1024
	}

	h := &Hub{
		cfg:         cfg,
		bus:         bus,
		handlers:    make(map[string]Handler),
		connections: make(map[string]*Connection),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return h.isOriginAllowed(origin)
		},
	}
	return h
}

// Register installs handler for envelope type typ. Idempotent: a second
// call with the same type replaces the first (spec.md §4.1).
func (h *Hub) Register(typ string, handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[typ] = handler
}

// isOriginAllowed checks origin against the configured allowlist,
// supporting wildcard subdomain patterns such as "https://*.example.com".
// Grounded on vm-agent/internal/server/websocket.go's isOriginAllowed.
func (h *Hub) isOriginAllowed(origin string) bool {
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" {
			return true
		}
		if allowed == origin {
			return true
		}
		if strings.Contains(allowed, "*") && matchWildcardOrigin(origin, allowed) {
			return true
		}
	}
	slog.Warn("wshub: origin rejected", "origin", origin, "allowed", h.cfg.AllowedOrigins)
	return false
}

func matchWildcardOrigin(origin, pattern string) bool {
	parts := strings.SplitN(pattern, "*", 2)
	if len(parts) != 2 {
		return false
	}
	prefix, suffix := parts[0], parts[1]
	if !strings.HasPrefix(origin, prefix) || !strings.HasSuffix(origin, suffix) {
		return false
	}
	middle := origin[len(prefix) : len(origin)-len(suffix)]
	return !strings.Contains(middle, "/")
}

// ServeHTTP upgrades the request to a WebSocket connection at /ws.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin != "" && !h.isOriginAllowed(origin) {
		http.Error(w, "origin refused", http.StatusForbidden)
		return
	}

	h.mu.RLock()
	atCapacity := len(h.connections) >= h.cfg.MaxConnections
	h.mu.RUnlock()
	if atCapacity {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("wshub: upgrade failed", "error", err)
		return
	}

	c := newConnection(h, conn, origin)
	h.mu.Lock()
	h.connections[c.ID] = c
	h.mu.Unlock()

	slog.Info("wshub: connection opened", "connection_id", c.ID, "origin", origin, "remote", c.RemoteAddr)
	c.run()
}

func (h *Hub) unregisterConnection(c *Connection) {
	h.mu.Lock()
	delete(h.connections, c.ID)
	h.mu.Unlock()
	slog.Info("wshub: connection closed", "connection_id", c.ID)

	h.disconnectMu.RLock()
	hooks := h.onDisconnect
	h.disconnectMu.RUnlock()
	for _, hook := range hooks {
		hook(c.ID)
	}
}

// OnDisconnect registers fn to be invoked with the connection id whenever a
// connection closes, so services that keep per-connection state (the ACP
// bridge registry, filesystem watchers) can release it (spec.md §4.5 "a
// disconnected client's watchers are all removed").
func (h *Hub) OnDisconnect(fn func(connectionID string)) {
	h.disconnectMu.Lock()
	defer h.disconnectMu.Unlock()
	h.onDisconnect = append(h.onDisconnect, fn)
}

// Connection looks up a currently-open connection by id.
func (h *Hub) Connection(id string) (*Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.connections[id]
	return c, ok
}

// ConnectionCount returns the number of currently-open connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Reply enqueues a response frame for the connection that originated id.
func (h *Hub) Reply(connectionID, id string, result json.RawMessage) {
	c, ok := h.Connection(connectionID)
	if !ok {
		return
	}
	c.mu.Lock()
	p, pending := c.pending[id]
	if pending {
		p.timer.Stop()
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !pending {
		return // response arrived after expiry or was never requested; dropped.
	}
	c.enqueue(Envelope{ID: id, Payload: result, Timestamp: nowMillis()})
}

// ReplyError enqueues an error response frame, carrying err's apierr.Kind
// when available.
func (h *Hub) ReplyError(connectionID, id string, err error) {
	c, ok := h.Connection(connectionID)
	if !ok {
		return
	}
	c.mu.Lock()
	p, pending := c.pending[id]
	if pending {
		p.timer.Stop()
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !pending {
		return
	}
	c.enqueue(errorEnvelope(id, err))
}

func errorEnvelope(id string, err error) Envelope {
	kind := apierr.KindOf(err)
	return Envelope{
		ID:        id,
		Error:     err.Error(),
		ErrorKind: string(kind),
		Timestamp: nowMillis(),
	}
}

// Broadcast enqueues env for every currently-open connection, best-effort:
// a slow connection is closed rather than allowed to block others
// (spec.md §4.1).
func (h *Hub) Broadcast(env Envelope) {
	if env.Timestamp == 0 {
		env.Timestamp = nowMillis()
	}
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.enqueue(env)
	}
}

// Send enqueues env for exactly one connection, used for server-originated
// events scoped to a single client (e.g. terminal_output for the session's
// current owning connection).
func (h *Hub) Send(connectionID string, env Envelope) {
	if env.Timestamp == 0 {
		env.Timestamp = nowMillis()
	}
	if c, ok := h.Connection(connectionID); ok {
		c.enqueue(env)
	}
}

// Subscribe exposes the underlying event bus subscription for services
// that want to observe broadcast-worthy events without a direct Hub
// reference (spec.md §9 event bus).
func (h *Hub) Subscribe(topics ...string) <-chan eventbus.Event {
	return h.bus.Subscribe(topics...)
}

// Publish publishes ev on the shared event bus.
func (h *Hub) Publish(ev eventbus.Event) {
	h.bus.Publish(ev)
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
