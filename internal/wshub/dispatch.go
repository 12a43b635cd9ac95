package wshub

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/on-the-go/daemon/internal/apierr"
)

// handleInbound parses and dispatches one inbound frame for connection c.
// Malformed frames and unknown types reply with an error rather than
// closing the connection (spec.md §4.1 "Fails with").
func (h *Hub) handleInbound(c *Connection, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		slog.Debug("wshub: malformed envelope", "connection_id", c.ID, "error", err)
		c.enqueue(Envelope{
			Error:     "malformed envelope",
			ErrorKind: string(apierr.Malformed),
			Timestamp: nowMillis(),
		})
		return
	}

	switch env.Type {
	case "ping":
		c.enqueue(Envelope{Type: "pong", Timestamp: nowMillis()})
		return
	case "pong":
		return
	}

	h.mu.RLock()
	handler, ok := h.handlers[env.Type]
	h.mu.RUnlock()
	if !ok {
		h.replyUnknownType(c, env)
		return
	}

	if env.ID != "" {
		h.trackPending(c, env)
	}

	h.dispatch(c, env, handler)
}

func (h *Hub) replyUnknownType(c *Connection, env Envelope) {
	if env.ID == "" {
		return
	}
	c.enqueue(Envelope{
		ID:        env.ID,
		Error:     "unknown envelope type: " + env.Type,
		ErrorKind: string(apierr.Malformed),
		Timestamp: nowMillis(),
	})
}

// trackPending registers a pending-request entry for env.ID with a
// deadline keyed off its operation class (spec.md §4.1). On expiry with
// no response, a timeout error frame is sent; later responses for the
// same id are dropped (see Hub.Reply/ReplyError).
func (h *Hub) trackPending(c *Connection, env Envelope) {
	deadline := deadlineFor(classify(env.Type, env.Op))

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if existing, ok := c.pending[env.ID]; ok {
		existing.timer.Stop()
	}
	id := env.ID
	timer := time.AfterFunc(deadline, func() {
		c.mu.Lock()
		_, stillPending := c.pending[id]
		if stillPending {
			delete(c.pending, id)
		}
		c.mu.Unlock()
		if stillPending {
			c.enqueue(Envelope{
				ID:        id,
				Error:     "timeout",
				ErrorKind: string(apierr.Timeout),
				Timestamp: nowMillis(),
			})
		}
	})
	c.pending[env.ID] = &pendingRequest{
		deadline: time.Now().Add(deadline),
		timer:    timer,
	}
}

func deadlineFor(class operationClass) time.Duration {
	switch class {
	case classConnect:
		return timeoutConnect
	case classPrompt:
		return timeoutPrompt
	default:
		return timeoutDefault
	}
}

// dispatch invokes handler and, if it returns synchronously (most leaf
// operations do), replies immediately. Handlers for streaming operations
// (prompt, exec, terminal.create) return a synchronous ack and complete
// the rest of their work by calling Hub.Send/Broadcast directly; trackPending's
// cleanup timer still fires for them as a safety net at the class deadline.
func (h *Hub) dispatch(c *Connection, env Envelope, handler Handler) {
	result, err := handler(c.ID, env)
	if env.ID == "" {
		return // fire-and-forget or broadcast-only operation.
	}
	if err != nil {
		h.ReplyError(c.ID, env.ID, err)
		return
	}
	h.Reply(c.ID, env.ID, result)
}
