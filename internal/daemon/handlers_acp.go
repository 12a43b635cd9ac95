package daemon

import (
	"context"
	"encoding/json"
	"time"

	"github.com/on-the-go/daemon/internal/acp"
	"github.com/on-the-go/daemon/internal/apierr"
	"github.com/on-the-go/daemon/internal/wshub"
)

// registerACPHandlers wires the `acp` envelope type's operations onto a
// per-connection Bridge (spec.md §4.3). Framing is detected once per
// connection at `connect` time and held for the bridge's lifetime.
func (d *Daemon) registerACPHandlers() {
	d.hub.Register("acp", func(connID string, env wshub.Envelope) (json.RawMessage, error) {
		switch env.Op {
		case "connect":
			return d.acpConnect(connID, env)
		case "authMethods":
			return d.withBridge(connID, func(b *acp.Bridge) (any, error) { return b.AuthMethods() })
		case "authenticate":
			var req struct {
				MethodID string `json:"methodId"`
			}
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			return d.withBridge(connID, func(b *acp.Bridge) (any, error) {
				ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
				defer cancel()
				return nil, b.Authenticate(ctx, req.MethodID)
			})
		case "sessionNew":
			var req struct {
				Cwd        string            `json:"cwd"`
				McpServers []json.RawMessage `json:"mcpServers"`
			}
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			return d.withBridge(connID, func(b *acp.Bridge) (any, error) {
				ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
				defer cancel()
				return b.SessionNew(ctx, req.Cwd, req.McpServers)
			})
		case "sessionSelect":
			var req struct {
				SessionID string `json:"sessionId"`
			}
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			return d.withBridge(connID, func(b *acp.Bridge) (any, error) {
				b.SessionSelect(req.SessionID)
				return map[string]bool{"ok": true}, nil
			})
		case "sessionsList":
			return d.withBridge(connID, func(b *acp.Bridge) (any, error) {
				last, threads := b.SessionsList()
				return map[string]any{"sessions": last, "threads": threads}, nil
			})
		case "sessionDelete":
			var req struct {
				SessionID string `json:"sessionId"`
			}
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			return d.withBridge(connID, func(b *acp.Bridge) (any, error) {
				b.SessionDelete(req.SessionID)
				return map[string]bool{"ok": true}, nil
			})
		case "sessionSetMode":
			var req struct {
				SessionID string `json:"sessionId"`
				ModeID    string `json:"modeId"`
			}
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			return d.withBridge(connID, func(b *acp.Bridge) (any, error) {
				ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				return nil, b.SessionSetMode(ctx, req.SessionID, req.ModeID)
			})
		case "modelsList":
			return d.withBridge(connID, func(b *acp.Bridge) (any, error) {
				return b.ModelsList(), nil
			})
		case "modelSelect":
			var req struct {
				SessionID string `json:"sessionId"`
				ModelID   string `json:"modelId"`
			}
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			return d.withBridge(connID, func(b *acp.Bridge) (any, error) {
				ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				return nil, b.ModelSelect(ctx, req.SessionID, req.ModelID)
			})
		case "prompt":
			var req struct {
				SessionID string             `json:"sessionId"`
				Blocks    []acp.ContentBlock `json:"blocks"`
			}
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			return d.withBridge(connID, func(b *acp.Bridge) (any, error) {
				// Prompt only blocks until the request is written to the
				// agent's stdin; the streamed completion is awaited on its
				// own long-lived context inside the bridge, independent of
				// this ack timeout (spec.md §4.3 "ack-then-stream").
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return map[string]bool{"ok": true}, b.Prompt(ctx, req.SessionID, req.Blocks)
			})
		case "cancel":
			var req struct {
				SessionID string `json:"sessionId"`
			}
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			return d.withBridge(connID, func(b *acp.Bridge) (any, error) {
				return map[string]bool{"ok": true}, b.Cancel(req.SessionID)
			})
		case "permission":
			var req struct {
				RequestID string `json:"requestId"`
				OptionID  string `json:"optionId"`
			}
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			return d.withBridge(connID, func(b *acp.Bridge) (any, error) {
				return map[string]bool{"ok": true}, b.Permission(req.RequestID, req.OptionID)
			})
		case "diffApply":
			var req struct {
				Path    string `json:"path"`
				Content string `json:"content"`
			}
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			return d.withBridge(connID, func(b *acp.Bridge) (any, error) {
				return map[string]bool{"ok": true}, b.DiffApply(req.Path, req.Content)
			})
		case "disconnect":
			d.bridges.remove(connID)
			return marshalResult(map[string]bool{"ok": true})
		default:
			return nil, apierr.New(apierr.Malformed, "unknown acp operation "+env.Op)
		}
	})
}

func (d *Daemon) acpConnect(connID string, env wshub.Envelope) (json.RawMessage, error) {
	var req struct {
		AgentType string   `json:"agentType"`
		Command   string   `json:"command"`
		Args      []string `json:"args"`
		Env       []string `json:"env"`
		Cwd       string   `json:"cwd"`
	}
	if err := unmarshalPayload(env, &req); err != nil {
		return nil, err
	}

	emit := func(eventType string, data any) {
		payload, err := json.Marshal(data)
		if err != nil {
			return
		}
		d.hub.Send(connID, wshub.Envelope{Type: eventType, Data: payload})
	}
	b := d.bridges.getOrCreate(connID, emit)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()
	result, err := b.Connect(ctx, req.AgentType, req.Command, req.Args, req.Env, req.Cwd)
	if err != nil {
		d.bridges.remove(connID)
		return nil, err
	}
	return marshalResult(result)
}

// withBridge fetches connID's bridge, returning AgentNotConnected when the
// connection has never called `connect` (spec.md §7 "future non-connect
// ops fail with AgentNotConnected").
func (d *Daemon) withBridge(connID string, fn func(*acp.Bridge) (any, error)) (json.RawMessage, error) {
	b, ok := d.bridges.get(connID)
	if !ok {
		return nil, apierr.New(apierr.NotFound, "AgentNotConnected")
	}
	result, err := fn(b)
	if err != nil {
		return nil, err
	}
	return marshalResult(result)
}

func unmarshalPayload(env wshub.Envelope, v any) error {
	raw := env.Payload
	if len(raw) == 0 {
		raw = env.Data
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apierr.Wrap(apierr.Malformed, "invalid payload", err)
	}
	return nil
}

func marshalResult(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, apierr.Wrap(apierr.Malformed, "encoding result", err)
	}
	return data, nil
}
