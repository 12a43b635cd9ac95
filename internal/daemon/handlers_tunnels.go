package daemon

import (
	"context"
	"encoding/json"
	"time"

	"github.com/on-the-go/daemon/internal/apierr"
	"github.com/on-the-go/daemon/internal/tunnel"
	"github.com/on-the-go/daemon/internal/wshub"
)

// registerTunnelsHandlers wires the `tunnels` envelope type's operations
// onto the shared tunnel.Supervisor (spec.md §4.4). Tunnel state changes
// are pushed to the connection that created the tunnel as they happen,
// rather than polled.
func (d *Daemon) registerTunnelsHandlers() {
	d.hub.Register("tunnels", func(connID string, env wshub.Envelope) (json.RawMessage, error) {
		switch env.Op {
		case "install":
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()
			path, err := d.tunnels.Install(ctx)
			if err != nil {
				return nil, err
			}
			return marshalResult(map[string]string{"path": path})

		case "create":
			var req struct {
				Kind      string
				LocalPort int `json:"localPort"`
				Name      string
			}
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			onStateChange := func(status tunnel.Status) {
				payload, err := json.Marshal(status)
				if err != nil {
					return
				}
				d.hub.Send(connID, wshub.Envelope{Type: "tunnels", Op: "statusChanged", Data: payload})
			}
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()
			status, err := d.tunnels.Create(ctx, tunnel.CreateParams{
				Kind:      tunnel.Kind(req.Kind),
				LocalPort: req.LocalPort,
				Name:      req.Name,
			}, onStateChange)
			if err != nil {
				return nil, err
			}
			return marshalResult(status)

		case "list":
			return marshalResult(map[string]any{"tunnels": d.tunnels.List()})

		case "status":
			var req struct{ ID string }
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			status, err := d.tunnels.StatusOf(req.ID)
			if err != nil {
				return nil, err
			}
			return marshalResult(status)

		case "stop":
			var req struct{ ID string }
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			if err := d.tunnels.Stop(req.ID); err != nil {
				return nil, err
			}
			return marshalResult(map[string]bool{"ok": true})

		case "stopAll":
			d.tunnels.StopAll()
			return marshalResult(map[string]bool{"ok": true})

		default:
			return nil, apierr.New(apierr.Malformed, "unknown tunnels operation "+env.Op)
		}
	})
}
