package daemon

import (
	"context"
	"encoding/json"

	"github.com/on-the-go/daemon/internal/apierr"
	"github.com/on-the-go/daemon/internal/ptyengine"
	"github.com/on-the-go/daemon/internal/wshub"
)

// registerTerminalHandlers wires the `terminal` envelope type's operations
// onto the shared ptyengine.Manager (spec.md §4.2). Sessions are global,
// not per-connection: they survive a client reconnect, with the manager
// retargeting each session's output sink to its current owning connection.
func (d *Daemon) registerTerminalHandlers() {
	d.hub.Register("terminal", func(connID string, env wshub.Envelope) (json.RawMessage, error) {
		switch env.Op {
		case "create":
			var req struct {
				Cols, Rows int
				Cwd        string
				Persistent bool
				EngineMode string `json:"engineMode"`
			}
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			session, err := d.terminals.Create(ptyengine.CreateConfig{
				Cols:       req.Cols,
				Rows:       req.Rows,
				Cwd:        req.Cwd,
				Persistent: req.Persistent,
				EngineMode: ptyengine.EngineMode(req.EngineMode),
			})
			if err != nil {
				return nil, err
			}
			d.attachTerminalSink(connID, session.ID)
			info := session.Info()
			return marshalResult(map[string]any{"sessionId": info.SessionID, "cwd": info.Cwd})

		case "input":
			var req struct {
				SessionID string `json:"sessionId"`
				Data      string `json:"data"`
			}
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			if err := d.terminals.Input(req.SessionID, []byte(req.Data)); err != nil {
				return nil, err
			}
			return marshalResult(map[string]bool{"ok": true})

		case "resize":
			var req struct {
				SessionID  string `json:"sessionId"`
				Cols, Rows int
			}
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			if err := d.terminals.Resize(req.SessionID, req.Cols, req.Rows); err != nil {
				return nil, err
			}
			return marshalResult(map[string]bool{"ok": true})

		case "dispose":
			var req struct {
				SessionID string `json:"sessionId"`
			}
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			if err := d.terminals.Dispose(req.SessionID); err != nil {
				return nil, err
			}
			return marshalResult(map[string]bool{"ok": true})

		case "reattach":
			var req struct {
				SessionID string `json:"sessionId"`
			}
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			d.attachTerminalSink(connID, req.SessionID)
			return marshalResult(map[string]bool{"ok": true})

		case "cancel":
			var req struct {
				SessionID string `json:"sessionId"`
			}
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			session, err := d.terminals.Get(req.SessionID)
			if err != nil {
				return nil, err
			}
			if err := session.Interrupt(); err != nil {
				return nil, err
			}
			return marshalResult(map[string]bool{"ok": true})

		case "exec":
			var req struct {
				Command string
				Cwd     string
			}
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			go d.runExec(connID, req.Command, req.Cwd)
			return nil, nil

		case "listSessions":
			return marshalResult(d.terminals.ListSessions())

		default:
			return nil, apierr.New(apierr.Malformed, "unknown terminal operation "+env.Op)
		}
	})
}

// attachTerminalSink retargets a session's output sink to connID, the way
// spec.md §4.2 describes reattach: "the buffer is flushed in order to the
// new owning connection."
func (d *Daemon) attachTerminalSink(connID, sessionID string) {
	_ = d.terminals.AttachSink(sessionID, func(frame ptyengine.OutputFrame) {
		payload, _ := json.Marshal(map[string]any{
			"op":        "data",
			"sessionId": frame.SessionID,
			"chunk":     string(frame.Chunk),
		})
		d.hub.Send(connID, wshub.Envelope{Type: "terminal", Data: payload})
	})
}

// runExec streams a one-shot `exec` operation's start/data/exit frames
// directly to connID (spec.md §4.2 `exec`).
func (d *Daemon) runExec(connID, command, cwd string) {
	err := d.terminals.Exec(context.Background(), command, cwd, func(ev ptyengine.ExecEvent) {
		payload, _ := json.Marshal(map[string]any{
			"event":    ev.Event,
			"chunk":    string(ev.Chunk),
			"exitCode": ev.ExitCode,
		})
		d.hub.Send(connID, wshub.Envelope{Type: "terminal", ID: ev.ID, Data: payload})
	})
	if err != nil {
		d.hub.Send(connID, wshub.Envelope{
			Type:      "terminal",
			Error:     err.Error(),
			ErrorKind: string(apierr.KindOf(err)),
		})
	}
}
