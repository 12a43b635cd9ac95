package daemon

import (
	"encoding/json"

	"github.com/on-the-go/daemon/internal/apierr"
	"github.com/on-the-go/daemon/internal/fsservice"
	"github.com/on-the-go/daemon/internal/wshub"
)

// registerFSHandlers wires the `fileSystem` envelope type's operations onto
// the shared fsservice.Service (spec.md §4.5). Watch registrations are
// keyed by connection id, so a client's watchers are released on disconnect
// (see registerHandlers' hub.OnDisconnect hook).
func (d *Daemon) registerFSHandlers() {
	d.hub.Register("fileSystem", func(connID string, env wshub.Envelope) (json.RawMessage, error) {
		switch env.Op {
		case "tree":
			var req struct {
				Path  string
				Depth int
			}
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			result, err := d.fs.Tree(req.Path, req.Depth)
			if err != nil {
				return nil, err
			}
			return marshalResult(map[string]any{"entries": result})

		case "open":
			var req struct {
				Path      string
				Encoding  string
				MaxLength int64 `json:"maxLength"`
			}
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			result, err := d.fs.Open(req.Path, req.Encoding, req.MaxLength)
			if err != nil {
				return nil, err
			}
			return marshalResult(result)

		case "create":
			var req struct {
				Path    string
				Type    string
				Content string
			}
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			if err := d.fs.Create(req.Path, fsservice.EntryType(req.Type), []byte(req.Content)); err != nil {
				return nil, err
			}
			return marshalResult(map[string]bool{"ok": true})

		case "delete":
			var req struct {
				Path      string
				Recursive bool
			}
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			if err := d.fs.Delete(req.Path, req.Recursive); err != nil {
				return nil, err
			}
			return marshalResult(map[string]bool{"ok": true})

		case "rename":
			var req struct {
				Path    string
				NewPath string `json:"newPath"`
			}
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			if err := d.fs.Rename(req.Path, req.NewPath); err != nil {
				return nil, err
			}
			return marshalResult(map[string]bool{"ok": true})

		case "watch":
			var req struct{ Path string }
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			emit := func(ev fsservice.WatchEvent) {
				payload, err := json.Marshal(ev)
				if err != nil {
					return
				}
				d.hub.Send(connID, wshub.Envelope{Type: "fileSystem", Op: "changed", Data: payload})
			}
			if err := d.fs.Watch(connID, req.Path, emit); err != nil {
				return nil, err
			}
			return marshalResult(map[string]bool{"ok": true})

		case "unwatch":
			var req struct{ Path string }
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			if err := d.fs.Unwatch(connID, req.Path); err != nil {
				return nil, err
			}
			return marshalResult(map[string]bool{"ok": true})

		default:
			return nil, apierr.New(apierr.Malformed, "unknown fileSystem operation "+env.Op)
		}
	})
}
