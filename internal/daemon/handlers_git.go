package daemon

import (
	"context"
	"encoding/json"
	"time"

	"github.com/on-the-go/daemon/internal/apierr"
	"github.com/on-the-go/daemon/internal/gitservice"
	"github.com/on-the-go/daemon/internal/wshub"
)

// registerGitHandlers wires the `git` envelope type's operations onto the
// shared gitservice.Service (spec.md §4.6). Every call runs under a
// bounded context; the service itself additionally enforces a 30 s exec
// timeout per git invocation.
func (d *Daemon) registerGitHandlers() {
	d.hub.Register("git", func(connID string, env wshub.Envelope) (json.RawMessage, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 35*time.Second)
		defer cancel()

		path := d.cfg.Terminal.Cwd

		switch env.Op {
		case "status":
			result, err := d.git.Status(ctx, path)
			if err != nil {
				return nil, err
			}
			return marshalResult(result)

		case "log":
			var req struct{ Count int }
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			result, err := d.git.Log(ctx, path, req.Count)
			if err != nil {
				return nil, err
			}
			return marshalResult(result)

		case "diff":
			var req struct{ File string }
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			result, err := d.git.Diff(ctx, path, req.File)
			if err != nil {
				return nil, err
			}
			return marshalResult(map[string]string{"diff": result})

		case "show":
			var req struct {
				CommitHash string `json:"commitHash"`
			}
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			result, err := d.git.Show(ctx, path, req.CommitHash)
			if err != nil {
				return nil, err
			}
			return marshalResult(map[string]string{"show": result})

		case "add":
			var req struct{ Files []string }
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			if err := d.git.Add(ctx, path, req.Files); err != nil {
				return nil, err
			}
			return marshalResult(map[string]bool{"ok": true})

		case "commit":
			var req struct {
				Message string
				Files   []string
			}
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			if err := d.git.Commit(ctx, path, req.Message, req.Files); err != nil {
				return nil, err
			}
			return marshalResult(map[string]bool{"ok": true})

		case "push":
			var req struct {
				Remote, Branch string
				Force          bool
			}
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			if err := d.git.Push(ctx, path, req.Remote, req.Branch, req.Force); err != nil {
				return nil, err
			}
			return marshalResult(map[string]bool{"ok": true})

		case "pull":
			var req struct{ Remote, Branch string }
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			if err := d.git.Pull(ctx, path, req.Remote, req.Branch); err != nil {
				return nil, err
			}
			return marshalResult(map[string]bool{"ok": true})

		case "branch":
			var req struct {
				Op   string
				Name string
			}
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			result, err := d.git.Branch(ctx, path, gitservice.BranchOp(req.Op), req.Name)
			if err != nil {
				return nil, err
			}
			return marshalResult(map[string]any{"branches": result})

		case "findRepos":
			var req struct{ Path string }
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			root := req.Path
			if root == "" {
				root = path
			}
			result, err := d.git.FindRepos(ctx, root)
			if err != nil {
				return nil, err
			}
			return marshalResult(map[string]any{"repos": result})

		case "stashList":
			result, err := d.git.StashList(ctx, path)
			if err != nil {
				return nil, err
			}
			return marshalResult(map[string]any{"stashes": result})

		case "stashPush":
			var req struct{ Message string }
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			if err := d.git.StashPush(ctx, path, req.Message); err != nil {
				return nil, err
			}
			return marshalResult(map[string]bool{"ok": true})

		case "stashPop":
			var req struct{ Index int }
			if err := unmarshalPayload(env, &req); err != nil {
				return nil, err
			}
			if req.Index == 0 {
				req.Index = -1
			}
			if err := d.git.StashPop(ctx, path, req.Index); err != nil {
				return nil, err
			}
			return marshalResult(map[string]bool{"ok": true})

		default:
			return nil, apierr.New(apierr.Malformed, "unknown git operation "+env.Op)
		}
	})
}
