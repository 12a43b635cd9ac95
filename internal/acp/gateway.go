package acp

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/on-the-go/daemon/internal/apierr"
)

const (
	defaultConnectTimeout = 120 * time.Second
	defaultCallTimeout    = 60 * time.Second
)

// EventFunc delivers one asynchronous bridge event to its caller (spec.md
// §4.3 "Events emitted to the client"): agent_initialized, agent_stderr,
// agent_exit, session_update, permission_request, session_recovered,
// terminal_output, terminal_exit.
type EventFunc func(eventType string, data any)

// Bridge manages exactly one ACP agent subprocess end to end: spawn,
// JSON-RPC framing, session lifecycle, prompting, permissions, and
// persistence (spec.md §4.3 "ACP Bridge").
type Bridge struct {
	store         *Store
	events        EventFunc
	workspaceRoot string
	permissions   *permissionTracker

	mu         sync.RWMutex
	proc       *agentProcess
	rpc        *rpcClient
	framing    Framing
	init       *InitResult
	agentType  string
	lastParams map[string]json.RawMessage // sessionId -> last session/new params, for recovery
}

// NewBridge constructs a Bridge backed by the given persistence Store,
// rooted at workspaceRoot for diff.apply path enforcement, delivering
// events through emit.
func NewBridge(store *Store, workspaceRoot string, emit EventFunc) *Bridge {
	return &Bridge{
		store:         store,
		events:        emit,
		workspaceRoot: workspaceRoot,
		permissions:   newPermissionTracker(),
		lastParams:    make(map[string]json.RawMessage),
	}
}

func (b *Bridge) emit(eventType string, data any) {
	if b.events != nil {
		b.events(eventType, data)
	}
}

// Connect spawns the agent, negotiates wire framing, and performs
// `initialize` (spec.md §4.3 `connect {agentCmd, cwd?, env?} → {ok, init}`).
func (b *Bridge) Connect(ctx context.Context, agentType, command string, args, env []string, cwd string) (*InitResult, error) {
	b.mu.Lock()
	if b.proc != nil {
		b.mu.Unlock()
		return nil, apierr.New(apierr.Conflict, "agent already connected")
	}
	b.mu.Unlock()

	proc, err := startAgentProcess(ProcessConfig{Command: command, Args: args, Cwd: cwd, Env: env})
	if err != nil {
		return nil, errSpawnFailed(err)
	}

	framing := DetectFraming(command, args)
	rpc := newRPCClient(framing, proc.stdin, defaultOutboundQueueDepth, b.handleNotify, b.handleRequest)
	go rpc.readLoop(newFrameReader(framing, proc.stdout))
	go proc.streamStderr(func(line string) { b.emit("agent_stderr", map[string]string{"line": line}) })
	go func() {
		code, signal := proc.wait()
		b.mu.Lock()
		b.proc = nil
		b.rpc = nil
		b.init = nil
		b.mu.Unlock()
		b.permissions.cancelAll()
		b.emit("agent_exit", map[string]any{"code": code, "signal": signal})
	}()

	connectCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	result, err := rpc.call(connectCtx, methodInitialize, map[string]any{
		"protocolVersion": 1,
		"clientCapabilities": map[string]any{
			"fs":       map[string]any{"readTextFile": true, "writeTextFile": true},
			"terminal": true,
		},
	})
	if err != nil {
		proc.stop()
		if connectCtx.Err() != nil {
			return nil, errConnectTimeout()
		}
		return nil, translateAgentErr(err)
	}

	var init InitResult
	if err := json.Unmarshal(result, &init); err != nil {
		proc.stop()
		return nil, apierr.New(apierr.Malformed, "agent returned malformed initialize result")
	}

	b.mu.Lock()
	b.proc = proc
	b.rpc = rpc
	b.framing = framing
	b.init = &init
	b.agentType = agentType
	b.mu.Unlock()

	b.emit("agent_initialized", init)
	return &init, nil
}

// Disconnect stops the agent child, if one is running (spec.md §4.3
// `disconnect`).
func (b *Bridge) Disconnect() error {
	b.mu.Lock()
	proc := b.proc
	b.proc = nil
	b.rpc = nil
	b.init = nil
	b.mu.Unlock()
	if proc == nil {
		return nil
	}
	proc.stop()
	b.permissions.cancelAll()
	return nil
}

// connected returns the live rpc client and agent init result, or an error
// if no agent is connected.
func (b *Bridge) connected() (*rpcClient, *InitResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.rpc == nil || b.init == nil {
		return nil, nil, errAgentNotConnected()
	}
	return b.rpc, b.init, nil
}

// AuthMethods returns the authentication methods the connected agent
// declared during `initialize`.
func (b *Bridge) AuthMethods() ([]AuthMethod, error) {
	_, init, err := b.connected()
	if err != nil {
		return nil, err
	}
	return init.AuthMethods, nil
}

// Authenticate performs `authenticate` with the chosen method id (spec.md
// §4.3 `authenticate {methodId}`).
func (b *Bridge) Authenticate(ctx context.Context, methodID string) error {
	rpc, _, err := b.connected()
	if err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
	defer cancel()
	_, err = rpc.call(callCtx, methodAuthenticate, map[string]any{"methodId": methodID})
	if err != nil {
		return translateAgentErr(err)
	}
	return nil
}

// SessionNew creates a new agent session (spec.md §4.3 `session.new
// {mcpServers?} → {sessionId, modes?, models?}`).
func (b *Bridge) SessionNew(ctx context.Context, cwd string, mcpServers []json.RawMessage) (map[string]any, error) {
	rpc, _, err := b.connected()
	if err != nil {
		return nil, err
	}
	params := map[string]any{"cwd": cwd}
	if len(mcpServers) > 0 {
		params["mcpServers"] = mcpServers
	}
	callCtx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
	defer cancel()
	result, err := rpc.call(callCtx, methodSessionNew, params)
	if err != nil {
		return nil, translateAgentErr(err)
	}

	var decoded struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(result, &decoded); err != nil {
		return nil, apierr.New(apierr.Malformed, "agent returned malformed session/new result")
	}

	b.mu.Lock()
	b.lastParams[decoded.SessionID] = marshalParams(params)
	b.mu.Unlock()
	b.store.RecordSession(decoded.SessionID)

	var out map[string]any
	_ = json.Unmarshal(result, &out)
	return out, nil
}

// SessionSelect records sessionID as the last-selected session (spec.md
// §4.3 `session.select {sessionId}`).
func (b *Bridge) SessionSelect(sessionID string) {
	b.store.RecordSession(sessionID)
}

// SessionLast returns the last-selected session id, if any.
func (b *Bridge) SessionLast() (string, bool) {
	_, last := b.store.Sessions()
	return last, last != ""
}

// SessionsList returns every known session id plus thread summaries
// (spec.md §4.3 `sessions.list`).
func (b *Bridge) SessionsList() ([]string, []ThreadSummary) {
	ids, _ := b.store.Sessions()
	return ids, b.store.ThreadSummaries()
}

// SessionDelete forgets a session locally (spec.md §4.3 `session.delete
// {sessionId}`); it does not ask the agent to delete anything, since ACP
// has no such operation.
func (b *Bridge) SessionDelete(sessionID string) {
	b.store.DeleteSession(sessionID)
	b.mu.Lock()
	delete(b.lastParams, sessionID)
	b.mu.Unlock()
}

// SessionSetMode sets a session's mode, tolerating both camelCase and
// snake_case adapter payload shapes (spec.md §4.3 `session.setMode`:
// "adapter-aware key casing").
func (b *Bridge) SessionSetMode(ctx context.Context, sessionID, modeID string) error {
	rpc, _, err := b.connected()
	if err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
	defer cancel()
	_, err = rpc.call(callCtx, methodSessionSetMode, map[string]any{
		"sessionId": sessionID,
		"modeId":    modeID,
		"mode_id":   modeID,
	})
	if err != nil {
		return translateAgentErr(err)
	}
	b.store.SetMode(sessionID, modeID)
	return nil
}

// ModelsList returns the model options the connected agent's capabilities
// advertised, if any (spec.md §4.3 `models.list`).
func (b *Bridge) ModelsList() []SessionModelOption {
	_, init, err := b.connected()
	if err != nil || init.AgentCapabilities == nil {
		return nil
	}
	var decoded struct {
		Models []SessionModelOption `json:"models"`
	}
	_ = json.Unmarshal(init.AgentCapabilities, &decoded)
	return decoded.Models
}

// ModelSelect chooses a model for subsequent prompts. It tries the ACP
// `session/select_model` RPC first; if the agent doesn't support it, it
// falls back to setting the per-agent-type environment variable for the
// next `connect` (spec.md §4 supplement "model selection").
func (b *Bridge) ModelSelect(ctx context.Context, sessionID, modelID string) error {
	rpc, _, err := b.connected()
	if err == nil {
		callCtx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
		defer cancel()
		if _, rpcErr := rpc.call(callCtx, methodModelSelect, map[string]any{
			"sessionId": sessionID,
			"modelId":   modelID,
		}); rpcErr == nil {
			return nil
		}
	}
	b.mu.RLock()
	envVar := getModelEnvVar(b.agentType)
	b.mu.RUnlock()
	if envVar == "" {
		return apierr.New(apierr.Refused, "agent does not support model selection")
	}
	return os.Setenv(envVar, modelID)
}

// defaultPromptTimeout bounds how long a single prompt's streamed
// completion is awaited in the background after it has been acknowledged,
// independent of whatever timeout the WS handler applies to the Prompt
// call itself (spec.md §4.3 "ack-then-stream").
const defaultPromptTimeout = 30 * time.Minute

// Prompt hands a prompt to the agent and returns as soon as the JSON-RPC
// request has been written to the child's stdin, without waiting for the
// agent's response; the eventual stop reason streams separately as
// session/update notifications and a final prompt_complete event via the
// Bridge's EventFunc (spec.md §4.3 "ack-then-stream": the WS response is
// sent once the call is handed to the child, not once the final response
// arrives; §8 scenario 4 "no Timeout error is produced").
func (b *Bridge) Prompt(ctx context.Context, sessionID string, blocks []ContentBlock) error {
	rpc, init, err := b.connected()
	if err != nil {
		return err
	}
	if err := ValidateContentBlocks(blocks, init.PromptCapabilities); err != nil {
		return err
	}

	params := map[string]any{"sessionId": sessionID, "prompt": blocks}
	idKey, respCh, err := rpc.submit(ctx, methodSessionPrompt, params)
	if err != nil {
		return translateAgentErr(err)
	}

	go b.awaitPrompt(rpc, idKey, respCh, sessionID, params)
	return nil
}

// awaitPrompt waits, on its own long-lived context, for the streamed
// completion of a prompt already acknowledged back to the client. On a
// session-not-found error it asks tryRecoverSession to recover exactly
// once and, if that succeeds, resubmits the same prompt under the new
// session id so the client still observes a normal completion (spec.md
// §4.3 "Session recovery", Concrete Scenario 6).
func (b *Bridge) awaitPrompt(rpc *rpcClient, idKey string, respCh chan *rpcMessage, sessionID string, params map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultPromptTimeout)
	defer cancel()

	result, err := rpc.await(ctx, idKey, respCh)
	if err != nil {
		recovered, newSessionID, recoverErr := b.tryRecoverSession(ctx, sessionID, err)
		if !recovered {
			b.emit("agent_stderr", map[string]string{"line": "prompt failed: " + translateAgentErr(err).Error()})
			return
		}
		if recoverErr != nil {
			b.emit("agent_stderr", map[string]string{"line": "session recovery failed: " + recoverErr.Error()})
			return
		}

		params["sessionId"] = newSessionID
		retryIDKey, retryRespCh, submitErr := rpc.submit(ctx, methodSessionPrompt, params)
		if submitErr != nil {
			b.emit("agent_stderr", map[string]string{"line": "prompt retry after recovery failed: " + translateAgentErr(submitErr).Error()})
			return
		}
		result, err = rpc.await(ctx, retryIDKey, retryRespCh)
		if err != nil {
			b.emit("agent_stderr", map[string]string{"line": "prompt retry after recovery failed: " + translateAgentErr(err).Error()})
			return
		}
		sessionID = newSessionID
	}

	var decoded struct {
		StopReason string `json:"stopReason"`
	}
	_ = json.Unmarshal(result, &decoded)
	b.emit("prompt_complete", map[string]any{"sessionId": sessionID, "stopReason": decoded.StopReason})
}

// tryRecoverSession implements spec.md §4.3 "Session recovery": on a
// session-not-found equivalent, it calls session/new with the last-known
// params and emits session_recovered. The caller is responsible for
// retrying the original call under the returned session id; recovery
// alone never completes the client's original request. Returns
// recovered=true if a recovery attempt was made at all.
func (b *Bridge) tryRecoverSession(ctx context.Context, sessionID string, cause error) (recovered bool, newSessionID string, err error) {
	rpcErr, ok := cause.(*agentRPCError)
	if !ok || !isSessionNotFoundError(rpcErr.raw) {
		return false, "", nil
	}
	rpc, _, connErr := b.connected()
	if connErr != nil {
		return true, "", connErr
	}

	b.mu.RLock()
	lastParams := b.lastParams[sessionID]
	b.mu.RUnlock()
	if lastParams == nil {
		return true, "", errSessionNotFound(sessionID)
	}

	result, newErr := rpc.call(ctx, methodSessionNew, json.RawMessage(lastParams))
	if newErr != nil {
		return true, "", translateAgentErr(newErr)
	}
	var decoded struct {
		SessionID string `json:"sessionId"`
	}
	_ = json.Unmarshal(result, &decoded)
	b.store.RecordSession(decoded.SessionID)
	b.mu.Lock()
	b.lastParams[decoded.SessionID] = lastParams
	b.mu.Unlock()
	b.emit("session_recovered", map[string]string{"oldSessionId": sessionID, "newSessionId": decoded.SessionID})
	return true, decoded.SessionID, nil
}

// Cancel requests cancellation of an in-flight prompt (spec.md §4.3
// `cancel {sessionId}`).
func (b *Bridge) Cancel(sessionID string) error {
	rpc, _, err := b.connected()
	if err != nil {
		return err
	}
	return rpc.notify(methodSessionCancel, map[string]any{"sessionId": sessionID})
}

// Permission resolves an outstanding permission request raised by a
// session/request_permission notification (spec.md §4.3 `permission
// {requestId, optionId}`).
func (b *Bridge) Permission(requestID, optionID string) error {
	if !b.permissions.resolve(requestID, optionID) {
		return apierr.New(apierr.NotFound, "no pending permission request with that id")
	}
	return nil
}

// handleNotify dispatches a notification read from the agent (nil id): in
// practice only session/update, persisted and forwarded. Everything else is
// logged and dropped.
func (b *Bridge) handleNotify(method string, params json.RawMessage) {
	switch method {
	case notifySessionUpdate:
		var payload struct {
			SessionID string        `json:"sessionId"`
			Update    SessionUpdate `json:"update"`
		}
		if err := json.Unmarshal(params, &payload); err != nil {
			var bare SessionUpdate
			if err2 := json.Unmarshal(params, &bare); err2 == nil {
				b.emit("session_update", map[string]any{"sessionId": "", "update": bare})
			}
			return
		}
		b.store.AppendThreadEvent(payload.SessionID, payload.Update)
		b.emit("session_update", map[string]any{"sessionId": payload.SessionID, "update": payload.Update})

	default:
		slog.Debug("acp: unhandled notification from agent", "method", method)
	}
}

// handleRequest dispatches an inbound JSON-RPC request from the agent
// itself: a message carrying both a method and the agent's own id, as
// opposed to a notification (no id) or a response to a call we issued
// (id drawn from our own pending map). The only request ACP agents send
// is session/request_permission; it must be answered with a correlated
// JSON-RPC response, not a fire-and-forget notification (spec.md §3, §4.3,
// §8 "Permission response exactness").
func (b *Bridge) handleRequest(method string, id json.Number, params json.RawMessage) {
	switch method {
	case notifyPermissionRequest:
		b.handlePermissionRequest(id, params)
	default:
		slog.Debug("acp: unhandled request from agent", "method", method)
	}
}

func (b *Bridge) handlePermissionRequest(id json.Number, params json.RawMessage) {
	var req PermissionRequest
	if err := json.Unmarshal(params, &req); err != nil {
		slog.Warn("acp: malformed permission request", "error", err)
		return
	}
	requestID, resolveCh := b.permissions.register()
	b.emit("permission_request", map[string]any{
		"requestId": requestID,
		"sessionId": req.SessionID,
		"toolCall":  req.ToolCall,
		"options":   req.Options,
	})
	go func() {
		res := <-resolveCh
		rpc, _, err := b.connected()
		if err != nil {
			return
		}
		outcome := map[string]any{"outcome": "cancelled"}
		if res.Outcome == "selected" {
			outcome["outcome"] = map[string]any{"outcome": "selected", "optionId": res.OptionID}
		}
		if err := rpc.respond(id, outcome, nil); err != nil {
			slog.Warn("acp: failed to send permission response", "error", err)
		}
	}()
}

// DiffApply writes newText to path, enforcing that path resolves inside the
// bridge's workspace root, atomically (write-temp-then-rename) so a partial
// write can never be observed (spec.md §4.3 `diff.apply`).
func (b *Bridge) DiffApply(path, newText string) error {
	absRoot, err := filepath.Abs(b.workspaceRoot)
	if err != nil {
		return apierr.Wrap(apierr.Malformed, "cannot resolve workspace root", err)
	}
	absPath, err := filepath.Abs(filepath.Join(b.workspaceRoot, path))
	if err != nil {
		return apierr.Wrap(apierr.Malformed, "cannot resolve target path", err)
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == ".." || (len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)) {
		return apierr.New(apierr.Refused, "path escapes workspace root")
	}

	tmp := absPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(newText), 0o644); err != nil {
		return apierr.Wrap(apierr.Upstream, "failed to write diff", err)
	}
	if err := os.Rename(tmp, absPath); err != nil {
		return apierr.Wrap(apierr.Upstream, "failed to apply diff", err)
	}
	return nil
}

// TerminalCreate, TerminalOutput, TerminalKill, TerminalRelease, and
// TerminalWaitForExit pass the corresponding `terminal/*` calls straight
// through to the agent (spec.md §4.3 "terminal.* pass-through").
func (b *Bridge) TerminalCreate(ctx context.Context, sessionID, command string, args []string, cwd string, env []string) (json.RawMessage, error) {
	return b.terminalCall(ctx, methodTerminalCreate, map[string]any{
		"sessionId": sessionID, "command": command, "args": args, "cwd": cwd, "env": env,
	})
}

func (b *Bridge) TerminalOutput(ctx context.Context, terminalID string) (json.RawMessage, error) {
	return b.terminalCall(ctx, methodTerminalOutput, map[string]any{"terminalId": terminalID})
}

func (b *Bridge) TerminalKill(ctx context.Context, terminalID string) (json.RawMessage, error) {
	return b.terminalCall(ctx, methodTerminalKill, map[string]any{"terminalId": terminalID})
}

func (b *Bridge) TerminalRelease(ctx context.Context, terminalID string) (json.RawMessage, error) {
	return b.terminalCall(ctx, methodTerminalRelease, map[string]any{"terminalId": terminalID})
}

func (b *Bridge) TerminalWaitForExit(ctx context.Context, terminalID string) (json.RawMessage, error) {
	return b.terminalCall(ctx, methodTerminalWait, map[string]any{"terminalId": terminalID})
}

func (b *Bridge) terminalCall(ctx context.Context, method string, params any) (json.RawMessage, error) {
	rpc, _, err := b.connected()
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
	defer cancel()
	result, err := rpc.call(callCtx, method, params)
	if err != nil {
		return nil, translateAgentErr(err)
	}
	return result, nil
}
