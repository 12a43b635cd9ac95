// Package acp bridges WebSocket clients to exactly one ACP (Agent Client
// Protocol) agent subprocess, speaking JSON-RPC 2.0 over its stdio
// (spec.md §4.3).
package acp

import "encoding/json"

// JSON-RPC 2.0 envelope, reproduced by hand rather than taken from an SDK
// so the framing choice below (NDJSON vs. LSP Content-Length) can be made
// per-connection instead of being baked into a constructor — see
// DESIGN.md's entry on why github.com/coder/acp-go-sdk was dropped.
type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *json.Number    `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// JSON-RPC method and notification names exchanged with the agent, named
// the way the Agent Client Protocol spec names them.
const (
	methodInitialize      = "initialize"
	methodAuthenticate    = "authenticate"
	methodSessionNew      = "session/new"
	methodSessionLoad     = "session/load"
	methodSessionPrompt   = "session/prompt"
	methodSessionSetMode  = "session/set_mode"
	methodSessionCancel   = "session/cancel"
	methodModelSelect     = "session/select_model"
	methodTerminalCreate  = "terminal/create"
	methodTerminalOutput  = "terminal/output"
	methodTerminalKill    = "terminal/kill"
	methodTerminalRelease = "terminal/release"
	methodTerminalWait    = "terminal/wait_for_exit"

	notifySessionUpdate     = "session/update"
	notifyPermissionRequest = "session/request_permission"
)

// PromptCapabilities are the content-block kinds an agent declares support
// for (spec.md §4.3 "prompt-capability flags").
type PromptCapabilities struct {
	Image           bool `json:"image"`
	Audio           bool `json:"audio"`
	EmbeddedContext bool `json:"embeddedContext"`
}

// InitResult is the bridge-facing projection of the agent's `initialize`
// response (spec.md §4.3 `connect` → `{ok, init}`).
type InitResult struct {
	ProtocolVersion    int                `json:"protocolVersion"`
	PromptCapabilities PromptCapabilities `json:"promptCapabilities"`
	AuthMethods        []AuthMethod       `json:"authMethods"`
	AgentCapabilities  json.RawMessage    `json:"agentCapabilities,omitempty"`
}

// AuthMethod is one authentication option the agent declares.
type AuthMethod struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// SessionMode is one entry of the mode set an agent session may declare
// (spec.md §4.3 `session.new` → `{..., modes?}`).
type SessionMode struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SessionModelOption is one entry of the model set `models.list` returns.
type SessionModelOption struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ToolCallLocation is a file/line reference attached to a tool call.
type ToolCallLocation struct {
	Path string `json:"path"`
	Line *int   `json:"line,omitempty"`
}

// ToolCall is the agent's description of one tool invocation, surfaced in
// a session/update notification.
type ToolCall struct {
	ToolCallID string             `json:"toolCallId"`
	Kind       string             `json:"kind,omitempty"`
	Status     string             `json:"status,omitempty"`
	Title      string             `json:"title,omitempty"`
	Content    []ToolCallContent  `json:"content,omitempty"`
	Locations  []ToolCallLocation `json:"locations,omitempty"`
}

// ToolCallContent is one content entry attached to a ToolCall, either a
// plain content block or a diff.
type ToolCallContent struct {
	Type    string        `json:"type"`
	Content *ContentBlock `json:"content,omitempty"`
	Diff    *ToolCallDiff `json:"diff,omitempty"`
}

// ToolCallDiff describes a proposed file edit surfaced inside a tool call.
type ToolCallDiff struct {
	Path    string `json:"path"`
	OldText string `json:"oldText,omitempty"`
	NewText string `json:"newText"`
}

// SessionUpdate is the payload of a `session/update` notification (spec.md
// §4.3 "the bridge normalizes both {sessionId, update} and bare-update
// variants into the former shape").
type SessionUpdate struct {
	SessionUpdate     string          `json:"sessionUpdate"`
	UserMessageChunk  *MessageChunk   `json:"-"`
	AgentMessageChunk *MessageChunk   `json:"-"`
	ToolCall          *ToolCall       `json:"-"`
	ToolCallUpdate    *ToolCallUpdate `json:"-"`
	Raw               json.RawMessage `json:"-"`
}

// MessageChunk wraps one content block of a user/agent message chunk
// update.
type MessageChunk struct {
	Content ContentBlock `json:"content"`
}

// ToolCallUpdate is a partial update to a previously announced ToolCall.
type ToolCallUpdate struct {
	ToolCallID string             `json:"toolCallId"`
	Kind       *string            `json:"kind,omitempty"`
	Status     *string            `json:"status,omitempty"`
	Content    []ToolCallContent  `json:"content,omitempty"`
	Locations  []ToolCallLocation `json:"locations,omitempty"`
}

// PermissionOption is one choice offered by a permission request. The
// agent's wire shape keys the option id as "optionId" (spec.md §8 scenario
// 5: {optionId:"a", name:"Allow", kind:"allow_once"}).
type PermissionOption struct {
	ID   string `json:"optionId"`
	Name string `json:"name"`
	Kind string `json:"kind,omitempty"`
}

// PermissionRequest is the agent's request for tool-call permission,
// carried in a session/request_permission notification.
type PermissionRequest struct {
	SessionID string             `json:"sessionId"`
	ToolCall  ToolCall           `json:"toolCall"`
	Options   []PermissionOption `json:"options"`
}
