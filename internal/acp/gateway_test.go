package acp

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubInitializeScript is a minimal shell "agent" that reads one NDJSON
// request line and replies with a fixed initialize result, regardless of
// its contents, to exercise the bridge's connect path without a real ACP
// agent binary on PATH.
const stubInitializeScript = `read line
printf '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":1,"promptCapabilities":{"image":false,"audio":false,"embeddedContext":false},"authMethods":[]}}\n'
cat >/dev/null
`

func skipOnWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("stub agent script requires a POSIX shell")
	}
}

func newTestBridge(t *testing.T) *Bridge {
	store, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	return NewBridge(store, t.TempDir(), nil)
}

func TestBridgeConnectPerformsInitialize(t *testing.T) {
	skipOnWindows(t)
	b := newTestBridge(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	init, err := b.Connect(ctx, "stub", "sh", []string{"-c", stubInitializeScript, "--", "claude-code-acp"}, nil, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 1, init.ProtocolVersion)

	require.NoError(t, b.Disconnect())
}

func TestBridgeConnectTwiceFailsWhileConnected(t *testing.T) {
	skipOnWindows(t)
	b := newTestBridge(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := b.Connect(ctx, "stub", "sh", []string{"-c", stubInitializeScript, "--", "claude-code-acp"}, nil, t.TempDir())
	require.NoError(t, err)
	defer b.Disconnect()

	_, err = b.Connect(ctx, "stub", "sh", []string{"-c", stubInitializeScript, "--", "claude-code-acp"}, nil, t.TempDir())
	require.Error(t, err)
}

func TestBridgeOperationsFailWithoutConnection(t *testing.T) {
	b := newTestBridge(t)
	_, err := b.AuthMethods()
	assert.Error(t, err)

	err = b.Cancel("sess-1")
	assert.Error(t, err)
}

func TestBridgeDiffApplyWritesWithinWorkspaceRoot(t *testing.T) {
	root := t.TempDir()
	store, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	b := NewBridge(store, root, nil)

	require.NoError(t, b.DiffApply("notes.txt", "hello"))

	data, err := os.ReadFile(filepath.Join(root, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestBridgeDiffApplyRejectsEscapingPath(t *testing.T) {
	root := t.TempDir()
	store, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	b := NewBridge(store, root, nil)

	err = b.DiffApply("../outside.txt", "hello")
	assert.Error(t, err)
}

func TestBridgePermissionRejectsUnknownRequestID(t *testing.T) {
	b := newTestBridge(t)
	err := b.Permission("nope", "allow")
	assert.Error(t, err)
}

// permissionRoundTripScript answers initialize, then on the prompt request
// raises a real session/request_permission *request* (its own id, 100) and
// only completes the original prompt, echoing the prompt request's own id
// back, once it has read a correlated response to that request.
const permissionRoundTripScript = `read initLine
printf '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":1,"promptCapabilities":{"image":false,"audio":false,"embeddedContext":false},"authMethods":[]}}\n'
read promptLine
promptID=$(printf '%s' "$promptLine" | grep -o '"id":[0-9]*' | head -1 | cut -d: -f2)
printf '{"jsonrpc":"2.0","id":100,"method":"session/request_permission","params":{"sessionId":"s1","toolCall":{"toolCallId":"t1"},"options":[{"optionId":"a","name":"Allow","kind":"allow_once"}]}}\n'
read permLine
printf '{"jsonrpc":"2.0","id":'"$promptID"',"result":{"stopReason":"end_turn"}}\n'
cat >/dev/null
`

// TestBridgePromptAcksImmediatelyAndStreamsPermissionRoundTrip exercises the
// ack-then-stream contract end to end against a real request/response id
// pair: Prompt must return almost immediately (the write, not the agent's
// eventual answer), a permission_request event must carry a request id that
// Permission can resolve, and the resolution must travel back to the agent
// as a JSON-RPC response correlated to the agent's own request id, which
// only then unblocks the agent's completion of the original prompt.
func TestBridgePromptAcksImmediatelyAndStreamsPermissionRoundTrip(t *testing.T) {
	skipOnWindows(t)

	var mu sync.Mutex
	permissionSeen := make(chan map[string]any, 1)
	promptComplete := make(chan map[string]any, 1)

	store, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	b := NewBridge(store, t.TempDir(), func(eventType string, data any) {
		mu.Lock()
		defer mu.Unlock()
		switch eventType {
		case "permission_request":
			permissionSeen <- data.(map[string]any)
		case "prompt_complete":
			promptComplete <- data.(map[string]any)
		}
	})

	connectCtx, connectCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer connectCancel()
	_, err = b.Connect(connectCtx, "stub", "sh", []string{"-c", permissionRoundTripScript, "--", "claude-code-acp"}, nil, t.TempDir())
	require.NoError(t, err)
	defer b.Disconnect()

	promptCtx, promptCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer promptCancel()

	start := time.Now()
	err = b.Prompt(promptCtx, "s1", []ContentBlock{{Type: "text", Text: "hi"}})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "Prompt must ack once the write succeeds, not once the agent answers")

	var permPayload map[string]any
	select {
	case permPayload = <-permissionSeen:
	case <-time.After(2 * time.Second):
		t.Fatal("permission_request was never emitted")
	}
	requestID, _ := permPayload["requestId"].(string)
	require.NotEmpty(t, requestID)

	require.NoError(t, b.Permission(requestID, "a"))

	select {
	case complete := <-promptComplete:
		assert.Equal(t, "end_turn", complete["stopReason"])
	case <-time.After(2 * time.Second):
		t.Fatal("prompt_complete was never emitted after the permission round trip")
	}
}

// sessionRecoveryScript answers initialize and session/new normally, fails
// the first prompt with a session-not-found error, answers the recovery
// session/new with a fresh session id, and only then answers a *second*
// prompt request, proving the bridge actually retried it.
const sessionRecoveryScript = `read initLine
printf '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":1,"promptCapabilities":{"image":false,"audio":false,"embeddedContext":false},"authMethods":[]}}\n'
read sessionNewLine
printf '{"jsonrpc":"2.0","id":2,"result":{"sessionId":"s1"}}\n'
read promptLine1
printf '{"jsonrpc":"2.0","id":3,"error":{"code":-32001,"message":"session not found"}}\n'
read recoverLine
printf '{"jsonrpc":"2.0","id":4,"result":{"sessionId":"s2"}}\n'
read promptLine2
printf '{"jsonrpc":"2.0","id":5,"result":{"stopReason":"end_turn"}}\n'
cat >/dev/null
`

// TestBridgePromptRetriesAfterSessionRecovery covers Concrete Scenario 6:
// after a session-not-found error, the bridge recovers via session/new and
// must retry the original prompt under the new session id so the client's
// single Prompt call still sees a normal completion.
func TestBridgePromptRetriesAfterSessionRecovery(t *testing.T) {
	skipOnWindows(t)

	recovered := make(chan map[string]string, 1)
	complete := make(chan map[string]any, 1)

	store, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	b := NewBridge(store, t.TempDir(), func(eventType string, data any) {
		switch eventType {
		case "session_recovered":
			recovered <- data.(map[string]string)
		case "prompt_complete":
			complete <- data.(map[string]any)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = b.Connect(ctx, "stub", "sh", []string{"-c", sessionRecoveryScript, "--", "claude-code-acp"}, nil, t.TempDir())
	require.NoError(t, err)
	defer b.Disconnect()

	_, err = b.SessionNew(ctx, t.TempDir(), nil)
	require.NoError(t, err)

	promptCtx, promptCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer promptCancel()
	require.NoError(t, b.Prompt(promptCtx, "s1", []ContentBlock{{Type: "text", Text: "hi"}}))

	select {
	case r := <-recovered:
		assert.Equal(t, "s1", r["oldSessionId"])
		assert.Equal(t, "s2", r["newSessionId"])
	case <-time.After(2 * time.Second):
		t.Fatal("session_recovered was never emitted")
	}

	select {
	case c := <-complete:
		assert.Equal(t, "s2", c["sessionId"])
		assert.Equal(t, "end_turn", c["stopReason"])
	case <-time.After(2 * time.Second):
		t.Fatal("prompt never completed after session recovery")
	}
}
