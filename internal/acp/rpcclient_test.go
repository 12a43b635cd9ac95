package acp

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPipedRPCClient wires an rpcClient to one end of an in-memory duplex
// pipe and returns a frame reader/writer pair for the other end, standing
// in for the agent subprocess without spawning one.
func newPipedRPCClient(t *testing.T, onNotify func(string, json.RawMessage), onRequest func(string, json.Number, json.RawMessage)) (rpc *rpcClient, agentReader *frameReader, agentWriter *frameWriter) {
	t.Helper()
	clientConn, agentConn := net.Pipe()
	t.Cleanup(func() {
		clientConn.Close()
		agentConn.Close()
	})

	rpc = newRPCClient(FramingNDJSON, clientConn, defaultOutboundQueueDepth, onNotify, onRequest)
	go rpc.readLoop(newFrameReader(FramingNDJSON, clientConn))

	agentReader = newFrameReader(FramingNDJSON, agentConn)
	agentWriter = newFrameWriter(FramingNDJSON, agentConn)
	return rpc, agentReader, agentWriter
}

func TestRPCClientCallRoundTrips(t *testing.T) {
	rpc, agentReader, agentWriter := newPipedRPCClient(t, nil, nil)

	go func() {
		raw, err := agentReader.ReadMessage()
		require.NoError(t, err)
		var msg rpcMessage
		require.NoError(t, json.Unmarshal(raw, &msg))
		resp, err := json.Marshal(rpcMessage{JSONRPC: "2.0", ID: msg.ID, Result: json.RawMessage(`{"ok":true}`)})
		require.NoError(t, err)
		require.NoError(t, agentWriter.WriteMessage(resp))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := rpc.call(ctx, "ping", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result))
}

// TestRPCClientSubmitAcksBeforeResponseArrives pins down the ack-then-stream
// contract: submit must return once the write to the agent succeeds, not
// once the agent's response arrives.
func TestRPCClientSubmitAcksBeforeResponseArrives(t *testing.T) {
	rpc, agentReader, agentWriter := newPipedRPCClient(t, nil, nil)

	released := make(chan struct{})
	go func() {
		raw, err := agentReader.ReadMessage()
		require.NoError(t, err)
		var msg rpcMessage
		require.NoError(t, json.Unmarshal(raw, &msg))
		<-released
		resp, err := json.Marshal(rpcMessage{JSONRPC: "2.0", ID: msg.ID, Result: json.RawMessage(`{"stopReason":"end_turn"}`)})
		require.NoError(t, err)
		require.NoError(t, agentWriter.WriteMessage(resp))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type submission struct {
		idKey  string
		respCh chan *rpcMessage
		err    error
	}
	submitDone := make(chan submission, 1)
	go func() {
		idKey, respCh, err := rpc.submit(ctx, "session/prompt", nil)
		submitDone <- submission{idKey, respCh, err}
	}()

	var s submission
	select {
	case s = <-submitDone:
	case <-time.After(time.Second):
		t.Fatal("submit blocked on the agent's response instead of returning once the write succeeded")
	}
	require.NoError(t, s.err)

	close(released)
	result, err := rpc.await(ctx, s.idKey, s.respCh)
	require.NoError(t, err)
	assert.JSONEq(t, `{"stopReason":"end_turn"}`, string(result))
}

// TestRPCClientReadLoopRoutesInboundRequestToOnRequest covers the case the
// agent initiates: a message with both an id (the agent's own) and a
// method, which must reach onRequest rather than being dropped as an
// unmatched response or ignored as a notification.
func TestRPCClientReadLoopRoutesInboundRequestToOnRequest(t *testing.T) {
	type captured struct {
		method string
		id     json.Number
		params json.RawMessage
	}
	got := make(chan captured, 1)
	onRequest := func(method string, id json.Number, params json.RawMessage) {
		got <- captured{method, id, params}
	}
	_, _, agentWriter := newPipedRPCClient(t, nil, onRequest)

	idNum := json.Number("7")
	req, err := json.Marshal(rpcMessage{
		JSONRPC: "2.0",
		ID:      &idNum,
		Method:  "session/request_permission",
		Params:  json.RawMessage(`{"sessionId":"s1","toolCall":{"toolCallId":"t1"},"options":[{"optionId":"a","name":"Allow"}]}`),
	})
	require.NoError(t, err)
	require.NoError(t, agentWriter.WriteMessage(req))

	select {
	case c := <-got:
		assert.Equal(t, "session/request_permission", c.method)
		assert.Equal(t, idNum, c.id)
	case <-time.After(time.Second):
		t.Fatal("onRequest was never invoked for an inbound agent request")
	}
}

// TestRPCClientRespondSendsCorrelatedResponse checks that respond answers
// with the agent's own id and no method, as a JSON-RPC response requires.
func TestRPCClientRespondSendsCorrelatedResponse(t *testing.T) {
	rpc, agentReader, _ := newPipedRPCClient(t, nil, nil)

	type read struct {
		raw []byte
		err error
	}
	readDone := make(chan read, 1)
	go func() {
		raw, err := agentReader.ReadMessage()
		readDone <- read{raw, err}
	}()

	require.NoError(t, rpc.respond(json.Number("42"), map[string]any{"outcome": "cancelled"}, nil))

	r := <-readDone
	require.NoError(t, r.err)
	var msg rpcMessage
	require.NoError(t, json.Unmarshal(r.raw, &msg))
	assert.Empty(t, msg.Method)
	require.NotNil(t, msg.ID)
	assert.Equal(t, json.Number("42"), *msg.ID)
	assert.JSONEq(t, `{"outcome":"cancelled"}`, string(msg.Result))
}
