package acp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strconv"
	"sync"

	"github.com/on-the-go/daemon/internal/apierr"
)

const defaultOutboundQueueDepth = 1000

// agentRPCError wraps one JSON-RPC error response from the agent, kept
// structured (rather than converted to apierr immediately) so the bridge's
// recovery logic can inspect the original code/message before deciding how
// to surface it.
type agentRPCError struct {
	raw *rpcError
}

func (e *agentRPCError) Error() string { return e.raw.Message }

// rpcClient is the single-writer JSON-RPC 2.0 client over the agent
// child's stdio (spec.md §4.3 "Concurrency"): one id sequence, a bounded
// outbound queue, and dispatch of responses to awaiters by id and
// notifications to a single handler by method.
type rpcClient struct {
	writer *frameWriter
	jobs   chan outboundJob

	onNotify  func(method string, params json.RawMessage)
	onRequest func(method string, id json.Number, params json.RawMessage)

	mu      sync.Mutex
	nextID  int64
	pending map[string]chan *rpcMessage
	closed  bool
}

type outboundJob struct {
	body  []byte
	errCh chan error
}

func newRPCClient(framing Framing, stdin io.Writer, queueDepth int, onNotify func(string, json.RawMessage), onRequest func(string, json.Number, json.RawMessage)) *rpcClient {
	if queueDepth <= 0 {
		queueDepth = defaultOutboundQueueDepth
	}
	c := &rpcClient{
		writer:    newFrameWriter(framing, stdin),
		jobs:      make(chan outboundJob, queueDepth),
		onNotify:  onNotify,
		onRequest: onRequest,
		pending:   make(map[string]chan *rpcMessage),
	}
	go c.writeLoop()
	return c
}

func (c *rpcClient) writeLoop() {
	for job := range c.jobs {
		job.errCh <- c.writer.WriteMessage(job.body)
	}
}

// submit enqueues a JSON-RPC request and returns as soon as the write to
// the child's stdin has succeeded, without waiting for the agent's
// response (spec.md §4.3 "ack-then-stream": the caller can acknowledge the
// client the moment the request is handed to the child). The returned
// channel later receives the correlated response; pass it to await.
func (c *rpcClient) submit(ctx context.Context, method string, params any) (idKey string, respCh chan *rpcMessage, err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", nil, errAgentNotConnected()
	}
	c.nextID++
	idKey = strconv.FormatInt(c.nextID, 10)
	respCh = make(chan *rpcMessage, 1)
	c.pending[idKey] = respCh
	c.mu.Unlock()

	idNum := json.Number(idKey)
	body, err := json.Marshal(rpcMessage{JSONRPC: "2.0", ID: &idNum, Method: method, Params: marshalParams(params)})
	if err != nil {
		c.dropPending(idKey)
		return "", nil, err
	}

	errCh := make(chan error, 1)
	select {
	case c.jobs <- outboundJob{body: body, errCh: errCh}:
	default:
		c.dropPending(idKey)
		return "", nil, apierr.New(apierr.Unavailable, "acp outbound queue full")
	}

	select {
	case err := <-errCh:
		if err != nil {
			c.dropPending(idKey)
			return "", nil, err
		}
	case <-ctx.Done():
		c.dropPending(idKey)
		return "", nil, ctx.Err()
	}

	return idKey, respCh, nil
}

// await blocks for the response to a request previously started with
// submit, subject to ctx's deadline. It may be called with a context
// independent of (and longer-lived than) the one submit was given.
func (c *rpcClient) await(ctx context.Context, idKey string, respCh chan *rpcMessage) (json.RawMessage, error) {
	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, &agentRPCError{raw: resp.Error}
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.dropPending(idKey)
		return nil, ctx.Err()
	}
}

// call issues a JSON-RPC request and blocks for its response, subject to
// ctx's deadline. A full outbound queue fails fast rather than blocking
// (spec.md §4.3 "excess requests fail fast").
func (c *rpcClient) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	idKey, respCh, err := c.submit(ctx, method, params)
	if err != nil {
		return nil, err
	}
	return c.await(ctx, idKey, respCh)
}

// respond answers an inbound JSON-RPC request from the agent, correlated
// by the request's own id (spec.md §3 "the original JSON-RPC request is
// answered"; §8 "Permission response exactness"). Unlike notify, this
// carries the agent's id, not one of ours.
func (c *rpcClient) respond(id json.Number, result any, rpcErr *rpcError) error {
	msg := rpcMessage{JSONRPC: "2.0", ID: &id, Error: rpcErr}
	if rpcErr == nil {
		msg.Result = marshalParams(result)
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	select {
	case c.jobs <- outboundJob{body: body, errCh: errCh}:
	default:
		return apierr.New(apierr.Unavailable, "acp outbound queue full")
	}
	return <-errCh
}

// notify sends a JSON-RPC notification (no id, no response expected).
func (c *rpcClient) notify(method string, params any) error {
	body, err := json.Marshal(rpcMessage{JSONRPC: "2.0", Method: method, Params: marshalParams(params)})
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	select {
	case c.jobs <- outboundJob{body: body, errCh: errCh}:
	default:
		return apierr.New(apierr.Unavailable, "acp outbound queue full")
	}
	return <-errCh
}

func (c *rpcClient) dropPending(idKey string) {
	c.mu.Lock()
	delete(c.pending, idKey)
	c.mu.Unlock()
}

// readLoop dispatches every message read from the agent's stdout until the
// stream ends, then resolves every still-pending call with the read error.
func (c *rpcClient) readLoop(reader *frameReader) {
	for {
		raw, err := reader.ReadMessage()
		if err != nil {
			c.closeAll(err)
			return
		}
		if len(raw) == 0 {
			continue
		}
		var msg rpcMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			slog.Warn("acp: malformed message from agent", "error", err)
			continue
		}

		if msg.ID == nil {
			if msg.Method != "" && c.onNotify != nil {
				c.onNotify(msg.Method, msg.Params)
			}
			continue
		}

		if msg.Method != "" {
			// An inbound request from the agent itself (e.g.
			// session/request_permission), not a response to one of our
			// own calls: it carries its own id, which the handler must
			// echo back via respond.
			if c.onRequest != nil {
				c.onRequest(msg.Method, *msg.ID, msg.Params)
			}
			continue
		}

		idKey := string(*msg.ID)
		c.mu.Lock()
		ch, ok := c.pending[idKey]
		if ok {
			delete(c.pending, idKey)
		}
		c.mu.Unlock()
		if ok {
			m := msg
			ch <- &m
		}
	}
}

func (c *rpcClient) closeAll(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]chan *rpcMessage)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- &rpcMessage{Error: &rpcError{Code: -32000, Message: errString(cause)}}
	}
}

func errString(err error) string {
	if err == nil {
		return "agent connection closed"
	}
	return err.Error()
}
