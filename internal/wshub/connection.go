package wshub

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sourcegraph/conc"
)

const (
	outboundQueueDepth = 256
	pingInterval       = 20 * time.Second
	pongTimeout        = 60 * time.Second
)

// pendingRequest is the server-side record of an in-flight request id
// (spec.md §3 "Pending request").
type pendingRequest struct {
	deadline time.Time
	timer    *time.Timer
}

// Connection is one client-facing WS session (spec.md §3 "Connection").
// Each owns a single writer serialized through a bounded outbound queue,
// a reader goroutine, and a heartbeat goroutine (spec.md §5).
type Connection struct {
	ID          string
	RemoteAddr  string
	Origin      string
	ConnectedAt time.Time

	conn *websocket.Conn
	hub  *Hub

	outbound chan Envelope
	done     chan struct{}

	mu         sync.Mutex
	lastPong   time.Time
	pending    map[string]*pendingRequest
	closed     bool
	closeOnce  sync.Once
	wg         conc.WaitGroup
	authorized bool
}

func newConnection(hub *Hub, conn *websocket.Conn, origin string) *Connection {
	remote := ""
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		remote = addr.String()
	} else if conn.RemoteAddr() != nil {
		remote = conn.RemoteAddr().String()
	}

	c := &Connection{
		ID:          uuid.NewString(),
		RemoteAddr:  remote,
		Origin:      origin,
		ConnectedAt: time.Now(),
		conn:        conn,
		hub:         hub,
		outbound:    make(chan Envelope, outboundQueueDepth),
		done:        make(chan struct{}),
		lastPong:    time.Now(),
		pending:     make(map[string]*pendingRequest),
	}
	return c
}

// enqueue places env on the outbound queue. On overflow (a slow
// connection), the connection is closed per spec.md §4.1 broadcast
// semantics ("on backpressure, the connection is closed"). Safe to call
// after Close: the done channel guards against sending into a drained
// queue.
func (c *Connection) enqueue(env Envelope) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.outbound <- env:
	case <-c.done:
	default:
		slog.Warn("wshub: outbound queue full, closing connection", "connection_id", c.ID)
		c.Close()
	}
}

func (c *Connection) run() {
	c.wg.Go(c.writeLoop)
	c.wg.Go(c.heartbeatLoop)
	c.readLoop()
	c.Close()
	c.wg.Wait()
}

func (c *Connection) writeLoop() {
	for {
		select {
		case env := <-c.outbound:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(env); err != nil {
				slog.Debug("wshub: write error", "connection_id", c.ID, "error", err)
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Connection) heartbeatLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	c.conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
		return nil
	})

	for range ticker.C {
		c.mu.Lock()
		closed := c.closed
		sincePong := time.Since(c.lastPong)
		c.mu.Unlock()
		if closed {
			return
		}
		if sincePong > pongTimeout {
			slog.Info("wshub: pong timeout, closing connection", "connection_id", c.ID)
			c.Close()
			return
		}
		c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			c.Close()
			return
		}
	}
}

func (c *Connection) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.hub.handleInbound(c, data)
	}
}

// Close tears the connection down exactly once: closes the outbound
// queue, cancels pending request timers, and closes the socket.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		for id, p := range c.pending {
			p.timer.Stop()
			delete(c.pending, id)
		}
		c.mu.Unlock()

		close(c.done)
		c.conn.Close()
		c.hub.unregisterConnection(c)
	})
}
