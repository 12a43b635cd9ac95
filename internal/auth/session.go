package auth

import (
	"sync"
	"time"
)

// Gate tracks which WS connection ids have completed the shared-token
// handshake, so the multiplexer can require auth on every envelope except
// `ping`/`auth` until a connection clears it. Adapted from
// vm-agent/internal/auth.SessionManager's LRU-capacity-plus-sweep shape,
// simplified from cookie sessions to a bare authenticated-id set since
// this daemon has no HTTP session concept, only WS connections.
type Gate struct {
	mu              sync.RWMutex
	authenticated   map[string]time.Time // connectionID -> expiresAt
	order           []string
	maxEntries      int
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// NewGate constructs a Gate with the given capacity, sweeping expired
// entries every cleanupInterval.
func NewGate(maxEntries int, cleanupInterval time.Duration) *Gate {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	g := &Gate{
		authenticated:   make(map[string]time.Time),
		maxEntries:      maxEntries,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
	}
	go g.cleanup()
	return g
}

// Admit marks connectionID as authenticated for ttl.
func (g *Gate) Admit(connectionID string, ttl time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for len(g.authenticated) >= g.maxEntries && len(g.order) > 0 {
		oldest := g.order[0]
		g.order = g.order[1:]
		delete(g.authenticated, oldest)
	}

	if _, exists := g.authenticated[connectionID]; !exists {
		g.order = append(g.order, connectionID)
	}
	g.authenticated[connectionID] = time.Now().Add(ttl)
}

// Allowed reports whether connectionID has a current, unexpired admission.
func (g *Gate) Allowed(connectionID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	expiresAt, ok := g.authenticated[connectionID]
	if !ok {
		return false
	}
	return time.Now().Before(expiresAt)
}

// Revoke removes connectionID's admission, e.g. on disconnect.
func (g *Gate) Revoke(connectionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.authenticated, connectionID)
}

// Count returns the number of currently-tracked admissions (including
// expired-but-not-yet-swept ones), for status reporting.
func (g *Gate) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.authenticated)
}

func (g *Gate) cleanup() {
	ticker := time.NewTicker(g.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.mu.Lock()
			now := time.Now()
			newOrder := make([]string, 0, len(g.order))
			for _, id := range g.order {
				expiresAt, exists := g.authenticated[id]
				if exists && now.After(expiresAt) {
					delete(g.authenticated, id)
					continue
				}
				if exists {
					newOrder = append(newOrder, id)
				}
			}
			g.order = newOrder
			g.mu.Unlock()
		case <-g.stopCleanup:
			return
		}
	}
}

// Stop terminates the background sweep goroutine.
func (g *Gate) Stop() {
	g.stopOnce.Do(func() { close(g.stopCleanup) })
}
