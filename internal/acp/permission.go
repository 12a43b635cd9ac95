package acp

import (
	"strconv"
	"sync"
	"sync/atomic"
)

// permissionResolution is how a pending permission request was settled:
// either the client chose an option, or the request was cancelled (agent
// disconnected, session cancelled).
type permissionResolution struct {
	Outcome  string // "selected" | "cancelled"
	OptionID string
}

type pendingPermission struct {
	resolve chan permissionResolution
}

// permissionTracker assigns monotonically increasing local request ids to
// outstanding permission requests and stashes a resolver channel for each,
// so a later `permission {requestId, optionId}` call can be matched back to
// the notification that produced it (spec.md §4.3 "monotonic local request
// ids").
type permissionTracker struct {
	mu      sync.Mutex
	nextID  int64
	pending map[string]*pendingPermission
}

func newPermissionTracker() *permissionTracker {
	return &permissionTracker{pending: make(map[string]*pendingPermission)}
}

func (t *permissionTracker) register() (string, chan permissionResolution) {
	id := atomic.AddInt64(&t.nextID, 1)
	idStr := strconv.FormatInt(id, 10)
	ch := make(chan permissionResolution, 1)
	t.mu.Lock()
	t.pending[idStr] = &pendingPermission{resolve: ch}
	t.mu.Unlock()
	return idStr, ch
}

func (t *permissionTracker) resolve(requestID, optionID string) bool {
	t.mu.Lock()
	p, ok := t.pending[requestID]
	if ok {
		delete(t.pending, requestID)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	p.resolve <- permissionResolution{Outcome: "selected", OptionID: optionID}
	return true
}

// cancelAll resolves every outstanding request as cancelled, used when the
// agent disconnects or exits out from under a pending permission prompt.
func (t *permissionTracker) cancelAll() {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[string]*pendingPermission)
	t.mu.Unlock()
	for _, p := range pending {
		p.resolve <- permissionResolution{Outcome: "cancelled"}
	}
}
