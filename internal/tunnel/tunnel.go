package tunnel

import (
	"context"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a Tunnel's lifecycle state (spec.md §3 "Tunnel").
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateError    State = "error"
)

// Kind distinguishes a quick (ephemeral, no pre-registered name) tunnel
// from a named (pre-registered, token-authenticated) tunnel.
type Kind string

const (
	KindQuick Kind = "quick"
	KindNamed Kind = "named"
)

const (
	urlExtractionTimeout = 60 * time.Second
	stopGraceDuration    = 5 * time.Second
)

// Tunnel is one externally-reachable forwarding of a local port (spec.md
// §3 "Tunnel"). The URL is only ever set after positive extraction from the
// child's output; a Tunnel in StateRunning always has a non-empty URL.
type Tunnel struct {
	ID        string
	Kind      Kind
	LocalPort int
	Name      string

	mu    sync.Mutex
	url   string
	state State
	cmd   *exec.Cmd

	stopOnce sync.Once
	stopped  chan struct{}
}

// Status is the client-facing, read-only snapshot of a Tunnel.
type Status struct {
	ID        string `json:"id"`
	Kind      Kind   `json:"kind"`
	LocalPort int    `json:"localPort"`
	Name      string `json:"name,omitempty"`
	URL       string `json:"url,omitempty"`
	State     State  `json:"state"`
}

func (t *Tunnel) snapshot() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{ID: t.ID, Kind: t.Kind, LocalPort: t.LocalPort, Name: t.Name, URL: t.url, State: t.state}
}

func (t *Tunnel) setRunning(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateStopping || t.state == StateStopped {
		return
	}
	t.url = url
	t.state = StateRunning
}

func (t *Tunnel) setError() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateStopping || t.state == StateStopped {
		return
	}
	t.state = StateError
}

func (t *Tunnel) setStopped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateStopped
}

// CreateParams is the `create` operation's request shape (spec.md §4.4
// "Operations").
type CreateParams struct {
	Kind      Kind
	LocalPort int
	Name      string
	Token     string
}

// Supervisor owns every active Tunnel plus the cloudflared binary
// bootstrap (spec.md §4.4 "Tunnel Supervisor").
type Supervisor struct {
	bootstrap *bootstrapper

	mu      sync.RWMutex
	tunnels map[string]*Tunnel
}

// NewSupervisor constructs a Supervisor caching a downloaded cloudflared
// binary under cacheDir.
func NewSupervisor(cacheDir string) *Supervisor {
	return &Supervisor{
		bootstrap: newBootstrapper(cacheDir),
		tunnels:   make(map[string]*Tunnel),
	}
}

// Install resolves (or bootstraps) the cloudflared binary and returns its
// path (spec.md §4.4 `install`).
func (s *Supervisor) Install(ctx context.Context) (string, error) {
	return s.bootstrap.resolve(ctx)
}

// List returns a snapshot of every tunnel's status (spec.md §4.4 `list`).
func (s *Supervisor) List() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Status, 0, len(s.tunnels))
	for _, t := range s.tunnels {
		out = append(out, t.snapshot())
	}
	return out
}

// StatusOf returns one tunnel's status (spec.md §4.4 `status`).
func (s *Supervisor) StatusOf(id string) (Status, error) {
	s.mu.RLock()
	t, ok := s.tunnels[id]
	s.mu.RUnlock()
	if !ok {
		return Status{}, errTunnelNotFound(id)
	}
	return t.snapshot(), nil
}

// Create spawns a new tunnel and begins URL extraction in the background
// (spec.md §4.4 `create`). It returns as soon as the child has been
// spawned, in `starting` state; the caller observes `running`/`error`
// through subsequent List/StatusOf calls or an event bus publish wired in
// by the caller.
func (s *Supervisor) Create(ctx context.Context, params CreateParams, onStateChange func(Status)) (*Status, error) {
	if params.Kind == KindNamed && params.Name == "" {
		return nil, errInvalidArgument("named tunnel requires a non-empty name")
	}
	if params.Kind != KindQuick && params.Kind != KindNamed {
		return nil, errInvalidArgument("kind must be \"quick\" or \"named\"")
	}

	binPath, err := s.bootstrap.resolve(ctx)
	if err != nil {
		return nil, err
	}

	t := &Tunnel{
		ID:        uuid.NewString(),
		Kind:      params.Kind,
		LocalPort: params.LocalPort,
		Name:      params.Name,
		state:     StateStarting,
		stopped:   make(chan struct{}),
	}

	if err := spawnTunnel(t, binPath, params); err != nil {
		return nil, errSpawnFailed(err)
	}

	s.mu.Lock()
	s.tunnels[t.ID] = t
	s.mu.Unlock()

	go watchTunnel(t, onStateChange)

	status := t.snapshot()
	return &status, nil
}

// Stop terminates one tunnel: graceful signal, 5s grace period, hard kill
// (spec.md §4.4 "Lifecycle").
func (s *Supervisor) Stop(id string) error {
	s.mu.Lock()
	t, ok := s.tunnels[id]
	if ok {
		delete(s.tunnels, id)
	}
	s.mu.Unlock()
	if !ok {
		return errTunnelNotFound(id)
	}
	stopTunnel(t)
	return nil
}

// StopAll stops every tunnel, used on daemon shutdown (spec.md §4.4
// "stopAll is stop applied to every tunnel").
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	tunnels := make([]*Tunnel, 0, len(s.tunnels))
	for _, t := range s.tunnels {
		tunnels = append(tunnels, t)
	}
	s.tunnels = make(map[string]*Tunnel)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, t := range tunnels {
		wg.Add(1)
		go func(t *Tunnel) {
			defer wg.Done()
			stopTunnel(t)
		}(t)
	}
	wg.Wait()
}
