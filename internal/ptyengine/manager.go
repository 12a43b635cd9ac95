// Package ptyengine (manager.go) owns the set of live sessions, the idle
// reaping sweep, and the one-shot `exec` operation (spec.md §4.2).
package ptyengine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultSweepInterval   = 60 * time.Second
	defaultEphemeralIdle   = 15 * time.Minute
	defaultPersistentIdle  = 30 * time.Minute
	defaultExecTimeout     = 30 * time.Second
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	DefaultShell   string
	ExtraEnv       []string
	AllowUnsafe    bool
	SweepInterval  time.Duration
	EphemeralIdle  time.Duration
	PersistentIdle time.Duration
	ExecTimeout    time.Duration
}

// Manager owns every live Session and runs the idle-reaping sweep
// (spec.md §4.2 "Idle reaping").
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	defaultShell string
	extraEnv     []string
	safety       *SafetyPolicy

	sweepInterval  time.Duration
	ephemeralIdle  time.Duration
	persistentIdle time.Duration
	execTimeout    time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// NewManager builds a Manager and starts its idle-reaping sweep goroutine.
func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		sessions:       make(map[string]*Session),
		defaultShell:   cfg.DefaultShell,
		extraEnv:       cfg.ExtraEnv,
		safety:         NewSafetyPolicy(cfg.AllowUnsafe),
		sweepInterval:  orDefault(cfg.SweepInterval, defaultSweepInterval),
		ephemeralIdle:  orDefault(cfg.EphemeralIdle, defaultEphemeralIdle),
		persistentIdle: orDefault(cfg.PersistentIdle, defaultPersistentIdle),
		execTimeout:    orDefault(cfg.ExecTimeout, defaultExecTimeout),
		stop:           make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

func orDefault(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

// Stop halts the idle-reaping sweep. Live sessions are left untouched;
// callers dispose them explicitly during daemon shutdown.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// CreateConfig is the `create` operation's request shape.
type CreateConfig struct {
	Cols, Rows int
	Cwd        string
	Persistent bool
	EngineMode EngineMode
}

// Create allocates a new session (spec.md §4.2 `create`).
func (m *Manager) Create(cfg CreateConfig) (*Session, error) {
	s, err := newSession(SessionConfig{
		EngineMode: cfg.EngineMode,
		Persistent: cfg.Persistent,
		Cols:       cfg.Cols,
		Rows:       cfg.Rows,
		Cwd:        cfg.Cwd,
		Shell:      m.defaultShell,
		ExtraEnv:   m.extraEnv,
		Safety:     m.safety,
		OnDispose:  m.removeSession,
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s, nil
}

func (m *Manager) removeSession(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

// Get returns the session by id, or an apierr NotFound error.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, errSessionNotFound(sessionID)
	}
	return s, nil
}

// Input forwards to the named session's Input (spec.md §4.2 `input`).
func (m *Manager) Input(sessionID string, data []byte) error {
	s, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	return s.Input(data)
}

// Resize forwards to the named session's Resize (spec.md §4.2 `resize`).
func (m *Manager) Resize(sessionID string, cols, rows int) error {
	s, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	return s.Resize(cols, rows)
}

// Dispose terminates and removes the named session (spec.md §4.2 `dispose`).
func (m *Manager) Dispose(sessionID string) error {
	s, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	return s.Dispose()
}

// AttachSink reattaches a connection's output callback to a session,
// flushing its ring buffer in order (spec.md §4.2 "On reconnect").
func (m *Manager) AttachSink(sessionID string, sink OutputSink) error {
	s, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	s.SetSink(sink)
	return nil
}

// ListSessions returns a summary of every live session (spec.md §4.2
// `list-sessions`).
func (m *Manager) ListSessions() []SessionSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]SessionSummary, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Info())
	}
	return out
}

// Count reports the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.reapIdle()
		}
	}
}

func (m *Manager) reapIdle() {
	m.mu.RLock()
	var toReap []*Session
	for _, s := range m.sessions {
		window := m.ephemeralIdle
		if s.Persistent {
			window = m.persistentIdle
		}
		if s.IdleFor() > window {
			toReap = append(toReap, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range toReap {
		slog.Info("ptyengine: reaping idle session", "session", s.ID, "persistent", s.Persistent)
		_ = s.Dispose()
	}
}

// ExecEvent is one frame of a streamed `exec` operation (spec.md §4.2
// `exec`): start, zero or more data, then exactly one exit.
type ExecEvent struct {
	ID       string
	Event    string // "start" | "data" | "exit"
	Chunk    []byte
	ExitCode int
}

// Exec runs a one-shot command outside of any session, streaming start/
// data/exit frames to onEvent under a single id (spec.md §4.2 `exec`).
func (m *Manager) Exec(ctx context.Context, command, cwd string, onEvent func(ExecEvent)) error {
	if err := m.safety.Check(command); err != nil {
		return err
	}

	id := uuid.NewString()
	ctx, cancel := context.WithTimeout(ctx, m.execTimeout)
	defer cancel()

	cmd := buildShellCommand(m.defaultShell, command)
	cmd.Dir = cwd
	cmd.Env = sanitizedEnv(m.extraEnv)
	setProcessGroup(cmd)

	w := sinkWriter{emit: func(chunk []byte) {
		onEvent(ExecEvent{ID: id, Event: "data", Chunk: Redact(remapLoneCR(chunk))})
	}}
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		return errSpawnFailed(err)
	}
	onEvent(ExecEvent{ID: id, Event: "start"})

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		_ = killGroup(cmd)
		<-done
		onEvent(ExecEvent{ID: id, Event: "exit", ExitCode: -1})
		return errExecTimeout()
	case err := <-done:
		code := 0
		if cmd.ProcessState != nil {
			code = cmd.ProcessState.ExitCode()
		}
		if err != nil && cmd.ProcessState == nil {
			onEvent(ExecEvent{ID: id, Event: "exit", ExitCode: -1})
			return errSpawnFailed(err)
		}
		onEvent(ExecEvent{ID: id, Event: "exit", ExitCode: code})
		return nil
	}
}
