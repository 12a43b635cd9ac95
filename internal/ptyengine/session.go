// Package ptyengine runs shell sessions on behalf of WS clients behind a
// single reconnect-surviving abstraction, in one of two modes: line mode
// (each submitted line is its own spawn) or pipe mode (one long-lived child
// read/written over os/exec pipes). This is deliberately not a real PTY —
// see spec.md §9 Open Questions — so control sequences, raw mode, and job
// control are the caller's problem, not this package's.
package ptyengine

import (
	"bytes"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EngineMode selects how a session runs shell commands (spec.md §4.2).
type EngineMode string

const (
	EngineLine EngineMode = "line"
	EnginePipe EngineMode = "pipe"
)

// OutputFrame is one emitted terminal data frame, already redacted.
type OutputFrame struct {
	SessionID string
	Chunk     []byte
}

// OutputSink receives redacted output frames for a session's current
// owning connection. A session with a nil sink still buffers frames in its
// ring buffer; AttachSink flushes them in order once a connection reattaches.
type OutputSink func(OutputFrame)

// SessionSummary is the `list-sessions` projection (spec.md §4.2).
type SessionSummary struct {
	SessionID    string
	Persistent   bool
	EngineMode   EngineMode
	Cwd          string
	LastActivity time.Time
}

// Session unifies line-mode and pipe-mode shells behind one abstraction
// that survives a client disconnect: output keeps landing in the ring
// buffer and, for pipe mode, the child keeps running.
type Session struct {
	ID         string
	EngineMode EngineMode
	Persistent bool
	CreatedAt  time.Time

	mu           sync.Mutex
	cols, rows   int
	cwd          string
	lastActivity time.Time
	disposed     bool

	shell    string
	extraEnv []string
	safety   *SafetyPolicy

	// pipe-mode long-lived child, or line-mode's currently in-flight command
	cmd   *exec.Cmd
	stdin io.WriteCloser

	lineBuf []byte

	output *RingBuffer
	sink   OutputSink

	onDispose func(sessionID string)
}

// SessionConfig configures a new Session (spec.md §4.2 `create`).
type SessionConfig struct {
	EngineMode EngineMode
	Persistent bool
	Cols, Rows int
	Cwd        string
	Shell      string
	ExtraEnv   []string
	Safety     *SafetyPolicy
	OnDispose  func(sessionID string)
}

func newSession(cfg SessionConfig) (*Session, error) {
	mode := cfg.EngineMode
	if mode == "" {
		mode = EngineLine
	}
	cols, rows := cfg.Cols, cfg.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	shell := cfg.Shell
	if shell == "" {
		shell = defaultShellPath()
	}

	now := time.Now()
	s := &Session{
		ID:           uuid.NewString(),
		EngineMode:   mode,
		Persistent:   cfg.Persistent,
		CreatedAt:    now,
		cols:         cols,
		rows:         rows,
		cwd:          cfg.Cwd,
		lastActivity: now,
		shell:        shell,
		extraEnv:     cfg.ExtraEnv,
		safety:       cfg.Safety,
		output:       NewRingBuffer(defaultChunkCap, defaultByteCap),
		onDispose:    cfg.OnDispose,
	}

	if mode == EnginePipe {
		if err := s.startPipeChild(); err != nil {
			return nil, errSpawnFailed(err)
		}
	}
	return s, nil
}

// SetSink attaches (or detaches, when sink is nil) the owning connection's
// output callback, flushing any buffered output in order on attach —
// spec.md §4.2 "On reconnect ... the buffer is flushed in order to the new
// owning connection."
func (s *Session) SetSink(sink OutputSink) {
	s.mu.Lock()
	s.sink = sink
	chunks := s.output.ReadAll()
	s.mu.Unlock()

	if sink == nil {
		return
	}
	for _, c := range chunks {
		sink(OutputFrame{SessionID: s.ID, Chunk: Redact(c.Data)})
	}
}

// Info returns a point-in-time summary for `list-sessions`.
func (s *Session) Info() SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionSummary{
		SessionID:    s.ID,
		Persistent:   s.Persistent,
		EngineMode:   s.EngineMode,
		Cwd:          s.cwd,
		LastActivity: s.lastActivity,
	}
}

// IdleFor reports how long the session has been without activity.
func (s *Session) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// emit redacts data for the wire, writes it to the sink if attached, and
// always writes the raw bytes to the ring buffer (spec.md §4.2
// "Redaction is applied to the wire, not to the ring buffer").
func (s *Session) emit(raw []byte) {
	if len(raw) == 0 {
		return
	}
	raw = remapLoneCR(raw)
	s.output.Write(raw, time.Now().UnixMilli())

	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink != nil {
		sink(OutputFrame{SessionID: s.ID, Chunk: Redact(raw)})
	}
}

// Input appends bytes to the session's standard input (spec.md §4.2
// `input`). A 0x03 byte anywhere in data is treated as Ctrl-C: it
// interrupts the active child rather than being written through.
func (s *Session) Input(data []byte) error {
	s.touch()
	if i := bytes.IndexByte(data, 0x03); i >= 0 {
		if err := s.Interrupt(); err != nil {
			return err
		}
		before, after := data[:i], data[i+1:]
		if err := s.Input(before); err != nil {
			return err
		}
		return s.Input(after)
	}
	if len(data) == 0 {
		return nil
	}

	switch s.EngineMode {
	case EnginePipe:
		return s.writePipeInput(data)
	default:
		return s.writeLineInput(data)
	}
}

// Resize records new dimensions and, in pipe mode, forwards SIGWINCH to the
// child's process group.
func (s *Session) Resize(cols, rows int) error {
	s.mu.Lock()
	s.cols, s.rows = cols, rows
	cmd := s.cmd
	mode := s.EngineMode
	s.mu.Unlock()

	if mode == EnginePipe && cmd != nil {
		return resizeGroup(cmd)
	}
	return nil
}

// Interrupt sends the process-group interrupt signal to the active child
// (spec.md §4.2 "Ctrl-C"), escalating to a hard kill if it is still alive
// after 500 ms.
func (s *Session) Interrupt() error {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if err := interruptGroup(cmd); err != nil {
		slog.Debug("ptyengine: interrupt failed, killing", "session", s.ID, "error", err)
		return killGroup(cmd)
	}

	done := make(chan struct{})
	go func() {
		_, _ = cmd.Process.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(500 * time.Millisecond):
		return killGroup(cmd)
	}
}

// Dispose terminates any live child and marks the session disposed
// (spec.md §4.2 `dispose`). Safe to call more than once.
func (s *Session) Dispose() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	cmd := s.cmd
	onDispose := s.onDispose
	s.mu.Unlock()

	var err error
	if cmd != nil && cmd.Process != nil {
		err = s.Interrupt()
	}
	if onDispose != nil {
		onDispose(s.ID)
	}
	return err
}

func defaultShellPath() string {
	if runtime.GOOS == "windows" {
		return "cmd.exe"
	}
	return "/bin/sh"
}
