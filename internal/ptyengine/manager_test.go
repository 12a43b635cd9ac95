package ptyengine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/on-the-go/daemon/internal/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(ManagerConfig{
		DefaultShell:  "/bin/sh",
		SweepInterval: time.Hour,
	})
	t.Cleanup(m.Stop)
	return m
}

func TestManagerCreateAndGet(t *testing.T) {
	m := newTestManager(t)
	s, err := m.Create(CreateConfig{Cols: 80, Rows: 24, Cwd: "/tmp"})
	require.NoError(t, err)

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
}

func TestManagerGetUnknownSessionFails(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Get("no-such-session")
	assert.Equal(t, apierr.NotFound, apierr.KindOf(err))
}

func TestManagerInputAndListSessions(t *testing.T) {
	m := newTestManager(t)
	s, err := m.Create(CreateConfig{Cwd: "/tmp"})
	require.NoError(t, err)

	c := &frameCollector{}
	require.NoError(t, m.AttachSink(s.ID, c.sink))
	require.NoError(t, m.Input(s.ID, []byte("pwd\n")))
	waitFor(t, func() bool { return strings.Contains(c.String(), "/tmp") }, "pwd via manager")

	sessions := m.ListSessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, s.ID, sessions[0].SessionID)
}

func TestManagerDisposeRemovesSession(t *testing.T) {
	m := newTestManager(t)
	s, err := m.Create(CreateConfig{Cwd: "/tmp"})
	require.NoError(t, err)

	require.NoError(t, m.Dispose(s.ID))
	assert.Equal(t, 0, m.Count())

	_, err = m.Get(s.ID)
	assert.Equal(t, apierr.NotFound, apierr.KindOf(err))
}

func TestManagerResizeUnknownSessionFails(t *testing.T) {
	m := newTestManager(t)
	err := m.Resize("missing", 100, 40)
	assert.Equal(t, apierr.NotFound, apierr.KindOf(err))
}

func TestManagerExecStreamsStartDataExit(t *testing.T) {
	m := newTestManager(t)
	var events []ExecEvent
	err := m.Exec(context.Background(), "echo exec-output", "/tmp", func(e ExecEvent) {
		events = append(events, e)
	})
	require.NoError(t, err)

	require.NotEmpty(t, events)
	assert.Equal(t, "start", events[0].Event)
	assert.Equal(t, "exit", events[len(events)-1].Event)

	var out strings.Builder
	for _, e := range events {
		if e.Event == "data" {
			out.Write(e.Chunk)
		}
	}
	assert.Contains(t, out.String(), "exec-output")
}

func TestManagerExecRefusesDisallowedCommand(t *testing.T) {
	m := newTestManager(t)
	err := m.Exec(context.Background(), "sudo reboot", "/tmp", func(ExecEvent) {})
	assert.Equal(t, apierr.Refused, apierr.KindOf(err))
}

func TestManagerExecTimesOut(t *testing.T) {
	m := NewManager(ManagerConfig{DefaultShell: "/bin/sh", ExecTimeout: 50 * time.Millisecond, SweepInterval: time.Hour})
	t.Cleanup(m.Stop)

	err := m.Exec(context.Background(), "sleep 5", "/tmp", func(ExecEvent) {})
	assert.Equal(t, apierr.Timeout, apierr.KindOf(err))
}

func TestManagerReapsIdleSessions(t *testing.T) {
	m := NewManager(ManagerConfig{
		DefaultShell:  "/bin/sh",
		SweepInterval: 20 * time.Millisecond,
		EphemeralIdle: 30 * time.Millisecond,
	})
	t.Cleanup(m.Stop)

	s, err := m.Create(CreateConfig{Cwd: "/tmp"})
	require.NoError(t, err)

	waitFor(t, func() bool {
		_, err := m.Get(s.ID)
		return err != nil
	}, "idle session to be reaped")
}
