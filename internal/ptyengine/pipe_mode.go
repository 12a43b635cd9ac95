package ptyengine

import (
	"io"
	"log/slog"
	"os/exec"
)

// sinkWriter adapts a session's emit method to an io.Writer so it can be
// wired directly as a child process's Stdout/Stderr.
type sinkWriter struct {
	emit func([]byte)
}

func (w sinkWriter) Write(p []byte) (int, error) {
	w.emit(p)
	return len(p), nil
}

// startPipeChild spawns the long-lived shell for pipe-mode sessions
// (spec.md §4.2 `create` with engineMode "pipe").
func (s *Session) startPipeChild() error {
	cmd := exec.Command(s.shell)
	cmd.Dir = s.cwd
	cmd.Env = sanitizedEnv(s.extraEnv)
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	w := sinkWriter{emit: s.emit}
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		return err
	}

	s.mu.Lock()
	s.cmd = cmd
	s.stdin = stdin
	s.mu.Unlock()

	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		s.cmd = nil
		s.stdin = nil
		s.mu.Unlock()
		if err != nil {
			slog.Debug("ptyengine: pipe-mode child exited", "session", s.ID, "error", err)
		}
	}()
	return nil
}

func (s *Session) writePipeInput(data []byte) error {
	s.mu.Lock()
	stdin := s.stdin
	s.mu.Unlock()
	if stdin == nil {
		return errSpawnFailed(io.ErrClosedPipe)
	}
	_, err := stdin.Write(data)
	return err
}
