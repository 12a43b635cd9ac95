//go:build !windows

package tunnel

import (
	"os/exec"
	"syscall"
)

// gracefulStop sends SIGTERM, mirroring ptyengine's interrupt-before-kill
// escalation for the cloudflared child (spec.md §4.4 "Lifecycle": "stop
// sends termination, waits up to 5s, escalates to hard-kill").
func gracefulStop(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Signal(syscall.SIGTERM)
}
