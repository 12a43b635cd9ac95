//go:build windows

package tunnel

import "os/exec"

// gracefulStop has no SIGTERM equivalent on Windows for an arbitrary child;
// the caller's hard-kill escalation after the grace period is the only
// termination path (same fallback ptyengine uses).
func gracefulStop(cmd *exec.Cmd) error { return nil }
