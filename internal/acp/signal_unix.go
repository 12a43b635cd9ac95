//go:build !windows

package acp

import (
	"os"
	"syscall"
)

// signalName returns the name of the signal that terminated the process,
// or "" if it exited normally (spec.md §4.3 `agent_exit {code, signal}`).
func signalName(state *os.ProcessState) string {
	if state == nil {
		return ""
	}
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return ""
	}
	return ws.Signal().String()
}
