//go:build windows

package ptyengine

import "os/exec"

// Windows has no POSIX process groups; a plain Kill is the closest
// platform-appropriate equivalent to both the interrupt and hard-kill
// escalation steps spec.md §4.2 describes.
func setProcessGroup(cmd *exec.Cmd) {}

func interruptGroup(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func killGroup(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func resizeGroup(cmd *exec.Cmd) error { return nil }
