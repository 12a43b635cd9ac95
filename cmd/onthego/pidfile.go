package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const pidFileName = "daemon.pid"

func pidFilePath(root string) string {
	return filepath.Join(root, ".on-the-go", pidFileName)
}

// writePIDFile records the running daemon's PID so `stop` can find it
// without a network round trip when localhost ping is unavailable.
func writePIDFile(root string) error {
	path := pidFilePath(root)
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func removePIDFile(root string) {
	_ = os.Remove(pidFilePath(root))
}

// readPIDFile returns the PID recorded by a prior `start`, or 0 if none
// exists or it is stale/unparsable.
func readPIDFile(root string) int {
	data, err := os.ReadFile(pidFilePath(root))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

// processAlive reports whether pid refers to a running process, using the
// signal-0 convention (send no signal, just check deliverability).
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func fmtPID(pid int) string {
	return fmt.Sprintf("%d", pid)
}
