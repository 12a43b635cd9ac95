//go:build windows

package acp

import "os"

func signalName(state *os.ProcessState) string { return "" }
