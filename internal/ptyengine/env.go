package ptyengine

import (
	"os"
	"runtime"
	"strings"
)

// envDenylist blocks inheriting variables that could leak host secrets into
// a spawned shell (spec.md §4.2 "Environment is sanitized").
var envDenylist = map[string]struct{}{
	"AWS_SECRET_ACCESS_KEY": {},
	"AWS_SESSION_TOKEN":     {},
	"GITHUB_TOKEN":          {},
	"NPM_TOKEN":             {},
}

// sanitizedEnv builds the environment for a spawned shell: the process
// environment minus denylisted variables, plus any caller-supplied extras,
// ensuring TERM is always set.
func sanitizedEnv(extra []string) []string {
	base := os.Environ()
	out := make([]string, 0, len(base)+len(extra)+1)
	hasTerm := false
	for _, kv := range base {
		name, _, _ := strings.Cut(kv, "=")
		if _, denied := envDenylist[name]; denied {
			continue
		}
		if name == "TERM" {
			hasTerm = true
		}
		out = append(out, kv)
	}
	out = append(out, extra...)
	if !hasTerm {
		out = append(out, "TERM=xterm-256color")
	}
	return out
}

// remapLoneCR remaps a bare '\r' (not already followed by '\n') to "\r\n"
// on Windows, where child processes commonly emit lone carriage returns
// that a browser-hosted terminal would otherwise render incorrectly
// (spec.md §4.2 "Pipe-mode platform notes").
func remapLoneCR(data []byte) []byte {
	if runtime.GOOS != "windows" || !strings.ContainsRune(string(data), '\r') {
		return data
	}
	var out []byte
	for i := 0; i < len(data); i++ {
		b := data[i]
		out = append(out, b)
		if b == '\r' && (i+1 >= len(data) || data[i+1] != '\n') {
			out = append(out, '\n')
		}
	}
	return out
}
