package ptyengine

import (
	"regexp"
	"strings"
)

// defaultAllowlist is the first-token command allowlist gating exec and
// line-mode spawns (spec.md §4.2 "Command safety"). Chosen to cover the
// common read-only and source-control workflows a developer workstation
// daemon needs without granting broad shell access.
var defaultAllowlist = map[string]struct{}{
	"ls": {}, "cat": {}, "echo": {}, "pwd": {}, "cd": {}, "grep": {}, "find": {},
	"git": {}, "npm": {}, "npx": {}, "yarn": {}, "pnpm": {}, "node": {}, "go": {},
	"python": {}, "python3": {}, "pip": {}, "pip3": {}, "make": {}, "cargo": {},
	"rustc": {}, "docker": {}, "mkdir": {}, "touch": {}, "mv": {}, "cp": {},
	"rm": {}, "chmod": {}, "curl": {}, "wget": {}, "which": {}, "env": {},
	"ps": {}, "kill": {}, "diff": {}, "head": {}, "tail": {}, "wc": {}, "sort": {}, "sleep": {},
	"sed": {}, "awk": {}, "tar": {}, "zip": {}, "unzip": {}, "tsc": {}, "test": {},
}

// denyPatterns reject specific dangerous invocations even when the first
// token is itself allowlisted (spec.md §4.2: "rm -rf /", "dd if=…of=/dev/sd…",
// "chmod -777", unqualified moves/copies to root).
var denyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+(-[a-zA-Z]*r[a-zA-Z]*f[a-zA-Z]*|-[a-zA-Z]*f[a-zA-Z]*r[a-zA-Z]*)\s+/\s*$`),
	regexp.MustCompile(`\bdd\s+.*if=.*of=/dev/sd`),
	regexp.MustCompile(`\bchmod\s+-?0?777\b`),
	regexp.MustCompile(`\b(mv|cp)\s+\S+\s+/\s*$`),
}

// SafetyPolicy decides whether a command line may be spawned.
type SafetyPolicy struct {
	allowUnsafe bool
	allowlist   map[string]struct{}
	denylist    []*regexp.Regexp
}

// NewSafetyPolicy builds a policy. allowUnsafe bypasses both the allowlist
// and the deny patterns, per spec.md §4.2.
func NewSafetyPolicy(allowUnsafe bool) *SafetyPolicy {
	return &SafetyPolicy{allowUnsafe: allowUnsafe, allowlist: defaultAllowlist, denylist: denyPatterns}
}

// Check returns nil if command line is permitted, or apierr-kind
// CommandRefused-shaped error otherwise (wrapped by the caller with the
// sessionId context it has and this package lacks).
func (p *SafetyPolicy) Check(commandLine string) error {
	if p.allowUnsafe {
		return nil
	}
	trimmed := strings.TrimSpace(commandLine)
	if trimmed == "" {
		return nil
	}
	for _, deny := range p.denylist {
		if deny.MatchString(trimmed) {
			return errCommandRefused(trimmed)
		}
	}
	fields := strings.Fields(trimmed)
	first := fields[0]
	if _, ok := p.allowlist[first]; !ok {
		return errCommandRefused(trimmed)
	}
	return nil
}
