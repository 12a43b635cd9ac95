package ptyengine

import "regexp"

// redactionPatterns masks secrets in terminal output before it reaches the
// wire (spec.md §4.2 "Redaction"). Applied per-chunk at emission time, never
// to the ring buffer, so a reattach replays the same redacted bytes a live
// connection would have seen.
//
// The hex-run/Bearer/JWT patterns are named directly in spec.md §4.2; the
// AWS access-key and GitHub token prefixes are carried over from
// original_source/'s redaction scanner (SPEC_FULL.md §4).
var redactionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bBearer\s+[A-Za-z0-9\-_.=]+`),
	regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`), // JWT-shaped triplet
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),                                  // AWS access key id
	regexp.MustCompile(`\bgh[pos]_[A-Za-z0-9]{36,}\b`),                         // GitHub token prefixes
	regexp.MustCompile(`\bsk-[A-Za-z0-9]{20,}\b`),                              // common "sk-" API key prefix
	regexp.MustCompile(`\b[0-9a-fA-F]{32,}\b`),                                  // long hex runs
}

const redactedPlaceholder = "***"

// Redact scans data for secret-shaped substrings and replaces each match
// with a fixed placeholder.
func Redact(data []byte) []byte {
	out := data
	for _, pattern := range redactionPatterns {
		out = pattern.ReplaceAll(out, []byte(redactedPlaceholder))
	}
	return out
}
