package acp

import (
	"fmt"
	"strings"

	"github.com/on-the-go/daemon/internal/apierr"
)

func errAgentNotConnected() error {
	return apierr.New(apierr.Unavailable, "agent not connected")
}

func errAuthRequired(methods []string) error {
	return apierr.WithAuthMethods("agent requires authentication", methods)
}

func errCapabilityNotSupported(what string) error {
	return apierr.New(apierr.Refused, fmt.Sprintf("agent does not support %s", what))
}

func errFraming(detail string) error {
	return apierr.New(apierr.Malformed, fmt.Sprintf("framing error: %s", detail))
}

func errSessionNotFound(sessionID string) error {
	return apierr.New(apierr.NotFound, fmt.Sprintf("session not found: %s", sessionID))
}

func errConnectTimeout() error {
	return apierr.New(apierr.Timeout, "agent initialize did not complete within the connect timeout")
}

func errSpawnFailed(err error) error {
	return apierr.Wrap(apierr.Upstream, "failed to spawn agent process", err)
}

// isSessionNotFoundError recognizes a "session not found" equivalent from
// the agent, by either a well-known JSON-RPC error code or a message
// substring match (spec.md §4.3 "Session recovery": "implementation-defined
// error code or message").
func isSessionNotFoundError(rpcErr *rpcError) bool {
	if rpcErr == nil {
		return false
	}
	const sessionNotFoundCode = -32001
	if rpcErr.Code == sessionNotFoundCode {
		return true
	}
	lower := strings.ToLower(rpcErr.Message)
	return strings.Contains(lower, "session not found") || strings.Contains(lower, "no such session")
}

// isAuthRequiredError recognizes an "authentication required" equivalent
// from the agent.
func isAuthRequiredError(rpcErr *rpcError) bool {
	if rpcErr == nil {
		return false
	}
	const authRequiredCode = -32002
	if rpcErr.Code == authRequiredCode {
		return true
	}
	lower := strings.ToLower(rpcErr.Message)
	return strings.Contains(lower, "auth")
}

// translateAgentErr converts a raw agent JSON-RPC error into the bridge's
// typed apierr.Error, preserving kind distinctions a client needs to act on.
func translateAgentErr(err error) error {
	rpcErr, ok := err.(*agentRPCError)
	if !ok {
		return err
	}
	switch {
	case isAuthRequiredError(rpcErr.raw):
		return errAuthRequired(nil)
	case isSessionNotFoundError(rpcErr.raw):
		return apierr.New(apierr.NotFound, rpcErr.raw.Message)
	default:
		return apierr.New(apierr.Upstream, rpcErr.raw.Message)
	}
}
