package ptyengine

import (
	"fmt"

	"github.com/on-the-go/daemon/internal/apierr"
)

func errSessionNotFound(sessionID string) error {
	return apierr.New(apierr.NotFound, fmt.Sprintf("session not found: %s", sessionID))
}

func errCommandRefused(commandLine string) error {
	return apierr.New(apierr.Refused, fmt.Sprintf("command refused by safety policy: %s", commandLine))
}

func errSpawnFailed(err error) error {
	return apierr.Wrap(apierr.Upstream, "failed to spawn process", err)
}

func errExecTimeout() error {
	return apierr.New(apierr.Timeout, "exec exceeded timeout")
}
