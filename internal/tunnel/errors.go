package tunnel

import (
	"fmt"

	"github.com/on-the-go/daemon/internal/apierr"
)

func errBinaryUnavailable(err error) error {
	return apierr.Wrap(apierr.Unavailable, "tunnel binary unavailable", err)
}

func errSpawnFailed(err error) error {
	return apierr.Wrap(apierr.Upstream, "failed to spawn tunnel process", err)
}

func errURLExtractionTimeout() error {
	return apierr.New(apierr.Timeout, "tunnel URL was not observed within the extraction timeout")
}

func errInvalidArgument(msg string) error {
	return apierr.New(apierr.Malformed, msg)
}

func errTunnelNotFound(id string) error {
	return apierr.New(apierr.NotFound, fmt.Sprintf("tunnel not found: %s", id))
}
