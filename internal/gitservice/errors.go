package gitservice

import (
	"fmt"

	"github.com/on-the-go/daemon/internal/apierr"
)

func errNotARepo(path string) error {
	return apierr.New(apierr.NotFound, fmt.Sprintf("no git repository found above %s", path))
}

func errCommandFailed(op string, err error, stderr string) error {
	msg := fmt.Sprintf("git %s failed", op)
	if stderr != "" {
		msg = fmt.Sprintf("%s: %s", msg, stderr)
	}
	return apierr.Wrap(apierr.Upstream, msg, err)
}

func errInvalidCommitMessage() error {
	return apierr.New(apierr.Malformed, "commit message must be 1-1000 characters")
}

func errDestructiveOpDenied(op string) error {
	return apierr.New(apierr.Refused, fmt.Sprintf("destructive operation %q is denied by configuration", op))
}

func errOutputTooLarge(op string) error {
	return apierr.New(apierr.Malformed, fmt.Sprintf("git %s output exceeded the size cap", op))
}

func errInvalidArgument(msg string) error {
	return apierr.New(apierr.Malformed, msg)
}
