package fsservice

import (
	"fmt"

	"github.com/on-the-go/daemon/internal/apierr"
)

func errPathOutsideWorkspace(path string) error {
	return apierr.New(apierr.Malformed, fmt.Sprintf("path %q resolves outside the workspace root", path))
}

func errPathDenied(path string) error {
	return apierr.New(apierr.Refused, fmt.Sprintf("path %q matches the deny list", path))
}

func errNotFound(path string) error {
	return apierr.New(apierr.NotFound, fmt.Sprintf("path %q not found", path))
}

func errTooLarge(path string) error {
	return apierr.New(apierr.Malformed, fmt.Sprintf("path %q exceeds the size cap", path))
}

func errWatchLimit() error {
	return apierr.New(apierr.Refused, "watch limit reached (max 50 watchers per client)")
}

func errSymlinkDenied(path string) error {
	return apierr.New(apierr.Refused, fmt.Sprintf("path %q is a symlink and symlink resolution is disabled", path))
}

func errInvalidArgument(msg string) error {
	return apierr.New(apierr.Malformed, msg)
}
