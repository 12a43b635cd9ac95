package gitservice

import (
	"strings"
)

// sanitizeFilePath rejects path arguments that could be used to smuggle git
// options or escape the repository (spec.md §4.6, grounded on the teacher's
// sanitizeFilePath).
func sanitizeFilePath(path string) error {
	if path == "" {
		return errInvalidArgument("path must not be empty")
	}
	if strings.ContainsRune(path, 0) {
		return errInvalidArgument("path must not contain a null byte")
	}
	if strings.HasPrefix(path, "-") {
		return errInvalidArgument("path must not start with '-'")
	}
	if strings.HasPrefix(path, "/") {
		return errInvalidArgument("path must be relative to the repository root")
	}
	for _, part := range strings.Split(path, "/") {
		if part == ".." {
			return errInvalidArgument("path must not contain '..'")
		}
	}
	return nil
}

// sanitizeGitRef restricts ref-like arguments (branch names, commit hashes,
// remote names) to a safe character whitelist.
func sanitizeGitRef(ref string) error {
	if ref == "" {
		return errInvalidArgument("ref must not be empty")
	}
	if strings.HasPrefix(ref, "-") {
		return errInvalidArgument("ref must not start with '-'")
	}
	for _, r := range ref {
		if !isValidRefChar(r) {
			return errInvalidArgument("ref contains an invalid character")
		}
	}
	return nil
}

func isValidRefChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	}
	switch r {
	case '-', '_', '/', '.', '~', '^':
		return true
	}
	return false
}
