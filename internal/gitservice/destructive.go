package gitservice

import "context"

// ResetMode selects the flavor of `git reset`.
type ResetMode string

const (
	ResetSoft  ResetMode = "soft"
	ResetMixed ResetMode = "mixed"
	ResetHard  ResetMode = "hard"
)

// Reset runs `git reset` against a ref. Rejected unless the service is
// configured to allow destructive operations (spec.md §4.6 "destructive ops
// (reset, clean, force-push) are rejected unless config allows").
func (s *Service) Reset(ctx context.Context, path string, mode ResetMode, ref string) error {
	if !s.cfg.AllowDestructive {
		return errDestructiveOpDenied("reset")
	}
	root, err := s.repoRoot(path)
	if err != nil {
		return err
	}

	args := []string{"reset", "--" + string(mode)}
	if ref != "" {
		if err := sanitizeGitRef(ref); err != nil {
			return err
		}
		args = append(args, ref)
	}
	_, err = s.run(ctx, root, args...)
	return err
}

// Clean runs `git clean -fd`. Rejected unless the service is configured to
// allow destructive operations.
func (s *Service) Clean(ctx context.Context, path string) error {
	if !s.cfg.AllowDestructive {
		return errDestructiveOpDenied("clean")
	}
	root, err := s.repoRoot(path)
	if err != nil {
		return err
	}
	_, err = s.run(ctx, root, "clean", "-fd")
	return err
}
