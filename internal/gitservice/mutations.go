package gitservice

import (
	"context"
)

// Add stages the given files, or everything (`git add -A`) when files is
// empty (spec.md §4.6 "add {files}").
func (s *Service) Add(ctx context.Context, path string, files []string) error {
	root, err := s.repoRoot(path)
	if err != nil {
		return err
	}

	if len(files) == 0 {
		_, err := s.run(ctx, root, "add", "-A")
		return err
	}

	args := []string{"add", "--"}
	for _, f := range files {
		if err := sanitizeFilePath(f); err != nil {
			return err
		}
		args = append(args, f)
	}
	_, err = s.run(ctx, root, args...)
	return err
}

// Commit validates the message length and commits, optionally limited to
// files (spec.md §4.6 "commit {message, files?}", "1-1000 char" validation).
func (s *Service) Commit(ctx context.Context, path, message string, files []string) error {
	root, err := s.repoRoot(path)
	if err != nil {
		return err
	}
	if len(message) < 1 || len(message) > 1000 {
		return errInvalidCommitMessage()
	}

	args := []string{"commit", "-m", message}
	if len(files) > 0 {
		args = append(args, "--")
		for _, f := range files {
			if err := sanitizeFilePath(f); err != nil {
				return err
			}
			args = append(args, f)
		}
	}
	_, err = s.run(ctx, root, args...)
	return err
}

// Push runs `git push`, optionally to a named remote/branch (spec.md §4.6
// "push {remote?, branch?}"). Force pushes are denied unless the service is
// configured to allow destructive operations.
func (s *Service) Push(ctx context.Context, path, remote, branch string, force bool) error {
	root, err := s.repoRoot(path)
	if err != nil {
		return err
	}
	if force && !s.cfg.AllowDestructive {
		return errDestructiveOpDenied("force-push")
	}

	args := []string{"push"}
	if force {
		args = append(args, "--force")
	}
	if remote != "" {
		if err := sanitizeGitRef(remote); err != nil {
			return err
		}
		args = append(args, remote)
		if branch != "" {
			if err := sanitizeGitRef(branch); err != nil {
				return err
			}
			args = append(args, branch)
		}
	}
	_, err = s.run(ctx, root, args...)
	return err
}

// Pull runs `git pull`, optionally from a named remote/branch (spec.md §4.6
// "pull {remote?, branch?}").
func (s *Service) Pull(ctx context.Context, path, remote, branch string) error {
	root, err := s.repoRoot(path)
	if err != nil {
		return err
	}

	args := []string{"pull"}
	if remote != "" {
		if err := sanitizeGitRef(remote); err != nil {
			return err
		}
		args = append(args, remote)
		if branch != "" {
			if err := sanitizeGitRef(branch); err != nil {
				return err
			}
			args = append(args, branch)
		}
	}
	_, err = s.run(ctx, root, args...)
	return err
}

// BranchOp is the action requested of Branch.
type BranchOp string

const (
	BranchCreate BranchOp = "create"
	BranchSwitch BranchOp = "switch"
	BranchList   BranchOp = "list"
)

// Branch performs a branch create/switch/list operation (spec.md §4.6
// "branch {create|switch|list, …}").
func (s *Service) Branch(ctx context.Context, path string, op BranchOp, name string) ([]Branch, error) {
	root, err := s.repoRoot(path)
	if err != nil {
		return nil, err
	}

	switch op {
	case BranchList:
		out, err := s.run(ctx, root, "branch", "--list")
		if err != nil {
			return nil, err
		}
		return parseGitBranchList(out), nil
	case BranchCreate:
		if err := sanitizeGitRef(name); err != nil {
			return nil, err
		}
		if _, err := s.run(ctx, root, "branch", name); err != nil {
			return nil, err
		}
		return nil, nil
	case BranchSwitch:
		if err := sanitizeGitRef(name); err != nil {
			return nil, err
		}
		if _, err := s.run(ctx, root, "switch", name); err != nil {
			return nil, err
		}
		return nil, nil
	default:
		return nil, errInvalidArgument("unknown branch operation " + string(op))
	}
}
