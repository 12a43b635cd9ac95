package gitservice

import (
	"context"
	"strconv"
	"strings"
)

// StashList runs `git stash list` (SPEC_FULL.md stash supplement: stash
// operations are non-destructive since push/pop are reversible, so they are
// not gated behind AllowDestructive).
func (s *Service) StashList(ctx context.Context, path string) ([]StashEntry, error) {
	root, err := s.repoRoot(path)
	if err != nil {
		return nil, err
	}
	out, err := s.run(ctx, root, "stash", "list")
	if err != nil {
		return nil, err
	}
	return parseStashList(out), nil
}

// StashPush runs `git stash push`, optionally with a message.
func (s *Service) StashPush(ctx context.Context, path, message string) error {
	root, err := s.repoRoot(path)
	if err != nil {
		return err
	}
	args := []string{"stash", "push"}
	if message != "" {
		args = append(args, "-m", message)
	}
	_, err = s.run(ctx, root, args...)
	return err
}

// StashPop runs `git stash pop`, optionally a specific stash index.
func (s *Service) StashPop(ctx context.Context, path string, index int) error {
	root, err := s.repoRoot(path)
	if err != nil {
		return err
	}
	args := []string{"stash", "pop"}
	if index >= 0 {
		args = append(args, "stash@{"+strconv.Itoa(index)+"}")
	}
	_, err = s.run(ctx, root, args...)
	return err
}

// parseStashList parses lines like "stash@{0}: WIP on main: abc1234 msg".
func parseStashList(output string) []StashEntry {
	entries := []StashEntry{}
	for _, line := range strings.Split(output, "\n") {
		if line == "" {
			continue
		}
		closeBrace := strings.Index(line, "}")
		if !strings.HasPrefix(line, "stash@{") || closeBrace < 0 {
			continue
		}
		idx, err := strconv.Atoi(line[len("stash@{"):closeBrace])
		if err != nil {
			continue
		}
		rest := strings.TrimPrefix(line[closeBrace+1:], ":")
		rest = strings.TrimSpace(rest)

		entry := StashEntry{Index: idx, Subject: rest}
		if strings.HasPrefix(rest, "On ") || strings.HasPrefix(rest, "WIP on ") {
			branchPart := strings.TrimPrefix(rest, "WIP on ")
			branchPart = strings.TrimPrefix(branchPart, "On ")
			if colon := strings.Index(branchPart, ":"); colon >= 0 {
				entry.Branch = branchPart[:colon]
			}
		}
		entries = append(entries, entry)
	}
	return entries
}
