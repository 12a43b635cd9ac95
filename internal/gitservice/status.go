package gitservice

import (
	"context"
	"strings"
)

// Status runs `git status --porcelain` against path's repository and returns
// the staged/unstaged/untracked split (spec.md §4.6 "status").
func (s *Service) Status(ctx context.Context, path string) (StatusResult, error) {
	root, err := s.repoRoot(path)
	if err != nil {
		return StatusResult{}, err
	}

	out, err := s.run(ctx, root, "status", "--porcelain", "--branch")
	if err != nil {
		return StatusResult{}, err
	}

	return parseGitStatusPorcelain(out), nil
}

// parseGitStatusPorcelain parses `git status --porcelain --branch` output
// into staged/unstaged/untracked buckets (grounded on the teacher's
// parseGitStatusPorcelain, adapted to XY-prefix porcelain v1 with rename
// handling and an optional leading branch header line).
func parseGitStatusPorcelain(output string) StatusResult {
	result := StatusResult{
		Staged:    []FileStatus{},
		Unstaged:  []FileStatus{},
		Untracked: []FileStatus{},
	}

	lines := strings.Split(output, "\n")
	for _, line := range lines {
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "##") {
			result.Branch = parseBranchHeader(line)
			continue
		}
		if len(line) < 4 {
			continue
		}

		x, y := line[0], line[1]
		rest := line[3:]

		entry := FileStatus{Path: rest}
		if idx := strings.Index(rest, " -> "); idx >= 0 {
			entry.OldPath = rest[:idx]
			entry.Path = rest[idx+4:]
		}

		switch {
		case x == '?' && y == '?':
			entry.Status = "untracked"
			result.Untracked = append(result.Untracked, entry)
		case x != ' ' && x != '?':
			entry.Status = statusLetter(x)
			result.Staged = append(result.Staged, entry)
			if y != ' ' {
				unstaged := entry
				unstaged.Status = statusLetter(y)
				result.Unstaged = append(result.Unstaged, unstaged)
			}
		case y != ' ' && y != '?':
			entry.Status = statusLetter(y)
			result.Unstaged = append(result.Unstaged, entry)
		}
	}

	return result
}

func statusLetter(c byte) string {
	switch c {
	case 'M':
		return "modified"
	case 'A':
		return "added"
	case 'D':
		return "deleted"
	case 'R':
		return "renamed"
	case 'C':
		return "copied"
	case 'U':
		return "conflicted"
	default:
		return string(c)
	}
}

func parseBranchHeader(line string) string {
	header := strings.TrimPrefix(line, "## ")
	if idx := strings.Index(header, "..."); idx >= 0 {
		return header[:idx]
	}
	if idx := strings.Index(header, " "); idx >= 0 {
		return header[:idx]
	}
	return header
}
