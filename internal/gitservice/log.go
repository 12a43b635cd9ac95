package gitservice

import (
	"context"
	"strconv"
	"strings"
)

const logFormat = "--pretty=format:%H\t%an\t%ad\t%s"

// Log runs `git log` against path's repository, returning at most count
// commits (spec.md §4.6 "log {count?}"). count<=0 means the git default.
func (s *Service) Log(ctx context.Context, path string, count int) ([]Commit, error) {
	root, err := s.repoRoot(path)
	if err != nil {
		return nil, err
	}

	args := []string{"log", logFormat, "--date=iso-strict"}
	if count > 0 {
		args = append(args, "-n", strconv.Itoa(count))
	}

	out, err := s.run(ctx, root, args...)
	if err != nil {
		return nil, err
	}
	return parseGitLog(out), nil
}

func parseGitLog(output string) []Commit {
	commits := []Commit{}
	for _, line := range strings.Split(output, "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 4)
		if len(parts) != 4 {
			continue
		}
		commits = append(commits, Commit{
			Hash:    parts[0],
			Author:  parts[1],
			Date:    parts[2],
			Subject: parts[3],
		})
	}
	return commits
}

// Show runs `git show` for a single commit (spec.md §4.6 "show {commitHash}").
func (s *Service) Show(ctx context.Context, path, commitHash string) (string, error) {
	root, err := s.repoRoot(path)
	if err != nil {
		return "", err
	}
	if err := sanitizeGitRef(commitHash); err != nil {
		return "", err
	}
	return s.run(ctx, root, "show", commitHash)
}

// Diff runs `git diff`, optionally scoped to a single file (spec.md §4.6
// "diff {file?}").
func (s *Service) Diff(ctx context.Context, path, file string) (string, error) {
	root, err := s.repoRoot(path)
	if err != nil {
		return "", err
	}

	args := []string{"diff"}
	if file != "" {
		if err := sanitizeFilePath(file); err != nil {
			return "", err
		}
		args = append(args, "--", file)
	}
	return s.run(ctx, root, args...)
}
