package gitservice

import (
	"context"
	"os"
	"path/filepath"
)

const findReposMaxDepth = 6

// FindRepos walks the directory tree under root looking for `.git` entries,
// bounded to findReposMaxDepth levels deep (spec.md §4.6 "find-repos {path}").
func (s *Service) FindRepos(ctx context.Context, root string) ([]RepoInfo, error) {
	repos := []RepoInfo{}

	var walk func(dir string, depth int) error
	walk = func(dir string, depth int) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if depth > findReposMaxDepth {
			return nil
		}
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			info := RepoInfo{Path: dir}
			if out, err := s.run(ctx, dir, "branch", "--show-current"); err == nil {
				info.Branch = trimNewline(out)
			}
			repos = append(repos, info)
			return nil
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil
		}
		for _, entry := range entries {
			if !entry.IsDir() || entry.Name()[0] == '.' {
				continue
			}
			if err := walk(filepath.Join(dir, entry.Name()), depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(root, 0); err != nil {
		return nil, err
	}
	return repos, nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
