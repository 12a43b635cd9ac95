package fsservice

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Tree lists the directory at path, recursing up to depth levels (default 1
// when depth<=0), capped at maxTreeEntries per directory and maxTreeDepth
// levels overall (spec.md §4.5 "tree {path, depth?}").
func (s *Service) Tree(path string, depth int) ([]Entry, error) {
	abs, info, err := s.resolver.ResolveExisting(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errInvalidArgument("path is not a directory")
	}

	if depth <= 0 {
		depth = 1
	}
	if depth > maxTreeDepth {
		depth = maxTreeDepth
	}

	return s.listDir(abs, path, depth)
}

func (s *Service) listDir(abs, rel string, depthRemaining int) ([]Entry, error) {
	dirEntries, err := os.ReadDir(abs)
	if err != nil {
		return nil, errNotFound(rel)
	}

	sort.Slice(dirEntries, func(i, j int) bool {
		iDir, jDir := dirEntries[i].IsDir(), dirEntries[j].IsDir()
		if iDir != jDir {
			return iDir
		}
		return strings.ToLower(dirEntries[i].Name()) < strings.ToLower(dirEntries[j].Name())
	})

	entries := make([]Entry, 0, len(dirEntries))
	for i, de := range dirEntries {
		if i >= maxTreeEntries {
			break
		}

		childAbs := filepath.Join(abs, de.Name())
		childRel := filepath.Join(rel, de.Name())

		info, err := os.Lstat(childAbs)
		if err != nil {
			continue
		}

		entry := Entry{
			Name:       de.Name(),
			Path:       filepath.ToSlash(childRel),
			Size:       info.Size(),
			ModifiedAt: info.ModTime().UTC().Format(time.RFC3339),
		}

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			entry.Type = TypeSymlink
		case info.IsDir():
			entry.Type = TypeDir
		default:
			entry.Type = TypeFile
		}

		if entry.Type == TypeDir && depthRemaining > 1 {
			children, err := s.listDir(childAbs, childRel, depthRemaining-1)
			if err == nil {
				entry.Children = children
			}
		}

		entries = append(entries, entry)
	}

	return entries, nil
}
