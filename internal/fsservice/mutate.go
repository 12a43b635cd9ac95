package fsservice

import (
	"os"
	"path/filepath"
)

// Create makes a file or directory at path (spec.md §4.5 "create {path,
// type: file|dir, content?}").
func (s *Service) Create(path string, typ EntryType, content []byte) error {
	abs, err := s.resolver.Resolve(path)
	if err != nil {
		return err
	}

	switch typ {
	case TypeDir:
		return os.MkdirAll(abs, 0o755)
	case TypeFile:
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return err
		}
		return os.WriteFile(abs, content, 0o644)
	default:
		return errInvalidArgument("type must be \"file\" or \"dir\"")
	}
}

// Delete removes path, recursing into directories only when recursive is
// true (spec.md §4.5 "delete {path, recursive?}").
func (s *Service) Delete(path string, recursive bool) error {
	abs, info, err := s.resolver.ResolveExisting(path)
	if err != nil {
		return err
	}

	if info.IsDir() && recursive {
		return os.RemoveAll(abs)
	}
	if info.IsDir() {
		if err := os.Remove(abs); err != nil {
			return errInvalidArgument("directory is not empty; use recursive delete")
		}
		return nil
	}
	return os.Remove(abs)
}

// Rename moves path to newPath, both resolved under the workspace root
// (spec.md §4.5 "rename {path, newPath}").
func (s *Service) Rename(path, newPath string) error {
	oldAbs, _, err := s.resolver.ResolveExisting(path)
	if err != nil {
		return err
	}
	newAbs, err := s.resolver.Resolve(newPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(newAbs), 0o755); err != nil {
		return err
	}
	return os.Rename(oldAbs, newAbs)
}
