package gitservice

import "strings"

// parseGitBranchList parses `git branch --list` output, marking the
// checked-out branch with a leading "* " marker.
func parseGitBranchList(output string) []Branch {
	branches := []Branch{}
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		current := strings.HasPrefix(line, "* ")
		name := strings.TrimSpace(strings.TrimPrefix(line, "* "))
		if name == "" || strings.Contains(name, "HEAD detached") {
			continue
		}
		branches = append(branches, Branch{Name: name, Current: current})
	}
	return branches
}
