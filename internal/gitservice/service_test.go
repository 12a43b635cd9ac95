package gitservice

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/on-the-go/daemon/internal/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRepo initializes a real git repository in a temp dir with one
// committed file, so tests exercise the actual git binary rather than a
// mock. Skips if git is not on PATH.
func newTestRepo(t *testing.T) string {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}

	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}

	run("init", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	run("add", "-A")
	run("commit", "-m", "initial commit")

	return dir
}

func TestServiceRepoRootFindsGitDirFromSubdir(t *testing.T) {
	dir := newTestRepo(t)
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))

	svc := New(Config{WorkspaceRoot: dir})
	root, err := svc.repoRoot(sub)
	require.NoError(t, err)
	assert.Equal(t, dir, root)
}

func TestServiceRepoRootFailsOutsideRepo(t *testing.T) {
	svc := New(Config{})
	_, err := svc.repoRoot(t.TempDir())
	require.Error(t, err)
	assert.Equal(t, apierr.NotFound, apierr.KindOf(err))
}

func TestServiceStatusReportsUntrackedFile(t *testing.T) {
	dir := newTestRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x"), 0o644))

	svc := New(Config{})
	status, err := svc.Status(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, status.Untracked, 1)
	assert.Equal(t, "new.txt", status.Untracked[0].Path)
}

func TestServiceStatusReportsStagedFile(t *testing.T) {
	dir := newTestRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "staged.txt"), []byte("x"), 0o644))

	svc := New(Config{})
	require.NoError(t, svc.Add(context.Background(), dir, []string{"staged.txt"}))

	status, err := svc.Status(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, status.Staged, 1)
	assert.Equal(t, "added", status.Staged[0].Status)
}

func TestServiceCommitRejectsEmptyMessage(t *testing.T) {
	dir := newTestRepo(t)
	svc := New(Config{})
	err := svc.Commit(context.Background(), dir, "", nil)
	require.Error(t, err)
	assert.Equal(t, apierr.Malformed, apierr.KindOf(err))
}

func TestServiceCommitRejectsOverlongMessage(t *testing.T) {
	dir := newTestRepo(t)
	svc := New(Config{})

	long := make([]byte, 1001)
	for i := range long {
		long[i] = 'a'
	}
	err := svc.Commit(context.Background(), dir, string(long), nil)
	require.Error(t, err)
	assert.Equal(t, apierr.Malformed, apierr.KindOf(err))
}

func TestServiceAddAndCommitRoundTrip(t *testing.T) {
	dir := newTestRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "work.txt"), []byte("x"), 0o644))

	svc := New(Config{})
	require.NoError(t, svc.Add(context.Background(), dir, []string{"work.txt"}))
	require.NoError(t, svc.Commit(context.Background(), dir, "add work.txt", nil))

	log, err := svc.Log(context.Background(), dir, 1)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, "add work.txt", log[0].Subject)
}

func TestServiceLogRespectsCount(t *testing.T) {
	dir := newTestRepo(t)
	svc := New(Config{})

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte{byte('a' + i)}, 0o644))
		require.NoError(t, svc.Add(context.Background(), dir, []string{"f.txt"}))
		require.NoError(t, svc.Commit(context.Background(), dir, "commit", nil))
	}

	log, err := svc.Log(context.Background(), dir, 2)
	require.NoError(t, err)
	assert.Len(t, log, 2)
}

func TestServiceResetDeniedByDefault(t *testing.T) {
	dir := newTestRepo(t)
	svc := New(Config{})
	err := svc.Reset(context.Background(), dir, ResetHard, "HEAD")
	require.Error(t, err)
	assert.Equal(t, apierr.Refused, apierr.KindOf(err))
}

func TestServiceResetAllowedWhenConfigured(t *testing.T) {
	dir := newTestRepo(t)
	svc := New(Config{AllowDestructive: true})
	err := svc.Reset(context.Background(), dir, ResetSoft, "HEAD")
	require.NoError(t, err)
}

func TestServicePushForceDeniedByDefault(t *testing.T) {
	dir := newTestRepo(t)
	svc := New(Config{})
	err := svc.Push(context.Background(), dir, "", "", true)
	require.Error(t, err)
	assert.Equal(t, apierr.Refused, apierr.KindOf(err))
}

func TestServiceBranchCreateAndList(t *testing.T) {
	dir := newTestRepo(t)
	svc := New(Config{})

	_, err := svc.Branch(context.Background(), dir, BranchCreate, "feature-x")
	require.NoError(t, err)

	branches, err := svc.Branch(context.Background(), dir, BranchList, "")
	require.NoError(t, err)

	var names []string
	for _, b := range branches {
		names = append(names, b.Name)
	}
	assert.Contains(t, names, "feature-x")
	assert.Contains(t, names, "main")
}

func TestServiceBranchRejectsUnsafeRefName(t *testing.T) {
	dir := newTestRepo(t)
	svc := New(Config{})
	_, err := svc.Branch(context.Background(), dir, BranchCreate, "-x")
	require.Error(t, err)
	assert.Equal(t, apierr.Malformed, apierr.KindOf(err))
}

func TestServiceStashPushAndList(t *testing.T) {
	dir := newTestRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("changed\n"), 0o644))

	svc := New(Config{})
	require.NoError(t, svc.StashPush(context.Background(), dir, "wip"))

	entries, err := svc.StashList(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, svc.StashPop(context.Background(), dir, 0))

	status, err := svc.Status(context.Background(), dir)
	require.NoError(t, err)
	assert.NotEmpty(t, status.Unstaged)
}

func TestServiceFindReposDiscoversNestedRepo(t *testing.T) {
	parent := t.TempDir()
	nested := filepath.Join(parent, "project")
	require.NoError(t, os.Mkdir(nested, 0o755))

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	cmd := exec.Command("git", "init", "-b", "main")
	cmd.Dir = nested
	require.NoError(t, cmd.Run())

	svc := New(Config{})
	repos, err := svc.FindRepos(context.Background(), parent)
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, nested, repos[0].Path)
}

func TestSanitizeFilePathRejectsTraversal(t *testing.T) {
	err := sanitizeFilePath("../etc/passwd")
	require.Error(t, err)
}

func TestSanitizeFilePathRejectsOptionLikeArgument(t *testing.T) {
	err := sanitizeFilePath("--force")
	require.Error(t, err)
}

func TestSanitizeGitRefRejectsShellMetacharacters(t *testing.T) {
	err := sanitizeGitRef("main; rm -rf /")
	require.Error(t, err)
}

func TestSanitizeGitRefAllowsTypicalBranchNames(t *testing.T) {
	require.NoError(t, sanitizeGitRef("feature/on-the-go_v2.1"))
}
