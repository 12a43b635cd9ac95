package fsservice

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/on-the-go/daemon/internal/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, string) {
	root := t.TempDir()
	svc := New(Config{WorkspaceRoot: root, DenyList: []string{"*.secret"}})
	t.Cleanup(func() { svc.Close() })
	return svc, root
}

func TestResolverRejectsPathEscapingRoot(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.resolver.Resolve("../outside.txt")
	require.Error(t, err)
	assert.Equal(t, apierr.Malformed, apierr.KindOf(err))
}

func TestResolverRejectsDenyListedPath(t *testing.T) {
	svc, root := newTestService(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "creds.secret"), []byte("x"), 0o644))

	_, _, err := svc.resolver.ResolveExisting("creds.secret")
	require.Error(t, err)
	assert.Equal(t, apierr.Refused, apierr.KindOf(err))
}

func TestResolverResolvesNestedPath(t *testing.T) {
	svc, root := newTestService(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0o755))

	abs, err := svc.resolver.Resolve("a/b/c.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a", "b", "c.txt"), abs)
}

func TestTreeListsDirsFirstThenAlpha(t *testing.T) {
	svc, root := newTestService(t)
	require.NoError(t, os.Mkdir(filepath.Join(root, "zzz-dir"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "aaa.txt"), []byte("x"), 0o644))

	entries, err := svc.Tree(".", 1)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, TypeDir, entries[0].Type)
	assert.Equal(t, "zzz-dir", entries[0].Name)
	assert.Equal(t, "aaa.txt", entries[1].Name)
}

func TestTreeRecursesToDepth(t *testing.T) {
	svc, root := newTestService(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "b", "leaf.txt"), []byte("x"), 0o644))

	entries, err := svc.Tree(".", 2)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Len(t, entries[0].Children, 1)
	assert.Empty(t, entries[0].Children[0].Children)
}

func TestOpenReadsTextFileAsUtf8(t *testing.T) {
	svc, root := newTestService(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hello world"), 0o644))

	result, err := svc.Open("hello.txt", "", 0)
	require.NoError(t, err)
	assert.Equal(t, "utf8", result.Encoding)
	assert.Equal(t, "hello world", result.Content)
	assert.False(t, result.Truncated)
}

func TestOpenTruncatesAtMaxLength(t *testing.T) {
	svc, root := newTestService(t)
	content := make([]byte, 100)
	for i := range content {
		content[i] = 'a'
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.txt"), content, 0o644))

	result, err := svc.Open("big.txt", "", 10)
	require.NoError(t, err)
	assert.True(t, result.Truncated)
	assert.Len(t, result.Content, 10)
}

func TestOpenMissingFileReturnsNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Open("missing.txt", "", 0)
	require.Error(t, err)
	assert.Equal(t, apierr.NotFound, apierr.KindOf(err))
}

func TestCreateFileWritesContent(t *testing.T) {
	svc, root := newTestService(t)
	require.NoError(t, svc.Create("nested/new.txt", TypeFile, []byte("data")))

	got, err := os.ReadFile(filepath.Join(root, "nested", "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))
}

func TestCreateDirMakesDirectory(t *testing.T) {
	svc, root := newTestService(t)
	require.NoError(t, svc.Create("newdir", TypeDir, nil))

	info, err := os.Stat(filepath.Join(root, "newdir"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestDeleteNonRecursiveFailsOnNonEmptyDir(t *testing.T) {
	svc, root := newTestService(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "d"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "d", "f.txt"), []byte("x"), 0o644))

	err := svc.Delete("d", false)
	require.Error(t, err)
}

func TestDeleteRecursiveRemovesDir(t *testing.T) {
	svc, root := newTestService(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "d"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "d", "f.txt"), []byte("x"), 0o644))

	require.NoError(t, svc.Delete("d", true))
	_, err := os.Stat(filepath.Join(root, "d"))
	assert.True(t, os.IsNotExist(err))
}

func TestRenameMovesFile(t *testing.T) {
	svc, root := newTestService(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "old.txt"), []byte("x"), 0o644))

	require.NoError(t, svc.Rename("old.txt", "new.txt"))
	_, err := os.Stat(filepath.Join(root, "old.txt"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(root, "new.txt"))
	assert.NoError(t, err)
}

func TestWatchEnforcesPerClientLimit(t *testing.T) {
	svc, root := newTestService(t)
	for i := 0; i < maxWatchersPerClient; i++ {
		dir := filepath.Join(root, "d"+string(rune('a'+i%26))+string(rune('0'+i/26)))
		require.NoError(t, os.Mkdir(dir, 0o755))
		require.NoError(t, svc.Watch("client1", filepath.Base(dir), func(WatchEvent) {}))
	}

	require.NoError(t, os.Mkdir(filepath.Join(root, "overflow"), 0o755))
	err := svc.Watch("client1", "overflow", func(WatchEvent) {})
	require.Error(t, err)
	assert.Equal(t, apierr.Refused, apierr.KindOf(err))
}

func TestWatchFiresDebouncedEventOnChange(t *testing.T) {
	svc, root := newTestService(t)
	require.NoError(t, os.Mkdir(filepath.Join(root, "watched"), 0o755))

	events := make(chan WatchEvent, 10)
	require.NoError(t, svc.Watch("client1", "watched", func(e WatchEvent) { events <- e }))

	require.NoError(t, os.WriteFile(filepath.Join(root, "watched", "new.txt"), []byte("x"), 0o644))

	select {
	case e := <-events:
		assert.Equal(t, "watched", e.Path)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a watch event")
	}
}

func TestUnwatchAllRemovesClientWatchers(t *testing.T) {
	svc, root := newTestService(t)
	require.NoError(t, os.Mkdir(filepath.Join(root, "watched"), 0o755))
	require.NoError(t, svc.Watch("client1", "watched", func(WatchEvent) {}))

	svc.UnwatchAll("client1")

	require.NoError(t, svc.Watch("client1", "watched", func(WatchEvent) {}))
}
