package tunnel

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/on-the-go/daemon/internal/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubCloudflaredScript answers `version` successfully and, for any other
// invocation, prints a quick-tunnel URL to stderr after a short delay, to
// exercise the supervisor without a real cloudflared binary or network
// access.
const stubCloudflaredScript = `#!/bin/sh
if [ "$1" = "version" ]; then
  echo "cloudflared version 2024.6.1 (built 2024-06-01)"
  exit 0
fi
sleep 0.1
echo "INF Tunnel connection established at https://example.trycloudflare.com" 1>&2
sleep 10
`

func installStubBinary(t *testing.T) string {
	if runtime.GOOS == "windows" {
		t.Skip("stub binary is a POSIX shell script")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "cloudflared")
	require.NoError(t, os.WriteFile(path, []byte(stubCloudflaredScript), 0o755))

	oldPath := os.Getenv("PATH")
	require.NoError(t, os.Setenv("PATH", dir+string(os.PathListSeparator)+oldPath))
	t.Cleanup(func() { os.Setenv("PATH", oldPath) })
	return dir
}

func TestSupervisorInstallResolvesFromPath(t *testing.T) {
	installStubBinary(t)
	sup := NewSupervisor(t.TempDir())

	path, err := sup.Install(context.Background())
	require.NoError(t, err)
	assert.Contains(t, path, "cloudflared")
}

func TestSupervisorCreateRejectsNamedTunnelWithoutName(t *testing.T) {
	installStubBinary(t)
	sup := NewSupervisor(t.TempDir())

	_, err := sup.Create(context.Background(), CreateParams{Kind: KindNamed, LocalPort: 8080}, nil)
	require.Error(t, err)
	assert.Equal(t, apierr.Malformed, apierr.KindOf(err))
}

func TestSupervisorCreateRejectsUnknownKind(t *testing.T) {
	installStubBinary(t)
	sup := NewSupervisor(t.TempDir())

	_, err := sup.Create(context.Background(), CreateParams{Kind: "bogus", LocalPort: 8080}, nil)
	require.Error(t, err)
}

func TestSupervisorCreateQuickTunnelReachesRunning(t *testing.T) {
	installStubBinary(t)
	sup := NewSupervisor(t.TempDir())

	status, err := sup.Create(context.Background(), CreateParams{Kind: KindQuick, LocalPort: 8080}, nil)
	require.NoError(t, err)
	assert.Equal(t, StateStarting, status.State)

	require.Eventually(t, func() bool {
		s, err := sup.StatusOf(status.ID)
		return err == nil && s.State == StateRunning
	}, 5*time.Second, 50*time.Millisecond)

	final, err := sup.StatusOf(status.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.trycloudflare.com", final.URL)

	require.NoError(t, sup.Stop(status.ID))
}

func TestSupervisorStopUnknownTunnelFails(t *testing.T) {
	sup := NewSupervisor(t.TempDir())
	err := sup.Stop("does-not-exist")
	assert.Error(t, err)
	assert.Equal(t, apierr.NotFound, apierr.KindOf(err))
}

func TestSupervisorListReturnsAllTunnels(t *testing.T) {
	installStubBinary(t)
	sup := NewSupervisor(t.TempDir())

	_, err := sup.Create(context.Background(), CreateParams{Kind: KindQuick, LocalPort: 8081}, nil)
	require.NoError(t, err)

	assert.Len(t, sup.List(), 1)
	sup.StopAll()
	assert.Len(t, sup.List(), 0)
}
