package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitCreatesLayout(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, Init(dir))

	base := Dir(dir)
	assert.DirExists(t, filepath.Join(base, "prompts"))
	assert.DirExists(t, filepath.Join(base, "results"))
	assert.DirExists(t, filepath.Join(base, "acp"))
	assert.FileExists(t, filepath.Join(base, "config.json"))
	assert.FileExists(t, filepath.Join(base, "README.md"))

	raw, err := os.ReadFile(filepath.Join(base, "config.json"))
	require.NoError(t, err)
	var cfg Config
	require.NoError(t, json.Unmarshal(raw, &cfg))
	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
}

func TestInitRefusesToOverwrite(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Init(dir))
	err := Init(dir)
	assert.Error(t, err)
}

func TestLoadAppliesDefaultsWithoutConfigFile(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(filepath.Join(Dir(dir), "config.json"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, 10, cfg.MaxConnections)
	assert.Equal(t, 50, cfg.MaxSessions)
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Init(dir))

	path := filepath.Join(Dir(dir), "config.json")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk Config
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	onDisk.Server.Port = 9999
	buf, err := json.Marshal(onDisk)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, buf, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
}

func TestLoadKiroEnvOverrides(t *testing.T) {
	dir := t.TempDir()

	t.Setenv("KIRO_ACP_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("KIRO_EXEC_ALLOW_UNSAFE", "true")
	t.Setenv("KIRO_ACP_AUTOSTART_AGENTS", "claude,codex")
	t.Setenv("KIRO_ALLOWED_ORIGINS", "https://example.com,https://*.example.com")

	cfg, err := Load(filepath.Join(Dir(dir), "config.json"))
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.ACPConnectTimeout)
	assert.True(t, cfg.ExecAllowUnsafe)
	assert.Equal(t, []string{"claude", "codex"}, cfg.ACPAutostartAgents)
	assert.Equal(t, []string{"https://example.com", "https://*.example.com"}, cfg.AllowedOrigins)
}

func TestAICredEnvOnlyIncludesPresentVars(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-123")
	os.Unsetenv("OPENAI_API_KEY")
	os.Unsetenv("GEMINI_API_KEY")
	os.Unsetenv("ANTHROPIC_AUTH_TOKEN")

	got := AICredEnv()
	assert.Contains(t, got, "ANTHROPIC_API_KEY=sk-test-123")
	for _, kv := range got {
		assert.NotContains(t, kv, "OPENAI_API_KEY=")
	}
}

func TestWriteFileAtomicReplacesExistingContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	require.NoError(t, writeFileAtomic(path, []byte(`{"a":1}`)))
	require.NoError(t, writeFileAtomic(path, []byte(`{"a":2}`)))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2}`, string(raw))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no leftover temp files")
}
