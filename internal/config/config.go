// Package config provides configuration loading for the daemon.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig is the `server` stanza of config.json.
type ServerConfig struct {
	Port int    `json:"port" mapstructure:"port" validate:"min=0,max=65535"`
	Host string `json:"host" mapstructure:"host" validate:"required"`
}

// TerminalConfig is the `terminal` stanza of config.json.
type TerminalConfig struct {
	Shell string `json:"shell" mapstructure:"shell" validate:"required"`
	Cwd   string `json:"cwd" mapstructure:"cwd"`
}

// PromptsConfig is the `prompts` stanza of config.json.
type PromptsConfig struct {
	Dir string `json:"dir" mapstructure:"dir"`
}

// ResultsConfig is the `results` stanza of config.json.
type ResultsConfig struct {
	Dir string `json:"dir" mapstructure:"dir"`
}

// Config is the full daemon configuration: the on-disk config.json merged
// with KIRO_* environment overrides, the way vm-agent/internal/config
// merges env vars over defaults, but file-first here per spec.md §6.
type Config struct {
	Version  int            `json:"version" mapstructure:"version"`
	Server   ServerConfig   `json:"server" mapstructure:"server"`
	Terminal TerminalConfig `json:"terminal" mapstructure:"terminal"`
	Prompts  PromptsConfig  `json:"prompts" mapstructure:"prompts"`
	Results  ResultsConfig  `json:"results" mapstructure:"results"`

	// Derived / not in config.json: the directory this config was loaded
	// from, so persistence paths (acp/, prompts/, results/) are relative
	// to it rather than to the process cwd.
	RootDir string `json:"-" mapstructure:"-"`

	// ACP timeouts and toggles, all KIRO_* env-overridable.
	ACPConnectTimeout  time.Duration `mapstructure:"-"`
	ACPPromptTimeout   time.Duration `mapstructure:"-"`
	WarnSlowConnect    time.Duration `mapstructure:"-"`
	ExecAllowUnsafe    bool          `mapstructure:"-"`
	InjectAICreds      bool          `mapstructure:"-"`
	DebugTerminal      bool          `mapstructure:"-"`
	GitDebug           bool          `mapstructure:"-"`
	FSDebug            bool          `mapstructure:"-"`
	ACPAutostart       bool          `mapstructure:"-"`
	ACPAutostartAgents []string      `mapstructure:"-"`

	// StrictEnvelopes gates envelope validation: reject unknown fields
	// when true, warn-only when false (spec.md §9).
	StrictEnvelopes bool `mapstructure:"-"`

	// AllowedOrigins for the WS upgrade allowlist; ["*"] permits all.
	AllowedOrigins []string `mapstructure:"-"`

	// MaxConnections, MaxSessions bound concurrent WS connections and PTY
	// sessions (spec.md §5).
	MaxConnections int `mapstructure:"-"`
	MaxSessions    int `mapstructure:"-"`

	// SharedToken, if non-empty, is required (as a bearer token or via
	// the auth handshake) before any non-ping envelope is serviced.
	SharedToken string `mapstructure:"-"`

	// StaticDir serves the SPA bundle at GET /.
	StaticDir string `mapstructure:"-"`
}

const (
	defaultConfigDirName = ".on-the-go"
	configFileName       = "config.json"
)

// Dir returns the `.on-the-go` directory under base (cwd if base is empty).
func Dir(base string) string {
	if base == "" {
		base = "."
	}
	return filepath.Join(base, defaultConfigDirName)
}

// Load reads ./.on-the-go/config.json (or the file at explicitPath) via
// viper, applies defaults, then layers KIRO_* / ANTHROPIC_API_KEY env
// overrides on top, the way vm-agent/internal/config.Load layers getEnv*
// helpers over struct defaults.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("json")

	v.SetDefault("version", 1)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("terminal.shell", defaultShell())
	v.SetDefault("terminal.cwd", "")
	v.SetDefault("prompts.dir", "prompts")
	v.SetDefault("results.dir", "results")

	var path, root string
	if explicitPath != "" {
		path = explicitPath
		root = filepath.Dir(filepath.Dir(path))
	} else {
		root = "."
		path = filepath.Join(Dir(root), configFileName)
	}
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		// No config.json yet: defaults only (e.g. before `init` has run).
	}

	cfg := &Config{RootDir: root}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.ACPConnectTimeout = getEnvDuration("KIRO_ACP_CONNECT_TIMEOUT_MS", 120*time.Second)
	cfg.ACPPromptTimeout = getEnvDuration("KIRO_ACP_PROMPT_TIMEOUT_MS", 0)
	cfg.WarnSlowConnect = getEnvDuration("KIRO_WARN_SLOW_CONNECT_MS", 5*time.Second)
	cfg.ExecAllowUnsafe = getEnvBool("KIRO_EXEC_ALLOW_UNSAFE", false)
	cfg.InjectAICreds = getEnvBool("KIRO_INJECT_AI_CREDS", false)
	cfg.DebugTerminal = getEnvBool("KIRO_DEBUG_TERMINAL", false)
	cfg.GitDebug = getEnvBool("KIRO_GIT_DEBUG", false)
	cfg.FSDebug = getEnvBool("KIRO_FS_DEBUG", false)
	cfg.ACPAutostart = getEnvBool("KIRO_ACP_AUTOSTART", false)
	cfg.ACPAutostartAgents = getEnvStringSlice("KIRO_ACP_AUTOSTART_AGENTS", nil)
	cfg.StrictEnvelopes = getEnvBool("KIRO_STRICT_ENVELOPES", false)
	cfg.AllowedOrigins = getEnvStringSlice("KIRO_ALLOWED_ORIGINS", []string{"*"})
	cfg.MaxConnections = getEnvInt("KIRO_MAX_CONNECTIONS", 10)
	cfg.MaxSessions = getEnvInt("KIRO_MAX_SESSIONS", 50)
	cfg.SharedToken = os.Getenv("KIRO_SHARED_TOKEN")
	cfg.StaticDir = getEnvString("KIRO_STATIC_DIR", "")

	if cfg.Terminal.Cwd == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.Terminal.Cwd = wd
		}
	}

	return cfg, nil
}

// Init creates ./.on-the-go/{config.json,prompts/,results/,README.md} for
// the `init` CLI subcommand (spec.md §6). Returns an error if config.json
// already exists.
func Init(base string) error {
	dir := Dir(base)
	configPath := filepath.Join(dir, configFileName)
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s already exists", configPath)
	}

	for _, sub := range []string{"", "prompts", "results", "acp"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", sub, err)
		}
	}

	cwd, _ := os.Getwd()
	cfg := Config{
		Version: 1,
		Server:  ServerConfig{Port: 8080, Host: "127.0.0.1"},
		Terminal: TerminalConfig{
			Shell: defaultShell(),
			Cwd:   cwd,
		},
		Prompts: PromptsConfig{Dir: "prompts"},
		Results: ResultsConfig{Dir: "results"},
	}

	buf, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}
	if err := writeFileAtomic(configPath, buf); err != nil {
		return err
	}

	readme := []byte(readmeTemplate)
	return writeFileAtomic(filepath.Join(dir, "README.md"), readme)
}

const readmeTemplate = `# on-the-go

This directory holds local daemon state: config.json (server/terminal
settings), prompts/ and results/ (working files for the ACP bridge), and
acp/ (session and thread persistence). Safe to delete while the daemon is
stopped; it will be recreated by 'onthego init'.
`

// writeFileAtomic writes data to path via a temp file in the same
// directory followed by rename, matching the write-then-rename discipline
// spec.md §6 requires for persisted state.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming %s to %s: %w", tmpName, path, err)
	}
	return nil
}

func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	if os.PathSeparator == '\\' {
		return "cmd.exe"
	}
	return "/bin/bash"
}
