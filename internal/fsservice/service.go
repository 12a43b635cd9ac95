package fsservice

import (
	"log/slog"
)

const (
	defaultMaxTextBytes  = 1 << 20 // 1 MiB
	maxTreeEntries       = 1000
	maxTreeDepth         = 10
	maxWatchersPerClient = 50
	watchDebounce        = 100 // milliseconds, see watch.go
)

// Config tunes a Service's behavior (spec.md §4.5).
type Config struct {
	WorkspaceRoot string
	AllowSymlinks bool
	DenyList      []string
	MaxTextBytes  int64
	Logger        *slog.Logger
}

// Service implements the workspace filesystem view (spec.md §4.5).
type Service struct {
	cfg      Config
	resolver *Resolver
	watchers *watcherSet
	log      *slog.Logger
}

// New constructs a Service rooted at cfg.WorkspaceRoot.
func New(cfg Config) *Service {
	if cfg.MaxTextBytes <= 0 {
		cfg.MaxTextBytes = defaultMaxTextBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:      cfg,
		resolver: NewResolver(cfg.WorkspaceRoot, cfg.AllowSymlinks, cfg.DenyList),
		watchers: newWatcherSet(logger),
		log:      logger,
	}
}

// Close stops all watchers and releases resources.
func (s *Service) Close() error {
	return s.watchers.closeAll()
}
