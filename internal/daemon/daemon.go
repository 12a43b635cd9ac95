// Package daemon wires every subsystem named in spec.md §4 behind the WS
// multiplexer and HTTP server: event bus, PTY engine, ACP bridges, git and
// filesystem services, and the tunnel supervisor, brought up in dependency
// order and torn down in reverse (spec.md §5).
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/on-the-go/daemon/internal/acp"
	"github.com/on-the-go/daemon/internal/config"
	"github.com/on-the-go/daemon/internal/eventbus"
	"github.com/on-the-go/daemon/internal/fsservice"
	"github.com/on-the-go/daemon/internal/gitservice"
	"github.com/on-the-go/daemon/internal/httpserver"
	"github.com/on-the-go/daemon/internal/ptyengine"
	"github.com/on-the-go/daemon/internal/tunnel"
	"github.com/on-the-go/daemon/internal/wshub"
)

// Daemon owns every long-lived subsystem and the HTTP listener fronting
// them. Construct with New, then call Run.
type Daemon struct {
	cfg *config.Config

	bus       *eventbus.Bus
	hub       *wshub.Hub
	http      *httpserver.Server
	terminals *ptyengine.Manager
	git       *gitservice.Service
	fs        *fsservice.Service
	tunnels   *tunnel.Supervisor

	bridges *bridgeRegistry

	startedAt time.Time

	mu       sync.Mutex
	listener net.Listener
	srv      *http.Server

	shutdownOnce      sync.Once
	shutdownRequested chan struct{}
}

// New constructs a Daemon from cfg without starting anything (spec.md §5:
// subsystems are brought up in dependency order by Run).
func New(cfg *config.Config) *Daemon {
	bus := eventbus.New()

	hub := wshub.New(wshub.Config{
		MaxConnections: cfg.MaxConnections,
		AllowedOrigins: cfg.AllowedOrigins,
	}, bus)

	terminals := ptyengine.NewManager(ptyengine.ManagerConfig{
		DefaultShell: cfg.Terminal.Shell,
		AllowUnsafe:  cfg.ExecAllowUnsafe,
	})

	gitSvc := gitservice.New(gitservice.Config{
		WorkspaceRoot:    cfg.Terminal.Cwd,
		AllowDestructive: cfg.ExecAllowUnsafe,
		Debug:            cfg.GitDebug,
	})

	fsSvc := fsservice.New(fsservice.Config{
		WorkspaceRoot: cfg.Terminal.Cwd,
		Logger:        slog.Default().With("component", "fsservice"),
	})

	tunnels := tunnel.NewSupervisor(filepath.Join(cfg.RootDir, ".on-the-go", "tunnel"))

	d := &Daemon{
		cfg:               cfg,
		bus:               bus,
		hub:               hub,
		terminals:         terminals,
		git:               gitSvc,
		fs:                fsSvc,
		tunnels:           tunnels,
		bridges:           newBridgeRegistry(cfg),
		shutdownRequested: make(chan struct{}),
	}

	d.http = httpserver.New(httpserver.Config{
		Hub:         hub,
		Status:      d.status,
		Shutdown:    d.requestShutdown,
		StaticDir:   cfg.StaticDir,
		SharedToken: cfg.SharedToken,
	})

	d.registerHandlers()
	return d
}

// registerHandlers installs every envelope-type handler onto the hub and
// hooks connection teardown to release per-connection state (spec.md §4.5
// "a disconnected client's watchers are all removed", §4.3 bridge
// lifetime).
func (d *Daemon) registerHandlers() {
	d.registerACPHandlers()
	d.registerTerminalHandlers()
	d.registerGitHandlers()
	d.registerFSHandlers()
	d.registerTunnelsHandlers()

	d.hub.OnDisconnect(func(connID string) {
		d.bridges.remove(connID)
		d.fs.UnwatchAll(connID)
	})
}

// status reports the values surfaced by `GET /api/status` and the `status`
// CLI subcommand (spec.md §6).
func (d *Daemon) status() httpserver.Status {
	uptime := int64(0)
	if !d.startedAt.IsZero() {
		uptime = time.Since(d.startedAt).Milliseconds()
	}
	return httpserver.Status{
		Port:        d.cfg.Server.Port,
		Connections: d.hub.ConnectionCount(),
		UptimeMs:    uptime,
		Version:     fmt.Sprintf("%d", d.cfg.Version),
	}
}

func (d *Daemon) requestShutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdownRequested) })
}

// Run starts the HTTP listener and blocks until ctx is cancelled or the
// `stop` CLI signals a shutdown via POST /api/shutdown, then shuts every
// subsystem down in reverse dependency order.
func (d *Daemon) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", d.cfg.Server.Host, d.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen on %s:%d: %w", d.cfg.Server.Host, d.cfg.Server.Port, err)
	}

	d.mu.Lock()
	d.listener = ln
	d.srv = &http.Server{Handler: d.http}
	d.startedAt = time.Now()
	d.mu.Unlock()

	slog.Info("daemon: listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := d.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case <-d.shutdownRequested:
		slog.Info("daemon: shutdown requested via /api/shutdown")
	case err := <-errCh:
		return err
	}

	return d.shutdown()
}

// shutdown tears every subsystem down in reverse order: HTTP listener,
// tunnels, PTY sessions, then the event bus (spec.md §5).
func (d *Daemon) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	d.mu.Lock()
	srv := d.srv
	d.mu.Unlock()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("daemon: http shutdown error", "error", err)
		}
	}

	d.tunnels.StopAll()
	d.bridges.disconnectAll()
	d.terminals.Stop()

	slog.Info("daemon: stopped")
	return nil
}

// Addr returns the listener's address once Run has started it.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

// bridgeRegistry owns one ACP Bridge per WS connection (spec.md §4.3:
// framing is "fixed for the child's lifetime" of a single connection) plus
// the shared on-disk session store all bridges persist through.
type bridgeRegistry struct {
	cfg   *config.Config
	store *acp.Store

	mu     sync.Mutex
	byConn map[string]*acp.Bridge
}

func newBridgeRegistry(cfg *config.Config) *bridgeRegistry {
	storeDir := filepath.Join(cfg.RootDir, ".on-the-go", "acp")
	store, err := acp.OpenStore(storeDir)
	if err != nil {
		slog.Error("daemon: failed to open acp store, using in-memory fallback", "error", err)
		store, _ = acp.OpenStore(filepath.Join(cfg.RootDir, ".on-the-go", "acp-fallback"))
	}
	return &bridgeRegistry{cfg: cfg, store: store, byConn: make(map[string]*acp.Bridge)}
}

func (r *bridgeRegistry) get(connID string) (*acp.Bridge, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byConn[connID]
	return b, ok
}

func (r *bridgeRegistry) getOrCreate(connID string, emit acp.EventFunc) *acp.Bridge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.byConn[connID]; ok {
		return b
	}
	b := acp.NewBridge(r.store, r.cfg.Terminal.Cwd, emit)
	r.byConn[connID] = b
	return b
}

func (r *bridgeRegistry) remove(connID string) {
	r.mu.Lock()
	b, ok := r.byConn[connID]
	delete(r.byConn, connID)
	r.mu.Unlock()
	if ok {
		_ = b.Disconnect()
	}
}

func (r *bridgeRegistry) disconnectAll() {
	r.mu.Lock()
	bridges := make([]*acp.Bridge, 0, len(r.byConn))
	for _, b := range r.byConn {
		bridges = append(bridges, b)
	}
	r.byConn = make(map[string]*acp.Bridge)
	r.mu.Unlock()

	for _, b := range bridges {
		_ = b.Disconnect()
	}
}
