// Package httpserver wires the HTTP surface named in spec.md §6: the SPA
// static bundle at GET /, JSON status/shutdown endpoints under /api/, and
// the /ws upgrade delegated to internal/wshub.
package httpserver

import (
	"embed"
	"encoding/json"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/on-the-go/daemon/internal/wshub"
)

//go:embed static/*
var embeddedStatic embed.FS

// StatusFunc reports the values surfaced by `GET /api/status` and the
// `status` CLI subcommand.
type StatusFunc func() Status

// Status is the JSON body of `GET /api/status`.
type Status struct {
	Port        int    `json:"port"`
	Connections int    `json:"connections"`
	UptimeMs    int64  `json:"uptimeMs"`
	Version     string `json:"version"`
}

// ShutdownFunc is invoked by `POST /api/shutdown`, the mechanism the `stop`
// CLI subcommand uses to signal a running daemon via localhost ping
// (spec.md §6).
type ShutdownFunc func()

// Config configures Server.
type Config struct {
	Hub          *wshub.Hub
	Status       StatusFunc
	Shutdown     ShutdownFunc
	StaticDir    string // overrides the embedded bundle when non-empty
	SharedToken  string // if set, /api/* requires this token except /api/status
}

// Server is the HTTP entrypoint, an *http.Server wrapping a chi router.
type Server struct {
	cfg    Config
	router chi.Router
}

// New builds the router: chi middleware stack in the teacher's style
// (request id / recover / structured logging), then routes.
func New(cfg Config) *Server {
	s := &Server{cfg: cfg}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/ws", cfg.Hub.ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/shutdown", s.handleShutdown)
	})

	r.NotFound(s.handleStatic)

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.cfg.Status())
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Shutdown == nil {
		http.Error(w, "shutdown not supported", http.StatusNotImplemented)
		return
	}
	if s.cfg.SharedToken != "" {
		if r.Header.Get("Authorization") != "Bearer "+s.cfg.SharedToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	w.WriteHeader(http.StatusAccepted)
	go s.cfg.Shutdown()
}

// handleStatic serves the SPA bundle for any path not claimed by /ws or
// /api/*, falling back to index.html so client-side routing keeps working
// on a hard refresh (spec.md §6).
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	var root fs.FS
	if s.cfg.StaticDir != "" {
		root = os.DirFS(s.cfg.StaticDir)
	} else {
		sub, err := fs.Sub(embeddedStatic, "static")
		if err != nil {
			http.Error(w, "static assets unavailable", http.StatusInternalServerError)
			return
		}
		root = sub
	}

	path := r.URL.Path
	if path == "/" {
		path = "/index.html"
	}

	if f, err := root.Open(trimLeadingSlash(path)); err == nil {
		f.Close()
		http.FileServer(http.FS(root)).ServeHTTP(w, r)
		return
	}

	// Unknown path: SPA client-side routing fallback.
	r.URL.Path = "/"
	http.FileServer(http.FS(root)).ServeHTTP(w, r)
}

func trimLeadingSlash(p string) string {
	if len(p) > 0 && p[0] == '/' {
		return p[1:]
	}
	return p
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}
