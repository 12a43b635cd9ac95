// Command onthego runs the on-the-go workstation daemon: a local WebSocket
// multiplexer fronting a PTY engine, an ACP agent bridge, a filesystem and
// git service, and a tunnel supervisor, all serving a single developer's
// workstation over localhost (spec.md §1, §6).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/on-the-go/daemon/internal/config"
	"github.com/on-the-go/daemon/internal/daemon"
	"github.com/on-the-go/daemon/internal/logging"
)

// Exit codes per spec.md §6.
const (
	exitClean         = 0
	exitConfigError   = 1
	exitPortInUse     = 2
	exitUnrecoverable = 3
	exitInterrupted   = 130
)

func main() {
	logging.Setup()

	if len(os.Args) < 2 {
		usage()
		os.Exit(exitConfigError)
	}

	var err error
	switch os.Args[1] {
	case "init":
		err = runInit(os.Args[2:])
	case "start":
		err = runStart(os.Args[2:])
	case "stop":
		err = runStop(os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		usage()
		os.Exit(exitConfigError)
	}

	if err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.msg)
			os.Exit(exitErr.code)
		}
		fmt.Fprintln(os.Stderr, "onthego:", err)
		os.Exit(exitConfigError)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: onthego <command> [flags]

commands:
  init                         create ./.on-the-go/ with config.json, prompts/, results/
  start [--port N] [--config PATH]   run the daemon in the foreground
  stop [--config PATH]               signal a running daemon to exit
  status [--json] [--config PATH]    print server status`)
}

// exitError carries a specific process exit code through the error chain.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func newExitError(code int, format string, args ...any) error {
	return &exitError{code: code, msg: fmt.Sprintf(format, args...)}
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	fs.Parse(args)

	if err := config.Init("."); err != nil {
		return newExitError(exitConfigError, "init failed: %v", err)
	}
	fmt.Println("initialized ./.on-the-go")
	return nil
}

func runStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	port := fs.Int("port", 0, "override the configured port")
	configPath := fs.String("config", "", "path to config.json")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return newExitError(exitConfigError, "loading config: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	if pid := readPIDFile(cfg.RootDir); pid != 0 && processAlive(pid) {
		return newExitError(exitConfigError, "daemon already running (pid %s); run 'onthego stop' first", fmtPID(pid))
	}

	d := daemon.New(cfg)

	if err := writePIDFile(cfg.RootDir); err != nil {
		slog.Warn("failed to write pid file", "error", err)
	}
	defer removePIDFile(cfg.RootDir)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("onthego: starting", "port", cfg.Server.Port, "cwd", cfg.Terminal.Cwd)

	runErr := d.Run(ctx)

	interrupted := ctx.Err() != nil

	if runErr != nil {
		var addrErr *net.OpError
		if errors.As(runErr, &addrErr) {
			return newExitError(exitPortInUse, "port %d in use: %v", cfg.Server.Port, runErr)
		}
		return newExitError(exitUnrecoverable, "daemon exited with error: %v", runErr)
	}

	if interrupted {
		return newExitError(exitInterrupted, "interrupted")
	}

	fmt.Println("onthego stopped")
	return nil
}

func runStop(args []string) error {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.json")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return newExitError(exitConfigError, "loading config: %v", err)
	}

	addr := fmt.Sprintf("http://%s:%d/api/shutdown", cfg.Server.Host, cfg.Server.Port)
	req, err := http.NewRequest(http.MethodPost, addr, nil)
	if err != nil {
		return newExitError(exitConfigError, "building shutdown request: %v", err)
	}
	if cfg.SharedToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.SharedToken)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		pid := readPIDFile(cfg.RootDir)
		if pid != 0 && processAlive(pid) {
			if killErr := syscall.Kill(pid, syscall.SIGTERM); killErr != nil {
				return newExitError(exitConfigError, "daemon not reachable over HTTP and signaling pid %s failed: %v", fmtPID(pid), killErr)
			}
			fmt.Printf("sent SIGTERM to pid %s\n", fmtPID(pid))
			return nil
		}
		return newExitError(exitConfigError, "no running daemon found: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return newExitError(exitConfigError, "shutdown request rejected: status %d", resp.StatusCode)
	}
	fmt.Println("shutdown requested")
	return nil
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "print status as JSON")
	configPath := fs.String("config", "", "path to config.json")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return newExitError(exitConfigError, "loading config: %v", err)
	}

	addr := fmt.Sprintf("http://%s:%d/api/status", cfg.Server.Host, cfg.Server.Port)
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(addr)
	if err != nil {
		return newExitError(exitConfigError, "daemon not running at %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	defer resp.Body.Close()

	var st struct {
		Port        int    `json:"port"`
		Connections int    `json:"connections"`
		UptimeMs    int64  `json:"uptimeMs"`
		Version     string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return newExitError(exitConfigError, "decoding status response: %v", err)
	}

	if *asJSON || !isatty.IsTerminal(os.Stdout.Fd()) {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	fmt.Printf("port:        %d\n", st.Port)
	fmt.Printf("connections: %d\n", st.Connections)
	fmt.Printf("uptime:      %s\n", time.Duration(st.UptimeMs*int64(time.Millisecond)))
	fmt.Printf("version:     %s\n", st.Version)
	return nil
}
