package tunnel

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"golang.org/x/mod/semver"
	"golang.org/x/time/rate"
)

const (
	binaryName         = "cloudflared"
	versionCheckTime   = 5 * time.Second
	downloadUserAgent  = "on-the-go-daemon/tunnel-bootstrap"
	releaseBaseURL     = "https://github.com/cloudflare/cloudflared/releases/latest/download"
	latestReleaseAPI   = "https://api.github.com/repos/cloudflare/cloudflared/releases/latest"
	redownloadInterval = time.Hour
)

// bootstrapper resolves and caches the path to the cloudflared binary
// (spec.md §4.4 "Binary bootstrap"): prefer PATH, fall back to a validated
// HTTPS download, cache the resolved path for the process lifetime.
type bootstrapper struct {
	cacheDir string
	client   *http.Client
	limiter  *rate.Limiter

	mu       sync.Mutex
	resolved string
}

func newBootstrapper(cacheDir string) *bootstrapper {
	return &bootstrapper{
		cacheDir: cacheDir,
		client:   &http.Client{Timeout: 30 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(redownloadInterval), 1),
	}
}

// resolve returns the path to a working cloudflared binary, per spec.md
// §4.4 steps 1-5.
func (b *bootstrapper) resolve(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.resolved != "" {
		return b.resolved, nil
	}

	if path, err := exec.LookPath(binaryName); err == nil {
		if verifyBinary(ctx, path) {
			b.resolved = path
			b.warnIfOutdated(ctx, path)
			return path, nil
		}
	}

	path, err := b.download(ctx)
	if err != nil {
		return "", errBinaryUnavailable(err)
	}
	b.resolved = path
	return path, nil
}

func verifyBinary(ctx context.Context, path string) bool {
	vctx, cancel := context.WithTimeout(ctx, versionCheckTime)
	defer cancel()
	cmd := exec.CommandContext(vctx, path, "version")
	return cmd.Run() == nil
}

// download fetches the platform-matching release asset, validates it, and
// installs it into cacheDir (spec.md §4.4 steps 2-4).
func (b *bootstrapper) download(ctx context.Context) (string, error) {
	if !b.limiter.Allow() {
		return "", fmt.Errorf("tunnel binary re-download throttled")
	}

	asset, altAsset := assetNames(runtime.GOOS, runtime.GOARCH)
	if asset == "" {
		return "", fmt.Errorf("unsupported platform %s/%s", runtime.GOOS, runtime.GOARCH)
	}

	if err := os.MkdirAll(b.cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("creating cache dir: %w", err)
	}
	destName := binaryName
	if runtime.GOOS == "windows" {
		destName += ".exe"
	}
	dest := filepath.Join(b.cacheDir, destName)

	data, err := b.fetchAsset(ctx, asset)
	if err != nil || !validAsset(data) {
		if altAsset == "" {
			if err == nil {
				err = fmt.Errorf("downloaded asset failed validation")
			}
			return "", err
		}
		slog.Warn("tunnel: primary asset invalid, trying alternate architecture", "asset", asset, "alt", altAsset)
		data, err = b.fetchAsset(ctx, altAsset)
		if err != nil {
			return "", err
		}
		if !validAsset(data) {
			return "", fmt.Errorf("downloaded alternate asset failed validation")
		}
	}

	if runtime.GOOS == "darwin" {
		extracted, err := extractTarGzBinary(data)
		if err != nil {
			return "", fmt.Errorf("extracting darwin release archive: %w", err)
		}
		data = extracted
	}

	if err := os.WriteFile(dest, data, 0o755); err != nil {
		return "", fmt.Errorf("writing binary: %w", err)
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(dest, 0o755); err != nil {
			return "", fmt.Errorf("chmod +x: %w", err)
		}
	}

	if !verifyBinary(ctx, dest) {
		return "", fmt.Errorf("downloaded binary failed version verification")
	}
	return dest, nil
}

func (b *bootstrapper) fetchAsset(ctx context.Context, asset string) ([]byte, error) {
	url := releaseBaseURL + "/" + asset
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", downloadUserAgent)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", asset, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading %s: unexpected status %s", asset, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// validAsset checks nonzero size and a platform-appropriate header: a PE
// signature at offset 0 on Windows (spec.md §4.4 step 3), a gzip signature
// for the darwin .tgz release archive.
func validAsset(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	switch runtime.GOOS {
	case "windows":
		return bytes.HasPrefix(data, []byte("MZ"))
	case "darwin":
		return bytes.HasPrefix(data, []byte{0x1f, 0x8b})
	default:
		return true
	}
}

// assetNames returns the primary and alternate-architecture release asset
// file names for goos/goarch (spec.md §4.4 step 2: "On Windows, consult
// PROCESSOR_ARCHITECTURE and PROCESSOR_ARCHITEW6432 to distinguish ARM64 vs
// AMD64").
func assetNames(goos, goarch string) (asset, altAsset string) {
	arch, altArch := goarch, ""
	if goos == "windows" {
		arch, altArch = windowsArch()
	}
	switch goos {
	case "windows":
		primary := "cloudflared-windows-" + arch + ".exe"
		if altArch != "" {
			return primary, "cloudflared-windows-" + altArch + ".exe"
		}
		return primary, ""
	case "darwin":
		return "cloudflared-darwin-" + normalizeArch(arch) + ".tgz", ""
	case "linux":
		return "cloudflared-linux-" + normalizeArch(arch), ""
	default:
		return "", ""
	}
}

func normalizeArch(goarch string) string {
	switch goarch {
	case "amd64":
		return "amd64"
	case "arm64":
		return "arm64"
	default:
		return goarch
	}
}

// windowsArch distinguishes ARM64 from AMD64 using the environment
// variables Windows sets even when running the 32-bit emulation layer.
func windowsArch() (primary, alternate string) {
	arch := os.Getenv("PROCESSOR_ARCHITECTURE")
	wow64Arch := os.Getenv("PROCESSOR_ARCHITEW6432")
	if wow64Arch != "" {
		arch = wow64Arch
	}
	switch arch {
	case "ARM64":
		return "arm64", "amd64"
	default:
		return "amd64", "arm64"
	}
}

// warnIfOutdated is a best-effort, non-fatal check of the installed
// cloudflared version against the latest GitHub release (SPEC_FULL.md's
// domain-stack wiring for golang.org/x/mod/semver). Network failures are
// swallowed: this never blocks `install` from succeeding.
func (b *bootstrapper) warnIfOutdated(ctx context.Context, path string) {
	vctx, cancel := context.WithTimeout(ctx, versionCheckTime)
	defer cancel()
	out, err := exec.CommandContext(vctx, path, "version").Output()
	if err != nil {
		return
	}
	installed := "v" + firstVersionToken(string(out))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, latestReleaseAPI, nil)
	if err != nil {
		return
	}
	req.Header.Set("User-Agent", downloadUserAgent)
	resp, err := b.client.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return
	}
	var release struct {
		TagName string `json:"tag_name"`
	}
	if err := decodeJSON(resp.Body, &release); err != nil {
		return
	}
	latest := release.TagName
	if !semver.IsValid(installed) || !semver.IsValid(latest) {
		return
	}
	if semver.Compare(installed, latest) < 0 {
		slog.Info("tunnel: a newer cloudflared release is available", "installed", installed, "latest", latest)
	}
}
