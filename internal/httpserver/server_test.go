package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/on-the-go/daemon/internal/eventbus"
	"github.com/on-the-go/daemon/internal/wshub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(cfg Config) *Server {
	if cfg.Hub == nil {
		cfg.Hub = wshub.New(wshub.Config{}, eventbus.New())
	}
	if cfg.Status == nil {
		cfg.Status = func() Status { return Status{Port: 8080} }
	}
	return New(cfg)
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(Config{})
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 8080, got.Port)
}

func TestStaticFallbackServesIndex(t *testing.T) {
	s := newTestServer(Config{})
	req := httptest.NewRequest(http.MethodGet, "/some/client/route", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "on-the-go")
}

func TestShutdownWithoutHandlerIsNotImplemented(t *testing.T) {
	s := newTestServer(Config{})
	req := httptest.NewRequest(http.MethodPost, "/api/shutdown", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestShutdownInvokesCallback(t *testing.T) {
	called := make(chan struct{})
	s := newTestServer(Config{Shutdown: func() { close(called) }})
	req := httptest.NewRequest(http.MethodPost, "/api/shutdown", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown callback not invoked")
	}
}

func TestShutdownRequiresToken(t *testing.T) {
	s := newTestServer(Config{Shutdown: func() {}, SharedToken: "secret"})
	req := httptest.NewRequest(http.MethodPost, "/api/shutdown", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/api/shutdown", nil)
	req2.Header.Set("Authorization", "Bearer secret")
	w2 := httptest.NewRecorder()
	s.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusAccepted, w2.Code)
}

