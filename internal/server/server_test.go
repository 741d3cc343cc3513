package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testfleet/internal/controller"
	"testfleet/internal/metrics"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestPackageDownload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.pkg")
	require.NoError(t, os.WriteFile(path, []byte("zip bytes"), 0644))
	uploads := controller.NewUploads()
	token := uploads.Register(1, path)

	s := New(Options{Packages: uploads})

	rec := get(t, s.Handler(), "/packages/"+token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Equal(t, "zip bytes", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, get(t, s.Handler(), "/packages/nope").Code)

	uploads.Drop(1)
	assert.Equal(t, http.StatusNotFound, get(t, s.Handler(), "/packages/"+token).Code)
}

func TestPackageFileMissing(t *testing.T) {
	uploads := controller.NewUploads()
	token := uploads.Register(1, filepath.Join(t.TempDir(), "missing.pkg"))
	s := New(Options{Packages: uploads})
	assert.Equal(t, http.StatusGone, get(t, s.Handler(), "/packages/"+token).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	m := metrics.New()
	m.Tick("run")
	s := New(Options{
		Metrics: m.Handler(),
		Health:  func() map[string]interface{} { return map[string]interface{}{"activeTests": 2} },
	})

	rec := get(t, s.Handler(), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, 2.0, body["activeTests"])

	rec = get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "testfleet_cycle_ticks_total")
}

func TestMCPRoute(t *testing.T) {
	called := false
	s := New(Options{MCP: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusAccepted)
	})})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))
	assert.True(t, called)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestStartStop(t *testing.T) {
	s := New(Options{Host: "127.0.0.1", Port: 0})
	require.NoError(t, s.Start())
	assert.Error(t, s.Start())

	resp, err := http.Get(s.URL() + "/healthz")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `"status":"ok"`)

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
}
