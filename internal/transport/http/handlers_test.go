package http

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polarcli/internal/config"
	apierrors "polarcli/internal/errors"
	"polarcli/internal/middleware"
	"polarcli/internal/services"
	"polarcli/internal/shared/testutil"
	"polarcli/pkg/contracts"
)

type staticStats map[string]int64

func (s staticStats) Stats() map[string]int64 { return s }

func TestHealthHandler(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	base := t.TempDir()
	paths := &config.Paths{
		UploadsDir: filepath.Join(base, "uploads"),
		ReportsDir: filepath.Join(base, "reports"),
	}
	h := NewHealthHandler(services.NewHealthService(paths, nil, nil, logger), staticStats{"active_clients": 2}, logger)

	tests := []struct {
		name        string
		handlerFunc http.HandlerFunc
		wantStatus  int
		check       func(t *testing.T, body map[string]any)
	}{
		{
			name:        "health",
			handlerFunc: h.HealthCheck,
			wantStatus:  http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "ok", body["status"])
				assert.Equal(t, contracts.Version, body["version"])
			},
		},
		{
			name:        "not ready without directories",
			handlerFunc: h.ReadinessCheck,
			wantStatus:  http.StatusServiceUnavailable,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "not_ready", body["status"])
			},
		},
		{
			name:        "live",
			handlerFunc: h.LivenessCheck,
			wantStatus:  http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "alive", body["status"])
			},
		},
		{
			name:        "version",
			handlerFunc: h.Version,
			wantStatus:  http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, contracts.Version, body["version"])
			},
		},
		{
			name:        "stats",
			handlerFunc: h.Stats,
			wantStatus:  http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Contains(t, body, "system")
				assert.EqualValues(t, 2, body["websocket"].(map[string]any)["active_clients"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(tt.handlerFunc, httptest.NewRequest(http.MethodGet, "/", nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
			tt.check(t, decode(t, rec))
		})
	}

	require.NoError(t, os.MkdirAll(paths.UploadsDir, 0755))
	require.NoError(t, os.MkdirAll(paths.ReportsDir, 0755))
	rec := serve(http.HandlerFunc(h.ReadinessCheck), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsHandler(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	eh := apierrors.NewErrorHandler(logger, false)

	disabled := NewMetricsHandler(nil, eh)
	rec := serve(disabled, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	enabled := NewMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("polar_conversions_total 1\n"))
	}), eh)
	rec = serve(enabled, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "polar_conversions_total")
}

func TestClientLogHandler(t *testing.T) {
	logger, handler := testutil.NewTestLogger(t)
	h := NewClientLogHandler(middleware.NewValidator(logger), logger, apierrors.NewErrorHandler(logger, false))

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"valid", `{"level":"warn","message":"socket dropped","source":"dashboard"}`, http.StatusAccepted},
		{"default level", `{"message":"hello"}`, http.StatusAccepted},
		{"missing message", `{"level":"info"}`, http.StatusBadRequest},
		{"bad level", `{"level":"fatal","message":"x"}`, http.StatusBadRequest},
		{"invalid json", `{"level":`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/logs", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := serve(http.HandlerFunc(h.Handle), req)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}

	assert.True(t, handler.ContainsMessage("socket dropped"))
	assert.True(t, handler.ContainsAttr("client_source", "dashboard"))
}
