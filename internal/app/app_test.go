package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-close/internal/observability"
	"github.com/odyssey-erp/odyssey-close/internal/shared"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)

	closeCfg := cfg.CloseConfig()
	require.Equal(t, 72*time.Hour, closeCfg.MaxLockAge)
	require.Equal(t, 80, closeCfg.MinLockScore)
	require.Equal(t, 90, closeCfg.MinCompletionScore)
	require.True(t, closeCfg.RequireFinalValidation)
	require.True(t, closeCfg.LockSkipValidationOnError)
	require.Equal(t, 24*time.Hour, closeCfg.ReopenMinAge)
	require.Equal(t, 30*time.Second, closeCfg.TransitionLockTTL)
	require.Equal(t, 90*24*time.Hour, closeCfg.ReopenWindow("cfo"))
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("CLOSE_MAX_LOCK_AGE", "48h")
	t.Setenv("CLOSE_MIN_LOCK_SCORE", "70")
	t.Setenv("CLOSE_REQUIRE_FINAL_VALIDATION", "false")
	t.Setenv("CLOSE_NOTIFY_RECIPIENTS", " cfo@example.com, ,controller@example.com ")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	closeCfg := cfg.CloseConfig()
	require.Equal(t, 48*time.Hour, closeCfg.MaxLockAge)
	require.Equal(t, 70, closeCfg.MinLockScore)
	require.False(t, closeCfg.RequireFinalValidation)
	require.Equal(t, []string{"cfo@example.com", "controller@example.com"}, cfg.Recipients())
}

func TestLoadConfigRejectsOutOfRangeScores(t *testing.T) {
	t.Setenv("CLOSE_MIN_LOCK_SCORE", "120")
	t.Setenv("CLOSE_TRANSITION_LOCK_TTL", "0s")
	_, err := LoadConfig()
	require.ErrorContains(t, err, "CLOSE_MIN_LOCK_SCORE")
	require.ErrorContains(t, err, "CLOSE_TRANSITION_LOCK_TTL")
}

func TestNewLoggerHonoursLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogFormat: "json", LogLevel: "warn"})
	logger.Info("hidden")
	logger.Warn("shown", slog.Int64("close_id", 9))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "shown", line["msg"])
	require.Equal(t, float64(9), line["close_id"])

	require.Equal(t, slog.LevelInfo, parseLevel(&Config{LogLevel: "loud"}))
}

func TestActorMiddleware(t *testing.T) {
	var seen int64
	h := ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = shared.ActorFromContext(r.Context())
	}))

	serve := func(header string) int {
		seen = -1
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set(ActorHeader, header)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	require.Equal(t, http.StatusOK, serve("42"))
	require.Equal(t, int64(42), seen)
	require.Equal(t, http.StatusOK, serve(""))
	require.Equal(t, int64(0), seen)
	require.Equal(t, http.StatusBadRequest, serve("admin"))
	require.Equal(t, int64(-1), seen)
	require.Equal(t, http.StatusBadRequest, serve("-3"))
}

func TestRouterHealthAndReadiness(t *testing.T) {
	t.Cleanup(RefreshTestMode)
	t.Setenv(TestModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())

	healthy := PingFunc(func(context.Context) error { return nil })
	broken := PingFunc(func(context.Context) error { return errors.New("dial tcp: refused") })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	router := NewRouter(RouterParams{
		Logger:    logger,
		Config:    &Config{},
		Metrics:   observability.NewMetrics(),
		Readiness: map[string]Pinger{"postgres": healthy, "redis": broken},
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var body struct {
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, map[string]string{"postgres": "ok", "redis": "unavailable"}, body.Checks)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `odyssey_http_requests_total{code="200",route="/healthz"} 1`)
}
