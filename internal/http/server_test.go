package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/wavekeeper/internal/config"
	"github.com/fyrsmithlabs/wavekeeper/internal/execlog"
	"github.com/fyrsmithlabs/wavekeeper/internal/logging"
	"github.com/fyrsmithlabs/wavekeeper/internal/retry"
	"github.com/fyrsmithlabs/wavekeeper/internal/services"
	"github.com/fyrsmithlabs/wavekeeper/internal/taskgraph"
	"github.com/fyrsmithlabs/wavekeeper/internal/workflow"
)

func setupRegistry(t *testing.T) (services.Registry, *config.Config) {
	t.Helper()
	cfg, err := config.Load(config.Options{ProjectDir: t.TempDir()})
	require.NoError(t, err)
	return services.FromConfig(cfg, nil), cfg
}

func setupTestServer(t *testing.T, cfg *Config) (*Server, services.Registry) {
	t.Helper()
	reg, _ := setupRegistry(t)
	server, err := NewServer(reg, zap.NewNop(), cfg)
	require.NoError(t, err)
	return server, reg
}

func do(t *testing.T, s *Server, method, path string, body []byte, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewServer(t *testing.T) {
	reg, settings := setupRegistry(t)

	t.Run("creates server from settings", func(t *testing.T) {
		cfg := ConfigFromSettings(settings.Server)
		server, err := NewServer(reg, zap.NewNop(), cfg)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:9191", server.Addr())
		assert.Equal(t, cfg, server.config)
	})

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(reg, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1", server.config.Host)
		assert.Equal(t, 9191, server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(reg, nil, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNilLogger)
	})

	t.Run("returns error when registry is nil", func(t *testing.T) {
		_, err := NewServer(nil, zap.NewNop(), nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNilRegistry)
	})
}

func TestRequestLogger_Levels(t *testing.T) {
	reg, _ := setupRegistry(t)
	tl := logging.NewTestLogger()
	server, err := NewServer(reg, tl.Underlying(), nil)
	require.NoError(t, err)

	do(t, server, http.MethodGet, "/health", nil)
	tl.AssertLogged(t, zapcore.DebugLevel, "http request")
	tl.AssertNotLogged(t, zapcore.InfoLevel, "http request")

	tl.Reset()
	rec := do(t, server, http.MethodGet, "/api/v1/retries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tl.AssertLogged(t, zapcore.InfoLevel, "http request")
	tl.AssertField(t, "http request", "status", "200")
	tl.AssertField(t, "http request", "request_id", rec.Header().Get(echo.HeaderXRequestID))
}

func TestHandleHealth(t *testing.T) {
	server, _ := setupTestServer(t, nil)

	rec := do(t, server, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestWorkflowEndpoints(t *testing.T) {
	server, reg := setupTestServer(t, nil)
	ctx := context.Background()

	t.Run("no active workflow", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, do(t, server, http.MethodGet, "/api/v1/workflow", nil).Code)
		assert.Equal(t, http.StatusNotFound, do(t, server, http.MethodGet, "/api/v1/workflow/status", nil).Code)
	})

	_, err := reg.Workflow().Create(ctx, "Ship it", []workflow.PhaseSpec{
		{Title: "Build", Agent: "builder"},
		{Title: "Test", Agent: "tester"},
	})
	require.NoError(t, err)
	handoff := "artifacts in dist/"
	_, err = reg.Workflow().UpdatePhaseStatus(ctx, "phase_0", workflow.StatusCompleted, workflow.Update{ContextForNext: &handoff})
	require.NoError(t, err)

	t.Run("state", func(t *testing.T) {
		rec := do(t, server, http.MethodGet, "/api/v1/workflow", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		st := decode[workflow.State](t, rec)
		assert.Equal(t, "Ship it", st.Task)
		assert.Equal(t, workflow.StatusActive, st.Status)
		require.NotNil(t, st.CurrentPhase)
		assert.Equal(t, "phase_1", *st.CurrentPhase)
	})

	t.Run("markdown status", func(t *testing.T) {
		rec := do(t, server, http.MethodGet, "/api/v1/workflow/status", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "text/markdown")
		assert.Contains(t, rec.Body.String(), "# Workflow: Ship it")
		assert.Contains(t, rec.Body.String(), "Phase 1: Test ◀ current")
	})

	t.Run("handoff", func(t *testing.T) {
		rec := do(t, server, http.MethodGet, "/api/v1/workflow/handoff/phase_1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, HandoffResponse{PhaseID: "phase_1", Context: handoff}, decode[HandoffResponse](t, rec))

		assert.Equal(t, http.StatusNotFound, do(t, server, http.MethodGet, "/api/v1/workflow/handoff/phase_9", nil).Code)
	})
}

func TestRetryEndpoints(t *testing.T) {
	server, reg := setupTestServer(t, nil)
	ctx := context.Background()

	_, err := reg.Retry().Init(ctx, "phase_0", "wf_1", "builder", retry.InitOptions{MaxAttempts: 1})
	require.NoError(t, err)
	_, err = reg.Retry().RecordFailure(ctx, "phase_0", retry.Failure{Message: "boom", Kind: retry.Permanent})
	require.NoError(t, err)

	rec := do(t, server, http.MethodGet, "/api/v1/retries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	doc := decode[retry.Budgets](t, rec)
	assert.Equal(t, retry.DocumentVersion, doc.Version)
	assert.Contains(t, doc.Retries, "phase_0")

	rec = do(t, server, http.MethodGet, "/api/v1/retries/phase_0", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		State    retry.State `json:"state"`
		Decision struct {
			CanRetry    bool     `json:"can_retry"`
			WaitSeconds *float64 `json:"wait_seconds"`
		} `json:"decision"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.State.AttemptCount)
	assert.Len(t, body.State.ErrorHistory, 1)
	assert.False(t, body.Decision.CanRetry)
	assert.Nil(t, body.Decision.WaitSeconds)

	assert.Equal(t, http.StatusNotFound, do(t, server, http.MethodGet, "/api/v1/retries/phase_7", nil).Code)
}

func TestLogEndpoints(t *testing.T) {
	server, reg := setupTestServer(t, nil)
	ctx := context.Background()

	w, err := reg.Logs("wf_1")
	require.NoError(t, err)
	for _, ev := range []execlog.Event{
		{EventType: execlog.EventWorkflowStart, Status: execlog.StatusStarted},
		{EventType: execlog.EventPhaseStart, Status: execlog.StatusStarted, PhaseID: "phase_0", Agent: "builder"},
		{EventType: execlog.EventPhaseEnd, Status: execlog.StatusFailed, PhaseID: "phase_0", Agent: "builder"},
		{EventType: execlog.EventRetry, Status: execlog.StatusStarted, PhaseID: "phase_0"},
	} {
		_, err := w.WriteEvent(ctx, ev)
		require.NoError(t, err)
	}

	t.Run("all events", func(t *testing.T) {
		rec := do(t, server, http.MethodGet, "/api/v1/logs/wf_1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[LogEventsResponse](t, rec)
		assert.Equal(t, "wf_1", resp.WorkflowID)
		assert.Equal(t, 4, resp.Count)
		assert.Equal(t, execlog.EventWorkflowStart, resp.Events[0].EventType)
	})

	t.Run("filters", func(t *testing.T) {
		rec := do(t, server, http.MethodGet, "/api/v1/logs/wf_1?phase_id=phase_0&status=started&limit=1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[LogEventsResponse](t, rec)
		require.Equal(t, 1, resp.Count)
		assert.Equal(t, execlog.EventPhaseStart, resp.Events[0].EventType)
	})

	t.Run("bad query", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, do(t, server, http.MethodGet, "/api/v1/logs/wf_1?limit=-1", nil).Code)
		assert.Equal(t, http.StatusBadRequest, do(t, server, http.MethodGet, "/api/v1/logs/wf_1?archived=maybe", nil).Code)
		assert.Equal(t, http.StatusBadRequest, do(t, server, http.MethodGet, "/api/v1/logs/wf*", nil).Code)
	})

	t.Run("stats", func(t *testing.T) {
		rec := do(t, server, http.MethodGet, "/api/v1/logs/wf_1/stats", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		stats := decode[execlog.Stats](t, rec)
		assert.Equal(t, 4, stats.TotalEvents)
		assert.Equal(t, 1, stats.Errors)
		assert.Equal(t, 1, stats.Retries)
		require.Contains(t, stats.Phases, "phase_0")
		assert.Equal(t, 3, stats.Phases["phase_0"].Events)
		assert.Equal(t, execlog.StatusStarted, stats.Phases["phase_0"].Status)
	})

	t.Run("unknown workflow is empty", func(t *testing.T) {
		rec := do(t, server, http.MethodGet, "/api/v1/logs/wf_none", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 0, decode[LogEventsResponse](t, rec).Count)
	})
}

func TestTaskGraphEndpoints(t *testing.T) {
	reg, cfg := setupRegistry(t)
	server, err := NewServer(reg, zap.NewNop(), nil)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(cfg.StateDir(), 0o755))
	require.NoError(t, os.WriteFile(cfg.GraphPath(), []byte(`{"current_wave": 0, "waves": [
	  {"wave_id": 0, "phases": [{"phase_id": "phase_0_0", "is_atomic": true, "depth": 3}]},
	  {"wave_id": 1, "phases": [{"phase_id": "phase_1_0", "is_atomic": true, "depth": 2}]}
	]}`), 0o644))

	body, _ := json.Marshal(ValidateRequest{Prompt: "Phase ID: phase_1_0"})
	rec := do(t, server, http.MethodPost, "/api/v1/taskgraph/validate", body)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[taskgraph.Report](t, rec)
	assert.False(t, report.Allowed())
	assert.Equal(t, "phase_1_0", report.PhaseID)

	body, _ = json.Marshal(ValidateRequest{Prompt: "Phase ID: phase_0_0"})
	rec = do(t, server, http.MethodPost, "/api/v1/taskgraph/validate", body)
	require.Equal(t, http.StatusOK, rec.Code)
	report = decode[taskgraph.Report](t, rec)
	assert.True(t, report.Allowed())

	rec = do(t, server, http.MethodGet, "/api/v1/taskgraph/depth", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report = decode[taskgraph.Report](t, rec)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, taskgraph.ViolationDepthFloor, report.Violations[0].Type)

	assert.Equal(t, http.StatusBadRequest, do(t, server, http.MethodPost, "/api/v1/taskgraph/validate", []byte("{bad")).Code)
}

func TestBearerAuth(t *testing.T) {
	var token config.Secret
	require.NoError(t, token.UnmarshalText([]byte("s3cret")))
	server, _ := setupTestServer(t, &Config{Host: "127.0.0.1", Port: 9191, AuthToken: token})

	assert.Equal(t, http.StatusOK, do(t, server, http.MethodGet, "/health", nil).Code)
	assert.Contains(t, []int{http.StatusBadRequest, http.StatusUnauthorized},
		do(t, server, http.MethodGet, "/api/v1/retries", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, server, http.MethodGet, "/api/v1/retries", nil,
		echo.HeaderAuthorization, "Bearer wrong").Code)
	assert.Equal(t, http.StatusOK, do(t, server, http.MethodGet, "/api/v1/retries", nil,
		echo.HeaderAuthorization, "Bearer s3cret").Code)
}

func TestRateLimit(t *testing.T) {
	server, _ := setupTestServer(t, &Config{Host: "127.0.0.1", Port: 9191, RateLimit: 0.001, RateBurst: 1})

	assert.Equal(t, http.StatusOK, do(t, server, http.MethodGet, "/api/v1/retries", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, server, http.MethodGet, "/api/v1/retries", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, server, http.MethodGet, "/health", nil).Code)
}

func TestMetricsRoute(t *testing.T) {
	promReg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "wavekeeper_test_total", Help: "test"})
	c.Inc()
	promReg.MustRegister(c)

	server, _ := setupTestServer(t, &Config{Host: "127.0.0.1", Port: 9191, Gatherer: promReg})
	rec := do(t, server, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "wavekeeper_test_total 1")

	server, _ = setupTestServer(t, nil)
	assert.Equal(t, http.StatusNotFound, do(t, server, http.MethodGet, "/metrics", nil).Code)
}
