package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log/global"
	lognoop "go.opentelemetry.io/otel/log/noop"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/wavekeeper/internal/logging"
	"github.com/fyrsmithlabs/wavekeeper/internal/retry"
	"github.com/fyrsmithlabs/wavekeeper/internal/store"
)

func TestNew_Disabled(t *testing.T) {
	before := otel.GetTracerProvider()

	tel, err := New(context.Background(), NewDefaultConfig(), nil)
	require.NoError(t, err)

	assert.False(t, tel.IsEnabled())
	assert.Nil(t, tel.LoggerProvider())
	assert.Equal(t, HealthStatus{Healthy: true}, tel.Health())
	assert.Same(t, before, otel.GetTracerProvider(), "disabled telemetry leaves the globals alone")
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_NilConfigUsesDefaults(t *testing.T) {
	tel, err := New(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.False(t, tel.IsEnabled())
}

func TestNew_InvalidConfig(t *testing.T) {
	tel, err := New(context.Background(), &Config{Enabled: true}, nil)
	require.Error(t, err)
	assert.Nil(t, tel)
	assert.Contains(t, err.Error(), "invalid telemetry config")
}

func TestNew_EnabledWithoutCollector(t *testing.T) {
	// OTLP exporters connect lazily, so construction succeeds with nothing listening.
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Endpoint = "127.0.0.1:1"

	cfg.Logs = true
	restoreGlobals(t)

	tel, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.True(t, tel.IsEnabled())
	assert.False(t, tel.Health().Degraded)
	assert.IsType(t, &sdklog.LoggerProvider{}, tel.LoggerProvider())
	assert.Same(t, tel.LoggerProvider(), global.GetLoggerProvider())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = tel.Shutdown(ctx)
	assert.False(t, tel.IsEnabled())
}

func TestNew_HTTPLogExporter(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Logs = true
	cfg.Protocol = ProtocolHTTP
	cfg.Endpoint = "http://127.0.0.1:1"
	cfg.Insecure = true
	restoreGlobals(t)

	tel, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.False(t, tel.Health().Degraded)
	assert.Contains(t, tel.providers(), "logger")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = tel.Shutdown(ctx)
}

func TestNew_LogsExportedThroughZapBridge(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Logs = true
	restoreGlobals(t)

	exp := &recordingLogExporter{}
	tel, err := New(context.Background(), cfg, nil,
		WithTraceExporter(tracetest.NewInMemoryExporter()),
		WithMetricReader(sdkmetric.NewManualReader()),
		WithLogExporter(exp))
	require.NoError(t, err)

	logger := logging.NewNop().WithOTEL(tel.LoggerProvider())
	logger.Info(context.Background(), "wave started")

	require.NoError(t, tel.ForceFlush(context.Background()))
	assert.Equal(t, []string{"wave started"}, exp.bodies())

	require.NoError(t, tel.Shutdown(context.Background()))
	assert.True(t, exp.shutdown, "shutdown reaches the log exporter")
}

func TestNew_LogsOffLeavesNoLogProvider(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	restoreGlobals(t)

	exp := &recordingLogExporter{}
	tel, err := New(context.Background(), cfg, nil,
		WithTraceExporter(tracetest.NewInMemoryExporter()),
		WithMetricReader(sdkmetric.NewManualReader()),
		WithLogExporter(exp))
	require.NoError(t, err)

	assert.Nil(t, tel.LoggerProvider())
	assert.NotContains(t, tel.providers(), "logger")
	require.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, exp.shutdown)
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry

	assert.Nil(t, tel.LoggerProvider())
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.NoError(t, tel.ForceFlush(context.Background()))
	assert.False(t, tel.IsEnabled())
	assert.Equal(t, HealthStatus{Healthy: false, Degraded: true}, tel.Health())
	tel.SetLoggerProvider(lognoop.NewLoggerProvider())
}

func TestTelemetry_LoggerProvider(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	tel := &Telemetry{config: cfg}

	assert.Nil(t, tel.LoggerProvider(), "log export off")

	cfg.Logs = true
	assert.NotNil(t, tel.LoggerProvider(), "falls back to the global provider")

	lp := lognoop.NewLoggerProvider()
	tel.SetLoggerProvider(lp)
	assert.Equal(t, lp, tel.LoggerProvider())
}

func TestTelemetry_SetDegradedLogs(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	tel := &Telemetry{config: NewDefaultConfig(), logger: zap.New(core)}
	tel.healthy.Store(true)

	tel.setDegraded("meter provider", errors.New("dial failed"))

	assert.Equal(t, HealthStatus{Healthy: true, Degraded: true}, tel.Health())
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "telemetry degraded", entry.Message)
	assert.Equal(t, "meter provider", entry.ContextMap()["component"])
}

func TestTestTelemetry_RecordsServiceSpans(t *testing.T) {
	tel := NewTestTelemetry(t)
	ctx := context.Background()

	c := retry.NewCoordinator(store.NewMemoryStore(retry.NewBudgets), nil)
	_, err := c.Init(ctx, "phase_0", "wf_1", "builder", retry.InitOptions{MaxAttempts: 1})
	require.NoError(t, err)
	_, err = c.RecordFailure(ctx, "phase_0", retry.Failure{Kind: retry.Transient, Message: "flaky"})
	require.NoError(t, err)

	tel.AssertSpanExists(t, "retry.init")
	tel.AssertSpanAttribute(t, "retry.record_failure", "phase.id", "phase_0")
	tel.AssertSpanAttribute(t, "retry.record_failure", "budget_exhausted", true)
	assert.Equal(t, int64(1), tel.Sum(t, "wavekeeper.retry.failures_total"))
	assert.Equal(t, int64(1), tel.Sum(t, "wavekeeper.retry.exhausted_total"))

	tel.Reset()
	assert.Empty(t, tel.Spans())
	assert.Nil(t, tel.SpanByName("retry.init"))
}

func TestTestTelemetry_ForceFlush(t *testing.T) {
	tel := NewTestTelemetry(t)

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	span.End()

	require.NoError(t, tel.ForceFlush(context.Background()))
	tel.AssertSpanExists(t, "op")
}

func restoreGlobals(t *testing.T) {
	t.Helper()
	prevTP, prevMP, prevLP := otel.GetTracerProvider(), otel.GetMeterProvider(), global.GetLoggerProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
		global.SetLoggerProvider(prevLP)
	})
}

type recordingLogExporter struct {
	mu       sync.Mutex
	records  []sdklog.Record
	shutdown bool
}

func (e *recordingLogExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		e.records = append(e.records, r.Clone())
	}
	return nil
}

func (e *recordingLogExporter) Shutdown(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shutdown = true
	return nil
}

func (e *recordingLogExporter) ForceFlush(context.Context) error { return nil }

func (e *recordingLogExporter) bodies() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.records))
	for i, r := range e.records {
		out[i] = r.Body().AsString()
	}
	return out
}
