package logging

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zapcore"
)

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	ctx = WithWorkflowID(ctx, "wf_20260301_093015")
	ctx = WithPhaseID(ctx, "phase_0_1")
	ctx = WithSessionID(ctx, "6f1c2d1e-8b7a-4c2f-9d7e-0a1b2c3d4e5f")
	ctx = WithRequestID(ctx, "req123")

	got := map[string]string{}
	for _, f := range ContextFields(ctx) {
		got[f.Key] = f.String
	}
	assert.Equal(t, map[string]string{
		"workflow.id": "wf_20260301_093015",
		"phase.id":    "phase_0_1",
		"session.id":  "6f1c2d1e-8b7a-4c2f-9d7e-0a1b2c3d4e5f",
		"request.id":  "req123",
	}, got)
}

func TestContextFields_TraceCorrelation(t *testing.T) {
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{1, 2, 3},
		SpanID:  trace.SpanID{4, 5, 6},
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	keys := map[string]bool{}
	for _, f := range ContextFields(ctx) {
		keys[f.Key] = true
	}
	assert.True(t, keys["trace_id"])
	assert.True(t, keys["span_id"])
}

func TestWithID_IgnoresInvalid(t *testing.T) {
	ctx := context.Background()
	for _, bad := range []string{"", "has space", "new\nline", "../../etc", strings.Repeat("a", maxIDLen+1)} {
		assert.Empty(t, PhaseIDFromContext(WithPhaseID(ctx, bad)), "%q", bad)
	}
}

func TestTestLogger_ContextField(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithWorkflowID(context.Background(), "wf_1")

	tl.Warn(ctx, "phase not found")
	tl.AssertLogged(t, zapcore.WarnLevel, "phase not found")
	tl.AssertField(t, "phase not found", "workflow.id", "wf_1")
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "phase not found")
	tl.AssertNoSecrets(t)

	tl.Reset()
	assert.Empty(t, tl.All())
}
