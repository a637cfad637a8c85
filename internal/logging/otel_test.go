package logging

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/embedded"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type recordingProvider struct {
	embedded.LoggerProvider
	logger *recordingLogger
	scopes []string
}

func (p *recordingProvider) Logger(name string, _ ...log.LoggerOption) log.Logger {
	p.scopes = append(p.scopes, name)
	return p.logger
}

type recordingLogger struct {
	embedded.Logger
	mu     sync.Mutex
	bodies []string
}

func (l *recordingLogger) Emit(_ context.Context, r log.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bodies = append(l.bodies, r.Body().AsString())
}

func (l *recordingLogger) Enabled(context.Context, log.EnabledParameters) bool { return true }

func TestLogger_WithOTEL(t *testing.T) {
	base, path := fileLogger(t, func(c *Config) { c.Level = zapcore.InfoLevel })
	provider := &recordingProvider{logger: &recordingLogger{}}

	l := base.WithOTEL(provider)
	ctx := context.Background()
	l.Debug(ctx, "too quiet")
	l.Info(ctx, "phase started", zap.String("phase_id", "phase_0"))
	l.Named("retry").Warn(ctx, "budget exhausted")
	require.NoError(t, l.Sync())

	assert.Equal(t, []string{"phase started", "budget exhausted"}, provider.logger.bodies)
	assert.Contains(t, provider.scopes, bridgeName)
	assert.Len(t, readLines(t, path), 2, "file output is kept")
}

func TestLogger_WithOTELNilProvider(t *testing.T) {
	l := NewNop()
	assert.Same(t, l, l.WithOTEL(nil))
}
