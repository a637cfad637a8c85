package logging

import (
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// bridgeName is the instrumentation scope of records sent through the bridge.
const bridgeName = "github.com/fyrsmithlabs/wavekeeper"

// WithOTEL returns a logger that also emits every entry as an OpenTelemetry
// log record, after the same redaction as the local outputs. A nil provider
// returns l unchanged.
func (l *Logger) WithOTEL(provider log.LoggerProvider) *Logger {
	if provider == nil {
		return l
	}
	var bridge zapcore.Core = newLevelFilter(
		otelzap.NewCore(bridgeName, otelzap.WithLoggerProvider(provider)),
		l.config.Level,
	)
	if rc, err := newRedactingCore(bridge, l.config.Redaction); err == nil {
		bridge = rc
	}
	z := l.zap.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, bridge)
	}))
	return &Logger{zap: z, config: l.config, close: l.close}
}

// levelFilter holds the bridge to the configured level; otelzap enables
// every level its provider accepts.
type levelFilter struct {
	zapcore.Core
	level zapcore.LevelEnabler
}

func newLevelFilter(c zapcore.Core, level zapcore.LevelEnabler) zapcore.Core {
	return &levelFilter{Core: c, level: level}
}

func (f *levelFilter) Enabled(lvl zapcore.Level) bool {
	return f.level.Enabled(lvl) && f.Core.Enabled(lvl)
}

func (f *levelFilter) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilter{Core: f.Core.With(fields), level: f.level}
}

func (f *levelFilter) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !f.Enabled(ent.Level) {
		return ce
	}
	return f.Core.Check(ent, ce)
}
