package logging

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a zap logger whose leveled methods take a context and stamp the
// correlation IDs found in it (see WithWorkflowID and friends).
type Logger struct {
	zap    *zap.Logger
	config *Config
	close  func()
}

// NewLogger builds a logger from a validated config. Close it to release the
// log file.
func NewLogger(cfg *Config) (*Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	core, closer, err := newCore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create core: %w", err)
	}
	return &Logger{
		zap:    zap.New(core, zapOptions(cfg)...),
		config: cfg,
		close:  closer,
	}, nil
}

func zapOptions(cfg *Config) []zap.Option {
	var opts []zap.Option
	if cfg.Caller {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(cfg.CallerSkip))
	}
	if cfg.StacktraceLevel > zapcore.InfoLevel {
		opts = append(opts, zap.AddStacktrace(cfg.StacktraceLevel))
	}
	if len(cfg.Static) > 0 {
		keys := make([]string, 0, len(cfg.Static))
		for k := range cfg.Static {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := make([]zap.Field, len(keys))
		for i, k := range keys {
			fields[i] = zap.String(k, cfg.Static[k])
		}
		opts = append(opts, zap.Fields(fields...))
	}
	return opts
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{zap: zap.NewNop(), config: NewDefaultConfig()}
}

func (l *Logger) derive(z *zap.Logger) *Logger {
	return &Logger{zap: z, config: l.config}
}

func (l *Logger) log(ctx context.Context, lvl zapcore.Level, msg string, fields []zap.Field) {
	if ce := l.zap.Check(lvl, msg); ce != nil {
		ce.Write(append(ContextFields(ctx), fields...)...)
	}
}

// Trace logs below debug; used for lock traffic and raw hook payloads.
func (l *Logger) Trace(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, TraceLevel, msg, fields)
}

func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.DebugLevel, msg, fields)
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.InfoLevel, msg, fields)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.WarnLevel, msg, fields)
}

func (l *Logger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.ErrorLevel, msg, fields)
}

// With returns a child logger carrying fields. The child shares the parent's
// outputs; only the parent closes them.
func (l *Logger) With(fields ...zap.Field) *Logger { return l.derive(l.zap.With(fields...)) }

// Named appends a segment to the logger name.
func (l *Logger) Named(name string) *Logger { return l.derive(l.zap.Named(name)) }

// Enabled reports whether entries at level would be written.
func (l *Logger) Enabled(level zapcore.Level) bool { return l.zap.Core().Enabled(level) }

// Underlying returns the zap logger for services that take one.
func (l *Logger) Underlying() *zap.Logger { return l.zap }

// Sync flushes buffered entries. Syncing a terminal is not an error.
func (l *Logger) Sync() error {
	err := l.zap.Sync()
	var errno syscall.Errno
	if errors.As(err, &errno) && (errno == syscall.EINVAL || errno == syscall.ENOTTY) {
		return nil
	}
	return err
}

// Close syncs and releases the log file, if one was opened.
func (l *Logger) Close() error {
	err := l.Sync()
	if l.close != nil {
		l.close()
	}
	return err
}
