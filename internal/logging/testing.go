package logging

import (
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger records every entry, Trace included. Hand Underlying() to
// services under test.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger creates a recording logger.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{
		Logger:   &Logger{zap: zap.New(core), config: NewDefaultConfig()},
		observed: observed,
	}
}

// All returns all logged entries.
func (t *TestLogger) All() []observer.LoggedEntry {
	return t.observed.All()
}

// Reset clears all logged entries.
func (t *TestLogger) Reset() {
	t.observed.TakeAll()
}

func (t *TestLogger) find(level zapcore.Level, msgContains string) []observer.LoggedEntry {
	var out []observer.LoggedEntry
	for _, e := range t.observed.All() {
		if e.Level == level && strings.Contains(e.Message, msgContains) {
			out = append(out, e)
		}
	}
	return out
}

// AssertLogged verifies an entry at level containing msgContains exists.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msgContains string) {
	tb.Helper()
	if len(t.find(level, msgContains)) == 0 {
		tb.Errorf("expected log at %v containing %q, logs: %+v", level, msgContains, t.observed.All())
	}
}

// AssertNotLogged verifies no entry at level contains msgContains.
func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, msgContains string) {
	tb.Helper()
	if n := len(t.find(level, msgContains)); n > 0 {
		tb.Errorf("unexpected %d log(s) at %v containing %q", n, level, msgContains)
	}
}

// AssertField verifies an entry with message msg carries key=want. Values
// are compared in their printed form, so correlation ids, counts and
// durations can all be checked with a string.
func (t *TestLogger) AssertField(tb testing.TB, msg, key, want string) {
	tb.Helper()
	for _, e := range t.observed.FilterMessage(msg).All() {
		if v, ok := e.ContextMap()[key]; ok && fmt.Sprint(v) == want {
			return
		}
	}
	tb.Errorf("message %q missing %s=%q", msg, key, want)
}

// AssertNoSecrets runs every recorded field through the default redaction
// rules and fails on anything they would have rewritten. The observer sees
// fields before the redacting core does, so only values the caller already
// masked pass.
func (t *TestLogger) AssertNoSecrets(tb testing.TB) {
	tb.Helper()
	r, err := newRedactor(NewDefaultConfig().Redaction)
	if err != nil {
		tb.Fatalf("default redaction rules: %v", err)
	}

	for _, e := range t.observed.All() {
		if r.matches(e.Message) {
			tb.Errorf("sensitive pattern in message: %q", e.Message)
		}
		for _, f := range e.Context {
			if r.sensitive(f.Key) {
				if f.Type == zapcore.StringType && f.String != "" && !strings.HasPrefix(f.String, "[REDACTED") {
					tb.Errorf("sensitive field %q not redacted", f.Key)
				}
				continue
			}
			text := f.String
			if err, ok := f.Interface.(error); ok && f.Type == zapcore.ErrorType {
				text = err.Error()
			}
			if r.matches(text) {
				tb.Errorf("sensitive pattern in field %q of %q", f.Key, e.Message)
			}
		}
	}
}
