package logging

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/wavekeeper/internal/config"
)

// maxPatternLen bounds redaction regexps.
const maxPatternLen = 200

const (
	redacted        = "[REDACTED]"
	redactedPattern = "[REDACTED:pattern]"
)

// Secret logs a config.Secret as its redacted length, so operators can see
// whether a value was set without seeing it.
func Secret(key string, val config.Secret) zap.Field {
	return RedactedString(key, val.Value())
}

// RedactedString creates a Zap field with redacted value and length.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}

// redactor rewrites fields whose key is sensitive or whose text matches a
// secret pattern. Failure messages and hook prompts end up in logs verbatim,
// so error values are scrubbed as well as strings.
type redactor struct {
	keys     map[string]struct{}
	patterns []*regexp.Regexp
}

func newRedactor(cfg RedactionConfig) (*redactor, error) {
	r := &redactor{keys: make(map[string]struct{}, len(cfg.Fields))}
	for _, f := range cfg.Fields {
		r.keys[strings.ToLower(f)] = struct{}{}
	}
	for _, p := range cfg.Patterns {
		if len(p) > maxPatternLen {
			return nil, fmt.Errorf("redaction pattern too long (max %d chars): %q", maxPatternLen, p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

func (r *redactor) sensitive(key string) bool {
	_, ok := r.keys[strings.ToLower(key)]
	return ok
}

func (r *redactor) matches(s string) bool {
	for _, re := range r.patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func (r *redactor) scrub(s string) string {
	for _, re := range r.patterns {
		s = re.ReplaceAllString(s, redactedPattern)
	}
	return s
}

func (r *redactor) field(f zapcore.Field) zapcore.Field {
	if r.sensitive(f.Key) {
		return zap.String(f.Key, redacted)
	}
	switch f.Type {
	case zapcore.StringType:
		if r.matches(f.String) {
			return zap.String(f.Key, redactedPattern)
		}
	case zapcore.ErrorType:
		if err, ok := f.Interface.(error); ok && r.matches(err.Error()) {
			return zap.NamedError(f.Key, errors.New(r.scrub(err.Error())))
		}
	}
	return f
}

func (r *redactor) fields(in []zapcore.Field) []zapcore.Field {
	if len(r.keys) == 0 && len(r.patterns) == 0 {
		return in
	}
	out := make([]zapcore.Field, len(in))
	for i, f := range in {
		out[i] = r.field(f)
	}
	return out
}

// redactingCore applies a redactor to every field that reaches the wrapped
// core, whether attached with With or passed per call.
type redactingCore struct {
	zapcore.Core
	r *redactor
}

// newRedactingCore wraps c. A disabled config returns c unchanged.
func newRedactingCore(c zapcore.Core, cfg RedactionConfig) (zapcore.Core, error) {
	if !cfg.Enabled {
		return c, nil
	}
	r, err := newRedactor(cfg)
	if err != nil {
		return nil, err
	}
	return &redactingCore{Core: c, r: r}, nil
}

func (c *redactingCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactingCore{Core: c.Core.With(c.r.fields(fields)), r: c.r}
}

func (c *redactingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *redactingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	ent.Message = c.r.scrub(ent.Message)
	return c.Core.Write(ent, c.r.fields(fields))
}
