package logging

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/wavekeeper/internal/config"
)

// Config holds logging configuration.
type Config struct {
	Level  zapcore.Level
	Format string
	Output OutputConfig

	// Caller adds the calling file:line, skipping CallerSkip frames of
	// Logger wrappers.
	Caller     bool
	CallerSkip int
	// StacktraceLevel attaches stacks at and above this level. Info or lower
	// disables stacks.
	StacktraceLevel zapcore.Level

	// Static fields are stamped on every entry.
	Static map[string]string

	Sampling  SamplingConfig
	Redaction RedactionConfig
}

// OutputConfig controls where logs are written.
type OutputConfig struct {
	Stderr bool
	// File appends JSON lines to a path in addition to stderr.
	File string
}

// SamplingConfig controls log volume reduction.
type SamplingConfig struct {
	Enabled bool
	Tick    config.Duration
	Levels  map[zapcore.Level]LevelSamplingConfig
}

// LevelSamplingConfig is the zap sampler budget for one level: the first
// Initial entries per tick pass, then every Thereafter-th.
type LevelSamplingConfig struct {
	Initial    int
	Thereafter int
}

// RedactionConfig lists field keys and message patterns to scrub.
type RedactionConfig struct {
	Enabled  bool
	Fields   []string
	Patterns []string
}

var (
	defaultRedactedFields = []string{
		"password", "secret", "token", "auth_token",
		"authorization", "bearer", "credential", "api_key",
	}
	defaultRedactedPatterns = []string{
		`(?i)bearer\s+\S+`,
		`(?i)api[_-]?key[=:]\s*\S+`,
	}
)

// NewDefaultConfig returns JSON logging to stderr at info level.
func NewDefaultConfig() *Config {
	return &Config{
		Level:           zapcore.InfoLevel,
		Format:          "json",
		Output:          OutputConfig{Stderr: true},
		Caller:          true,
		CallerSkip:      2,
		StacktraceLevel: zapcore.ErrorLevel,
		Static:          map[string]string{"service": "wavekeeper"},
		Sampling: SamplingConfig{
			Enabled: true,
			Tick:    config.Duration(time.Second),
			Levels:  DefaultLevelSamplingConfig(),
		},
		Redaction: RedactionConfig{
			Enabled:  true,
			Fields:   append([]string(nil), defaultRedactedFields...),
			Patterns: append([]string(nil), defaultRedactedPatterns...),
		},
	}
}

// FromSettings maps the application's logging section onto the defaults.
func FromSettings(s config.LoggingConfig) (*Config, error) {
	cfg := NewDefaultConfig()
	if s.Level != "" {
		lvl, err := LevelFromString(s.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", s.Level, err)
		}
		cfg.Level = lvl
	}
	if s.Format != "" {
		cfg.Format = strings.ToLower(s.Format)
	}
	cfg.Output.File = s.File
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultLevelSamplingConfig samples chatty levels hardest. Error and above
// are never sampled.
func DefaultLevelSamplingConfig() map[zapcore.Level]LevelSamplingConfig {
	return map[zapcore.Level]LevelSamplingConfig{
		TraceLevel:         {Initial: 1},
		zapcore.DebugLevel: {Initial: 10},
		zapcore.InfoLevel:  {Initial: 100, Thereafter: 10},
		zapcore.WarnLevel:  {Initial: 100, Thereafter: 100},
	}
}

// Validate reports every problem with c at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Format == "json" || c.Format == "console", "format must be json or console, got %q", c.Format)
	check(c.Output.Stderr || c.Output.File != "", "no log output enabled")
	check(c.CallerSkip >= 0, "caller skip must be >= 0, got %d", c.CallerSkip)

	if c.Sampling.Enabled {
		check(c.Sampling.Tick.Duration() > 0, "sampling tick must be > 0")
		for lvl := range c.Sampling.Levels {
			check(lvl < zapcore.ErrorLevel, "level %s cannot be sampled", lvl)
		}
	}

	if c.Redaction.Enabled {
		for _, p := range c.Redaction.Patterns {
			if len(p) > maxPatternLen {
				errs = append(errs, fmt.Errorf("redaction pattern longer than %d chars: %q", maxPatternLen, p))
				continue
			}
			if _, err := regexp.Compile(p); err != nil {
				errs = append(errs, fmt.Errorf("redaction pattern %q: %w", p, err))
			}
		}
	}

	for k, v := range c.Static {
		check(k != "" && v != "", "static field %q must have a key and a value", k)
	}
	return errors.Join(errs...)
}
