// Package config provides configuration loading for wavekeeper.
//
// Configuration is layered with koanf: built-in defaults, then an optional
// YAML or TOML file, then WAVEKEEPER_* environment variables. Relative paths
// are resolved against the project directory.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Well-known file names inside the state directory.
const (
	RetryFile    = "retry_budgets.json"
	WorkflowFile = "workflow.json"
	StatusFile   = "WORKFLOW_STATUS.md"
	GraphFile    = "active_task_graph.json"
)

// Config holds the complete wavekeeper configuration.
type Config struct {
	// ProjectDir is the root every relative path is resolved against. It is
	// set by the loader, never read from the file.
	ProjectDir string `koanf:"-"`

	State     StateConfig     `koanf:"state"`
	Retry     RetryConfig     `koanf:"retry"`
	ExecLog   ExecLogConfig   `koanf:"execlog"`
	Workflow  WorkflowConfig  `koanf:"workflow"`
	TaskGraph TaskGraphConfig `koanf:"taskgraph"`
	Hooks     HooksConfig     `koanf:"hooks"`
	Logging   LoggingConfig   `koanf:"logging"`
	Server    ServerConfig    `koanf:"server"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// StateConfig holds persisted document settings.
type StateConfig struct {
	Dir string `koanf:"dir"`
	// LockTimeout bounds how long a store waits for a file lock. Zero waits
	// forever.
	LockTimeout Duration `koanf:"lock_timeout"`
}

// RetryConfig holds retry coordinator defaults.
type RetryConfig struct {
	File        string   `koanf:"file"`
	MaxAttempts int      `koanf:"max_attempts"`
	Strategy    string   `koanf:"strategy"`
	BaseSeconds float64  `koanf:"base_seconds"`
	MaxSeconds  float64  `koanf:"max_seconds"`
	CleanupAge  Duration `koanf:"cleanup_age"`
}

// ExecLogConfig holds execution log settings.
type ExecLogConfig struct {
	Dir       string   `koanf:"dir"`
	MaxSizeMB int      `koanf:"max_size_mb"`
	Retention Duration `koanf:"retention"`
}

// WorkflowConfig holds workflow state machine settings.
type WorkflowConfig struct {
	File       string `koanf:"file"`
	StatusFile string `koanf:"status_file"`
}

// TaskGraphConfig holds task graph validator settings.
type TaskGraphConfig struct {
	Path         string   `koanf:"path"`
	MinDepth     int      `koanf:"min_depth"`
	ExemptAgents []string `koanf:"exempt_agents"`
}

// HooksConfig holds hook entry point settings.
type HooksConfig struct {
	ValidatedTools []string `koanf:"validated_tools"`
	// FailOpen lets a pre-tool hook allow execution when the task graph
	// cannot be parsed.
	FailOpen bool `koanf:"fail_open"`
}

// LoggingConfig holds logger settings. cmd maps it onto logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	File   string `koanf:"file"`
}

// ServerConfig holds status API configuration.
type ServerConfig struct {
	Port            int      `koanf:"http_port"`
	Host            string   `koanf:"http_host"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	RateLimit       float64  `koanf:"rate_limit"`
	RateBurst       int      `koanf:"rate_burst"`
	AuthToken       Secret   `koanf:"auth_token"`
}

// TelemetryConfig holds OpenTelemetry export settings. The telemetry package
// validates it.
type TelemetryConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Endpoint string `koanf:"endpoint"`
	// Protocol is grpc or http/protobuf.
	Protocol        string   `koanf:"protocol"`
	Insecure        bool     `koanf:"insecure"`
	TLSSkipVerify   bool     `koanf:"tls_skip_verify"`
	SampleRate      float64  `koanf:"sample_rate"`
	Metrics         bool     `koanf:"metrics"`
	ExportInterval  Duration `koanf:"export_interval"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	// Logs mirrors log records to the OpenTelemetry log pipeline.
	Logs bool `koanf:"logs"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts))
	}
	switch c.Retry.Strategy {
	case "exponential", "linear", "constant":
	default:
		errs = append(errs, fmt.Errorf("retry.strategy must be exponential, linear or constant, got %q", c.Retry.Strategy))
	}
	if c.Retry.BaseSeconds < 0 || c.Retry.MaxSeconds < 0 {
		errs = append(errs, errors.New("retry delays cannot be negative"))
	}
	if c.ExecLog.MaxSizeMB < 1 {
		errs = append(errs, fmt.Errorf("execlog.max_size_mb must be >= 1, got %d", c.ExecLog.MaxSizeMB))
	}
	if c.TaskGraph.MinDepth < 1 {
		errs = append(errs, fmt.Errorf("taskgraph.min_depth must be >= 1, got %d", c.TaskGraph.MinDepth))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.http_port out of range: %d", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rate_limit cannot be negative"))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// resolve anchors relative paths in the project directory.
func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.ProjectDir, p)
}

// StateDir returns the absolute state directory.
func (c *Config) StateDir() string {
	return c.resolve(c.State.Dir)
}

func (c *Config) inState(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.StateDir(), name)
}

// RetryPath returns the retry budget document path.
func (c *Config) RetryPath() string {
	return c.inState(c.Retry.File)
}

// WorkflowPath returns the workflow document path.
func (c *Config) WorkflowPath() string {
	return c.inState(c.Workflow.File)
}

// StatusPath returns the rendered workflow status path.
func (c *Config) StatusPath() string {
	return c.inState(c.Workflow.StatusFile)
}

// GraphPath returns the task graph path.
func (c *Config) GraphPath() string {
	return c.inState(c.TaskGraph.Path)
}

// LogDir returns the execution log directory.
func (c *Config) LogDir() string {
	return c.resolve(c.ExecLog.Dir)
}

// LogFile returns the resolved log file path, or "" for stderr only.
func (c *Config) LogFile() string {
	return c.resolve(c.Logging.File)
}

// LockTimeout returns the store lock timeout.
func (c *Config) LockTimeout() time.Duration {
	return c.State.LockTimeout.Duration()
}

// MaxLogBytes returns the execution log rotation threshold in bytes.
func (c *Config) MaxLogBytes() int64 {
	return int64(c.ExecLog.MaxSizeMB) * 1024 * 1024
}

// Addr returns the status API listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
