package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(Options{ProjectDir: dir})
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.ProjectDir)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, "exponential", cfg.Retry.Strategy)
	assert.Equal(t, 1.0, cfg.Retry.BaseSeconds)
	assert.Equal(t, 16.0, cfg.Retry.MaxSeconds)
	assert.Equal(t, 24*time.Hour, cfg.Retry.CleanupAge.Duration())
	assert.Equal(t, int64(10*1024*1024), cfg.MaxLogBytes())
	assert.Equal(t, 30*24*time.Hour, cfg.ExecLog.Retention.Duration())
	assert.Equal(t, 3, cfg.TaskGraph.MinDepth)
	assert.Equal(t, []string{"delegation-orchestrator"}, cfg.TaskGraph.ExemptAgents)
	assert.Equal(t, []string{"Task"}, cfg.Hooks.ValidatedTools)
	assert.True(t, cfg.Hooks.FailOpen)
	assert.Zero(t, cfg.LockTimeout())
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Telemetry.Endpoint)
	assert.Equal(t, 15*time.Second, cfg.Telemetry.ExportInterval.Duration())

	assert.Equal(t, filepath.Join(dir, ".claude", "state", "retry_budgets.json"), cfg.RetryPath())
	assert.Equal(t, filepath.Join(dir, ".claude", "state", "workflow.json"), cfg.WorkflowPath())
	assert.Equal(t, filepath.Join(dir, ".claude", "state", "WORKFLOW_STATUS.md"), cfg.StatusPath())
	assert.Equal(t, filepath.Join(dir, ".claude", "state", "active_task_graph.json"), cfg.GraphPath())
	assert.Equal(t, filepath.Join(dir, ".claude", "logs"), cfg.LogDir())
	assert.Empty(t, cfg.LogFile())
}

func TestLoad_ProjectDirFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(ProjectDirEnv, dir)

	cfg, err := Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.ProjectDir)
}

func TestLoad_DefaultFileInProject(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, DefaultConfigFile, `
retry:
  max_attempts: 3
  strategy: linear
execlog:
  dir: /var/log/wk
taskgraph:
  exempt_agents: [planner, orchestrator]
`)

	cfg, err := Load(Options{ProjectDir: dir})
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, "linear", cfg.Retry.Strategy)
	assert.Equal(t, 16.0, cfg.Retry.MaxSeconds, "unset keys keep defaults")
	assert.Equal(t, "/var/log/wk", cfg.LogDir(), "absolute paths are kept")
	assert.Equal(t, []string{"planner", "orchestrator"}, cfg.TaskGraph.ExemptAgents)
}

func TestLoad_TOMLFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "wk.toml", `
[state]
lock_timeout = "2s"

[retry]
max_attempts = 7
base_seconds = 0.5

[server]
http_port = 8088
auth_token = "s3cret"
`)

	cfg, err := Load(Options{ProjectDir: dir, File: path})
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.LockTimeout())
	assert.Equal(t, 7, cfg.Retry.MaxAttempts)
	assert.Equal(t, 0.5, cfg.Retry.BaseSeconds)
	assert.Equal(t, "127.0.0.1:8088", cfg.Addr())
	assert.Equal(t, "s3cret", cfg.Server.AuthToken.Value())
	assert.Equal(t, "[REDACTED]", cfg.Server.AuthToken.String())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "wk.yaml", "retry:\n  max_attempts: 3\n")
	t.Setenv("WAVEKEEPER_RETRY_MAX_ATTEMPTS", "9")
	t.Setenv("WAVEKEEPER_EXECLOG_MAX_SIZE_MB", "2")
	t.Setenv("WAVEKEEPER_HOOKS_VALIDATED_TOOLS", "Task, Agent,")
	t.Setenv("WAVEKEEPER_STATE_LOCK_TIMEOUT", "750ms")
	t.Setenv("WAVEKEEPER_BOGUS", "ignored")
	t.Setenv("WAVEKEEPER_TELEMETRY_TLS_SKIP_VERIFY", "true")

	cfg, err := Load(Options{ProjectDir: dir, File: path})
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Retry.MaxAttempts)
	assert.Equal(t, int64(2*1024*1024), cfg.MaxLogBytes())
	assert.Equal(t, []string{"Task", "Agent"}, cfg.Hooks.ValidatedTools)
	assert.Equal(t, 750*time.Millisecond, cfg.LockTimeout())
	assert.True(t, cfg.Telemetry.TLSSkipVerify)
}

func TestLoad_ExplicitFileMustExist(t *testing.T) {
	_, err := Load(Options{ProjectDir: t.TempDir(), File: "/nonexistent/wk.yaml"})
	require.Error(t, err)
}

func TestLoad_RejectsLargeFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "big.yaml", "# "+strings.Repeat("x", maxConfigFileSize))

	_, err := Load(Options{ProjectDir: dir, File: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"strategy", "retry:\n  strategy: fibonacci\n", "retry.strategy"},
		{"attempts", "retry:\n  max_attempts: 0\n", "retry.max_attempts"},
		{"depth", "taskgraph:\n  min_depth: 0\n", "taskgraph.min_depth"},
		{"format", "logging:\n  format: xml\n", "logging.format"},
		{"port", "server:\n  http_port: 70000\n", "server.http_port"},
		{"duration", "retry:\n  cleanup_age: -1h\n", "unmarshal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := writeConfig(t, dir, "wk.yaml", tt.content)

			_, err := Load(Options{ProjectDir: dir, File: path})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestTransformEnv(t *testing.T) {
	key, val := transformEnv("WAVEKEEPER_TASKGRAPH_EXEMPT_AGENTS", "a,b")
	assert.Equal(t, "taskgraph.exempt_agents", key)
	assert.Equal(t, []string{"a", "b"}, val)

	key, val = transformEnv("WAVEKEEPER_SERVER_HTTP_PORT", "80")
	assert.Equal(t, "server.http_port", key)
	assert.Equal(t, "80", val)

	key, _ = transformEnv("WAVEKEEPER_", "x")
	assert.Empty(t, key)
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())
	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
	assert.Error(t, d.UnmarshalText([]byte("-5")))

	var secs Duration
	require.NoError(t, secs.UnmarshalText([]byte(" 30 ")))
	assert.Equal(t, 30*time.Second, secs.Duration())

	b, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(b))
}

func TestSecret_Masked(t *testing.T) {
	s := Secret("hunter2")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "hunter2", s.Value())

	b, err := json.Marshal(struct{ Token Secret }{s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Token":"[REDACTED]"}`, string(b))

	assert.Empty(t, Secret("").String())
	assert.False(t, Secret("").IsSet())
}

func TestTOMLParser_RoundTrip(t *testing.T) {
	p := TOMLParser()
	m, err := p.Unmarshal([]byte("[retry]\nstrategy = \"linear\"\n"))
	require.NoError(t, err)

	out, err := p.Marshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(out), `strategy = "linear"`)
}
