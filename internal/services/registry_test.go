package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/wavekeeper/internal/config"
	"github.com/fyrsmithlabs/wavekeeper/internal/execlog"
	"github.com/fyrsmithlabs/wavekeeper/internal/hooks"
	"github.com/fyrsmithlabs/wavekeeper/internal/retry"
	"github.com/fyrsmithlabs/wavekeeper/internal/workflow"
)

func TestNewRegistry_Accessors(t *testing.T) {
	reg := NewRegistry(Options{LogDir: "/tmp/logs"})
	assert.Nil(t, reg.Retry())
	assert.Nil(t, reg.Workflow())
	assert.Nil(t, reg.TaskGraph())
	assert.Nil(t, reg.Hooks())
	assert.Equal(t, "/tmp/logs", reg.LogDir())
}

func TestFromConfig_UsesResolvedPaths(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Load(config.Options{ProjectDir: dir})
	require.NoError(t, err)
	cfg.Retry.MaxAttempts = 2

	reg := FromConfig(cfg, nil)
	ctx := context.Background()

	st, err := reg.Retry().Init(ctx, "phase_0", "wf_1", "builder", retry.InitOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, st.MaxAttempts)
	assert.FileExists(t, filepath.Join(dir, ".claude", "state", "retry_budgets.json"))

	_, err = reg.Workflow().Create(ctx, "Ship", []workflow.PhaseSpec{{Title: "Build", Agent: "builder"}})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, ".claude", "state", "workflow.json"))
	assert.FileExists(t, filepath.Join(dir, ".claude", "state", "WORKFLOW_STATUS.md"))

	w, err := reg.Logs("wf_1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ".claude", "logs", "execution_wf_1.jsonl"), w.Path())
	_, err = w.WriteEvent(ctx, execlog.Event{EventType: execlog.EventWorkflowStart, Status: execlog.StatusStarted})
	require.NoError(t, err)

	_, err = reg.Logs("../escape")
	assert.ErrorIs(t, err, execlog.ErrInvalidWorkflowID)
}

func TestFromConfig_HookGateReadsGraph(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Load(config.Options{ProjectDir: dir})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(cfg.StateDir(), 0o755))
	require.NoError(t, os.WriteFile(cfg.GraphPath(), []byte(`{"current_wave": 0, "waves": [
	  {"wave_id": 0, "phases": [{"phase_id": "phase_0_0", "is_atomic": true, "depth": 3}]}
	]}`), 0o644))

	reg := FromConfig(cfg, nil)
	p := &hooks.Payload{ToolName: "Task", ToolInput: &hooks.ToolInput{Prompt: "no marker here"}}

	err = reg.Hooks().Execute(context.Background(), hooks.EventPreToolUse, p)
	require.Error(t, err)
	assert.True(t, hooks.IsBlocked(err))
	assert.Contains(t, err.Error(), cfg.GraphPath())
}
