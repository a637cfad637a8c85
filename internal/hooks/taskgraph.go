package hooks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/wavekeeper/internal/store"
	"github.com/fyrsmithlabs/wavekeeper/internal/taskgraph"
)

// TaskGraphGate enforces the active task graph on tool calls.
type TaskGraphGate struct {
	validator *taskgraph.Validator
	config    *Config
	logger    *zap.Logger
}

// NewTaskGraphGate creates the gate.
func NewTaskGraphGate(v *taskgraph.Validator, config *Config, logger *zap.Logger) *TaskGraphGate {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskGraphGate{validator: v, config: config, logger: logger}
}

// Register wires the gate into m for both tool-use events.
func (g *TaskGraphGate) Register(m *Manager) {
	m.RegisterHandler(EventPreToolUse, g.PreToolUse)
	m.RegisterHandler(EventPostToolUse, g.PostToolUse)
}

// PreToolUse blocks a phase execution that violates the graph. An
// unreadable graph is allowed with a warning when FailOpen is set.
func (g *TaskGraphGate) PreToolUse(ctx context.Context, p *Payload) error {
	report, err := g.validator.Validate(ctx, p.Request())
	if errors.Is(err, store.ErrCorruptState) {
		if g.config.FailOpen {
			g.logger.Warn("failed to read task graph, allowing tool call", zap.Error(err))
			return nil
		}
		return &BlockError{Message: fmt.Sprintf("task graph unreadable: %v", err)}
	}
	if err != nil {
		return err
	}

	if !report.Allowed() {
		return &BlockError{Message: report.Message()}
	}
	return nil
}

// PostToolUse enforces the depth floor on the whole graph. An unreadable
// graph is an error.
func (g *TaskGraphGate) PostToolUse(ctx context.Context, p *Payload) error {
	report, err := g.validator.CheckDepth(ctx)
	if err != nil {
		return err
	}
	if !report.Allowed() {
		return &BlockError{Message: report.Message()}
	}
	return nil
}
