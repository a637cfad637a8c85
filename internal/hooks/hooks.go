package hooks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Event represents the hook events wavekeeper handles.
type Event string

const (
	// EventPreToolUse fires before a tool runs and may block it.
	EventPreToolUse Event = "PreToolUse"

	// EventPostToolUse fires after a tool ran.
	EventPostToolUse Event = "PostToolUse"
)

// ErrUnknownEvent is returned for event names other than the ones above.
var ErrUnknownEvent = errors.New("unknown hook event")

// ParseEvent accepts "PreToolUse" and "pre-tool-use" spellings.
func ParseEvent(s string) (Event, error) {
	switch s {
	case string(EventPreToolUse), "pre-tool-use":
		return EventPreToolUse, nil
	case string(EventPostToolUse), "post-tool-use":
		return EventPostToolUse, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEvent, s)
}

// BlockError denies the tool call. Message is shown to the assistant.
type BlockError struct {
	Message string
}

func (e *BlockError) Error() string {
	return e.Message
}

// IsBlocked reports whether err carries a BlockError.
func IsBlocked(err error) bool {
	var b *BlockError
	return errors.As(err, &b)
}

// Handler handles one hook event. Returning a *BlockError blocks the tool.
type Handler func(ctx context.Context, p *Payload) error

// Manager dispatches hook payloads to handlers.
type Manager struct {
	config   *Config
	logger   *zap.Logger
	handlers map[Event][]Handler
}

// NewManager creates a new hook manager.
func NewManager(config *Config, logger *zap.Logger) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		config:   config,
		logger:   logger,
		handlers: make(map[Event][]Handler),
	}
}

// RegisterHandler registers a handler for an event.
func (m *Manager) RegisterHandler(event Event, handler Handler) {
	m.handlers[event] = append(m.handlers[event], handler)
}

// Execute runs the handlers for event in registration order and stops at
// the first error. Payloads for tools outside ValidatedTools are ignored.
// A PreToolUse payload without a tool name is never validated. PostToolUse
// handlers still run for it.
func (m *Manager) Execute(ctx context.Context, event Event, p *Payload) error {
	if m.skips(event, p.ToolName) {
		m.logger.Debug("tool not validated", zap.String("event", string(event)), zap.String("tool", p.ToolName))
		return nil
	}

	handlers, ok := m.handlers[event]
	if !ok {
		return nil
	}

	for _, handler := range handlers {
		if err := handler(ctx, p); err != nil {
			if IsBlocked(err) {
				m.logger.Info("tool call blocked", zap.String("event", string(event)), zap.String("tool", p.ToolName))
				return err
			}
			return fmt.Errorf("hook %s failed: %w", event, err)
		}
	}
	return nil
}

func (m *Manager) skips(event Event, tool string) bool {
	if tool == "" {
		return event == EventPreToolUse
	}
	return !m.config.Validates(tool)
}

// Config returns the hook configuration.
func (m *Manager) Config() *Config {
	return m.config
}
