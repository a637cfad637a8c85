package hooks

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fyrsmithlabs/wavekeeper/internal/taskgraph"
)

// MaxPayloadSize is the largest stdin payload accepted (1 MiB).
const MaxPayloadSize = 1 << 20

var (
	// ErrEmptyPayload is returned when stdin carries nothing.
	ErrEmptyPayload = errors.New("hook payload is empty")

	// ErrPayloadTooLarge is returned when stdin reaches MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("hook payload exceeds 1MB")

	// ErrInvalidPayload is returned when stdin is not a JSON object.
	ErrInvalidPayload = errors.New("hook payload is not valid JSON")
)

// Parameters is the nested parameter block some callers use.
type Parameters struct {
	Prompt string `json:"prompt,omitempty"`
}

// ToolInput is the tool's input as the assistant sent it.
type ToolInput struct {
	Prompt       string      `json:"prompt,omitempty"`
	SubagentType string      `json:"subagent_type,omitempty"`
	Description  string      `json:"description,omitempty"`
	Parameters   *Parameters `json:"parameters,omitempty"`
}

// Payload is a tool-use hook invocation. Prompt, subagent type and
// parameters are accepted both inside tool_input and at the top level.
type Payload struct {
	HookEventName string     `json:"hook_event_name,omitempty"`
	SessionID     string     `json:"session_id,omitempty"`
	CWD           string     `json:"cwd,omitempty"`
	ToolName      string     `json:"tool_name,omitempty"`
	ToolInput     *ToolInput `json:"tool_input,omitempty"`

	Prompt       string      `json:"prompt,omitempty"`
	SubagentType string      `json:"subagent_type,omitempty"`
	Parameters   *Parameters `json:"parameters,omitempty"`
}

// ReadPayload reads and decodes one payload from r.
func ReadPayload(r io.Reader) (*Payload, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxPayloadSize))
	if err != nil {
		return nil, fmt.Errorf("read hook payload: %w", err)
	}
	if len(data) >= MaxPayloadSize {
		return nil, fmt.Errorf("%w: received %d bytes", ErrPayloadTooLarge, len(data))
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return &p, nil
}

// TaskPrompt returns the first non-empty prompt among tool_input.prompt,
// tool_input.parameters.prompt, prompt and parameters.prompt.
func (p *Payload) TaskPrompt() string {
	if in := p.ToolInput; in != nil {
		if in.Prompt != "" {
			return in.Prompt
		}
		if in.Parameters != nil && in.Parameters.Prompt != "" {
			return in.Parameters.Prompt
		}
	}
	if p.Prompt != "" {
		return p.Prompt
	}
	if p.Parameters != nil {
		return p.Parameters.Prompt
	}
	return ""
}

// Subagent returns the requested subagent type.
func (p *Payload) Subagent() string {
	if p.ToolInput != nil && p.ToolInput.SubagentType != "" {
		return p.ToolInput.SubagentType
	}
	return p.SubagentType
}

// Request converts the payload into a task graph execution request.
func (p *Payload) Request() taskgraph.Request {
	return taskgraph.Request{Prompt: p.TaskPrompt(), SubagentType: p.Subagent()}
}
