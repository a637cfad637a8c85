package http

import (
	"github.com/fyrsmithlabs/wavekeeper/internal/execlog"
	"github.com/fyrsmithlabs/wavekeeper/internal/retry"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// RetryResponse is the response body for GET /api/v1/retries/:phase.
type RetryResponse struct {
	State    *retry.State   `json:"state"`
	Decision retry.Decision `json:"decision"`
	// BackoffSeconds is the delay the current attempt count incurs.
	BackoffSeconds float64 `json:"backoff_seconds"`
}

// HandoffResponse is the response body for GET /api/v1/workflow/handoff/:phase.
type HandoffResponse struct {
	PhaseID string `json:"phase_id"`
	Context string `json:"context"`
}

// LogEventsResponse is the response body for GET /api/v1/logs/:workflow.
type LogEventsResponse struct {
	WorkflowID string          `json:"workflow_id"`
	Count      int             `json:"count"`
	Events     []execlog.Event `json:"events"`
}

// ValidateRequest is the request body for POST /api/v1/taskgraph/validate.
type ValidateRequest struct {
	Prompt       string `json:"prompt"`
	SubagentType string `json:"subagent_type"`
}
