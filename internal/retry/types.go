package retry

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"
)

// DocumentVersion is written into every budgets document.
const DocumentVersion = "1.0"

var (
	// ErrNotInitialized is returned by RecordFailure for a phase that never
	// went through Init. It points at a caller bug, not a runtime condition.
	ErrNotInitialized = errors.New("retry state not initialized")

	// ErrNotFound is returned by Get when the phase has no retry state.
	ErrNotFound = errors.New("retry state not found")
)

// ErrorKind classifies a recorded failure.
type ErrorKind string

const (
	Transient ErrorKind = "transient"
	Permanent ErrorKind = "permanent"
	Unknown   ErrorKind = "unknown"
)

// ParseErrorKind normalises free-form input; anything unrecognised is Unknown.
func ParseErrorKind(s string) ErrorKind {
	switch k := ErrorKind(strings.ToLower(strings.TrimSpace(s))); k {
	case Transient, Permanent:
		return k
	}
	return Unknown
}

// ErrorEvent is one entry in a phase's error history.
type ErrorEvent struct {
	Timestamp     time.Time      `json:"timestamp"`
	AttemptNumber int            `json:"attempt_number"`
	ErrorType     ErrorKind      `json:"error_type"`
	ErrorMessage  string         `json:"error_message"`
	ExitCode      *int           `json:"exit_code,omitempty"`
	DurationMS    *int64         `json:"duration_ms,omitempty"`
	StackTrace    string         `json:"stack_trace,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
}

// State is the retry budget of a single phase.
type State struct {
	PhaseID            string       `json:"phase_id"`
	WorkflowID         string       `json:"workflow_id"`
	Agent              string       `json:"agent"`
	AttemptCount       int          `json:"attempt_count"`
	MaxAttempts        int          `json:"max_attempts"`
	BackoffStrategy    Strategy     `json:"backoff_strategy"`
	BackoffBaseSeconds float64      `json:"backoff_base_seconds"`
	BackoffMaxSeconds  float64      `json:"backoff_max_seconds"`
	ErrorHistory       []ErrorEvent `json:"error_history"`
	FirstFailureAt     *time.Time   `json:"first_failure_at,omitempty"`
	LastFailureAt      *time.Time   `json:"last_failure_at,omitempty"`
	NextRetryAt        *time.Time   `json:"next_retry_at"`
	BudgetExhausted    bool         `json:"budget_exhausted"`
}

// Exhausted reports whether the budget is spent. attempt_count is checked as
// well as the flag so a hand-edited document cannot grant extra attempts.
func (s *State) Exhausted() bool {
	return s.BudgetExhausted || s.AttemptCount > s.MaxAttempts
}

// Backoff returns the delay the current attempt count incurs.
func (s *State) Backoff() time.Duration {
	return BackoffDuration(s.BackoffStrategy, s.AttemptCount-1, s.BackoffBaseSeconds, s.BackoffMaxSeconds)
}

// Budgets is the persisted document shared by every phase.
type Budgets struct {
	Version string            `json:"version"`
	Retries map[string]*State `json:"retries"`
}

// NewBudgets returns the empty document written on first use.
func NewBudgets() Budgets {
	return Budgets{Version: DocumentVersion, Retries: map[string]*State{}}
}

// Decision is the answer to CanRetry.
type Decision struct {
	Allowed bool
	// Wait is how long until the backoff window closes. Zero when Allowed.
	Wait time.Duration
	// Exhausted is set when no further attempt will ever be allowed.
	Exhausted bool
}

// WaitSeconds returns the wait in seconds, or nil when the budget is
// exhausted and waiting would not help.
func (d Decision) WaitSeconds() *float64 {
	if d.Exhausted {
		return nil
	}
	s := math.Max(d.Wait.Seconds(), 0)
	return &s
}

// MarshalJSON renders {"can_retry": bool, "wait_seconds": float|null}.
func (d Decision) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		CanRetry    bool     `json:"can_retry"`
		WaitSeconds *float64 `json:"wait_seconds"`
	}{d.Allowed, d.WaitSeconds()})
}

// InitOptions overrides the coordinator defaults for one phase. Zero values
// fall back to the defaults.
type InitOptions struct {
	MaxAttempts int
	Strategy    Strategy
	BaseSeconds float64
	MaxSeconds  float64
}

// Failure describes a failed attempt passed to RecordFailure.
type Failure struct {
	Message    string
	Kind       ErrorKind
	ExitCode   *int
	DurationMS *int64
	StackTrace string
	Context    map[string]any
}
