package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoActiveWorkflow means no workflow document exists. Hooks treat it
	// as a no-op.
	ErrNoActiveWorkflow = errors.New("no active workflow")
	// ErrPhaseNotFound means the phase id is not part of the workflow.
	ErrPhaseNotFound = errors.New("phase not found")
	// ErrInvalidTransition rejects a status change the state machine does
	// not allow.
	ErrInvalidTransition = errors.New("invalid phase transition")
	// ErrInvalidStatus rejects an unknown status name.
	ErrInvalidStatus = errors.New("invalid status")
	// ErrNoPhases rejects a workflow without phases.
	ErrNoPhases = errors.New("workflow needs at least one phase")
)

// IsRecoverable reports whether err is one of the tolerated conditions that
// callers log and move past.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrNoActiveWorkflow) || errors.Is(err, ErrPhaseNotFound)
}

// Status is the lifecycle state of a workflow or phase.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusActive, StatusCompleted, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Phase is one step of a workflow.
type Phase struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Agent          string   `json:"agent"`
	Status         Status   `json:"status"`
	Deliverables   []string `json:"deliverables"`
	ContextForNext string   `json:"context_for_next"`
}

// State is the persisted workflow document.
type State struct {
	ID           string  `json:"id"`
	Task         string  `json:"task"`
	Status       Status  `json:"status"`
	CurrentPhase *string `json:"current_phase"`
	Phases       []Phase `json:"phases"`
}

// PhaseIndex returns the position of phaseID, or -1.
func (s *State) PhaseIndex(phaseID string) int {
	for i := range s.Phases {
		if s.Phases[i].ID == phaseID {
			return i
		}
	}
	return -1
}

// Current returns the active phase, or nil.
func (s *State) Current() *Phase {
	if s.CurrentPhase == nil {
		return nil
	}
	if i := s.PhaseIndex(*s.CurrentPhase); i >= 0 {
		return &s.Phases[i]
	}
	return nil
}

// cursor is the index of the phase allowed to move next: the active phase,
// or the first phase that has not completed.
func (s *State) cursor() int {
	for i := range s.Phases {
		if s.Phases[i].Status != StatusCompleted {
			return i
		}
	}
	return -1
}

// PhaseSpec describes a phase when creating a workflow.
type PhaseSpec struct {
	Title string `json:"title"`
	Agent string `json:"agent"`
}

// Update carries optional fields applied together with a status change.
type Update struct {
	// Deliverables replaces the phase deliverables when non-nil.
	Deliverables []string
	// ContextForNext replaces the handoff context when non-nil.
	ContextForNext *string
}

func phaseID(i int) string {
	return fmt.Sprintf("phase_%d", i)
}
