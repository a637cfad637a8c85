package execlog

import (
	"encoding/json"
	"time"
)

// Common event types.
const (
	EventWorkflowStart = "workflow_start"
	EventWorkflowEnd   = "workflow_end"
	EventPhaseStart    = "phase_start"
	EventPhaseEnd      = "phase_end"
	EventRetry         = "retry"
)

// Common statuses.
const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Event is one line of the execution log. Events are immutable once
// written.
type Event struct {
	EventID    string         `json:"event_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	EventType  string         `json:"event_type"`
	WorkflowID string         `json:"workflow_id"`
	Status     string         `json:"status"`
	PhaseID    string         `json:"phase_id,omitempty"`
	Agent      string         `json:"agent,omitempty"`
	DurationMS *int64         `json:"duration_ms,omitempty"`
	Error      map[string]any `json:"error,omitempty"`
	Context    map[string]any `json:"context,omitempty"`

	// Extra carries caller-supplied fields. They are written at the top
	// level of the line; keys that collide with the fields above are
	// dropped.
	Extra map[string]any `json:"-"`
}

// eventFields is Event without its methods, so marshalling does not recurse.
type eventFields Event

var reservedKeys = map[string]bool{
	"event_id":    true,
	"timestamp":   true,
	"event_type":  true,
	"workflow_id": true,
	"status":      true,
	"phase_id":    true,
	"agent":       true,
	"duration_ms": true,
	"error":       true,
	"context":     true,
}

// MarshalJSON flattens Extra into the top-level object.
func (e Event) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(eventFields(e))
	if err != nil || len(e.Extra) == 0 {
		return base, err
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range e.Extra {
		if reservedKeys[k] {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		merged[k] = raw
	}
	return json.Marshal(merged)
}

// UnmarshalJSON collects unknown top-level keys into Extra.
func (e *Event) UnmarshalJSON(data []byte) error {
	var f eventFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k, raw := range all {
		if reservedKeys[k] {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		if f.Extra == nil {
			f.Extra = make(map[string]any)
		}
		f.Extra[k] = v
	}

	*e = Event(f)
	return nil
}

// Query filters ReadEvents. Empty fields match everything.
type Query struct {
	EventType string
	PhaseID   string
	Status    string
	// Limit caps the number of returned events; zero means no cap.
	Limit int
	// IncludeArchived reads rotated archives, oldest first, before the live
	// file.
	IncludeArchived bool
}

func (q Query) matches(e *Event) bool {
	if q.EventType != "" && e.EventType != q.EventType {
		return false
	}
	if q.PhaseID != "" && e.PhaseID != q.PhaseID {
		return false
	}
	if q.Status != "" && e.Status != q.Status {
		return false
	}
	return true
}

// PhaseStats aggregates the events of one phase.
type PhaseStats struct {
	Events int    `json:"events"`
	Status string `json:"status,omitempty"`
	Agent  string `json:"agent,omitempty"`
}

// Stats summarises a workflow log.
type Stats struct {
	TotalEvents int                    `json:"total_events"`
	EventTypes  map[string]int         `json:"event_types"`
	Phases      map[string]*PhaseStats `json:"phases"`
	Errors      int                    `json:"errors"`
	Retries     int                    `json:"retries"`
}

// ComputeStats derives Stats from a sequence of events. A phase keeps the
// status and agent of its most recent event.
func ComputeStats(events []Event) Stats {
	s := Stats{
		EventTypes: map[string]int{},
		Phases:     map[string]*PhaseStats{},
	}
	for i := range events {
		e := &events[i]
		s.TotalEvents++

		et := e.EventType
		if et == "" {
			et = "unknown"
		}
		s.EventTypes[et]++

		if e.PhaseID != "" {
			ps, ok := s.Phases[e.PhaseID]
			if !ok {
				ps = &PhaseStats{}
				s.Phases[e.PhaseID] = ps
			}
			ps.Events++
			if e.Status != "" {
				ps.Status = e.Status
			}
			if e.Agent != "" {
				ps.Agent = e.Agent
			}
		}

		if e.Status == StatusFailed {
			s.Errors++
		}
		if e.EventType == EventRetry {
			s.Retries++
		}
	}
	return s
}
