package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/wavekeeper/internal/store"
)

const instrumentationName = "github.com/fyrsmithlabs/wavekeeper/internal/workflow"

// Option configures a Machine.
type Option func(*Machine)

// WithClock replaces time.Now, which seeds workflow ids.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// Machine drives the workflow document through its lifecycle and keeps
// the markdown status file in sync with it.
type Machine struct {
	store      store.Store[State]
	statusPath string
	logger     *zap.Logger
	now        func() time.Time
	tracer     trace.Tracer
}

// NewMachine creates a machine over s. The store must not supply an initial
// document: a missing document means there is no active workflow. When
// statusPath is empty no markdown file is written.
func NewMachine(s store.Store[State], statusPath string, logger *zap.Logger, opts ...Option) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Machine{
		store:      s,
		statusPath: statusPath,
		logger:     logger,
		now:        time.Now,
		tracer:     otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewWorkflowID returns wf_YYYYMMDD_HHMMSS for t, which sorts by creation
// time.
func NewWorkflowID(t time.Time) string {
	return "wf_" + t.Format("20060102_150405")
}

// Create starts a new workflow with every phase pending. Any previous
// workflow is replaced.
func (m *Machine) Create(ctx context.Context, task string, phases []PhaseSpec) (*State, error) {
	ctx, span := m.tracer.Start(ctx, "workflow.create")
	defer span.End()

	if len(phases) == 0 {
		return nil, ErrNoPhases
	}

	st := &State{
		ID:     NewWorkflowID(m.now().UTC()),
		Task:   task,
		Status: StatusPending,
		Phases: make([]Phase, len(phases)),
	}
	for i, p := range phases {
		st.Phases[i] = Phase{
			ID:           phaseID(i),
			Title:        p.Title,
			Agent:        p.Agent,
			Status:       StatusPending,
			Deliverables: []string{},
		}
	}

	if err := m.store.Write(ctx, *st); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("save workflow: %w", err)
	}
	m.writeStatus(st)

	span.SetAttributes(
		attribute.String("workflow.id", st.ID),
		attribute.Int("phases", len(phases)),
	)
	m.logger.Info("created workflow",
		zap.String("workflow.id", st.ID),
		zap.Int("phases", len(phases)),
	)
	return st, nil
}

// UpdatePhaseStatus moves phaseID to status. Completing a phase activates
// the next one, or completes the workflow after the last phase. Failing a
// phase fails the workflow.
//
// ErrNoActiveWorkflow and ErrPhaseNotFound are logged and returned without
// touching the document; check them with IsRecoverable.
func (m *Machine) UpdatePhaseStatus(ctx context.Context, phaseID string, status Status, u Update) (*State, error) {
	ctx, span := m.tracer.Start(ctx, "workflow.update_phase")
	defer span.End()
	span.SetAttributes(
		attribute.String("phase.id", phaseID),
		attribute.String("status", string(status)),
	)

	doc, err := m.store.Update(ctx, func(st *State) error {
		return m.transition(st, phaseID, status, u)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = ErrNoActiveWorkflow
		}
		if IsRecoverable(err) {
			m.logger.Warn("phase update ignored",
				zap.String("phase.id", phaseID),
				zap.String("status", string(status)),
				zap.Error(err),
			)
			return nil, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	m.writeStatus(&doc)

	fields := []zap.Field{
		zap.String("workflow.id", doc.ID),
		zap.String("phase.id", phaseID),
		zap.String("status", string(status)),
		zap.String("workflow.status", string(doc.Status)),
	}
	if status == StatusFailed {
		m.logger.Error("phase failed, workflow marked failed", fields...)
	} else {
		m.logger.Info("updated phase status", fields...)
	}
	return &doc, nil
}

func (m *Machine) transition(st *State, id string, status Status, u Update) error {
	idx := st.PhaseIndex(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrPhaseNotFound, id)
	}
	if st.Status.Terminal() {
		return fmt.Errorf("%w: workflow %s is %s", ErrInvalidTransition, st.ID, st.Status)
	}

	phase := &st.Phases[idx]
	cursor := st.cursor()

	switch status {
	case StatusActive:
		if phase.Status == StatusActive {
			break
		}
		if idx != cursor || st.CurrentPhase != nil {
			return fmt.Errorf("%w: %s cannot start while %s is next", ErrInvalidTransition, id, phaseID(cursor))
		}
		phase.Status = StatusActive
		st.CurrentPhase = &phase.ID
		st.Status = StatusActive

	case StatusCompleted:
		if idx != cursor {
			return fmt.Errorf("%w: %s is not the current phase", ErrInvalidTransition, id)
		}
		phase.Status = StatusCompleted
		if next := idx + 1; next < len(st.Phases) {
			st.Phases[next].Status = StatusActive
			st.CurrentPhase = &st.Phases[next].ID
			st.Status = StatusActive
			m.logger.Info("advanced to next phase", zap.String("phase.id", st.Phases[next].ID))
		} else {
			st.CurrentPhase = nil
			st.Status = StatusCompleted
		}

	case StatusFailed:
		if idx != cursor {
			return fmt.Errorf("%w: %s is not the current phase", ErrInvalidTransition, id)
		}
		phase.Status = StatusFailed
		st.CurrentPhase = nil
		st.Status = StatusFailed

	case StatusPending:
		return fmt.Errorf("%w: phases return to pending only through a workflow reset", ErrInvalidTransition)

	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	if u.Deliverables != nil {
		phase.Deliverables = append([]string{}, u.Deliverables...)
	}
	if u.ContextForNext != nil {
		phase.ContextForNext = *u.ContextForNext
	}
	return nil
}

// Get returns the current workflow, or ErrNoActiveWorkflow.
func (m *Machine) Get(ctx context.Context) (*State, error) {
	st, err := m.store.Read(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoActiveWorkflow
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Reset returns every phase to pending, clearing deliverables and handoff
// context, so the workflow can run again from the first phase.
func (m *Machine) Reset(ctx context.Context) (*State, error) {
	ctx, span := m.tracer.Start(ctx, "workflow.reset")
	defer span.End()

	doc, err := m.store.Update(ctx, func(st *State) error {
		for i := range st.Phases {
			st.Phases[i].Status = StatusPending
			st.Phases[i].Deliverables = []string{}
			st.Phases[i].ContextForNext = ""
		}
		st.CurrentPhase = nil
		st.Status = StatusPending
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoActiveWorkflow
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	m.writeStatus(&doc)
	m.logger.Info("reset workflow", zap.String("workflow.id", doc.ID))
	return &doc, nil
}

// HandoffContext returns the context_for_next left by the phase before
// phaseID. The first phase has no predecessor and gets "".
func (m *Machine) HandoffContext(ctx context.Context, phaseID string) (string, error) {
	st, err := m.Get(ctx)
	if err != nil {
		return "", err
	}
	idx := st.PhaseIndex(phaseID)
	if idx < 0 {
		return "", fmt.Errorf("%w: %s", ErrPhaseNotFound, phaseID)
	}
	if idx == 0 {
		return "", nil
	}
	return st.Phases[idx-1].ContextForNext, nil
}

// WriteStatus regenerates the markdown file from the stored document.
func (m *Machine) WriteStatus(ctx context.Context) (string, error) {
	st, err := m.Get(ctx)
	if err != nil {
		return "", err
	}
	md := Render(st)
	if m.statusPath != "" {
		if err := store.WriteFileAtomic(m.statusPath, []byte(md), 0o644); err != nil {
			return "", fmt.Errorf("write status file: %w", err)
		}
	}
	return md, nil
}

// writeStatus refreshes the markdown view. The JSON document is the source
// of truth, so a failure here is only logged.
func (m *Machine) writeStatus(st *State) {
	if m.statusPath == "" {
		return
	}
	if err := store.WriteFileAtomic(m.statusPath, []byte(Render(st)), 0o644); err != nil {
		m.logger.Warn("failed to write workflow status file",
			zap.String("path", m.statusPath),
			zap.Error(err),
		)
	}
}
