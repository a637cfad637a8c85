package taskgraph

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/wavekeeper/internal/store"
)

const instrumentationName = "github.com/fyrsmithlabs/wavekeeper/internal/taskgraph"

// Option configures a Validator.
type Option func(*Validator)

// WithMinDepth overrides DefaultMinDepth.
func WithMinDepth(d int) Option {
	return func(v *Validator) { v.minDepth = d }
}

// WithExemptAgents replaces the subagent types that bypass the execution
// gates.
func WithExemptAgents(agents ...string) Option {
	return func(v *Validator) {
		v.exempt = make(map[string]bool, len(agents))
		for _, a := range agents {
			v.exempt[a] = true
		}
	}
}

// WithLocation sets the graph path shown in reports.
func WithLocation(path string) Option {
	return func(v *Validator) { v.location = path }
}

// Validator runs the task graph gates. It only reads the graph.
type Validator struct {
	graphs   store.Store[Graph]
	logger   *zap.Logger
	location string
	minDepth int
	exempt   map[string]bool
	tracer   trace.Tracer
}

// NewValidator creates a validator reading graphs from s. The store must
// not supply an initial document: a missing graph disables validation.
func NewValidator(s store.Store[Graph], logger *zap.Logger, opts ...Option) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &Validator{
		graphs:   s,
		logger:   logger,
		minDepth: DefaultMinDepth,
		exempt:   map[string]bool{DefaultExemptAgent: true},
		tracer:   otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// NewFileValidator reads the graph at path, decoding YAML for .yaml/.yml.
func NewFileValidator(path string, logger *zap.Logger, opts ...Option) *Validator {
	opts = append([]Option{WithLocation(path)}, opts...)
	return NewValidator(store.NewFileStore[Graph](path, nil), logger, opts...)
}

// load returns nil when no graph exists.
func (v *Validator) load(ctx context.Context) (*Graph, error) {
	g, err := v.graphs.Read(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load task graph: %w", err)
	}
	return &g, nil
}

// Validate runs every gate against a phase execution request and collects
// all violations. Without an active graph, for exempt subagents, and for
// empty prompts the report is skipped and allowed.
func (v *Validator) Validate(ctx context.Context, req Request) (*Report, error) {
	ctx, span := v.tracer.Start(ctx, "taskgraph.validate")
	defer span.End()

	report := &Report{Location: v.location, Violations: []Violation{}}

	g, err := v.load(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	switch {
	case g == nil:
		return skip(report, "no active task graph"), nil
	case v.exempt[req.SubagentType]:
		return skip(report, "exempt subagent "+req.SubagentType), nil
	case req.Prompt == "":
		return skip(report, "empty prompt"), nil
	}

	report.PhaseID = ExtractPhaseID(req.Prompt)
	in := &Input{Graph: g, Request: req, PhaseID: report.PhaseID, Location: v.location}

	gates := []Gate{
		NewDepthGate(v.minDepth),
		NewMarkerGate(),
		NewExistenceGate(),
		NewWaveOrderGate(),
	}
	if err := v.run(ctx, gates, in, report); err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("phase.id", report.PhaseID),
		attribute.Int("violations", len(report.Violations)),
	)
	return report, nil
}

// CheckDepth runs only the depth gate.
func (v *Validator) CheckDepth(ctx context.Context) (*Report, error) {
	ctx, span := v.tracer.Start(ctx, "taskgraph.check_depth")
	defer span.End()

	report := &Report{Location: v.location, Violations: []Violation{}}

	g, err := v.load(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if g == nil {
		return skip(report, "no active task graph"), nil
	}

	if err := v.run(ctx, []Gate{NewDepthGate(v.minDepth)}, &Input{Graph: g, Location: v.location}, report); err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("violations", len(report.Violations)))
	return report, nil
}

func (v *Validator) run(ctx context.Context, gates []Gate, in *Input, report *Report) error {
	for _, gate := range gates {
		violations, err := gate.Check(ctx, in)
		if err != nil {
			return fmt.Errorf("gate %s: %w", gate.Name(), err)
		}
		report.Violations = append(report.Violations, violations...)
	}

	if !report.Allowed() {
		v.logger.Warn("task graph validation failed",
			zap.String("phase.id", in.PhaseID),
			zap.Int("violations", len(report.Violations)),
		)
	}
	return nil
}

func skip(r *Report, reason string) *Report {
	r.Skipped = true
	r.Reason = reason
	return r
}
