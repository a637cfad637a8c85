package retry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/wavekeeper/internal/store"
)

const instrumentationName = "github.com/fyrsmithlabs/wavekeeper/internal/retry"

// Config holds the defaults applied by Init when the caller leaves a field
// at its zero value.
type Config struct {
	MaxAttempts int
	Strategy    Strategy
	BaseSeconds float64
	MaxSeconds  float64
}

// DefaultConfig returns max 5 attempts, exponential backoff from 1s to 16s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		Strategy:    Exponential,
		BaseSeconds: 1.0,
		MaxSeconds:  16.0,
	}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithConfig replaces the per-phase defaults.
func WithConfig(cfg Config) Option {
	return func(c *Coordinator) { c.config = cfg }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator manages per-phase retry budgets in one shared document.
// Every mutation runs inside store.Update, so concurrent processes never
// lose each other's failures.
type Coordinator struct {
	store  store.Store[Budgets]
	logger *zap.Logger
	config Config
	now    func() time.Time

	tracer           trace.Tracer
	meter            metric.Meter
	failureCounter   metric.Int64Counter
	exhaustedCounter metric.Int64Counter
}

// NewCoordinator creates a coordinator backed by s.
func NewCoordinator(s store.Store[Budgets], logger *zap.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Coordinator{
		store:  s,
		logger: logger,
		config: DefaultConfig(),
		now:    time.Now,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.initMetrics()
	return c
}

func (c *Coordinator) initMetrics() {
	var err error

	c.failureCounter, err = c.meter.Int64Counter(
		"wavekeeper.retry.failures_total",
		metric.WithDescription("Phase failures recorded against a retry budget"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		c.logger.Warn("failed to create failure counter", zap.Error(err))
	}

	c.exhaustedCounter, err = c.meter.Int64Counter(
		"wavekeeper.retry.exhausted_total",
		metric.WithDescription("Retry budgets that reached exhaustion"),
		metric.WithUnit("{budget}"),
	)
	if err != nil {
		c.logger.Warn("failed to create exhausted counter", zap.Error(err))
	}
}

// Init creates a fresh budget for phaseID with attempt_count 1. An existing
// budget is overwritten, which is how callers force a retry.
func (c *Coordinator) Init(ctx context.Context, phaseID, workflowID, agent string, o InitOptions) (*State, error) {
	ctx, span := c.tracer.Start(ctx, "retry.init")
	defer span.End()
	span.SetAttributes(
		attribute.String("phase.id", phaseID),
		attribute.String("workflow.id", workflowID),
	)

	st := &State{
		PhaseID:            phaseID,
		WorkflowID:         workflowID,
		Agent:              agent,
		AttemptCount:       1,
		MaxAttempts:        firstPositive(o.MaxAttempts, c.config.MaxAttempts),
		BackoffStrategy:    c.config.Strategy,
		BackoffBaseSeconds: firstPositiveFloat(o.BaseSeconds, c.config.BaseSeconds),
		BackoffMaxSeconds:  firstPositiveFloat(o.MaxSeconds, c.config.MaxSeconds),
		ErrorHistory:       []ErrorEvent{},
	}
	if o.Strategy != "" {
		st.BackoffStrategy = o.Strategy
	}

	_, err := c.store.Update(ctx, func(doc *Budgets) error {
		ensureRetries(doc)
		doc.Retries[phaseID] = st
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("init retry for %s: %w", phaseID, err)
	}

	c.logger.Debug("retry budget initialized",
		zap.String("phase.id", phaseID),
		zap.String("workflow.id", workflowID),
		zap.Int("max_attempts", st.MaxAttempts),
		zap.String("strategy", string(st.BackoffStrategy)),
	)
	return st, nil
}

// RecordFailure appends an error event, bumps attempt_count and either
// schedules the next retry or marks the budget exhausted.
func (c *Coordinator) RecordFailure(ctx context.Context, phaseID string, f Failure) (*State, error) {
	ctx, span := c.tracer.Start(ctx, "retry.record_failure")
	defer span.End()
	span.SetAttributes(attribute.String("phase.id", phaseID))

	kind := ParseErrorKind(string(f.Kind))
	now := c.now().UTC()

	var updated *State
	_, err := c.store.Update(ctx, func(doc *Budgets) error {
		ensureRetries(doc)
		st, ok := doc.Retries[phaseID]
		if !ok || st == nil {
			return fmt.Errorf("%w: phase %s (call init first)", ErrNotInitialized, phaseID)
		}

		st.ErrorHistory = append(st.ErrorHistory, ErrorEvent{
			Timestamp:     now,
			AttemptNumber: st.AttemptCount,
			ErrorType:     kind,
			ErrorMessage:  f.Message,
			ExitCode:      f.ExitCode,
			DurationMS:    f.DurationMS,
			StackTrace:    f.StackTrace,
			Context:       f.Context,
		})
		st.LastFailureAt = &now
		if st.FirstFailureAt == nil {
			st.FirstFailureAt = &now
		}

		st.AttemptCount++
		if st.AttemptCount <= st.MaxAttempts {
			next := now.Add(st.Backoff())
			st.NextRetryAt = &next
		} else {
			st.BudgetExhausted = true
			st.NextRetryAt = nil
		}

		updated = st
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	attrs := metric.WithAttributes(attribute.String("error_type", string(kind)))
	if c.failureCounter != nil {
		c.failureCounter.Add(ctx, 1, attrs)
	}
	if updated.BudgetExhausted {
		if c.exhaustedCounter != nil {
			c.exhaustedCounter.Add(ctx, 1, attrs)
		}
		c.logger.Warn("retry budget exhausted",
			zap.String("phase.id", phaseID),
			zap.String("workflow.id", updated.WorkflowID),
			zap.Int("attempt_count", updated.AttemptCount),
			zap.Int("max_attempts", updated.MaxAttempts),
		)
	} else {
		c.logger.Info("phase failure recorded",
			zap.String("phase.id", phaseID),
			zap.String("error_type", string(kind)),
			zap.Int("attempt_count", updated.AttemptCount),
			zap.Timep("next_retry_at", updated.NextRetryAt),
		)
	}

	span.SetAttributes(
		attribute.Int("attempt_count", updated.AttemptCount),
		attribute.Bool("budget_exhausted", updated.BudgetExhausted),
	)
	return updated, nil
}

// CanRetry reports whether phaseID may run now. A phase with no budget is
// always allowed.
func (c *Coordinator) CanRetry(ctx context.Context, phaseID string) (Decision, error) {
	ctx, span := c.tracer.Start(ctx, "retry.can_retry")
	defer span.End()
	span.SetAttributes(attribute.String("phase.id", phaseID))

	doc, err := c.store.Read(ctx)
	if err != nil {
		span.RecordError(err)
		return Decision{}, err
	}

	st, ok := doc.Retries[phaseID]
	if !ok || st == nil {
		return Decision{Allowed: true}, nil
	}
	if st.Exhausted() {
		return Decision{Exhausted: true}, nil
	}
	if st.NextRetryAt != nil {
		if wait := st.NextRetryAt.Sub(c.now()); wait > 0 {
			return Decision{Wait: wait}, nil
		}
	}
	return Decision{Allowed: true}, nil
}

// BackoffDelay recomputes the delay the current attempt count would incur
// without touching the document. Uninitialized phases have no delay.
func (c *Coordinator) BackoffDelay(ctx context.Context, phaseID string) (time.Duration, error) {
	doc, err := c.store.Read(ctx)
	if err != nil {
		return 0, err
	}
	st, ok := doc.Retries[phaseID]
	if !ok || st == nil {
		return 0, nil
	}
	return st.Backoff(), nil
}

// Get returns the budget for phaseID or ErrNotFound.
func (c *Coordinator) Get(ctx context.Context, phaseID string) (*State, error) {
	doc, err := c.store.Read(ctx)
	if err != nil {
		return nil, err
	}
	st, ok := doc.Retries[phaseID]
	if !ok || st == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, phaseID)
	}
	return st, nil
}

// All returns the whole budgets document.
func (c *Coordinator) All(ctx context.Context) (Budgets, error) {
	doc, err := c.store.Read(ctx)
	if err != nil {
		return Budgets{}, err
	}
	ensureRetries(&doc)
	return doc, nil
}

// Reset deletes the budget for phaseID. Resetting an unknown phase is a no-op.
func (c *Coordinator) Reset(ctx context.Context, phaseID string) error {
	ctx, span := c.tracer.Start(ctx, "retry.reset")
	defer span.End()
	span.SetAttributes(attribute.String("phase.id", phaseID))

	_, err := c.store.Update(ctx, func(doc *Budgets) error {
		if _, ok := doc.Retries[phaseID]; !ok {
			return store.ErrSkipWrite
		}
		delete(doc.Retries, phaseID)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("reset retry for %s: %w", phaseID, err)
	}

	c.logger.Debug("retry budget reset", zap.String("phase.id", phaseID))
	return nil
}

// CleanupOlderThan removes budgets whose last failure predates now-maxAge
// and returns the removed phase ids in sorted order. Budgets that never
// recorded a failure are kept.
func (c *Coordinator) CleanupOlderThan(ctx context.Context, maxAge time.Duration) ([]string, error) {
	ctx, span := c.tracer.Start(ctx, "retry.cleanup")
	defer span.End()

	cutoff := c.now().Add(-maxAge)

	var removed []string
	_, err := c.store.Update(ctx, func(doc *Budgets) error {
		for id, st := range doc.Retries {
			if st == nil || st.LastFailureAt == nil {
				continue
			}
			if st.LastFailureAt.Before(cutoff) {
				removed = append(removed, id)
			}
		}
		if len(removed) == 0 {
			return store.ErrSkipWrite
		}
		for _, id := range removed {
			delete(doc.Retries, id)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("cleanup retries: %w", err)
	}

	sort.Strings(removed)
	span.SetAttributes(attribute.Int("removed", len(removed)))
	if len(removed) > 0 {
		c.logger.Info("removed stale retry budgets",
			zap.Strings("phase.ids", removed),
			zap.Duration("max_age", maxAge),
		)
	}
	return removed, nil
}

// IsNotInitialized reports whether err came from a phase without a budget.
func IsNotInitialized(err error) bool {
	return errors.Is(err, ErrNotInitialized)
}

func ensureRetries(doc *Budgets) {
	if doc.Version == "" {
		doc.Version = DocumentVersion
	}
	if doc.Retries == nil {
		doc.Retries = map[string]*State{}
	}
}

func firstPositive(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func firstPositiveFloat(v, fallback float64) float64 {
	if v > 0 {
		return v
	}
	return fallback
}
