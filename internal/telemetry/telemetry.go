package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// Telemetry owns the trace, meter and log providers for one process.
//
// Export failures never stop wavekeeper; the instance is marked degraded and
// the no-op globals stay in place.
type Telemetry struct {
	config *Config
	logger *zap.Logger

	tracerProvider *trace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	sdkLogs        *sdklog.LoggerProvider
	logProvider    log.LoggerProvider

	healthy  atomic.Bool
	degraded atomic.Bool
}

// New validates cfg and, when telemetry is enabled, installs OTLP providers
// as the otel globals.
func New(ctx context.Context, cfg *Config, logger *zap.Logger, opts ...Option) (*Telemetry, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	t := &Telemetry{
		config: cfg,
		logger: logger,
	}
	t.healthy.Store(true)

	if !cfg.Enabled {
		return t, nil
	}

	res := newResource(cfg)

	tp, err := newTracerProvider(ctx, cfg, res, o)
	if err != nil {
		t.setDegraded("tracer provider", err)
	} else {
		t.tracerProvider = tp
		otel.SetTracerProvider(tp)
	}

	mp, err := newMeterProvider(ctx, cfg, res, o)
	if err != nil {
		t.setDegraded("meter provider", err)
	} else if mp != nil {
		t.meterProvider = mp
		otel.SetMeterProvider(mp)
	}

	lp, err := newLoggerProvider(ctx, cfg, res, o)
	if err != nil {
		t.setDegraded("logger provider", err)
	} else if lp != nil {
		t.sdkLogs = lp
		t.logProvider = lp
		global.SetLoggerProvider(lp)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Debug("telemetry initialized",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("protocol", cfg.Protocol),
		zap.Bool("metrics", mp != nil),
		zap.Bool("logs", lp != nil),
		zap.Bool("degraded", t.degraded.Load()))

	return t, nil
}

// LoggerProvider returns the provider the zap bridge should write to, or nil
// when log export is off.
func (t *Telemetry) LoggerProvider() log.LoggerProvider {
	if t == nil || t.config == nil || !t.config.Enabled || !t.config.Logs {
		return nil
	}
	if t.logProvider != nil {
		return t.logProvider
	}
	return global.GetLoggerProvider()
}

// SetLoggerProvider sets the logger provider for the zap bridge.
func (t *Telemetry) SetLoggerProvider(lp log.LoggerProvider) {
	if t != nil {
		t.logProvider = lp
	}
}

// provider is what the sdk trace, meter and log providers have in common.
type provider interface {
	ForceFlush(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

func (t *Telemetry) providers() map[string]provider {
	out := map[string]provider{}
	if t.tracerProvider != nil {
		out["trace"] = t.tracerProvider
	}
	if t.meterProvider != nil {
		out["meter"] = t.meterProvider
	}
	if t.sdkLogs != nil {
		out["logger"] = t.sdkLogs
	}
	return out
}

// Shutdown flushes and stops every provider. Without a deadline on ctx the
// configured shutdown timeout applies.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok && t.config != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.Shutdown.Timeout.Duration())
		defer cancel()
	}

	var errs []error
	for name, p := range t.providers() {
		if err := p.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s provider shutdown: %w", name, err))
		}
	}
	t.healthy.Store(false)
	return errors.Join(errs...)
}

// ForceFlush exports everything buffered so far. Short-lived CLI runs call
// it through Shutdown; serve can call it on demand.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	for name, p := range t.providers() {
		if err := p.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s flush: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// HealthStatus reports whether telemetry is running and whether any provider
// failed to start.
type HealthStatus struct {
	Healthy  bool
	Degraded bool
}

// Health returns the current telemetry health status.
func (t *Telemetry) Health() HealthStatus {
	if t == nil {
		return HealthStatus{Healthy: false, Degraded: true}
	}
	return HealthStatus{
		Healthy:  t.healthy.Load(),
		Degraded: t.degraded.Load(),
	}
}

// IsEnabled returns true if telemetry is enabled and healthy.
func (t *Telemetry) IsEnabled() bool {
	if t == nil || t.config == nil {
		return false
	}
	return t.config.Enabled && t.healthy.Load()
}

func (t *Telemetry) setDegraded(what string, err error) {
	t.degraded.Store(true)
	t.logger.Warn("telemetry degraded", zap.String("component", what), zap.Error(err))
}
