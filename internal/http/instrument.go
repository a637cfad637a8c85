package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/wavekeeper/internal/http"

// Instrumentation traces and counts API requests. Spans continue any W3C
// trace context the caller sends, so a hook that forwards traceparent shows
// up in the same trace as the state it queried.
type Instrumentation struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	logger     *zap.Logger

	requests metric.Int64Counter
	duration metric.Float64Histogram
}

// NewInstrumentation uses the global tracer, meter and propagator.
func NewInstrumentation(logger *zap.Logger) *Instrumentation {
	if logger == nil {
		logger = zap.NewNop()
	}
	i := &Instrumentation{
		tracer:     otel.Tracer(instrumentationName),
		propagator: otel.GetTextMapPropagator(),
		logger:     logger,
	}
	i.initMetrics(otel.Meter(instrumentationName))
	return i
}

func (i *Instrumentation) initMetrics(meter metric.Meter) {
	var err error

	i.requests, err = meter.Int64Counter(
		"wavekeeper.http.requests_total",
		metric.WithDescription("API requests by method, route and status code"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		i.logger.Warn("failed to create requests counter", zap.Error(err))
	}

	i.duration, err = meter.Float64Histogram(
		"wavekeeper.http.request_duration_seconds",
		metric.WithDescription("API request latency by method, route and status code"),
		metric.WithUnit("s"),
		// State reads are file reads under a lock; anything past a second is lock contention.
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1, 5),
	)
	if err != nil {
		i.logger.Warn("failed to create duration histogram", zap.Error(err))
	}
}

// Middleware returns the echo middleware.
func (i *Instrumentation) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			route := routeLabel(c.Path())

			ctx := i.propagator.Extract(req.Context(), propagation.HeaderCarrier(req.Header))
			ctx, span := i.tracer.Start(ctx, req.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", req.Method),
					attribute.String("http.route", route),
				),
			)
			defer span.End()
			c.SetRequest(req.WithContext(ctx))

			err := next(c)
			status := statusOf(c, err)

			span.SetAttributes(attribute.Int("http.response.status_code", status))
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
				if err != nil {
					span.RecordError(err)
				}
			}

			attrs := metric.WithAttributes(
				attribute.String("method", req.Method),
				attribute.String("endpoint", route),
				attribute.Int("status", status),
			)
			if i.requests != nil {
				i.requests.Add(ctx, 1, attrs)
			}
			if i.duration != nil {
				i.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			return err
		}
	}
}

// statusOf returns the status the client will see. Handler errors are
// rendered by the outer request logger, so the response is not written yet.
func statusOf(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

// routeLabel maps a request onto its route template. Echo reports the
// registered pattern (/api/v1/logs/:workflow), so workflow and phase ids
// never become label values.
func routeLabel(path string) string {
	if path == "" || path == "/*" {
		return "unmatched"
	}
	return path
}

