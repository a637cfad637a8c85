package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/wavekeeper/internal/telemetry"
)

func instrumentedEcho(t *testing.T) (*echo.Echo, *telemetry.TestTelemetry) {
	t.Helper()
	tel := telemetry.NewTestTelemetry(t)

	e := echo.New()
	e.Use(NewInstrumentation(nil).Middleware())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/api/v1/logs/:workflow", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"workflow": c.Param("workflow")})
	})
	e.GET("/api/v1/retries/:phase", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "no budget")
	})
	e.GET("/api/v1/workflow", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusInternalServerError, "corrupt state")
	})
	return e, tel
}

func TestInstrumentation_CountsByRoute(t *testing.T) {
	e, tel := instrumentedEcho(t)

	for _, path := range []string{"/health", "/api/v1/logs/wf_1", "/api/v1/logs/wf_2", "/api/v1/retries/phase_9"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	rm := tel.Collect(t)
	byEndpoint := map[string]int64{}
	statuses := map[int64]int64{}
	var observed uint64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch md.Name {
			case "wavekeeper.http.requests_total":
				sum, ok := md.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				for _, dp := range sum.DataPoints {
					ep, _ := dp.Attributes.Value(attribute.Key("endpoint"))
					st, _ := dp.Attributes.Value(attribute.Key("status"))
					byEndpoint[ep.AsString()] += dp.Value
					statuses[st.AsInt64()] += dp.Value
				}
			case "wavekeeper.http.request_duration_seconds":
				hist, ok := md.Data.(metricdata.Histogram[float64])
				require.True(t, ok)
				for _, dp := range hist.DataPoints {
					observed += dp.Count
				}
			}
		}
	}

	assert.Equal(t, map[string]int64{
		"/health":                1,
		"/api/v1/logs/:workflow": 2,
		"/api/v1/retries/:phase": 1,
	}, byEndpoint)
	assert.Equal(t, map[int64]int64{200: 3, 404: 1}, statuses, "handler errors are counted with their status")
	assert.Equal(t, uint64(4), observed)
}

func TestInstrumentation_Spans(t *testing.T) {
	e, tel := instrumentedEcho(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/logs/wf_1", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	e.ServeHTTP(httptest.NewRecorder(), req)
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/workflow", nil))

	tel.AssertSpanAttribute(t, "GET /api/v1/logs/:workflow", "http.route", "/api/v1/logs/:workflow")
	tel.AssertSpanAttribute(t, "GET /api/v1/logs/:workflow", "http.response.status_code", int64(200))

	span := tel.SpanByName("GET /api/v1/logs/:workflow")
	require.NotNil(t, span)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", span.SpanContext.TraceID().String(), "continues the caller's trace")

	failed := tel.SpanByName("GET /api/v1/workflow")
	require.NotNil(t, failed)
	assert.Equal(t, "Error", failed.Status.Code.String())
}

func TestRouteLabel(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "unmatched"},
		{"/*", "unmatched"},
		{"/health", "/health"},
		{"/api/v1/retries/:phase", "/api/v1/retries/:phase"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, routeLabel(tt.input), tt.input)
	}
}
