package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/wavekeeper/internal/execlog"
	"github.com/fyrsmithlabs/wavekeeper/internal/retry"
	"github.com/fyrsmithlabs/wavekeeper/internal/store"
	"github.com/fyrsmithlabs/wavekeeper/internal/taskgraph"
	"github.com/fyrsmithlabs/wavekeeper/internal/workflow"
)

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleWorkflow(c echo.Context) error {
	st, err := s.services.Workflow().Get(c.Request().Context())
	if err != nil {
		return s.stateError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleWorkflowStatus(c echo.Context) error {
	st, err := s.services.Workflow().Get(c.Request().Context())
	if err != nil {
		return s.stateError(err)
	}
	return c.Blob(http.StatusOK, "text/markdown; charset=utf-8", []byte(workflow.Render(st)))
}

func (s *Server) handleHandoff(c echo.Context) error {
	phase := c.Param("phase")
	text, err := s.services.Workflow().HandoffContext(c.Request().Context(), phase)
	if err != nil {
		return s.stateError(err)
	}
	return c.JSON(http.StatusOK, HandoffResponse{PhaseID: phase, Context: text})
}

func (s *Server) handleRetries(c echo.Context) error {
	doc, err := s.services.Retry().All(c.Request().Context())
	if err != nil {
		return s.stateError(err)
	}
	return c.JSON(http.StatusOK, doc)
}

func (s *Server) handleRetry(c echo.Context) error {
	ctx := c.Request().Context()
	phase := c.Param("phase")
	coord := s.services.Retry()

	st, err := coord.Get(ctx, phase)
	if err != nil {
		return s.stateError(err)
	}
	decision, err := coord.CanRetry(ctx, phase)
	if err != nil {
		return s.stateError(err)
	}
	return c.JSON(http.StatusOK, RetryResponse{
		State:          st,
		Decision:       decision,
		BackoffSeconds: st.Backoff().Seconds(),
	})
}

func (s *Server) handleLogEvents(c echo.Context) error {
	w, err := s.services.Logs(c.Param("workflow"))
	if err != nil {
		return s.stateError(err)
	}

	q := execlog.Query{
		EventType: c.QueryParam("event_type"),
		PhaseID:   c.QueryParam("phase_id"),
		Status:    c.QueryParam("status"),
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		q.Limit = n
	}
	if v := c.QueryParam("archived"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "archived must be a boolean")
		}
		q.IncludeArchived = b
	}

	events, err := w.ReadEvents(c.Request().Context(), q)
	if err != nil {
		return s.stateError(err)
	}
	return c.JSON(http.StatusOK, LogEventsResponse{
		WorkflowID: w.WorkflowID(),
		Count:      len(events),
		Events:     events,
	})
}

func (s *Server) handleLogStats(c echo.Context) error {
	w, err := s.services.Logs(c.Param("workflow"))
	if err != nil {
		return s.stateError(err)
	}
	stats, err := w.Stats(c.Request().Context())
	if err != nil {
		return s.stateError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleValidate(c echo.Context) error {
	var req ValidateRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid validate request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	report, err := s.services.TaskGraph().Validate(c.Request().Context(), taskgraph.Request{
		Prompt:       req.Prompt,
		SubagentType: req.SubagentType,
	})
	if err != nil {
		return s.stateError(err)
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handleDepth(c echo.Context) error {
	report, err := s.services.TaskGraph().CheckDepth(c.Request().Context())
	if err != nil {
		return s.stateError(err)
	}
	return c.JSON(http.StatusOK, report)
}

// stateError maps service errors onto HTTP status codes.
func (s *Server) stateError(err error) error {
	switch {
	case errors.Is(err, workflow.ErrNoActiveWorkflow),
		errors.Is(err, workflow.ErrPhaseNotFound),
		errors.Is(err, retry.ErrNotFound),
		errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, execlog.ErrInvalidWorkflowID):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrLockTimeout):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, store.ErrCorruptState):
		s.logger.Error("corrupt state document", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "corrupt state document")
	}
	s.logger.Error("request failed", zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}
