package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/wavekeeper/internal/execlog"
	httpserver "github.com/fyrsmithlabs/wavekeeper/internal/http"
	"github.com/fyrsmithlabs/wavekeeper/internal/metrics"
)

func newServeCmd(a *app) *cobra.Command {
	var port int
	var host string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the status API and Prometheus metrics",
		Long: `Serve a read-mostly HTTP API over the project's workflow state, retry
budgets and execution logs, plus /metrics for Prometheus.

The server binds to 127.0.0.1:9191 by default. Set server.auth_token (or
WAVEKEEPER_SERVER_AUTH_TOKEN) to require a bearer token on /api/v1.`,
		Example: `  # Serve on the configured address
  wavekeeper serve

  # Serve on another port
  wavekeeper serve --port 9292

  # Query the active workflow
  curl -s localhost:9191/api/v1/workflow/status`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}
			if cmd.Flags().Changed("host") {
				a.cfg.Server.Host = host
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (overrides server.http_port)")
	cmd.Flags().StringVar(&host, "host", "", "Listen host (overrides server.http_host)")
	return cmd
}

// newMetricsRegistry builds the registry behind /metrics: process and
// runtime collectors plus the state collector.
func (a *app) newMetricsRegistry() (*prometheus.Registry, error) {
	logger := a.logger.Underlying().Named("metrics")
	reg := prometheus.NewRegistry()

	logStats := func(ctx context.Context, workflowID string) (execlog.Stats, error) {
		w, err := a.services.Logs(workflowID)
		if err != nil {
			return execlog.Stats{}, err
		}
		return w.Stats(ctx)
	}

	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCollector(a.services.Retry(), a.services.Workflow(), logStats, logger),
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (a *app) serve(ctx context.Context) error {
	logger := a.logger.Underlying().Named("http")

	reg, err := a.newMetricsRegistry()
	if err != nil {
		return err
	}

	cfg := httpserver.ConfigFromSettings(a.cfg.Server)
	cfg.Gatherer = reg
	cfg.Instrumentation = httpserver.NewInstrumentation(logger)

	srv, err := httpserver.NewServer(a.services, logger, cfg)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := a.cfg.Server.ShutdownTimeout.Duration()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown failed", zap.Error(err))
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
