// Package metrics exposes wavekeeper's persisted state as Prometheus
// metrics.
//
// The collector holds no counters of its own: every scrape re-reads the retry
// budgets, the workflow document and the active workflow's execution log, so
// values are correct no matter which process wrote them.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/wavekeeper/internal/execlog"
	"github.com/fyrsmithlabs/wavekeeper/internal/retry"
	"github.com/fyrsmithlabs/wavekeeper/internal/workflow"
)

const namespace = "wavekeeper"

// RetrySource lists retry budgets.
type RetrySource interface {
	All(ctx context.Context) (retry.Budgets, error)
}

// WorkflowSource returns the active workflow.
type WorkflowSource interface {
	Get(ctx context.Context) (*workflow.State, error)
}

// LogStatsFunc computes execution log statistics for a workflow.
type LogStatsFunc func(ctx context.Context, workflowID string) (execlog.Stats, error)

// Collector implements prometheus.Collector over the state documents.
type Collector struct {
	retries   RetrySource
	workflows WorkflowSource
	logStats  LogStatsFunc
	logger    *zap.Logger
	timeout   time.Duration

	retryAttempts  *prometheus.Desc
	retryMax       *prometheus.Desc
	retryExhausted *prometheus.Desc
	retryErrors    *prometheus.Desc
	workflowInfo   *prometheus.Desc
	workflowPhases *prometheus.Desc
	logEvents      *prometheus.Desc
	logFailures    *prometheus.Desc
	logRetries     *prometheus.Desc
	scrapeError    *prometheus.Desc
}

// NewCollector creates a collector. Any source may be nil.
func NewCollector(retries RetrySource, workflows WorkflowSource, logStats LogStatsFunc, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	desc := func(sub, name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, sub, name), help, labels, nil)
	}
	return &Collector{
		retries:   retries,
		workflows: workflows,
		logStats:  logStats,
		logger:    logger,
		timeout:   5 * time.Second,

		retryAttempts:  desc("retry", "attempts", "Current attempt count of a phase retry budget.", "phase_id", "workflow_id"),
		retryMax:       desc("retry", "max_attempts", "Maximum attempts allowed for a phase.", "phase_id", "workflow_id"),
		retryExhausted: desc("retry", "exhausted", "1 when the phase retry budget is exhausted.", "phase_id", "workflow_id"),
		retryErrors:    desc("retry", "recorded_errors", "Failures recorded in a phase error history.", "phase_id", "error_type"),
		workflowInfo:   desc("workflow", "info", "Active workflow; always 1.", "workflow_id", "status", "current_phase"),
		workflowPhases: desc("workflow", "phases", "Phases of the active workflow by status.", "status"),
		logEvents:      desc("execlog", "events", "Events in the active workflow's execution log by type.", "workflow_id", "event_type"),
		logFailures:    desc("execlog", "failed_events", "Events with status failed in the active workflow's log.", "workflow_id"),
		logRetries:     desc("execlog", "retry_events", "Retry events in the active workflow's log.", "workflow_id"),
		scrapeError:    desc("", "scrape_error", "1 when a state source could not be read during the last scrape.", "source"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.retryAttempts, c.retryMax, c.retryExhausted, c.retryErrors,
		c.workflowInfo, c.workflowPhases,
		c.logEvents, c.logFailures, c.logRetries,
		c.scrapeError,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if c.retries != nil {
		c.report(ch, "retry", c.collectRetries(ctx, ch))
	}
	if c.workflows != nil {
		c.report(ch, "workflow", c.collectWorkflow(ctx, ch))
	}
}

func (c *Collector) report(ch chan<- prometheus.Metric, source string, err error) {
	v := 0.0
	if err != nil {
		v = 1
		c.logger.Warn("metrics scrape failed", zap.String("source", source), zap.Error(err))
	}
	ch <- prometheus.MustNewConstMetric(c.scrapeError, prometheus.GaugeValue, v, source)
}

func (c *Collector) collectRetries(ctx context.Context, ch chan<- prometheus.Metric) error {
	doc, err := c.retries.All(ctx)
	if err != nil {
		return err
	}
	for id, st := range doc.Retries {
		if st == nil {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.retryAttempts, prometheus.GaugeValue, float64(st.AttemptCount), id, st.WorkflowID)
		ch <- prometheus.MustNewConstMetric(c.retryMax, prometheus.GaugeValue, float64(st.MaxAttempts), id, st.WorkflowID)
		ch <- prometheus.MustNewConstMetric(c.retryExhausted, prometheus.GaugeValue, boolValue(st.Exhausted()), id, st.WorkflowID)

		byKind := map[string]int{}
		for _, e := range st.ErrorHistory {
			byKind[string(e.ErrorType)]++
		}
		for kind, n := range byKind {
			ch <- prometheus.MustNewConstMetric(c.retryErrors, prometheus.GaugeValue, float64(n), id, kind)
		}
	}
	return nil
}

func (c *Collector) collectWorkflow(ctx context.Context, ch chan<- prometheus.Metric) error {
	st, err := c.workflows.Get(ctx)
	if errors.Is(err, workflow.ErrNoActiveWorkflow) {
		return nil
	}
	if err != nil {
		return err
	}

	current := ""
	if st.CurrentPhase != nil {
		current = *st.CurrentPhase
	}
	ch <- prometheus.MustNewConstMetric(c.workflowInfo, prometheus.GaugeValue, 1, st.ID, string(st.Status), current)

	counts := map[workflow.Status]int{
		workflow.StatusPending:   0,
		workflow.StatusActive:    0,
		workflow.StatusCompleted: 0,
		workflow.StatusFailed:    0,
	}
	for _, p := range st.Phases {
		counts[p.Status]++
	}
	for status, n := range counts {
		ch <- prometheus.MustNewConstMetric(c.workflowPhases, prometheus.GaugeValue, float64(n), string(status))
	}

	if c.logStats == nil || st.ID == "" {
		return nil
	}
	stats, err := c.logStats(ctx, st.ID)
	if err != nil {
		c.report(ch, "execlog", err)
		return nil
	}
	for et, n := range stats.EventTypes {
		ch <- prometheus.MustNewConstMetric(c.logEvents, prometheus.GaugeValue, float64(n), st.ID, et)
	}
	ch <- prometheus.MustNewConstMetric(c.logFailures, prometheus.GaugeValue, float64(stats.Errors), st.ID)
	ch <- prometheus.MustNewConstMetric(c.logRetries, prometheus.GaugeValue, float64(stats.Retries), st.ID)
	c.report(ch, "execlog", nil)
	return nil
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
