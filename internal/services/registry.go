package services

import (
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/wavekeeper/internal/config"
	"github.com/fyrsmithlabs/wavekeeper/internal/execlog"
	"github.com/fyrsmithlabs/wavekeeper/internal/hooks"
	"github.com/fyrsmithlabs/wavekeeper/internal/retry"
	"github.com/fyrsmithlabs/wavekeeper/internal/store"
	"github.com/fyrsmithlabs/wavekeeper/internal/taskgraph"
	"github.com/fyrsmithlabs/wavekeeper/internal/workflow"
)

// Registry provides access to all wavekeeper services.
type Registry interface {
	Retry() *retry.Coordinator
	Workflow() *workflow.Machine
	TaskGraph() *taskgraph.Validator
	Hooks() *hooks.Manager
	// Logs opens the execution log of a workflow.
	Logs(workflowID string) (*execlog.Writer, error)
	// LogDir is where execution logs live.
	LogDir() string
}

// Options configures the registry with service instances.
type Options struct {
	Retry     *retry.Coordinator
	Workflow  *workflow.Machine
	TaskGraph *taskgraph.Validator
	Hooks     *hooks.Manager
	LogDir    string
	LogOpts   []execlog.Option
	Logger    *zap.Logger
}

type registry struct {
	retry     *retry.Coordinator
	workflow  *workflow.Machine
	taskGraph *taskgraph.Validator
	hooks     *hooks.Manager
	logDir    string
	logOpts   []execlog.Option
	logger    *zap.Logger
}

// NewRegistry creates a new service registry.
func NewRegistry(opts Options) Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &registry{
		retry:     opts.Retry,
		workflow:  opts.Workflow,
		taskGraph: opts.TaskGraph,
		hooks:     opts.Hooks,
		logDir:    opts.LogDir,
		logOpts:   opts.LogOpts,
		logger:    logger,
	}
}

// FromConfig builds every service from cfg. Nothing touches the disk until a
// service is used.
func FromConfig(cfg *config.Config, logger *zap.Logger) Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	lockTimeout := store.WithLockTimeout(cfg.LockTimeout())

	coordinator := retry.NewCoordinator(
		store.NewFileStore(cfg.RetryPath(), retry.NewBudgets, lockTimeout),
		logger.Named("retry"),
		retry.WithConfig(retry.Config{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Strategy:    retry.ParseStrategy(cfg.Retry.Strategy),
			BaseSeconds: cfg.Retry.BaseSeconds,
			MaxSeconds:  cfg.Retry.MaxSeconds,
		}),
	)

	machine := workflow.NewMachine(
		store.NewFileStore[workflow.State](cfg.WorkflowPath(), nil, lockTimeout),
		cfg.StatusPath(),
		logger.Named("workflow"),
	)

	validator := taskgraph.NewValidator(
		store.NewFileStore[taskgraph.Graph](cfg.GraphPath(), nil, lockTimeout),
		logger.Named("taskgraph"),
		taskgraph.WithLocation(cfg.GraphPath()),
		taskgraph.WithMinDepth(cfg.TaskGraph.MinDepth),
		taskgraph.WithExemptAgents(cfg.TaskGraph.ExemptAgents...),
	)

	hookCfg := &hooks.Config{
		ValidatedTools: cfg.Hooks.ValidatedTools,
		FailOpen:       cfg.Hooks.FailOpen,
	}
	manager := hooks.NewManager(hookCfg, logger.Named("hooks"))
	hooks.NewTaskGraphGate(validator, hookCfg, logger.Named("hooks")).Register(manager)

	return NewRegistry(Options{
		Retry:     coordinator,
		Workflow:  machine,
		TaskGraph: validator,
		Hooks:     manager,
		LogDir:    cfg.LogDir(),
		LogOpts: []execlog.Option{
			execlog.WithMaxSize(cfg.MaxLogBytes()),
			execlog.WithRetention(cfg.ExecLog.Retention.Duration()),
			execlog.WithLockTimeout(cfg.LockTimeout()),
		},
		Logger: logger,
	})
}

func (r *registry) Retry() *retry.Coordinator       { return r.retry }
func (r *registry) Workflow() *workflow.Machine     { return r.workflow }
func (r *registry) TaskGraph() *taskgraph.Validator { return r.taskGraph }
func (r *registry) Hooks() *hooks.Manager           { return r.hooks }
func (r *registry) LogDir() string                  { return r.logDir }

func (r *registry) Logs(workflowID string) (*execlog.Writer, error) {
	return execlog.NewWriter(workflowID, r.logDir, r.logger.Named("execlog"), r.logOpts...)
}
