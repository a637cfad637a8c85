// Package main implements the wavekeeper CLI: retry budgets, execution logs,
// workflow state, task graph validation and the Claude Code hook entry
// points, all backed by the project's .claude directory.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/wavekeeper/internal/config"
	"github.com/fyrsmithlabs/wavekeeper/internal/logging"
	"github.com/fyrsmithlabs/wavekeeper/internal/services"
	"github.com/fyrsmithlabs/wavekeeper/internal/telemetry"
)

var version = "dev"

// exitError carries a process exit code. A non-empty message is printed to
// stderr before exiting.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string {
	if e.msg == "" {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.msg
}

func exitWith(code int, msg string) error {
	return &exitError{code: code, msg: msg}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs the CLI and maps the outcome to an exit code.
func execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := &app{}
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.msg != "" {
			fmt.Fprintln(stderr, ee.msg)
		}
		return ee.code
	}
	fmt.Fprintln(stderr, "Error:", err)
	return 1
}

// app holds what every subcommand needs. It is populated by the root
// command's PersistentPreRunE.
type app struct {
	projectDir string
	configFile string
	logLevel   string

	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	services  services.Registry
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "wavekeeper",
		Short: "Workflow state, retry budgets and execution logs for Claude Code",
		Long: `wavekeeper keeps the durable state of multi-phase agent workflows:
retry budgets with backoff, append-only execution logs, the workflow state
machine and task graph validation for PreToolUse/PostToolUse hooks.

State lives under <project>/.claude/state and logs under <project>/.claude/logs.
The project directory comes from --project-dir, CLAUDE_PROJECT_DIR or the
working directory.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context())
		},
	}

	root.PersistentFlags().StringVar(&a.projectDir, "project-dir", "", "Project directory (defaults to $CLAUDE_PROJECT_DIR or cwd)")
	root.PersistentFlags().StringVar(&a.configFile, "config", "", "Config file (defaults to <project>/.claude/wavekeeper.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level override (trace, debug, info, warn, error)")

	root.AddCommand(
		newRetryCmd(a),
		newLogCmd(a),
		newWorkflowCmd(a),
		newGraphCmd(a),
		newHookCmd(a),
		newServeCmd(a),
	)
	return root
}

func (a *app) setup(ctx context.Context) error {
	cfg, err := config.Load(config.Options{ProjectDir: a.projectDir, File: a.configFile})
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	cfg.Logging.File = cfg.LogFile()

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger

	telCfg, err := telemetry.FromSettings(cfg.Telemetry, version)
	if err != nil {
		return err
	}
	// Installs the otel globals, so it must run before the services resolve
	// their tracers.
	tel, err := telemetry.New(ctx, telCfg, logger.Underlying().Named("telemetry"))
	if err != nil {
		return err
	}
	a.telemetry = tel
	a.logger = logger.WithOTEL(tel.LoggerProvider())

	a.services = services.FromConfig(cfg, a.logger.Underlying())

	a.logger.Debug(ctx, "configuration loaded",
		zap.String("project_dir", cfg.ProjectDir),
		zap.String("state_dir", cfg.StateDir()),
		zap.String("log_dir", cfg.LogDir()),
		zap.Bool("telemetry", tel.IsEnabled()),
	)
	return nil
}

func (a *app) close() {
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(context.Background()); err != nil && a.logger != nil {
			a.logger.Warn(context.Background(), "telemetry shutdown failed", zap.Error(err))
		}
		a.telemetry = nil
	}
	if a.logger != nil {
		_ = a.logger.Close()
		a.logger = nil
	}
}

// printJSON writes v to the command's stdout, indented like the state files.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
