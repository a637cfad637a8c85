package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/wavekeeper/internal/retry"
)

type retryFlags struct {
	phaseID      string
	workflowID   string
	agent        string
	errorMessage string
	errorType    string
	exitCode     int
	maxAttempts  int
	strategy     string
	maxAge       time.Duration
}

func newRetryCmd(a *app) *cobra.Command {
	f := &retryFlags{}

	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Manage per-phase retry budgets",
		Long: `Manage per-phase retry budgets stored in .claude/state/retry_budgets.json.

Examples:
  # Start tracking a phase
  wavekeeper retry init --phase-id phase_1_0 --workflow-id wf_20250101_120000 --agent builder

  # Record a failed attempt
  wavekeeper retry record-failure --phase-id phase_1_0 --error-type transient --error-message "timeout"

  # Ask whether the phase may run again (exit 1 when it may not)
  wavekeeper retry can-retry --phase-id phase_1_0`,
	}

	phaseFlag := func(c *cobra.Command) *cobra.Command {
		c.Flags().StringVar(&f.phaseID, "phase-id", "", "Phase identifier (required)")
		_ = c.MarkFlagRequired("phase-id")
		return c
	}

	initCmd := phaseFlag(&cobra.Command{
		Use:   "init",
		Short: "Create a fresh retry budget for a phase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var strategy retry.Strategy
			if f.strategy != "" {
				strategy = retry.ParseStrategy(f.strategy)
				if !strategy.Valid() {
					return fmt.Errorf("invalid --strategy %q", f.strategy)
				}
			}
			st, err := a.services.Retry().Init(cmd.Context(), f.phaseID, f.workflowID, f.agent, retry.InitOptions{
				MaxAttempts: f.maxAttempts,
				Strategy:    strategy,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		},
	})
	initCmd.Flags().StringVar(&f.workflowID, "workflow-id", "", "Workflow identifier (required)")
	initCmd.Flags().StringVar(&f.agent, "agent", "", "Agent running the phase (required)")
	initCmd.Flags().IntVar(&f.maxAttempts, "max-attempts", 0, "Maximum attempts (defaults to retry.max_attempts)")
	initCmd.Flags().StringVar(&f.strategy, "strategy", "", "Backoff strategy: exponential, linear or constant")
	_ = initCmd.MarkFlagRequired("workflow-id")
	_ = initCmd.MarkFlagRequired("agent")

	recordCmd := phaseFlag(&cobra.Command{
		Use:   "record-failure",
		Short: "Record a failed attempt and schedule the next one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := retry.ErrorKind(f.errorType)
			switch kind {
			case retry.Transient, retry.Permanent, retry.Unknown:
			default:
				return fmt.Errorf("invalid --error-type %q (transient, permanent, unknown)", f.errorType)
			}
			failure := retry.Failure{Message: f.errorMessage, Kind: kind}
			if cmd.Flags().Changed("exit-code") {
				code := f.exitCode
				failure.ExitCode = &code
			}
			st, err := a.services.Retry().RecordFailure(cmd.Context(), f.phaseID, failure)
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		},
	})
	recordCmd.Flags().StringVar(&f.errorMessage, "error-message", "", "Failure message (required)")
	recordCmd.Flags().StringVar(&f.errorType, "error-type", string(retry.Unknown), "Failure kind: transient, permanent or unknown")
	recordCmd.Flags().IntVar(&f.exitCode, "exit-code", 0, "Exit code of the failed attempt")
	_ = recordCmd.MarkFlagRequired("error-message")

	canRetryCmd := phaseFlag(&cobra.Command{
		Use:   "can-retry",
		Short: "Report whether a phase may run now (exit 1 when it may not)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.services.Retry().CanRetry(cmd.Context(), f.phaseID)
			if err != nil {
				return err
			}
			if err := printJSON(cmd, d); err != nil {
				return err
			}
			if !d.Allowed {
				return exitWith(1, "")
			}
			return nil
		},
	})

	backoffCmd := phaseFlag(&cobra.Command{
		Use:   "get-backoff",
		Short: "Print the backoff delay in seconds for the current attempt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.services.Retry().BackoffDelay(cmd.Context(), f.phaseID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%.2f\n", d.Seconds())
			return nil
		},
	})

	resetCmd := phaseFlag(&cobra.Command{
		Use:   "reset",
		Short: "Forget the retry budget of a phase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.services.Retry().Reset(cmd.Context(), f.phaseID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset budget for phase %s\n", f.phaseID)
			return nil
		},
	})

	stateCmd := phaseFlag(&cobra.Command{
		Use:   "get-state",
		Short: "Print the retry budget of a phase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.services.Retry().Get(cmd.Context(), f.phaseID)
			if errors.Is(err, retry.ErrNotFound) {
				return exitWith(1, fmt.Sprintf("No retry state found for phase %s", f.phaseID))
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		},
	})

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove retry budgets whose last failure is older than --max-age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			age := f.maxAge
			if age <= 0 {
				age = a.cfg.Retry.CleanupAge.Duration()
			}
			removed, err := a.services.Retry().CleanupOlderThan(cmd.Context(), age)
			if err != nil {
				return err
			}
			for _, id := range removed {
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", id)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleaned up %d old retry states\n", len(removed))
			return nil
		},
	}
	cleanupCmd.Flags().DurationVar(&f.maxAge, "max-age", 0, "Age cutoff (defaults to retry.cleanup_age)")

	cmd.AddCommand(initCmd, recordCmd, canRetryCmd, backoffCmd, resetCmd, stateCmd, cleanupCmd)
	return cmd
}
