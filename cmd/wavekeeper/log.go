package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/wavekeeper/internal/execlog"
)

type logFlags struct {
	workflowID   string
	eventType    string
	status       string
	phaseID      string
	agent        string
	durationMS   int64
	errorMessage string
	context      map[string]string
	extra        map[string]string
	limit        int
	archived     bool
	retention    time.Duration
	fromStart    bool
}

func newLogCmd(a *app) *cobra.Command {
	f := &logFlags{}

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Write and query execution logs",
		Long: `Write and query the append-only execution log of a workflow
(.claude/logs/execution_<workflow-id>.jsonl).

Examples:
  # Record a phase start
  wavekeeper log write --workflow-id wf_1 --event-type phase_start --status started --phase-id phase_0

  # Failed events of one phase, including rotated archives
  wavekeeper log read --workflow-id wf_1 --phase-id phase_0 --status failed --archived

  # Follow the log as it is written
  wavekeeper log tail --workflow-id wf_1`,
	}
	cmd.PersistentFlags().StringVar(&f.workflowID, "workflow-id", "", "Workflow identifier (required)")
	_ = cmd.MarkPersistentFlagRequired("workflow-id")

	writer := func() (*execlog.Writer, error) {
		return a.services.Logs(f.workflowID)
	}

	writeCmd := &cobra.Command{
		Use:   "write",
		Short: "Append one event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := writer()
			if err != nil {
				return err
			}
			ev := execlog.Event{
				EventType: f.eventType,
				Status:    f.status,
				PhaseID:   f.phaseID,
				Agent:     f.agent,
			}
			if cmd.Flags().Changed("duration-ms") {
				d := f.durationMS
				ev.DurationMS = &d
			}
			if f.errorMessage != "" {
				ev.Error = map[string]any{"message": f.errorMessage}
			}
			if len(f.context) > 0 {
				ev.Context = stringMap(f.context)
			}
			if len(f.extra) > 0 {
				ev.Extra = stringMap(f.extra)
			}
			stored, err := w.WriteEvent(cmd.Context(), ev)
			if err != nil {
				return err
			}
			return printJSON(cmd, stored)
		},
	}
	writeCmd.Flags().StringVar(&f.eventType, "event-type", "", "Event type, e.g. phase_start (required)")
	writeCmd.Flags().StringVar(&f.status, "status", "", "Event status, e.g. started (required)")
	writeCmd.Flags().StringVar(&f.phaseID, "phase-id", "", "Phase identifier")
	writeCmd.Flags().StringVar(&f.agent, "agent", "", "Agent name")
	writeCmd.Flags().Int64Var(&f.durationMS, "duration-ms", 0, "Duration in milliseconds")
	writeCmd.Flags().StringVar(&f.errorMessage, "error-message", "", "Error message")
	writeCmd.Flags().StringToStringVar(&f.context, "context", nil, "Context entries as key=value")
	writeCmd.Flags().StringToStringVar(&f.extra, "field", nil, "Additional top-level fields as key=value")
	_ = writeCmd.MarkFlagRequired("event-type")
	_ = writeCmd.MarkFlagRequired("status")

	readCmd := &cobra.Command{
		Use:   "read",
		Short: "Print matching events in write order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := writer()
			if err != nil {
				return err
			}
			events, err := w.ReadEvents(cmd.Context(), execlog.Query{
				EventType:       f.eventType,
				PhaseID:         f.phaseID,
				Status:          f.status,
				Limit:           f.limit,
				IncludeArchived: f.archived,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, events)
		},
	}
	readCmd.Flags().StringVar(&f.eventType, "event-type", "", "Filter by event type")
	readCmd.Flags().StringVar(&f.phaseID, "phase-id", "", "Filter by phase")
	readCmd.Flags().StringVar(&f.status, "status", "", "Filter by status")
	readCmd.Flags().IntVar(&f.limit, "limit", 0, "Maximum number of events (0 for all)")
	readCmd.Flags().BoolVar(&f.archived, "archived", false, "Include rotated archives")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarise the workflow log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := writer()
			if err != nil {
				return err
			}
			stats, err := w.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, stats)
		},
	}

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete log files older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := writer()
			if err != nil {
				return err
			}
			var removed []string
			if f.retention > 0 {
				removed, err = execlog.CleanupOldLogs(w.Dir(), f.retention, time.Now(), a.logger.Underlying())
			} else {
				removed, err = w.CleanupOldLogs()
			}
			if err != nil {
				return err
			}
			for _, p := range removed {
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", p)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleaned up %d old log files\n", len(removed))
			return nil
		},
	}
	cleanupCmd.Flags().DurationVar(&f.retention, "retention", 0, "Retention period (defaults to execlog.retention)")

	rotateCmd := &cobra.Command{
		Use:   "rotate",
		Short: "Compress the live log into an archive and truncate it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := writer()
			if err != nil {
				return err
			}
			archive, err := w.Rotate(cmd.Context())
			if err != nil {
				return err
			}
			if archive == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Nothing to rotate for workflow %s\n", f.workflowID)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rotated log for workflow %s to %s\n", f.workflowID, archive)
			return nil
		},
	}

	tailCmd := &cobra.Command{
		Use:   "tail",
		Short: "Print events as they are appended, one JSON object per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := writer()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(w.Dir(), 0o755); err != nil {
				return fmt.Errorf("create log dir: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			return w.Follow(cmd.Context(), f.fromStart, func(ev execlog.Event) error {
				return enc.Encode(ev)
			})
		},
	}
	tailCmd.Flags().BoolVar(&f.fromStart, "from-start", false, "Replay existing events before following")

	cmd.AddCommand(writeCmd, readCmd, statsCmd, cleanupCmd, rotateCmd, tailCmd)
	return cmd
}

func stringMap(in map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
