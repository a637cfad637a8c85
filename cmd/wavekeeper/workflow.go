package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/wavekeeper/internal/execlog"
	"github.com/fyrsmithlabs/wavekeeper/internal/logging"
	"github.com/fyrsmithlabs/wavekeeper/internal/workflow"
)

type workflowFlags struct {
	task           string
	phases         []string
	deliverables   []string
	contextForNext string
	noLog          bool
}

func newWorkflowCmd(a *app) *cobra.Command {
	f := &workflowFlags{}

	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Drive the workflow state machine",
		Long: `Create and advance the active workflow stored in .claude/state/workflow.json.
Every change re-renders WORKFLOW_STATUS.md and, unless --no-log is given,
appends the matching event to the workflow's execution log.

Examples:
  # Create a two-phase workflow
  wavekeeper workflow create --task "Add login" --phase "Design:architect" --phase "Build:builder"

  # Finish the first phase and hand context to the next
  wavekeeper workflow update phase_0 completed --deliverable docs/design.md --context-for-next "see design.md"`,
	}
	cmd.PersistentFlags().BoolVar(&f.noLog, "no-log", false, "Do not write execution log events")

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Start a new workflow, replacing any existing one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := parsePhaseSpecs(f.phases)
			if err != nil {
				return err
			}
			st, err := a.services.Workflow().Create(cmd.Context(), f.task, specs)
			if err != nil {
				return err
			}
			if !f.noLog {
				a.logEvent(cmd.Context(), st.ID, execlog.Event{
					EventType: execlog.EventWorkflowStart,
					Status:    execlog.StatusStarted,
					Context:   map[string]any{"task": st.Task, "phases": len(st.Phases)},
				})
			}
			return printJSON(cmd, st)
		},
	}
	createCmd.Flags().StringVar(&f.task, "task", "", "Task description (required)")
	createCmd.Flags().StringArrayVar(&f.phases, "phase", nil, `Phase as "Title:agent", repeatable (required)`)
	_ = createCmd.MarkFlagRequired("task")
	_ = createCmd.MarkFlagRequired("phase")

	updateCmd := &cobra.Command{
		Use:   "update <phase-id> <status>",
		Short: "Move a phase to active, completed or failed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := workflow.ParseStatus(args[1])
			if err != nil {
				return err
			}
			u := workflow.Update{}
			if cmd.Flags().Changed("deliverable") {
				u.Deliverables = f.deliverables
			}
			if cmd.Flags().Changed("context-for-next") {
				u.ContextForNext = &f.contextForNext
			}

			ctx := logging.WithPhaseID(cmd.Context(), args[0])
			st, err := a.services.Workflow().UpdatePhaseStatus(ctx, args[0], status, u)
			if workflow.IsRecoverable(err) {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
				return nil
			}
			if err != nil {
				return err
			}
			if !f.noLog {
				a.logTransition(ctx, st, args[0], status)
			}
			return printJSON(cmd, st)
		},
	}
	updateCmd.Flags().StringArrayVar(&f.deliverables, "deliverable", nil, "Deliverable produced by the phase, repeatable")
	updateCmd.Flags().StringVar(&f.contextForNext, "context-for-next", "", "Handoff context for the next phase")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the workflow document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.services.Workflow().Get(cmd.Context())
			if errors.Is(err, workflow.ErrNoActiveWorkflow) {
				return exitWith(1, "No active workflow")
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		},
	}

	renderCmd := &cobra.Command{
		Use:   "render",
		Short: "Regenerate WORKFLOW_STATUS.md and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := a.services.Workflow().WriteStatus(cmd.Context())
			if errors.Is(err, workflow.ErrNoActiveWorkflow) {
				return exitWith(1, "No active workflow")
			}
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), md)
			return nil
		},
	}

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Return every phase to pending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.services.Workflow().Reset(cmd.Context())
			if errors.Is(err, workflow.ErrNoActiveWorkflow) {
				return exitWith(1, "No active workflow")
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		},
	}

	handoffCmd := &cobra.Command{
		Use:   "handoff <phase-id>",
		Short: "Print the context left for a phase by its predecessor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := a.services.Workflow().HandoffContext(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if text != "" {
				fmt.Fprintln(cmd.OutOrStdout(), text)
			}
			return nil
		},
	}

	cmd.AddCommand(createCmd, updateCmd, showCmd, renderCmd, resetCmd, handoffCmd)
	return cmd
}

// parsePhaseSpecs turns "Title:agent" values into phase specs. The agent is
// everything after the last colon, so titles may contain colons.
func parsePhaseSpecs(values []string) ([]workflow.PhaseSpec, error) {
	specs := make([]workflow.PhaseSpec, 0, len(values))
	for _, v := range values {
		i := strings.LastIndex(v, ":")
		if i <= 0 || i == len(v)-1 {
			return nil, fmt.Errorf("invalid --phase %q, want \"Title:agent\"", v)
		}
		specs = append(specs, workflow.PhaseSpec{
			Title: strings.TrimSpace(v[:i]),
			Agent: strings.TrimSpace(v[i+1:]),
		})
	}
	return specs, nil
}

// logTransition records a phase change, and the end of the workflow when
// the change made it terminal.
func (a *app) logTransition(ctx context.Context, st *workflow.State, phaseID string, status workflow.Status) {
	agent := ""
	if i := st.PhaseIndex(phaseID); i >= 0 {
		agent = st.Phases[i].Agent
	}

	switch status {
	case workflow.StatusActive:
		a.logEvent(ctx, st.ID, execlog.Event{EventType: execlog.EventPhaseStart, Status: execlog.StatusStarted, PhaseID: phaseID, Agent: agent})
	case workflow.StatusCompleted:
		a.logEvent(ctx, st.ID, execlog.Event{EventType: execlog.EventPhaseEnd, Status: execlog.StatusCompleted, PhaseID: phaseID, Agent: agent})
		if next := st.Current(); next != nil {
			a.logEvent(ctx, st.ID, execlog.Event{EventType: execlog.EventPhaseStart, Status: execlog.StatusStarted, PhaseID: next.ID, Agent: next.Agent})
		}
	case workflow.StatusFailed:
		a.logEvent(ctx, st.ID, execlog.Event{EventType: execlog.EventPhaseEnd, Status: execlog.StatusFailed, PhaseID: phaseID, Agent: agent})
	}

	if st.Status.Terminal() {
		a.logEvent(ctx, st.ID, execlog.Event{EventType: execlog.EventWorkflowEnd, Status: string(st.Status)})
	}
}

// logEvent appends to the execution log. The workflow document is the
// source of truth, so a failed append is only reported.
func (a *app) logEvent(ctx context.Context, workflowID string, ev execlog.Event) {
	ctx = logging.WithWorkflowID(ctx, workflowID)
	w, err := a.services.Logs(workflowID)
	if err == nil {
		_, err = w.WriteEvent(ctx, ev)
	}
	if err != nil {
		a.logger.Warn(ctx, "failed to write execution log event",
			zap.String("event_type", ev.EventType),
			zap.Error(err),
		)
	}
}
