package main

import (
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/wavekeeper/internal/hooks"
	"github.com/fyrsmithlabs/wavekeeper/internal/logging"
)

func newHookCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Claude Code hook entry points",
		Long: `Claude Code hook entry points. The hook payload is read from stdin as JSON.
Exit status 0 allows the tool call, 1 blocks it; the reason is written to
stderr.

Example .claude/settings.json entry:
  "PreToolUse": [{"matcher": "Task", "hooks": [{"type": "command",
    "command": "wavekeeper hook pre-tool-use"}]}]`,
	}

	preCmd := &cobra.Command{
		Use:   "pre-tool-use [tool-name]",
		Short: "Validate a Task call against the active task graph",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := hooks.ReadPayload(cmd.InOrStdin())
			if err != nil {
				return exitWith(1, "ERROR: "+err.Error())
			}
			if len(args) == 1 {
				p.ToolName = args[0]
			}
			return a.runHook(cmd, hooks.EventPreToolUse, p)
		},
	}

	postCmd := &cobra.Command{
		Use:   "post-tool-use",
		Short: "Check the task graph depth floor after a Task call",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := hooks.ReadPayload(cmd.InOrStdin())
			if err != nil {
				// The depth check reads only the task graph.
				if !errors.Is(err, hooks.ErrEmptyPayload) {
					a.logger.Warn(cmd.Context(), "ignoring unreadable hook payload", zap.Error(err))
				}
				p = &hooks.Payload{}
			}
			return a.runHook(cmd, hooks.EventPostToolUse, p)
		},
	}

	cmd.AddCommand(preCmd, postCmd)
	return cmd
}

func (a *app) runHook(cmd *cobra.Command, event hooks.Event, p *hooks.Payload) error {
	ctx := logging.WithSessionID(cmd.Context(), p.SessionID)
	err := a.services.Hooks().Execute(ctx, event, p)
	if err == nil {
		return nil
	}
	if hooks.IsBlocked(err) {
		a.logger.Info(ctx, "tool call blocked",
			zap.String("event", string(event)),
			zap.String("tool", p.ToolName),
		)
		return exitWith(1, err.Error())
	}
	return exitWith(1, "ERROR: "+err.Error())
}
