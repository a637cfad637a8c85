package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/wavekeeper/internal/taskgraph"
)

func newGraphCmd(a *app) *cobra.Command {
	var (
		prompt       string
		promptFile   string
		subagentType string
	)

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Validate against the active task graph",
		Long: `Validate phase execution requests against .claude/state/active_task_graph.json.
Violations are printed to stderr and the command exits 1.

Examples:
  # Would this Task prompt be allowed?
  wavekeeper graph check --prompt "Phase ID: phase_1_0 ..."

  # Check every atomic phase meets the depth floor
  wavekeeper graph depth`,
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Run every execution gate for a prompt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if promptFile != "" {
				text, err := readPrompt(cmd, promptFile)
				if err != nil {
					return err
				}
				prompt = text
			}
			report, err := a.services.TaskGraph().Validate(cmd.Context(), taskgraph.Request{
				Prompt:       prompt,
				SubagentType: subagentType,
			})
			if err != nil {
				return err
			}
			return reportResult(cmd, report)
		},
	}
	checkCmd.Flags().StringVar(&prompt, "prompt", "", "Task prompt to validate")
	checkCmd.Flags().StringVar(&promptFile, "prompt-file", "", "Read the prompt from a file, or - for stdin")
	checkCmd.Flags().StringVar(&subagentType, "subagent-type", "", "Subagent type of the Task call")

	depthCmd := &cobra.Command{
		Use:   "depth",
		Short: "Check atomic phases against the depth floor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := a.services.TaskGraph().CheckDepth(cmd.Context())
			if err != nil {
				return err
			}
			return reportResult(cmd, report)
		},
	}

	cmd.AddCommand(checkCmd, depthCmd)
	return cmd
}

func readPrompt(cmd *cobra.Command, path string) (string, error) {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("open prompt file: %w", err)
		}
		defer f.Close()
		r = f
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	return string(b), nil
}

// reportResult prints the report and turns violations into exit status 1.
func reportResult(cmd *cobra.Command, report *taskgraph.Report) error {
	if err := printJSON(cmd, report); err != nil {
		return err
	}
	if !report.Allowed() {
		return exitWith(1, report.Message())
	}
	return nil
}
