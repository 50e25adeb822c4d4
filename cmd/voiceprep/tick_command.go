package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"voiceprep/internal/workflow"
)

func newTickCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one tick (same as running voiceprep without a subcommand)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTick(cmd, ctx)
		},
	}
}

// runTick performs a single tick. Only timeouts and unexpected failures
// produce a non-zero exit; skipped ticks and worker failures are routine.
func runTick(cmd *cobra.Command, ctx *commandContext) error {
	return ctx.withAssembly(cmd, func(a *workflow.Assembly) error {
		report, err := a.Controller.Tick(cmd.Context())
		line := string(report.Outcome)
		if report.Item != nil {
			line = fmt.Sprintf("%s %s %s", line, report.Item.Stage, report.Item.ItemKey())
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
		if err != nil {
			return fmt.Errorf("tick %s: %w", report.Outcome, err)
		}
		return nil
	})
}
