package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"voiceprep/internal/history"
	"voiceprep/internal/workflow"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var character string
	var item string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent ticks from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAssembly(cmd, func(a *workflow.Assembly) error {
				if a.History == nil {
					return errors.New("history journal unavailable; see the log for the open error")
				}
				var entries []history.Entry
				var err error
				switch {
				case character == "" && item == "":
					entries, err = a.History.Recent(cmd.Context(), limit)
				case character == "" || item == "":
					return errors.New("--character and --item must be given together")
				default:
					entries, err = a.History.ForItem(cmd.Context(), character, item)
				}
				if err != nil {
					return fmt.Errorf("read history: %w", err)
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "No ticks recorded")
					return nil
				}
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, []string{
						formatTime(e.StartedAt),
						e.Stage,
						e.Character + "/" + e.Item,
						e.Outcome,
						strconv.Itoa(e.Attempts),
						valueOrDash(e.Device),
						strconv.Itoa(e.ExitCode),
						e.Duration().Round(time.Second).String(),
					})
				}
				writeRows(out,
					[]string{"Started", "Stage", "Item", "Outcome", "Attempt", "Device", "Exit", "Duration"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignRight},
				)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of ticks to show")
	cmd.Flags().StringVar(&character, "character", "", "Show every tick of one item (with --item)")
	cmd.Flags().StringVar(&item, "item", "", "Show every tick of one item (with --character)")
	return cmd
}

func valueOrDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
