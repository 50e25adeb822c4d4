package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"voiceprep/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check external binaries, directories and worker images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			failed := false

			rows := [][]string{}
			for _, status := range preflight.CheckSystemDeps(cfg) {
				state := "ok"
				detail := status.Path
				if !status.Available {
					state = "missing"
					if status.Optional {
						state = "missing (optional)"
					} else {
						failed = true
					}
					detail = status.Detail
				}
				rows = append(rows, []string{status.Name, state, detail})
			}

			results := preflight.RunAll(cmd.Context(), cfg, ctx.commandRunner)
			for _, r := range results {
				state := "ok"
				if !r.Passed {
					state = "failed"
					if r.Optional {
						state = "failed (optional)"
					}
				}
				rows = append(rows, []string{r.Name, state, r.Detail})
			}
			failed = failed || preflight.Failed(results)

			writeRows(out, []string{"Check", "Status", "Detail"}, rows, nil)
			if failed {
				return errors.New("doctor: required checks failed")
			}
			fmt.Fprintln(out, "All required checks passed")
			return nil
		},
	}
}
