package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"voiceprep/internal/workflow"
)

func newDevicesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List accelerators and the device the next dispatch would use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAssembly(cmd, func(a *workflow.Assembly) error {
				out := cmd.OutOrStdout()
				infos, err := a.Selector.Devices(cmd.Context())
				switch {
				case err != nil:
					fmt.Fprintf(out, "Accelerator query failed: %v\n", err)
				case len(infos) == 0:
					fmt.Fprintln(out, "No accelerators found")
				default:
					rows := make([][]string, 0, len(infos))
					for _, info := range infos {
						rows = append(rows, []string{
							strconv.Itoa(info.Index),
							humanize.IBytes(info.FreeBytes),
							humanize.IBytes(info.TotalBytes),
							strconv.FormatFloat(info.Capability, 'f', 1, 64),
							yesNo(info.Half),
						})
					}
					writeRows(out,
						[]string{"Index", "Free", "Total", "Capability", "Half precision"},
						rows,
						[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignLeft},
					)
				}

				choice := a.Selector.SelectBest(cmd.Context())
				precision := "full precision"
				if choice.Half {
					precision = "half precision"
				}
				fmt.Fprintf(out, "Selected: %s (%s)\n", choice.ID, precision)
				return nil
			})
		},
	}
}

