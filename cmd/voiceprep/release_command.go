package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"voiceprep/internal/discovery"
	"voiceprep/internal/layout"
	"voiceprep/internal/stages"
)

func newReleaseCommand(ctx *commandContext) *cobra.Command {
	var stageFlag string

	cmd := &cobra.Command{
		Use:   "release <character> <item>",
		Short: "Clear the hold on an item so discovery picks it up again",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var stage stages.Stage
			if strings.TrimSpace(stageFlag) != "" {
				if stage, err = stages.Parse(stageFlag); err != nil {
					return err
				}
			}
			l, err := layout.New(cfg.Paths.DataRoot, cfg.Paths.ContainerRoot, cfg.Paths.PipelineRoot)
			if err != nil {
				return fmt.Errorf("build layout: %w", err)
			}
			released, err := discovery.Release(l, args[0], args[1], stage)
			if err != nil {
				return fmt.Errorf("release %s/%s: %w", args[0], args[1], err)
			}
			out := cmd.OutOrStdout()
			if len(released) == 0 {
				fmt.Fprintf(out, "%s/%s was not held\n", args[0], args[1])
				return nil
			}
			names := make([]string, 0, len(released))
			for _, s := range released {
				names = append(names, string(s))
			}
			fmt.Fprintf(out, "Released %s/%s: %s\n", args[0], args[1], strings.Join(names, ", "))
			return nil
		},
	}
	cmd.Flags().StringVarP(&stageFlag, "stage", "s", "", "Release only this stage (default: every stage)")
	return cmd
}
