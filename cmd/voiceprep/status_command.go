package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"voiceprep/internal/discovery"
	"voiceprep/internal/workflow"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var next int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the lock holder, the in-flight item, held items and what runs next",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAssembly(cmd, func(a *workflow.Assembly) error {
				out := cmd.OutOrStdout()
				if err := printLockStatus(out, a); err != nil {
					return err
				}
				if err := printSnapshotStatus(cmd, a); err != nil {
					return err
				}
				if err := printHolds(out, a); err != nil {
					return err
				}
				return printPending(cmd, a, next)
			})
		},
	}
	cmd.Flags().IntVarP(&next, "next", "n", 5, "Number of eligible items to list")
	return cmd
}

func printLockStatus(out io.Writer, a *workflow.Assembly) error {
	holder, err := a.Lock.Holder()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		fmt.Fprintln(out, "Lock: free")
		return nil
	case err != nil:
		return fmt.Errorf("read lock: %w", err)
	}
	if holder.PID == 0 {
		fmt.Fprintf(out, "Lock: unreadable sentinel since %s\n", holder.Since.Format(time.RFC3339))
		return nil
	}
	fmt.Fprintf(out, "Lock: held by pid %d since %s (alive: %s)\n",
		holder.PID, holder.Since.Format(time.RFC3339), yesNo(holder.Alive))
	return nil
}

func printSnapshotStatus(cmd *cobra.Command, a *workflow.Assembly) error {
	out := cmd.OutOrStdout()
	item, err := a.Lock.PendingSnapshot(cmd.Context())
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	if item == nil {
		fmt.Fprintln(out, "In flight: none")
		return nil
	}
	fmt.Fprintf(out, "In flight: %s %s (attempt %d, dispatched %s)\n",
		item.Stage, item.ItemKey(), item.Attempts, formatTime(item.DispatchedAt))
	return nil
}

func printHolds(out io.Writer, a *workflow.Assembly) error {
	holds, err := discovery.ListHolds(a.Layout)
	if err != nil {
		return fmt.Errorf("list holds: %w", err)
	}
	fmt.Fprintln(out)
	if len(holds) == 0 {
		fmt.Fprintln(out, "Held: none")
		return nil
	}
	fmt.Fprintln(out, "Held:")
	rows := make([][]string, 0, len(holds))
	for _, h := range holds {
		rows = append(rows, []string{h.Character, h.Item, string(h.Stage), h.Reason})
	}
	writeRows(out, []string{"Character", "Item", "Stage", "Reason"}, rows, nil)
	return nil
}

func printPending(cmd *cobra.Command, a *workflow.Assembly, limit int) error {
	out := cmd.OutOrStdout()
	if limit <= 0 {
		return nil
	}
	items, err := a.Discovery.Pending(cmd.Context(), limit)
	if err != nil {
		return fmt.Errorf("scan pending work: %w", err)
	}
	fmt.Fprintln(out)
	if len(items) == 0 {
		fmt.Fprintln(out, "Next: nothing eligible")
		return nil
	}
	fmt.Fprintln(out, "Next:")
	rows := make([][]string, 0, len(items))
	for i, item := range items {
		rows = append(rows, []string{strconv.Itoa(i + 1), string(item.Stage), item.Character, item.Item})
	}
	writeRows(out, []string{"#", "Stage", "Character", "Item"}, rows, []columnAlignment{alignRight})
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
