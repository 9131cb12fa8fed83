package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"audiobatch/internal/config"
	"audiobatch/internal/index"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var (
		ownerFlag  string
		statusFlag string
		startFlag  string
		endFlag    string
		limitFlag  int
		offsetFlag int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List batches for an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := index.ListFilter{Limit: limitFlag, Offset: offsetFlag}
			if statusFlag != "" {
				status, err := index.ParseStatus(statusFlag)
				if err != nil {
					return err
				}
				filter.Status = status
			}
			var err error
			if filter.StartDate, err = parseDateFlag(startFlag); err != nil {
				return fmt.Errorf("--start-date: %w", err)
			}
			if filter.EndDate, err = parseDateFlag(endFlag); err != nil {
				return fmt.Errorf("--end-date: %w", err)
			}

			return ctx.withIndex(func(cfg *config.Config, idx *index.Store) error {
				summaries, total, err := idx.List(context.Background(), ownerFlag, filter)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(summaries) == 0 {
					fmt.Fprintf(out, "No batches for owner %s\n", ownerFlag)
					return nil
				}

				color := shouldColorize(out)
				rows := make([][]string, 0, len(summaries))
				for _, summary := range summaries {
					rows = append(rows, []string{
						summary.ID,
						colorize(statusLabel(summary.Status), statusColor(summary.Status), color),
						formatTime(summary.RecordingStartedAt),
						formatTime(summary.CreatedAt),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Batch ID", "Status", "Recorded", "Uploaded"},
					rows,
					nil,
				))
				fmt.Fprintf(out, "%d of %d batches (offset %d)\n", len(summaries), total, filter.Offset)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&ownerFlag, "owner", "", "Owner whose batches to list")
	cmd.Flags().StringVar(&statusFlag, "status", "", "Filter by batch status")
	cmd.Flags().StringVar(&startFlag, "start-date", "", "Only batches recorded on or after this date")
	cmd.Flags().StringVar(&endFlag, "end-date", "", "Only batches recorded before this date")
	cmd.Flags().IntVar(&limitFlag, "limit", 25, "Maximum rows to return")
	cmd.Flags().IntVar(&offsetFlag, "offset", 0, "Rows to skip")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}

func parseDateFlag(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	ts, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC3339 or YYYY-MM-DD, got %q", raw)
	}
	return ts, nil
}
