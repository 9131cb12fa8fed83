package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"audiobatch/internal/config"
	"audiobatch/internal/index"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

var titleCaser = cases.Title(language.English)

func statusLabel(status index.Status) string {
	return titleCaser.String(string(status))
}

func statusColor(status index.Status) string {
	switch status {
	case index.StatusCompleted:
		return ansiGreen
	case index.StatusFailed:
		return ansiRed
	case index.StatusProcessing:
		return ansiYellow
	default:
		return ansiBlue
	}
}

func colorize(value, color string, enabled bool) string {
	if !enabled || color == "" {
		return value
	}
	return color + value + ansiReset
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.UTC().Format("2006-01-02 15:04:05")
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <batch-id>",
		Short: "Show one batch in full detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withIndex(func(cfg *config.Config, idx *index.Store) error {
				return renderBatchStatus(cmd, idx, args[0])
			})
		},
	}
}

func renderBatchStatus(cmd *cobra.Command, idx *index.Store, batchID string) error {
	reqCtx := context.Background()
	batch, err := idx.Get(reqCtx, batchID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	color := shouldColorize(out)

	fmt.Fprintf(out, "Batch:    %s\n", batch.ID)
	fmt.Fprintf(out, "Owner:    %s\n", batch.OwnerID)
	fmt.Fprintf(out, "Status:   %s\n", colorize(statusLabel(batch.Status), statusColor(batch.Status), color))
	fmt.Fprintf(out, "Priority: %s\n", batch.Priority)
	fmt.Fprintf(out, "Recorded: %s\n", formatTime(batch.RecordingStartedAt))
	fmt.Fprintf(out, "Created:  %s\n", formatTime(batch.CreatedAt))
	if batch.RetryCount > 0 {
		fmt.Fprintf(out, "Retries:  %d\n", batch.RetryCount)
	}
	if batch.ErrorMessage != "" {
		stage := batch.ErrorStage
		if stage == "" {
			stage = "unknown stage"
		}
		fmt.Fprintf(out, "Error:    %s\n", colorize(stage+": "+batch.ErrorMessage, ansiRed, color))
	}

	if len(batch.Artifacts) > 0 {
		rows := make([][]string, 0, len(batch.Artifacts))
		for typ, key := range batch.Artifacts {
			rows = append(rows, []string{string(typ), key})
		}
		sortRows(rows)
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderTable([]string{"Artifact", "Key"}, rows, nil))
	}

	if batch.Status == index.StatusCompleted {
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderTable(
			[]string{"Metric", "Value"},
			[][]string{
				{"Raw duration", fmt.Sprintf("%.1fs", batch.Metrics.RawAudioDurationSeconds)},
				{"Speech duration", fmt.Sprintf("%.1fs", batch.Metrics.SpeechDurationSeconds)},
				{"Speech ratio", fmt.Sprintf("%.2f", batch.Metrics.SpeechRatio)},
				{"Wall time", fmt.Sprintf("%.1fs", batch.Metrics.ProcessingWallTimeSeconds)},
				{"Queue wait", fmt.Sprintf("%.1fs", batch.Metrics.QueueWaitSeconds)},
				{"ASR cost estimate", fmt.Sprintf("$%.2f", batch.Metrics.ASRCostEstimate)},
			},
			[]columnAlignment{alignLeft, alignRight},
		))
	}

	records, err := idx.StageRecords(reqCtx, batch.ID)
	if err != nil {
		return err
	}
	if len(records) > 0 {
		rows := make([][]string, 0, len(records))
		for _, record := range records {
			outcome := "ok"
			if !record.Success {
				outcome = "failed"
				if record.ErrorMessage != "" {
					outcome = "failed: " + record.ErrorMessage
				}
			}
			rows = append(rows, []string{
				record.Stage,
				fmt.Sprintf("%d", record.Attempt),
				fmt.Sprintf("%.1fs", record.DurationSeconds),
				outcome,
			})
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderTable(
			[]string{"Stage", "Attempt", "Duration", "Outcome"},
			rows,
			[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft},
		))
	}
	return nil
}

func sortRows(rows [][]string) {
	sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })
}
