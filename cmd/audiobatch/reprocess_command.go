package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"audiobatch/internal/config"
	"audiobatch/internal/index"
	"audiobatch/internal/jobqueue"
)

func newReprocessCommand(ctx *commandContext) *cobra.Command {
	var immediate bool
	var force bool

	cmd := &cobra.Command{
		Use:   "reprocess <batch-id>",
		Short: "Requeue a failed batch",
		Long: "Moves a failed batch back to queued, consuming one retry from its " +
			"budget, and enqueues a new job for the pipeline workers. Stages that " +
			"already produced artifacts are skipped on the rerun. --force requeues " +
			"even after the retry budget is exhausted.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(cfg *config.Config, idx *index.Store, queue *jobqueue.Queue) error {
				reqCtx := context.Background()
				var batch *index.Batch
				var err error
				if force {
					batch, err = idx.ForceRetryFailed(reqCtx, args[0])
				} else {
					batch, err = idx.RetryFailed(reqCtx, args[0], cfg.Pipeline.MaxRetries)
				}
				if err != nil {
					return err
				}

				lane := jobqueue.LaneNormal
				if immediate || batch.Priority == index.PriorityImmediate {
					lane = jobqueue.LaneImmediate
				}
				if _, err := queue.Enqueue(reqCtx, jobqueue.Job{
					BatchID: batch.ID,
					OwnerID: batch.OwnerID,
					Lane:    lane,
				}); err != nil {
					return fmt.Errorf("batch %s requeued in index but not enqueued: %w", batch.ID, err)
				}

				if force {
					fmt.Fprintf(cmd.OutOrStdout(), "Requeued %s on the %s lane (forced, retry %d)\n",
						batch.ID, lane, batch.RetryCount)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Requeued %s on the %s lane (retry %d of %d)\n",
						batch.ID, lane, batch.RetryCount, cfg.Pipeline.MaxRetries)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&immediate, "immediate", false, "Enqueue on the immediate lane regardless of batch priority")
	cmd.Flags().BoolVar(&force, "force", false, "Requeue even when the retry budget is exhausted")
	return cmd
}
