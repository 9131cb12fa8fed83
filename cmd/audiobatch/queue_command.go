package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"audiobatch/internal/config"
	"audiobatch/internal/index"
	"audiobatch/internal/jobqueue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Job queue utilities",
	}
	queueCmd.AddCommand(newQueueDepthCommand(ctx))
	queueCmd.AddCommand(newQueueReclaimCommand(ctx))
	return queueCmd
}

func newQueueDepthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "depth",
		Short: "Show pending and leased job counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(cfg *config.Config, idx *index.Store, queue *jobqueue.Queue) error {
				pending, leased, err := queue.Depth(context.Background())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"State", "Jobs"},
					[][]string{
						{"pending", fmt.Sprintf("%d", pending)},
						{"leased", fmt.Sprintf("%d", leased)},
					},
					[]columnAlignment{alignLeft, alignRight},
				))
				return nil
			})
		},
	}
}

func newQueueReclaimCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reclaim",
		Short: "Return expired leases to the pending state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(cfg *config.Config, idx *index.Store, queue *jobqueue.Queue) error {
				reclaimed, err := queue.ReclaimExpired(context.Background())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reclaimed %d expired leases\n", reclaimed)
				return nil
			})
		},
	}
}
