package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"audiobatch/internal/deps"
)

func newDepsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "Check external binaries and model files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			statuses := deps.Check(deps.Requirements(cfg))
			out := cmd.OutOrStdout()
			color := shouldColorize(out)

			rows := make([][]string, 0, len(statuses))
			for _, status := range statuses {
				state := colorize("ok", ansiGreen, color)
				detail := status.Description
				if !status.Available {
					state = colorize("missing", ansiRed, color)
					if status.Detail != "" {
						detail = status.Detail
					}
				}
				rows = append(rows, []string{status.Name, status.Target, state, detail})
			}
			fmt.Fprintln(out, renderTable([]string{"Dependency", "Target", "State", "Notes"}, rows, nil))

			if missing := deps.Missing(statuses); len(missing) > 0 {
				return fmt.Errorf("%d required dependencies missing", len(missing))
			}
			return nil
		},
	}
}
