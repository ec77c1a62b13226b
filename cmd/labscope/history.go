package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/edulabs/labscope/internal/config"
	"github.com/edulabs/labscope/internal/runhistory"
)

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded scenario runs",
		Long:  "Show scenario run verdicts recorded by 'labscope run', newest first.",
		Run: func(cmd *cobra.Command, args []string) {
			store := mustOpenHistory()
			defer store.Close()

			runs, err := store.List(context.Background(), limit)
			if err != nil {
				fatalError(err)
			}
			newReport().Runs(runs)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")

	showCmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one recorded run in full",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store := mustOpenHistory()
			defer store.Close()

			run, err := store.Get(context.Background(), args[0])
			if err != nil {
				fatalError(err)
			}
			newReport().RunDetail(run)
		},
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate run statistics",
		Run: func(cmd *cobra.Command, args []string) {
			store := mustOpenHistory()
			defer store.Close()

			stats, err := store.Stats(context.Background())
			if err != nil {
				fatalError(err)
			}
			newReport().HistoryStats(stats)
		},
	}

	cmd.AddCommand(showCmd, statsCmd)
	return cmd
}

func mustOpenHistory() *runhistory.Store {
	store, err := runhistory.New(config.GetPaths().Data)
	if err != nil {
		fatalError(err)
	}
	return store
}
