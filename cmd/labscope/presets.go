package main

import (
	"github.com/spf13/cobra"

	"github.com/edulabs/labscope/internal/scoring"
)

func presetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List built-in scoring presets",
		Long: `Show every built-in scoring preset with its penalties, bonuses
and pass threshold. Scenarios and sessions name presets by id.`,
		Run: func(cmd *cobra.Command, args []string) {
			ids := scoring.BuiltinIDs()
			presets := make([]scoring.Preset, 0, len(ids))
			for _, id := range ids {
				p, err := scoring.Lookup(id)
				if err != nil {
					fatalError(err)
				}
				presets = append(presets, p)
			}
			newReport().Presets(presets)
		},
	}
}
