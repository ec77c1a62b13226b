package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edulabs/labscope/internal/module"
	"github.com/edulabs/labscope/internal/render"
	"github.com/edulabs/labscope/internal/scoring"
	"github.com/edulabs/labscope/internal/telemetry"
)

func replayCmd() *cobra.Command {
	var (
		presetID    string
		modulesPath string
		showEvents  bool
	)

	cmd := &cobra.Command{
		Use:   "replay <session-dir>",
		Short: "Re-score a recorded session from its telemetry log",
		Long: `Read a session directory's telemetry log and derive progress with
the named scoring preset.

Interpretation is deterministic: replaying the same log with the same
preset always yields the same scores, so a session can be re-graded
under a different preset long after it ended. With a module catalog
at hand the tasks render in module order; without one the scored
steps are reconstructed from the log itself.

Examples:
  labscope replay ~/.labscope/sessions/run-17
  labscope replay --preset strict --events ~/.labscope/sessions/run-17`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			events, err := telemetry.ReadSessionDir(args[0])
			if err != nil {
				fatalError(err)
			}
			if len(events) == 0 {
				fatalErrorf("no events recorded in %s", args[0])
			}
			preset, err := scoring.Lookup(presetID)
			if err != nil {
				fatalError(err)
			}

			mod, steps := replayModule(events, modulesPath)

			rep := newReport()
			if showEvents {
				fmt.Print(render.New(rep.Pretty()).Events(events))
				fmt.Println()
			}

			prog := scoring.Interpret(events, steps, preset)
			rep.Progress(&prog, mod)
		},
	}

	cmd.Flags().StringVarP(&presetID, "preset", "p", scoring.PresetPartialCredit, "Scoring preset")
	cmd.Flags().StringVarP(&modulesPath, "modules", "m", "", "Module catalog file for step order and weights")
	cmd.Flags().BoolVar(&showEvents, "events", false, "Print the event log before the scores")

	return cmd
}

// replayModule resolves the module the events belong to. Without a
// catalog the scored steps are reconstructed from the log: every step
// the session touched, in first-appearance order, at default weight.
func replayModule(events []telemetry.Event, modulesPath string) (*module.Module, []module.Step) {
	moduleID := ""
	for _, ev := range events {
		if ev.ModuleID != "" {
			moduleID = ev.ModuleID
			break
		}
	}

	if modulesPath != "" {
		catalog, err := module.LoadCatalog(modulesPath)
		if err != nil {
			fatalError(err)
		}
		mod, err := catalog.Lookup(moduleID)
		if err != nil {
			fatalError(err)
		}
		return mod, mod.TaskSteps()
	}

	seen := map[string]bool{}
	var steps []module.Step
	for _, ev := range events {
		if ev.StepID == "" || seen[ev.StepID] {
			continue
		}
		seen[ev.StepID] = true
		steps = append(steps, module.Step{ID: ev.StepID, Task: true})
	}
	return nil, steps
}
