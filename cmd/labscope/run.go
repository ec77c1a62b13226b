package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/edulabs/labscope/internal/config"
	"github.com/edulabs/labscope/internal/orchestrator"
	"github.com/edulabs/labscope/internal/render"
	"github.com/edulabs/labscope/internal/runhistory"
	"github.com/edulabs/labscope/internal/scenario"
)

func runCmd() *cobra.Command {
	var (
		modulesPath string
		student     string
		envKind     string
		sessionsDir string
		noRecord    bool
	)

	cmd := &cobra.Command{
		Use:   "run <scenario...>",
		Short: "Run test scenarios against a module catalog",
		Long: `Load scenario files and run each through the orchestrator.

Arguments are file paths or doublestar globs. Each scenario names the
module it exercises, the checkpoints that must be reached and the
success criteria; every run gets its verdict rendered and recorded to
run history. The command exits non-zero when any scenario fails.

Examples:
  labscope run scenario.yaml
  labscope run 'scenarios/**/*.yaml'
  labscope run --env real --student alice scenario.yaml`,
		Args: cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			scenarios, err := scenario.LoadGlob(args...)
			if err != nil {
				fatalError(err)
			}
			catalog, err := loadCatalog(modulesPath)
			if err != nil {
				fatalError(err)
			}

			// --env beats LABSCOPE_ENV beats the scenario's own block.
			kind := envKind
			if kind == "" {
				kind = config.Env().Environment
			}
			if kind != "" {
				if kind != scenario.EnvMock && kind != scenario.EnvReal {
					fatalErrorf("unknown environment kind %q (use mock or real)", kind)
				}
				forceEnvironment(scenarios, kind)
			}

			if student == "" {
				student = config.Env().Student
			}

			runner := orchestrator.NewRunner(catalog, orchestrator.Options{
				Dir:       sessionsDir,
				StudentID: student,
			})

			history := openHistory(noRecord)
			if history != nil {
				defer history.Close()
			}

			rep := newReport()
			ctx := context.Background()
			start := time.Now()
			failed := 0
			for _, sc := range scenarios {
				res := runner.Run(ctx, sc)
				rep.Verdict(res)
				if !res.Passed {
					failed++
				}
				recordRun(ctx, history, res)
			}

			rep.Println("Summary: %d passed, %d failed (%s)",
				len(scenarios)-failed, failed, render.FormatDuration(time.Since(start)))
			if failed > 0 {
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVarP(&modulesPath, "modules", "m", "", "Module catalog file (default ~/.labscope/modules.yaml)")
	cmd.Flags().StringVar(&student, "student", "", "Simulated student identity (default LABSCOPE_STUDENT)")
	cmd.Flags().StringVar(&envKind, "env", "", "Force environment kind (mock|real)")
	cmd.Flags().StringVar(&sessionsDir, "sessions-dir", "", "Base directory for run session dirs (default temp)")
	cmd.Flags().BoolVar(&noRecord, "no-record", false, "Skip recording verdicts to run history")

	return cmd
}

// forceEnvironment overrides every scenario's environment kind in
// place, keeping mock fixtures intact.
func forceEnvironment(scenarios []*scenario.Scenario, kind string) {
	for _, sc := range scenarios {
		if sc.Environment == nil {
			sc.Environment = &scenario.EnvironmentSpec{}
		}
		sc.Environment.Kind = kind
	}
}

// openHistory opens the run history store. History is best effort: a
// store that will not open degrades to unrecorded runs, never to a
// failed command.
func openHistory(disabled bool) *runhistory.Store {
	if disabled {
		return nil
	}
	store, err := runhistory.New(config.GetPaths().Data)
	if err != nil {
		logger.Warn("history_unavailable", nil, err)
		return nil
	}
	return store
}

func recordRun(ctx context.Context, store *runhistory.Store, res *orchestrator.RunResult) {
	if store == nil {
		return
	}
	if err := store.Record(ctx, res); err != nil {
		logger.Warn("history_record_failed", map[string]interface{}{"run_id": res.RunID}, err)
	}
}
