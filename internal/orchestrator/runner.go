// Package orchestrator replays scripted or programmatic action
// sequences against a lab environment and validates that the module
// behaves as designed: checkpoints reached, score thresholds met,
// hint and solution budgets respected.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/edulabs/labscope/internal/labenv"
	"github.com/edulabs/labscope/internal/logging"
	"github.com/edulabs/labscope/internal/module"
	"github.com/edulabs/labscope/internal/scenario"
	"github.com/edulabs/labscope/internal/scoring"
	"github.com/edulabs/labscope/internal/telemetry"
)

// Options tune a Runner beyond what scenarios declare.
type Options struct {
	// Dir is the base directory for per-run session directories.
	// Empty uses a temp directory.
	Dir string

	// StudentID overrides the simulated student identity.
	StudentID string

	// Environment overrides the environment the scenario would build.
	Environment labenv.Environment

	// Driver overrides the scripted driver.
	Driver Driver
}

// Runner executes scenarios against a module catalog.
type Runner struct {
	catalog module.Catalog
	opts    Options
	logger  *logging.Logger
}

// NewRunner creates a runner over a catalog.
func NewRunner(catalog module.Catalog, opts Options) *Runner {
	return &Runner{
		catalog: catalog,
		opts:    opts,
		logger:  logging.New("orchestrator"),
	}
}

// Run executes one scenario and always returns a structured result:
// execution faults land in result.Error instead of propagating, and a
// mid-run panic is recovered into the same shape.
func (r *Runner) Run(ctx context.Context, sc *scenario.Scenario) (result *RunResult) {
	start := time.Now()
	result = &RunResult{
		RunID:      fmt.Sprintf("run-%d", start.UnixNano()),
		ScenarioID: sc.ID,
		ModuleID:   sc.ModuleID,
		StartedAt:  start.UTC(),
	}
	defer func() {
		if rec := recover(); rec != nil {
			result.Error = fmt.Sprintf("panic: %v", rec)
			result.Passed = false
		}
		result.DurationMs = time.Since(start).Milliseconds()
		var runErr error
		if result.Error != "" {
			runErr = errors.New(result.Error)
		}
		logging.RunEvent(sc.ID, sc.ModuleID, result.Passed, time.Since(start), runErr)
	}()

	// Unreached until proven otherwise, so even aborted runs report
	// every checkpoint.
	result.Checkpoints = evaluateCheckpoints(sc.Checkpoints, nil)

	mod, err := r.catalog.Lookup(sc.ModuleID)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	preset, err := scoring.Lookup(sc.Preset)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	env := r.opts.Environment
	if env == nil {
		env, err = labenv.New(sc.Environment)
		if err != nil {
			result.Error = err.Error()
			return result
		}
	}
	driver := r.opts.Driver
	if driver == nil {
		driver = NewScriptedDriver(sc.Actions)
	}

	if err := env.Initialize(mod); err != nil {
		result.Error = fmt.Sprintf("initializing environment: %v", err)
		return result
	}
	if err := driver.Initialize(mod); err != nil {
		result.Error = fmt.Sprintf("initializing driver: %v", err)
		return result
	}

	dir, err := r.runDir(result.RunID)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Dir = dir

	log, err := telemetry.Open(dir)
	if err != nil {
		result.Error = fmt.Sprintf("opening telemetry log: %v", err)
		return result
	}
	sessionID, err := log.StartSession(mod.ID, r.studentID(sc), mod.LabType, 1)
	if err != nil {
		result.Error = fmt.Sprintf("starting session: %v", err)
		return result
	}
	result.SessionID = sessionID

	r.loop(ctx, sc, env, driver, result, start)
	driver.Dispose()

	// The environment's events become durable telemetry only now;
	// storage failures degrade the log, not the verdict.
	for _, ev := range env.Events() {
		if err := log.Append(ev); err != nil {
			r.logger.Error("telemetry_append_failed", nil, err)
		}
	}
	endReason := "completed"
	if result.TimedOut {
		endReason = "timeout"
	} else if result.Error != "" {
		endReason = "error"
	}
	log.EndSession(endReason, time.Since(start))

	events, err := log.ReadAll()
	if err != nil {
		r.logger.Error("telemetry_read_failed", nil, err)
	}
	log.Close()
	env.Dispose()

	progress := scoring.Interpret(events, mod.TaskSteps(), preset)
	progress.SessionID = sessionID
	result.Progress = &progress

	result.Checkpoints = evaluateCheckpoints(sc.Checkpoints, events)
	for _, id := range result.RequiredUnreached() {
		result.Errors = append(result.Errors, fmt.Sprintf("required checkpoint %q not reached", id))
	}
	result.Criteria = evaluateCriteria(sc, result, events)
	for _, cr := range result.Criteria {
		if !cr.Passed {
			result.Errors = append(result.Errors, cr.Message)
		}
	}

	result.Passed = result.Error == "" &&
		len(result.RequiredUnreached()) == 0 &&
		allCriteriaPassed(result.Criteria)
	return result
}

// loop is the action loop. The timeout is advisory: it is polled
// before and after each driver call, never enforced by interruption.
func (r *Runner) loop(ctx context.Context, sc *scenario.Scenario, env labenv.Environment, driver Driver, result *RunResult, start time.Time) {
	deadline := start.Add(sc.Timeout())
	live := newLiveTally(sc)

	for result.ActionsTaken < sc.MaxActions {
		if err := ctx.Err(); err != nil {
			result.Error = fmt.Sprintf("run cancelled: %v", err)
			return
		}
		if time.Now().After(deadline) {
			result.TimedOut = true
			return
		}

		action, err := driver.NextAction(env.State())
		if err != nil {
			result.Error = fmt.Sprintf("driver: %v", err)
			return
		}
		if action == nil {
			return // script exhausted, normal end
		}
		// A slow driver can cross the deadline while deciding; the
		// fetched action is dropped, not executed.
		if time.Now().After(deadline) {
			result.TimedOut = true
			return
		}

		res, err := env.Execute(*action)
		if err != nil {
			result.Error = fmt.Sprintf("executing action: %v", err)
			return
		}
		result.ActionsTaken++
		driver.OnActionResult(*action, res)

		if live.update(*action, res) {
			return // every required checkpoint reached
		}
	}
}

func (r *Runner) runDir(runID string) (string, error) {
	if r.opts.Dir != "" {
		dir := filepath.Join(r.opts.Dir, runID)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("creating run directory: %w", err)
		}
		return dir, nil
	}
	dir, err := os.MkdirTemp("", "labscope-run-")
	if err != nil {
		return "", fmt.Errorf("creating run directory: %w", err)
	}
	return dir, nil
}

func (r *Runner) studentID(sc *scenario.Scenario) string {
	if r.opts.StudentID != "" {
		return r.opts.StudentID
	}
	if sc.StudentID != "" {
		return sc.StudentID
	}
	return "test-student"
}

func allCriteriaPassed(criteria []CriterionResult) bool {
	for _, cr := range criteria {
		if !cr.Passed {
			return false
		}
	}
	return true
}

// liveTally approximates checkpoint progress during the loop so runs
// can stop early. Only step and command triggers can be judged live;
// the final verdict re-derives everything from the log.
type liveTally struct {
	pending map[string]scenario.Trigger
}

func newLiveTally(sc *scenario.Scenario) *liveTally {
	t := &liveTally{pending: map[string]scenario.Trigger{}}
	for _, cp := range sc.Checkpoints {
		if cp.Required {
			t.pending[cp.ID] = cp.Trigger
		}
	}
	return t
}

// update marks required checkpoints satisfied by this action and
// reports whether none remain.
func (t *liveTally) update(a labenv.Action, res labenv.Result) bool {
	if len(t.pending) == 0 {
		return false // nothing required, run the full script
	}
	for id, tr := range t.pending {
		switch tr.Kind {
		case scenario.TriggerStepCompleted, scenario.TriggerCheckPassed:
			for _, step := range res.CompletedSteps {
				if step == tr.StepID {
					delete(t.pending, id)
					break
				}
			}
		case scenario.TriggerCommandExecuted:
			if a.Text == "" {
				continue
			}
			re, err := regexp.Compile(tr.Pattern)
			if err != nil || !re.MatchString(a.Text) {
				continue
			}
			if tr.ExitCode != nil && res.ExitCode != *tr.ExitCode {
				continue
			}
			delete(t.pending, id)
		}
	}
	return len(t.pending) == 0
}
