package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edulabs/labscope/internal/labenv"
	"github.com/edulabs/labscope/internal/module"
	"github.com/edulabs/labscope/internal/scenario"
	"github.com/edulabs/labscope/internal/telemetry"
)

func testCatalog(t *testing.T) *module.StaticCatalog {
	t.Helper()
	cat, err := module.NewStaticCatalog(&module.Module{
		ID:      "linux-users",
		Name:    "Linux User Management",
		LabType: telemetry.LabShell,
		Steps: []module.Step{
			{ID: "intro", Title: "Introduction"},
			{ID: "become-root", Title: "Become root", Task: true},
		},
	})
	require.NoError(t, err)
	return cat
}

func becomeRootScenario() *scenario.Scenario {
	minScore := 0.7
	s := &scenario.Scenario{
		ID:       "become-root-happy-path",
		Name:     "Become root, the short way",
		ModuleID: "linux-users",
		Environment: &scenario.EnvironmentSpec{
			Kind: scenario.EnvMock,
			Completions: []scenario.CompletionRule{
				{StepID: "become-root", Kind: scenario.RuleUserIs, User: "root"},
			},
		},
		Actions: []scenario.ScriptedAction{
			{Kind: scenario.ActionCommand, StepID: "become-root", Text: "sudo su"},
		},
		Checkpoints: []scenario.Checkpoint{
			{ID: "root-reached", Required: true, Trigger: scenario.Trigger{
				Kind: scenario.TriggerStepCompleted, StepID: "become-root"}},
		},
		Criteria: &scenario.SuccessCriteria{
			AllCheckpoints: true,
			MinScore:       &minScore,
			WithinTimeout:  true,
		},
	}
	applyDefaults(s)
	return s
}

// applyDefaults mirrors what the loader does for documents built in code.
func applyDefaults(s *scenario.Scenario) {
	if s.TimeoutMs == 0 {
		s.TimeoutMs = scenario.DefaultTimeoutMs
	}
	if s.MaxActions == 0 {
		s.MaxActions = scenario.DefaultMaxActions
	}
	if s.Preset == "" {
		s.Preset = "partial_credit"
	}
}

func newRunner(t *testing.T) *Runner {
	t.Helper()
	return NewRunner(testCatalog(t), Options{Dir: t.TempDir()})
}

func TestRunBecomeRootScenario(t *testing.T) {
	runner := newRunner(t)
	result := runner.Run(context.Background(), becomeRootScenario())

	assert.Empty(t, result.Error)
	assert.Empty(t, result.Errors)
	assert.True(t, result.Passed)
	assert.False(t, result.TimedOut)
	assert.Equal(t, 1, result.ActionsTaken)
	assert.NotEmpty(t, result.SessionID)

	require.Len(t, result.Checkpoints, 1)
	assert.True(t, result.Checkpoints[0].Reached)
	for _, cr := range result.Criteria {
		assert.True(t, cr.Passed, cr.Message)
	}

	require.NotNil(t, result.Progress)
	assert.Greater(t, result.Progress.Overall, 0.7)

	// The run directory holds the full session log.
	events, err := telemetry.ReadSessionDir(result.Dir)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, telemetry.EventSessionStarted, events[0].Type)
	assert.Equal(t, telemetry.EventSessionEnded, events[len(events)-1].Type)

	var types []telemetry.EventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, telemetry.EventStudentAction)
	assert.Contains(t, types, telemetry.EventStepCompleted)
}

func TestRunHintPenaltyFailsStrictCriteria(t *testing.T) {
	sc := becomeRootScenario()
	sc.ID = "become-root-with-hint"
	minScore := 0.9
	maxHints := 0
	sc.Criteria.MinScore = &minScore
	sc.Criteria.MaxHints = &maxHints
	sc.Actions = append([]scenario.ScriptedAction{
		{Kind: scenario.ActionHint, StepID: "become-root", HintIndex: 0},
	}, sc.Actions...)

	result := newRunner(t).Run(context.Background(), sc)

	assert.False(t, result.Passed)
	assert.Empty(t, result.Error, "criteria failures are verdict data, not errors")
	assert.True(t, result.Checkpoints[0].Reached, "the hint does not block completion")

	require.NotNil(t, result.Progress)
	task, ok := result.Progress.Tasks["become-root"]
	require.True(t, ok)
	assert.InDelta(t, 0.85, task.Confidence, 1e-9)

	failed := map[string]bool{}
	for _, cr := range result.Criteria {
		if !cr.Passed {
			failed[cr.Name] = true
		}
	}
	assert.True(t, failed["minScore"])
	assert.True(t, failed["maxHints"])
	assert.NotEmpty(t, result.Errors)
}

func TestRunTimeout(t *testing.T) {
	sc := becomeRootScenario()
	sc.ID = "become-root-too-slow"
	sc.TimeoutMs = 10
	sc.Actions = []scenario.ScriptedAction{
		{Kind: scenario.ActionCommand, StepID: "become-root", Text: "sudo su", WaitMs: 50},
	}

	result := newRunner(t).Run(context.Background(), sc)

	assert.False(t, result.Passed)
	assert.True(t, result.TimedOut)
	assert.Empty(t, result.Error, "timeout is an outcome, not an error")
	assert.Zero(t, result.ActionsTaken, "the late action is dropped, not executed")
	assert.False(t, result.Checkpoints[0].Reached)

	var timeoutMsg string
	for _, cr := range result.Criteria {
		if cr.Name == "withinTimeout" {
			require.False(t, cr.Passed)
			timeoutMsg = cr.Message
		}
	}
	assert.Contains(t, timeoutMsg, "timed out")

	// The session log still closes cleanly, stamped with the reason.
	events, err := telemetry.ReadSessionDir(result.Dir)
	require.NoError(t, err)
	last := events[len(events)-1]
	require.Equal(t, telemetry.EventSessionEnded, last.Type)
	assert.Equal(t, "timeout", last.Payload.Str("reason"))
}

func TestRunMissingModule(t *testing.T) {
	sc := becomeRootScenario()
	sc.ModuleID = "no-such-module"

	result := newRunner(t).Run(context.Background(), sc)

	assert.False(t, result.Passed)
	assert.Contains(t, result.Error, "no-such-module")
	assert.Empty(t, result.Dir, "no session resources before validation passes")
	assert.Nil(t, result.Progress)
	require.Len(t, result.Checkpoints, 1)
	assert.False(t, result.Checkpoints[0].Reached)
}

func TestRunScriptExhaustionIsNormalEnd(t *testing.T) {
	sc := becomeRootScenario()
	sc.ID = "look-around-first"
	sc.Actions = []scenario.ScriptedAction{
		{Kind: scenario.ActionCommand, Text: "whoami"},
		{Kind: scenario.ActionCommand, StepID: "become-root", Text: "sudo su"},
	}

	result := newRunner(t).Run(context.Background(), sc)

	assert.True(t, result.Passed)
	assert.Equal(t, 2, result.ActionsTaken)
	assert.False(t, result.TimedOut)
}

func TestRunStopsEarlyOnceRequiredCheckpointsReached(t *testing.T) {
	sc := becomeRootScenario()
	sc.ID = "early-stop"
	sc.Actions = append(sc.Actions,
		scenario.ScriptedAction{Kind: scenario.ActionCommand, Text: "whoami"},
		scenario.ScriptedAction{Kind: scenario.ActionCommand, Text: "id"},
	)

	result := newRunner(t).Run(context.Background(), sc)

	assert.True(t, result.Passed)
	assert.Equal(t, 1, result.ActionsTaken, "remaining script is skipped once the goal is met")
}

func TestRunMaxActionsBudget(t *testing.T) {
	sc := becomeRootScenario()
	sc.ID = "budget"
	sc.MaxActions = 2
	limit := 1
	sc.Criteria.MaxActions = &limit
	sc.Actions = []scenario.ScriptedAction{
		{Kind: scenario.ActionCommand, Text: "whoami"},
		{Kind: scenario.ActionCommand, Text: "id"},
		{Kind: scenario.ActionCommand, StepID: "become-root", Text: "sudo su"},
	}

	result := newRunner(t).Run(context.Background(), sc)

	assert.Equal(t, 2, result.ActionsTaken)
	assert.False(t, result.Passed)
	assert.False(t, result.Checkpoints[0].Reached, "the completing action never ran")

	var budget CriterionResult
	for _, cr := range result.Criteria {
		if cr.Name == "maxActions" {
			budget = cr
		}
	}
	assert.False(t, budget.Passed)
	assert.Contains(t, budget.Message, "action limit exceeded")
}

func TestRunDriverErrorProducesResult(t *testing.T) {
	sc := becomeRootScenario()
	runner := NewRunner(testCatalog(t), Options{
		Dir: t.TempDir(),
		Driver: &FuncDriver{
			Next: func(labenv.State) (*labenv.Action, error) {
				return nil, errors.New("driver broke")
			},
		},
	})

	result := runner.Run(context.Background(), sc)
	assert.False(t, result.Passed)
	assert.Contains(t, result.Error, "driver broke")
	assert.NotNil(t, result.Progress, "post-processing still happens")
	require.Len(t, result.Checkpoints, 1)
}

func TestRunPanicIsRecovered(t *testing.T) {
	sc := becomeRootScenario()
	runner := NewRunner(testCatalog(t), Options{
		Dir: t.TempDir(),
		Driver: &FuncDriver{
			Next: func(labenv.State) (*labenv.Action, error) {
				panic("scripting bug")
			},
		},
	})

	result := runner.Run(context.Background(), sc)
	require.NotNil(t, result)
	assert.False(t, result.Passed)
	assert.Contains(t, result.Error, "panic: scripting bug")
	assert.GreaterOrEqual(t, result.DurationMs, int64(0))
}

func TestRunHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := newRunner(t).Run(ctx, becomeRootScenario())
	assert.False(t, result.Passed)
	assert.Contains(t, result.Error, "cancelled")
	assert.Zero(t, result.ActionsTaken)
}

func TestFuncDriverObservesResults(t *testing.T) {
	sc := becomeRootScenario()
	sc.Actions = nil

	var observed []labenv.Result
	driver := &FuncDriver{
		Next: func(state labenv.State) (*labenv.Action, error) {
			if state.Completed("become-root") {
				return nil, nil
			}
			return &labenv.Action{Kind: scenario.ActionCommand, StepID: "become-root", Text: "sudo su"}, nil
		},
		OnResult: func(_ labenv.Action, res labenv.Result) {
			observed = append(observed, res)
		},
	}

	result := NewRunner(testCatalog(t), Options{Dir: t.TempDir(), Driver: driver}).
		Run(context.Background(), sc)

	assert.True(t, result.Passed)
	require.Len(t, observed, 1)
	assert.Equal(t, []string{"become-root"}, observed[0].CompletedSteps)
}

func TestScriptedDriverDefaultsKindFromLabType(t *testing.T) {
	d := NewScriptedDriver([]scenario.ScriptedAction{{Text: "SELECT 1"}})
	require.NoError(t, d.Initialize(&module.Module{ID: "sql", LabType: telemetry.LabQuery}))

	a, err := d.NextAction(labenv.State{})
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, scenario.ActionQuery, a.Kind)

	a, err = d.NextAction(labenv.State{})
	require.NoError(t, err)
	assert.Nil(t, a, "exhaustion returns the nil sentinel")
}
