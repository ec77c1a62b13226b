package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edulabs/labscope/internal/scenario"
	"github.com/edulabs/labscope/internal/scoring"
	"github.com/edulabs/labscope/internal/telemetry"
)

var passingProgress = scoring.Progress{Overall: 0.85}

func event(t telemetry.EventType, stepID string, p telemetry.Payload) telemetry.Event {
	return telemetry.Event{
		EventID:   telemetry.NewEventID(),
		SessionID: "sess-1",
		ModuleID:  "linux-users",
		StepID:    stepID,
		Type:      t,
		Payload:   p,
	}
}

func TestTriggerStepCompleted(t *testing.T) {
	tr := scenario.Trigger{Kind: scenario.TriggerStepCompleted, StepID: "become-root"}

	events := []telemetry.Event{
		event(telemetry.EventStepCompleted, "intro", nil),
		event(telemetry.EventStepCompleted, "become-root", nil),
	}
	assert.True(t, checkpointReached(tr, events))
	assert.False(t, checkpointReached(tr, events[:1]))
	assert.False(t, checkpointReached(tr, nil))
}

func TestTriggerCheckPassedScriptFilter(t *testing.T) {
	events := []telemetry.Event{
		event(telemetry.EventCheckPassed, "become-root", telemetry.CheckPayload("check-root.sh", 0)),
	}

	anyScript := scenario.Trigger{Kind: scenario.TriggerCheckPassed, StepID: "become-root"}
	assert.True(t, checkpointReached(anyScript, events))

	matching := scenario.Trigger{Kind: scenario.TriggerCheckPassed, StepID: "become-root", Script: "check-root.sh"}
	assert.True(t, checkpointReached(matching, events))

	other := scenario.Trigger{Kind: scenario.TriggerCheckPassed, StepID: "become-root", Script: "check-user.sh"}
	assert.False(t, checkpointReached(other, events))
}

func TestTriggerCommandExecutedMatchesBothShapes(t *testing.T) {
	legacy := event(telemetry.EventCommandExecuted, "become-root", telemetry.CommandPayload("sudo su", 0))
	unified := event(telemetry.EventStudentAction, "become-root", telemetry.ActionPayload("command", "sudo su", 0))
	failed := event(telemetry.EventCommandExecuted, "become-root", telemetry.CommandPayload("sudo su", 1))
	unrelated := event(telemetry.EventHintRequested, "become-root", telemetry.HintPayload(0))

	tr := scenario.Trigger{Kind: scenario.TriggerCommandExecuted, Pattern: `^sudo\s+su$`}
	assert.True(t, checkpointReached(tr, []telemetry.Event{legacy}))
	assert.True(t, checkpointReached(tr, []telemetry.Event{unified}))
	assert.False(t, checkpointReached(tr, []telemetry.Event{unrelated}))

	zero := 0
	exact := scenario.Trigger{Kind: scenario.TriggerCommandExecuted, Pattern: `^sudo\s+su$`, ExitCode: &zero}
	assert.True(t, checkpointReached(exact, []telemetry.Event{legacy}))
	assert.True(t, checkpointReached(exact, []telemetry.Event{unified}))
	assert.False(t, checkpointReached(exact, []telemetry.Event{failed}))
}

func TestTriggerEventOccurred(t *testing.T) {
	answered := event(telemetry.EventQuestionAnswered, "quiz",
		telemetry.QuestionPayload("q1", true))

	tr := scenario.Trigger{
		Kind:      scenario.TriggerEventOccurred,
		EventType: "question_answered",
		Match:     map[string]any{"question_id": "q1", "correct": true},
	}
	assert.True(t, checkpointReached(tr, []telemetry.Event{answered}))

	wrongQ := tr
	wrongQ.Match = map[string]any{"question_id": "q2"}
	assert.False(t, checkpointReached(wrongQ, []telemetry.Event{answered}))

	// step_id resolves against the event envelope, not the payload.
	byStep := scenario.Trigger{
		Kind:      scenario.TriggerEventOccurred,
		EventType: "question_answered",
		Match:     map[string]any{"step_id": "quiz"},
	}
	assert.True(t, checkpointReached(byStep, []telemetry.Event{answered}))
}

func TestTriggerEventOccurredNumbersSurviveLogRoundtrip(t *testing.T) {
	// JSON decoding widens ints to float64; matching must not care.
	hint := event(telemetry.EventHintRequested, "become-root",
		telemetry.Payload{"hint_index": float64(2)})

	tr := scenario.Trigger{
		Kind:      scenario.TriggerEventOccurred,
		EventType: "hint_requested",
		Match:     map[string]any{"hint_index": 2},
	}
	assert.True(t, checkpointReached(tr, []telemetry.Event{hint}))
}

func TestEvaluateCheckpointsKeepsOrder(t *testing.T) {
	checkpoints := []scenario.Checkpoint{
		{ID: "first", Required: true, Trigger: scenario.Trigger{Kind: scenario.TriggerStepCompleted, StepID: "a"}},
		{ID: "second", Trigger: scenario.Trigger{Kind: scenario.TriggerStepCompleted, StepID: "b"}},
	}
	events := []telemetry.Event{event(telemetry.EventStepCompleted, "b", nil)}

	results := evaluateCheckpoints(checkpoints, events)
	require.Len(t, results, 2)
	assert.Equal(t, "first", results[0].ID)
	assert.False(t, results[0].Reached)
	assert.True(t, results[0].Required)
	assert.True(t, results[1].Reached)
}

func TestEvaluateCriteria(t *testing.T) {
	minScore := 0.7
	maxHints := 1
	maxSolutions := 0
	maxActions := 3
	sc := &scenario.Scenario{
		ID:        "s1",
		TimeoutMs: 5000,
		Criteria: &scenario.SuccessCriteria{
			AllCheckpoints:     true,
			MinScore:           &minScore,
			MaxHints:           &maxHints,
			MaxSolutionsViewed: &maxSolutions,
			WithinTimeout:      true,
			MaxActions:         &maxActions,
		},
	}

	result := &RunResult{
		ActionsTaken: 4,
		TimedOut:     true,
		Checkpoints: []CheckpointResult{
			{ID: "a", Reached: true},
			{ID: "b", Reached: false},
		},
		Progress: nil, // never scored: score is 0
	}

	events := []telemetry.Event{
		event(telemetry.EventHintRequested, "s", telemetry.HintPayload(0)),
		event(telemetry.EventHintRequested, "s", telemetry.HintPayload(0)), // same hint again
		event(telemetry.EventHintRequested, "s", telemetry.HintPayload(1)),
		event(telemetry.EventSolutionViewed, "s", nil),
	}

	results := evaluateCriteria(sc, result, events)
	require.Len(t, results, 6)

	byName := map[string]CriterionResult{}
	for _, cr := range results {
		byName[cr.Name] = cr
	}

	assert.False(t, byName["allCheckpoints"].Passed)
	assert.Equal(t, "1 of 2 checkpoints reached", byName["allCheckpoints"].Message)

	assert.False(t, byName["minScore"].Passed)
	assert.Equal(t, "score 0.00 below minimum 0.70", byName["minScore"].Message)

	assert.False(t, byName["maxHints"].Passed)
	assert.Equal(t, "hint limit exceeded: 2 used, 1 allowed", byName["maxHints"].Message)

	assert.False(t, byName["maxSolutionsViewed"].Passed)
	assert.Equal(t, "solution limit exceeded: 1 views, 0 allowed", byName["maxSolutionsViewed"].Message)

	assert.False(t, byName["withinTimeout"].Passed)
	assert.Equal(t, "timed out after 5s", byName["withinTimeout"].Message)

	assert.False(t, byName["maxActions"].Passed)
	assert.Equal(t, "action limit exceeded: 4 taken, 3 allowed", byName["maxActions"].Message)
}

func TestEvaluateCriteriaPassingMessages(t *testing.T) {
	minScore := 0.7
	sc := &scenario.Scenario{
		ID:        "s1",
		TimeoutMs: 2000,
		Criteria: &scenario.SuccessCriteria{
			AllCheckpoints: true,
			MinScore:       &minScore,
			WithinTimeout:  true,
		},
	}
	result := &RunResult{
		Checkpoints: []CheckpointResult{{ID: "a", Reached: true}},
		Progress:    &passingProgress,
	}

	results := evaluateCriteria(sc, result, nil)
	require.Len(t, results, 3)
	assert.Equal(t, "all 1 checkpoints reached", results[0].Message)
	assert.True(t, results[0].Passed)
	assert.Equal(t, "score 0.85 meets minimum 0.70", results[1].Message)
	assert.True(t, results[1].Passed)
	assert.Equal(t, "finished within the 2s timeout", results[2].Message)
	assert.True(t, results[2].Passed)
}
