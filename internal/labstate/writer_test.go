package labstate

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edulabs/labscope/internal/scoring"
)

func newTestWriter(t *testing.T) *Writer {
	t.Helper()
	return NewWriter(t.TempDir(), "linux-users", "sess-1")
}

func TestInitialize(t *testing.T) {
	w := newTestWriter(t)
	w.Initialize([]string{"intro", "become-root", "create-user"})

	state, err := w.Read()
	require.NoError(t, err)
	assert.Equal(t, "linux-users", state.ModuleID)
	assert.Equal(t, "sess-1", state.SessionID)
	assert.False(t, state.UpdatedAt.IsZero())
	require.Len(t, state.Steps, 3)
	for _, s := range state.Steps {
		assert.False(t, s.Completed)
	}
}

func TestSnapshotUsesCamelCaseKeys(t *testing.T) {
	w := newTestWriter(t)
	w.Initialize([]string{"become-root"})
	w.MarkCompleted("become-root", SourceModule)
	w.RecordHintRevealed("become-root", 0)

	raw, err := os.ReadFile(w.Path())
	require.NoError(t, err)
	for _, key := range []string{`"moduleId"`, `"sessionId"`, `"updatedAt"`, `"completedBy"`, `"completedAt"`, `"hintsRevealed"`} {
		assert.Contains(t, string(raw), key)
	}
}

func TestMarkCompletedFirstWriterWins(t *testing.T) {
	w := newTestWriter(t)
	w.Initialize([]string{"become-root"})

	w.MarkCompleted("become-root", SourceModule)
	state, err := w.Read()
	require.NoError(t, err)
	first := state.Step("become-root")
	require.NotNil(t, first.CompletedAt)
	firstAt := *first.CompletedAt
	firstUpdated := state.UpdatedAt

	w.MarkCompleted("become-root", SourceTutor)
	state, err = w.Read()
	require.NoError(t, err)
	again := state.Step("become-root")
	assert.Equal(t, SourceModule, again.Source, "late completion must not overwrite")
	assert.Equal(t, firstAt, *again.CompletedAt)
	assert.Equal(t, firstUpdated, state.UpdatedAt, "no-op mutators do not rewrite the snapshot")
}

func TestRecordHintRevealedIsMonotonic(t *testing.T) {
	w := newTestWriter(t)
	w.Initialize([]string{"become-root"})

	w.RecordHintRevealed("become-root", 2)
	state, err := w.Read()
	require.NoError(t, err)
	assert.Equal(t, 3, state.Step("become-root").HintsRevealed)

	// A lower index arriving late never decreases the count.
	w.RecordHintRevealed("become-root", 1)
	state, err = w.Read()
	require.NoError(t, err)
	assert.Equal(t, 3, state.Step("become-root").HintsRevealed)
}

func TestAddStep(t *testing.T) {
	w := newTestWriter(t)
	w.Initialize([]string{"a", "c"})

	w.AddStep("b", "a")
	state, err := w.Read()
	require.NoError(t, err)
	require.Len(t, state.Steps, 3)
	assert.Equal(t, "b", state.Steps[1].ID)

	// Duplicates are tolerated.
	w.AddStep("b", "a")
	state, err = w.Read()
	require.NoError(t, err)
	assert.Len(t, state.Steps, 3)

	// Unknown anchor appends at the end.
	w.AddStep("z", "nope")
	state, err = w.Read()
	require.NoError(t, err)
	assert.Equal(t, "z", state.Steps[3].ID)
}

func TestRecordQuestionAnswerKeepsLatest(t *testing.T) {
	w := newTestWriter(t)
	w.Initialize([]string{"quiz"})

	w.RecordQuestionAnswer("quiz", false)
	w.RecordQuestionAnswer("quiz", true)

	state, err := w.Read()
	require.NoError(t, err)
	require.NotNil(t, state.Step("quiz").QuestionResult)
	assert.True(t, *state.Step("quiz").QuestionResult)
}

func TestRecordSolutionAndCheckAttempts(t *testing.T) {
	w := newTestWriter(t)
	w.Initialize([]string{"become-root"})

	w.RecordSolutionViewed("become-root")
	w.RecordSolutionViewed("become-root")
	w.RecordCheckAttempt("become-root")
	w.RecordCheckAttempt("become-root")

	state, err := w.Read()
	require.NoError(t, err)
	assert.True(t, state.Step("become-root").SolutionViewed)
	assert.Equal(t, 2, state.Step("become-root").CheckAttempts)
}

func TestScoreWriteThrough(t *testing.T) {
	w := newTestWriter(t)
	w.Initialize([]string{"become-root"})

	w.UpdateStepScore("become-root", scoring.TaskScore{
		TaskID:     "become-root",
		StepID:     "become-root",
		Confidence: 0.85,
		Modifiers:  []scoring.Modifier{{Kind: scoring.ModifierHintUsed, Count: 1, Delta: -0.15}},
	})
	w.UpdateOverallScore(scoring.Progress{Overall: 0.85, CompletionPct: 100, Passed: true})

	state, err := w.Read()
	require.NoError(t, err)
	step := state.Step("become-root")
	require.NotNil(t, step.Confidence)
	assert.InDelta(t, 0.85, *step.Confidence, 1e-9)
	require.Len(t, step.Modifiers, 1)

	require.NotNil(t, state.OverallScore)
	assert.InDelta(t, 0.85, *state.OverallScore, 1e-9)
	require.NotNil(t, state.CompletionPct)
	assert.Equal(t, 100, *state.CompletionPct)
	require.NotNil(t, state.Passed)
	assert.True(t, *state.Passed)
}

func TestMutatorsNoOpWithoutSnapshot(t *testing.T) {
	var ops []string
	w := NewWriter(t.TempDir(), "m", "s", WithErrorHandler(func(op string, err error) {
		ops = append(ops, op)
		assert.Error(t, err)
	}))

	// No Initialize: every mutator must degrade to a logged no-op.
	w.MarkCompleted("x", SourceModule)
	w.RecordHintRevealed("x", 0)
	w.UpdateOverallScore(scoring.Progress{})

	assert.Equal(t, []string{"markCompleted", "recordHintRevealed", "updateOverallScore"}, ops)
}

func TestMutatorsNoOpOnCorruptSnapshot(t *testing.T) {
	w := newTestWriter(t)
	require.NoError(t, os.WriteFile(w.Path(), []byte("{broken"), 0644))

	called := 0
	corrupt := NewWriter(w.dir, "m", "s", WithErrorHandler(func(op string, err error) { called++ }))
	corrupt.MarkCompleted("x", SourceModule)
	assert.Equal(t, 1, called)

	// The broken file is left as-is for postmortem, not overwritten.
	raw, err := os.ReadFile(w.Path())
	require.NoError(t, err)
	assert.Equal(t, "{broken", string(raw))
}

func TestUnknownStepReportsError(t *testing.T) {
	var gotOp string
	w := NewWriter(t.TempDir(), "m", "s", WithErrorHandler(func(op string, err error) {
		gotOp = op
		assert.Contains(t, err.Error(), `"ghost"`)
	}))
	w.Initialize([]string{"real"})
	w.RecordSolutionViewed("ghost")
	assert.Equal(t, "recordSolutionViewed", gotOp)
}

func TestCompletedBy(t *testing.T) {
	w := NewWriter(t.TempDir(), "m", "s", WithCompletedBy("hub"))
	w.Initialize([]string{"a"})
	w.MarkCompleted("a", SourceModule)

	state, err := w.Read()
	require.NoError(t, err)
	assert.Equal(t, "hub", state.Step("a").CompletedBy)
}

func TestCompletedSteps(t *testing.T) {
	w := newTestWriter(t)
	w.Initialize([]string{"a", "b", "c"})
	w.MarkCompleted("c", SourceModule)
	w.MarkCompleted("a", SourceModule)

	state, err := w.Read()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, state.CompletedSteps())
}
