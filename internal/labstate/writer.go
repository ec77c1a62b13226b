package labstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/edulabs/labscope/internal/scoring"
)

// Writer performs read-modify-write updates on a session's snapshot.
// It is not internally synchronized: callers must serialize mutators
// per session (the hub dispatch lock and the orchestrator's sequential
// loop both do). Snapshot failures never propagate; they go to the
// error handler and the mutator becomes a no-op.
type Writer struct {
	dir         string
	moduleID    string
	sessionID   string
	completedBy string
	onError     func(op string, err error)
}

// WriterOption configures the writer.
type WriterOption func(*Writer)

// WithCompletedBy sets the actor recorded on step completions.
func WithCompletedBy(name string) WriterOption {
	return func(w *Writer) { w.completedBy = name }
}

// WithErrorHandler routes snapshot failures somewhere visible. The
// default handler discards them.
func WithErrorHandler(fn func(op string, err error)) WriterOption {
	return func(w *Writer) { w.onError = fn }
}

// NewWriter creates a snapshot writer for a session directory.
func NewWriter(dir, moduleID, sessionID string, opts ...WriterOption) *Writer {
	w := &Writer{
		dir:         dir,
		moduleID:    moduleID,
		sessionID:   sessionID,
		completedBy: "labscope",
		onError:     func(string, error) {},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Path returns the snapshot file location.
func (w *Writer) Path() string { return filepath.Join(w.dir, FileName) }

// Initialize creates the snapshot with every step incomplete,
// replacing any existing snapshot.
func (w *Writer) Initialize(stepIDs []string) {
	steps := make([]StepState, 0, len(stepIDs))
	for _, id := range stepIDs {
		steps = append(steps, StepState{ID: id})
	}
	w.write("initialize", &LabState{
		ModuleID:  w.moduleID,
		SessionID: w.sessionID,
		Steps:     steps,
	})
}

// MarkCompleted records a step completion. The first writer wins;
// late or duplicate notifications change nothing.
func (w *Writer) MarkCompleted(stepID, source string) {
	w.mutateStep("markCompleted", stepID, func(s *StepState) bool {
		if s.Completed {
			return false
		}
		now := time.Now().UTC()
		s.Completed = true
		s.CompletedBy = w.completedBy
		s.CompletedAt = &now
		s.Source = source
		return true
	})
}

// AddStep inserts a dynamically added step after afterStepID, or at
// the end when afterStepID is blank or unknown. Duplicates are
// tolerated.
func (w *Writer) AddStep(stepID, afterStepID string) {
	w.update("addStep", func(state *LabState) bool {
		if state.Step(stepID) != nil {
			return false
		}
		step := StepState{ID: stepID}
		if afterStepID != "" {
			for i := range state.Steps {
				if state.Steps[i].ID == afterStepID {
					rest := append([]StepState{step}, state.Steps[i+1:]...)
					state.Steps = append(state.Steps[:i+1], rest...)
					return true
				}
			}
		}
		state.Steps = append(state.Steps, step)
		return true
	})
}

// RecordQuestionAnswer stores the latest answer result for a step.
func (w *Writer) RecordQuestionAnswer(stepID string, correct bool) {
	w.mutateStep("recordQuestionAnswer", stepID, func(s *StepState) bool {
		s.QuestionResult = &correct
		return true
	})
}

// RecordHintRevealed tracks the highest hint index seen. The count
// never decreases.
func (w *Writer) RecordHintRevealed(stepID string, index int) {
	w.mutateStep("recordHintRevealed", stepID, func(s *StepState) bool {
		if n := index + 1; n > s.HintsRevealed {
			s.HintsRevealed = n
			return true
		}
		return false
	})
}

// RecordSolutionViewed flags the step's solution as seen.
func (w *Writer) RecordSolutionViewed(stepID string) {
	w.mutateStep("recordSolutionViewed", stepID, func(s *StepState) bool {
		if s.SolutionViewed {
			return false
		}
		s.SolutionViewed = true
		return true
	})
}

// RecordCheckAttempt counts one verification attempt.
func (w *Writer) RecordCheckAttempt(stepID string) {
	w.mutateStep("recordCheckAttempt", stepID, func(s *StepState) bool {
		s.CheckAttempts++
		return true
	})
}

// UpdateStepScore writes through the scoring engine's judgment for a
// step.
func (w *Writer) UpdateStepScore(stepID string, score scoring.TaskScore) {
	w.mutateStep("updateStepScore", stepID, func(s *StepState) bool {
		c := score.Confidence
		s.Confidence = &c
		s.Modifiers = score.Modifiers
		return true
	})
}

// UpdateOverallScore writes through the aggregate progress.
func (w *Writer) UpdateOverallScore(prog scoring.Progress) {
	w.update("updateOverallScore", func(state *LabState) bool {
		overall := prog.Overall
		pct := prog.CompletionPct
		passed := prog.Passed
		state.OverallScore = &overall
		state.CompletionPct = &pct
		state.Passed = &passed
		return true
	})
}

// Read loads the current snapshot.
func (w *Writer) Read() (*LabState, error) {
	return ReadFile(w.Path())
}

// ReadFile loads a snapshot document.
func ReadFile(path string) (*LabState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var state LabState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing lab state: %w", err)
	}
	return &state, nil
}

// update runs one read-modify-write cycle. fn reports whether it
// changed anything; unchanged snapshots are not rewritten, so no-op
// mutators do not churn UpdatedAt.
func (w *Writer) update(op string, fn func(*LabState) bool) {
	state, err := w.Read()
	if err != nil {
		w.onError(op, err)
		return
	}
	if !fn(state) {
		return
	}
	w.write(op, state)
}

func (w *Writer) mutateStep(op, stepID string, fn func(*StepState) bool) {
	w.update(op, func(state *LabState) bool {
		step := state.Step(stepID)
		if step == nil {
			w.onError(op, fmt.Errorf("step %q not in snapshot", stepID))
			return false
		}
		return fn(step)
	})
}

func (w *Writer) write(op string, state *LabState) {
	state.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		w.onError(op, err)
		return
	}
	if err := os.WriteFile(w.Path(), data, 0644); err != nil {
		w.onError(op, err)
	}
}
