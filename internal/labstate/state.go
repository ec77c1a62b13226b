// Package labstate maintains the externally readable progress snapshot
// for a session: one JSON document rewritten wholesale on every change,
// so readers never have to replay telemetry.
package labstate

import (
	"time"

	"github.com/edulabs/labscope/internal/scoring"
)

// FileName is the snapshot file kept in each session directory.
const FileName = "lab_state.json"

// Completion sources.
const (
	SourceModule = "module"
	SourceTutor  = "tutor"
)

// StepState is one step's slice of the snapshot.
type StepState struct {
	ID             string             `json:"id"`
	Completed      bool               `json:"completed"`
	CompletedBy    string             `json:"completedBy,omitempty"`
	CompletedAt    *time.Time         `json:"completedAt,omitempty"`
	Source         string             `json:"source,omitempty"`
	QuestionResult *bool              `json:"questionResult,omitempty"`
	Confidence     *float64           `json:"confidence,omitempty"`
	Modifiers      []scoring.Modifier `json:"modifiers,omitempty"`
	HintsRevealed  int                `json:"hintsRevealed,omitempty"`
	SolutionViewed bool               `json:"solutionViewed,omitempty"`
	CheckAttempts  int                `json:"checkAttempts,omitempty"`
}

// LabState is the whole snapshot document.
type LabState struct {
	ModuleID      string      `json:"moduleId"`
	SessionID     string      `json:"sessionId"`
	UpdatedAt     time.Time   `json:"updatedAt"`
	Steps         []StepState `json:"steps"`
	OverallScore  *float64    `json:"overallScore,omitempty"`
	CompletionPct *int        `json:"completionPct,omitempty"`
	Passed        *bool       `json:"passed,omitempty"`
}

// Step returns a pointer into Steps for id, or nil.
func (s *LabState) Step(id string) *StepState {
	for i := range s.Steps {
		if s.Steps[i].ID == id {
			return &s.Steps[i]
		}
	}
	return nil
}

// CompletedSteps returns the ids of completed steps in snapshot order.
func (s *LabState) CompletedSteps() []string {
	var ids []string
	for _, st := range s.Steps {
		if st.Completed {
			ids = append(ids, st.ID)
		}
	}
	return ids
}
