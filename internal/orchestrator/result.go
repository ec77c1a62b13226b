package orchestrator

import (
	"time"

	"github.com/edulabs/labscope/internal/scoring"
)

// CheckpointResult is the final reached/unreached verdict for one
// checkpoint, re-derived from the full event log after the run.
type CheckpointResult struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Required bool   `json:"required"`
	Reached  bool   `json:"reached"`
}

// CriterionResult is one success criterion's verdict with a
// human-readable message.
type CriterionResult struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

// RunResult is the structured report every run produces, even when it
// fails part-way. Error holds execution faults; assertion failures
// live in Errors and the per-checkpoint/per-criterion results instead.
type RunResult struct {
	RunID      string    `json:"run_id"`
	ScenarioID string    `json:"scenario_id"`
	ModuleID   string    `json:"module_id"`
	SessionID  string    `json:"session_id,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`

	Passed       bool `json:"passed"`
	TimedOut     bool `json:"timed_out"`
	ActionsTaken int  `json:"actions_taken"`

	Checkpoints []CheckpointResult `json:"checkpoints"`
	Criteria    []CriterionResult  `json:"criteria"`
	Progress    *scoring.Progress  `json:"progress,omitempty"`

	Errors []string `json:"errors,omitempty"`
	Error  string   `json:"error,omitempty"`

	// Dir is the run directory holding the telemetry log.
	Dir string `json:"dir,omitempty"`
}

// CheckpointsReached counts reached checkpoints.
func (r *RunResult) CheckpointsReached() int {
	n := 0
	for _, cp := range r.Checkpoints {
		if cp.Reached {
			n++
		}
	}
	return n
}

// RequiredUnreached lists required checkpoints the run missed.
func (r *RunResult) RequiredUnreached() []string {
	var out []string
	for _, cp := range r.Checkpoints {
		if cp.Required && !cp.Reached {
			out = append(out, cp.ID)
		}
	}
	return out
}

// Score returns the overall score, 0 when the run never got far
// enough to be scored.
func (r *RunResult) Score() float64 {
	if r.Progress == nil {
		return 0
	}
	return r.Progress.Overall
}
