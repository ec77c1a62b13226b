package scoring

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"

	"github.com/edulabs/labscope/internal/module"
	"github.com/edulabs/labscope/internal/telemetry"
)

// Modifier is one named, signed adjustment to a task's base confidence.
type Modifier struct {
	Kind  string  `json:"kind"`
	Count int     `json:"count"`
	Delta float64 `json:"delta"`
	Note  string  `json:"note,omitempty"`
}

// TaskScore is the derived judgment for one gradable step. It is
// recomputable from the event log at any time and never edited
// directly.
type TaskScore struct {
	TaskID     string     `json:"task_id"`
	StepID     string     `json:"step_id"`
	Confidence float64    `json:"confidence"`
	Modifiers  []Modifier `json:"modifiers,omitempty"`
	Completed  bool       `json:"completed"`
	Passed     bool       `json:"passed"`
	EvidenceID string     `json:"evidence_id"`
}

// Progress aggregates task scores for a session. It is recomputed
// wholesale on every interpretation, never patched incrementally.
type Progress struct {
	ModuleID      string               `json:"module_id"`
	StudentID     string               `json:"student_id,omitempty"`
	SessionID     string               `json:"session_id"`
	Preset        string               `json:"preset"`
	Tasks         map[string]TaskScore `json:"tasks"`
	Overall       float64              `json:"overall_score"`
	CompletionPct int                  `json:"completion_pct"`
	Passed        bool                 `json:"passed"`
}

// Interpret derives progress from events for the given step list under
// a preset. Only steps with task semantics are scored. The result
// depends solely on the inputs: no wall clock, no randomness, and no
// sensitivity to the order events arrived in (events are replayed in
// event-id order before evaluation).
func Interpret(events []telemetry.Event, steps []module.Step, preset Preset) Progress {
	ordered := orderEvents(events)

	prog := Progress{
		Preset: preset.ID,
		Tasks:  make(map[string]TaskScore),
	}
	for _, ev := range ordered {
		if prog.SessionID == "" && ev.SessionID != "" {
			prog.SessionID = ev.SessionID
		}
		if prog.ModuleID == "" && ev.ModuleID != "" {
			prog.ModuleID = ev.ModuleID
		}
		if prog.StudentID == "" && ev.StudentID != "" {
			prog.StudentID = ev.StudentID
		}
	}

	var totalWeight, weightedSum float64
	completed := 0
	tasks := 0
	allPassed := true
	for _, step := range steps {
		if !step.Task {
			continue
		}
		tasks++
		score := scoreTask(step.ID, collectEvidence(ordered, step.ID), preset, prog.SessionID)
		prog.Tasks[step.ID] = score

		w := step.TaskWeight()
		totalWeight += w
		weightedSum += w * score.Confidence
		if score.Completed {
			completed++
		}
		if !score.Passed {
			allPassed = false
		}
	}

	// A module with no gradable tasks cannot be complete or passed.
	if tasks == 0 {
		return prog
	}

	prog.Overall = weightedSum / totalWeight
	prog.CompletionPct = int(math.Round(float64(completed) / float64(tasks) * 100))
	prog.Passed = allPassed
	return prog
}

// taskEvidence is the raw per-step tally that scoring runs on.
type taskEvidence struct {
	hintIndices      map[int]struct{}
	solutionViews    int
	failedBeforePass int
	completed        bool
}

func collectEvidence(events []telemetry.Event, stepID string) taskEvidence {
	ev := taskEvidence{hintIndices: make(map[int]struct{})}
	passed := false
	for _, e := range events {
		if e.StepID != stepID {
			continue
		}
		switch e.Type {
		case telemetry.EventHintRequested:
			ev.hintIndices[e.Payload.Int("hint_index")] = struct{}{}
		case telemetry.EventSolutionViewed:
			ev.solutionViews++
		case telemetry.EventCheckFailed:
			// Failures after the first pass are replays, not retries.
			if !passed {
				ev.failedBeforePass++
			}
		case telemetry.EventCheckPassed:
			passed = true
			ev.completed = true
		case telemetry.EventStepCompleted:
			ev.completed = true
		}
	}
	return ev
}

func scoreTask(stepID string, ev taskEvidence, preset Preset, sessionID string) TaskScore {
	score := TaskScore{
		TaskID:     stepID,
		StepID:     stepID,
		Completed:  ev.completed,
		EvidenceID: evidenceID(sessionID, stepID),
	}

	hints := len(ev.hintIndices)
	if hints > 0 {
		score.Modifiers = append(score.Modifiers, Modifier{
			Kind:  ModifierHintUsed,
			Count: hints,
			Delta: -preset.HintPenalty * float64(hints),
			Note:  fmt.Sprintf("revealed %d of the step's hints", hints),
		})
	}
	if ev.solutionViews > 0 {
		// Flat penalty regardless of how many times it was opened.
		score.Modifiers = append(score.Modifiers, Modifier{
			Kind:  ModifierSolutionViewed,
			Count: ev.solutionViews,
			Delta: -preset.SolutionPenalty,
			Note:  "viewed the solution",
		})
	}
	if ev.failedBeforePass > 0 {
		score.Modifiers = append(score.Modifiers, Modifier{
			Kind:  ModifierRetry,
			Count: ev.failedBeforePass,
			Delta: -preset.RetryPenalty * float64(ev.failedBeforePass),
			Note:  fmt.Sprintf("%d failed checks before passing", ev.failedBeforePass),
		})
	}
	firstTry := ev.completed && hints == 0 && ev.solutionViews == 0 && ev.failedBeforePass == 0
	if firstTry && preset.FirstTryBonus > 0 {
		score.Modifiers = append(score.Modifiers, Modifier{
			Kind:  ModifierFirstTryBonus,
			Count: 1,
			Delta: preset.FirstTryBonus,
			Note:  "solved with no hints, solutions or failed checks",
		})
	}

	// An untouched or unfinished task earns nothing; the modifiers
	// still surface what happened so far.
	if !ev.completed {
		return score
	}

	confidence := 1.0
	for _, m := range score.Modifiers {
		confidence += m.Delta
	}
	score.Confidence = clamp(confidence, preset.MinConfidence, 1.0)
	score.Passed = score.Confidence >= preset.PassThreshold
	return score
}

// orderEvents replays events in event-id order so interpretation does
// not depend on arrival order. Event ids sort lexicographically in
// creation order; ties fall back to timestamps.
func orderEvents(events []telemetry.Event) []telemetry.Event {
	ordered := make([]telemetry.Event, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].EventID != ordered[j].EventID {
			return ordered[i].EventID < ordered[j].EventID
		}
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})
	return ordered
}

func evidenceID(sessionID, stepID string) string {
	sum := sha256.Sum256([]byte(sessionID + "/" + stepID))
	return "ev-" + hex.EncodeToString(sum[:8])
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
