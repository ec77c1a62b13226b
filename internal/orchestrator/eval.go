package orchestrator

import (
	"fmt"
	"regexp"
	"time"

	"github.com/edulabs/labscope/internal/scenario"
	"github.com/edulabs/labscope/internal/telemetry"
)

// evaluateCheckpoints re-derives reached/unreached for every
// checkpoint from the full event log. The live loop keeps its own
// running tally for early stopping, but the log is what counts.
func evaluateCheckpoints(checkpoints []scenario.Checkpoint, events []telemetry.Event) []CheckpointResult {
	out := make([]CheckpointResult, len(checkpoints))
	for i, cp := range checkpoints {
		out[i] = CheckpointResult{
			ID:       cp.ID,
			Name:     cp.Name,
			Required: cp.Required,
			Reached:  checkpointReached(cp.Trigger, events),
		}
	}
	return out
}

func checkpointReached(tr scenario.Trigger, events []telemetry.Event) bool {
	for _, ev := range events {
		if triggerMatches(tr, ev) {
			return true
		}
	}
	return false
}

func triggerMatches(tr scenario.Trigger, ev telemetry.Event) bool {
	switch tr.Kind {
	case scenario.TriggerStepCompleted:
		return ev.Type == telemetry.EventStepCompleted && ev.StepID == tr.StepID

	case scenario.TriggerCheckPassed:
		if ev.Type != telemetry.EventCheckPassed || ev.StepID != tr.StepID {
			return false
		}
		return tr.Script == "" || ev.Payload.Str("script") == tr.Script

	case scenario.TriggerCommandExecuted:
		// Both event generations carry command text; CommandText
		// resolves either shape.
		text := ev.CommandText()
		if text == "" {
			return false
		}
		re, err := regexp.Compile(tr.Pattern)
		if err != nil || !re.MatchString(text) {
			return false
		}
		if tr.ExitCode == nil {
			return true
		}
		code, ok := ev.ExitCode()
		return ok && code == *tr.ExitCode

	case scenario.TriggerEventOccurred:
		if string(ev.Type) != tr.EventType {
			return false
		}
		for field, want := range tr.Match {
			if !fieldEquals(ev, field, want) {
				return false
			}
		}
		return true
	}
	return false
}

// fieldEquals compares loosely across the yaml/json divide: ints
// arrive as float64 after a log roundtrip, so values are compared by
// their printed form.
func fieldEquals(ev telemetry.Event, field string, want any) bool {
	var got any
	switch field {
	case "step_id":
		got = ev.StepID
	case "session_id":
		got = ev.SessionID
	case "module_id":
		got = ev.ModuleID
	case "student_id":
		got = ev.StudentID
	default:
		if ev.Payload == nil || !ev.Payload.Has(field) {
			return false
		}
		got = ev.Payload[field]
	}
	return fmt.Sprint(got) == fmt.Sprint(want)
}

// evaluateCriteria turns the scenario's success criteria into
// individual verdicts. The checkpoint results must be final already.
func evaluateCriteria(sc *scenario.Scenario, result *RunResult, events []telemetry.Event) []CriterionResult {
	crit := sc.Criteria
	if crit == nil {
		return nil
	}
	var out []CriterionResult

	if crit.AllCheckpoints {
		total := len(result.Checkpoints)
		reached := result.CheckpointsReached()
		cr := CriterionResult{Name: "allCheckpoints", Passed: reached == total}
		if cr.Passed {
			cr.Message = fmt.Sprintf("all %d checkpoints reached", total)
		} else {
			cr.Message = fmt.Sprintf("%d of %d checkpoints reached", reached, total)
		}
		out = append(out, cr)
	}

	if crit.MinScore != nil {
		score := result.Score()
		cr := CriterionResult{Name: "minScore", Passed: score >= *crit.MinScore}
		if cr.Passed {
			cr.Message = fmt.Sprintf("score %.2f meets minimum %.2f", score, *crit.MinScore)
		} else {
			cr.Message = fmt.Sprintf("score %.2f below minimum %.2f", score, *crit.MinScore)
		}
		out = append(out, cr)
	}

	if crit.MaxHints != nil {
		hints := countHints(events)
		cr := CriterionResult{Name: "maxHints", Passed: hints <= *crit.MaxHints}
		if cr.Passed {
			cr.Message = fmt.Sprintf("%d hints used (limit %d)", hints, *crit.MaxHints)
		} else {
			cr.Message = fmt.Sprintf("hint limit exceeded: %d used, %d allowed", hints, *crit.MaxHints)
		}
		out = append(out, cr)
	}

	if crit.MaxSolutionsViewed != nil {
		views := countEvents(events, telemetry.EventSolutionViewed)
		cr := CriterionResult{Name: "maxSolutionsViewed", Passed: views <= *crit.MaxSolutionsViewed}
		if cr.Passed {
			cr.Message = fmt.Sprintf("%d solution views (limit %d)", views, *crit.MaxSolutionsViewed)
		} else {
			cr.Message = fmt.Sprintf("solution limit exceeded: %d views, %d allowed", views, *crit.MaxSolutionsViewed)
		}
		out = append(out, cr)
	}

	if crit.WithinTimeout {
		cr := CriterionResult{Name: "withinTimeout", Passed: !result.TimedOut}
		timeout := time.Duration(sc.TimeoutMs) * time.Millisecond
		if cr.Passed {
			cr.Message = fmt.Sprintf("finished within the %s timeout", timeout)
		} else {
			cr.Message = fmt.Sprintf("timed out after %s", timeout)
		}
		out = append(out, cr)
	}

	if crit.MaxActions != nil {
		cr := CriterionResult{Name: "maxActions", Passed: result.ActionsTaken <= *crit.MaxActions}
		if cr.Passed {
			cr.Message = fmt.Sprintf("%d actions taken (limit %d)", result.ActionsTaken, *crit.MaxActions)
		} else {
			cr.Message = fmt.Sprintf("action limit exceeded: %d taken, %d allowed", result.ActionsTaken, *crit.MaxActions)
		}
		out = append(out, cr)
	}

	return out
}

// countHints counts distinct hints, one per (step, index) pair, the
// same way the scoring engine does.
func countHints(events []telemetry.Event) int {
	type key struct {
		step  string
		index int
	}
	seen := map[key]bool{}
	for _, ev := range events {
		if ev.Type == telemetry.EventHintRequested {
			seen[key{ev.StepID, ev.Payload.Int("hint_index")}] = true
		}
	}
	return len(seen)
}

func countEvents(events []telemetry.Event, t telemetry.EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == t {
			n++
		}
	}
	return n
}
