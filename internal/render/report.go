package render

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/edulabs/labscope/internal/module"
	"github.com/edulabs/labscope/internal/orchestrator"
	"github.com/edulabs/labscope/internal/runhistory"
	"github.com/edulabs/labscope/internal/scoring"
	"github.com/edulabs/labscope/internal/strutil"
)

// Report renders run verdicts, replay output and history.
type Report struct {
	*Writer
	pretty bool
}

// NewReport creates a Report writing to stdout. Pretty output is
// enabled when stdout is a terminal.
func NewReport() *Report {
	return &Report{
		Writer: Stdout(),
		pretty: term.IsTerminal(int(os.Stdout.Fd())),
	}
}

// NewReportWriter creates a Report with an explicit destination and
// prettiness, for tests and piped output.
func NewReportWriter(w io.Writer, pretty bool) *Report {
	return &Report{Writer: NewWriter(w), pretty: pretty}
}

// Pretty reports whether colored output is enabled.
func (r *Report) Pretty() bool {
	return r.pretty
}

func (r *Report) green(s string) string {
	if r.pretty {
		return color.GreenString(s)
	}
	return s
}

func (r *Report) red(s string) string {
	if r.pretty {
		return color.RedString(s)
	}
	return s
}

func (r *Report) cyan(s string) string {
	if r.pretty {
		return color.CyanString(s)
	}
	return s
}

// Verdict renders a full run result.
func (r *Report) Verdict(res *orchestrator.RunResult) {
	label := r.green("PASS")
	if !res.Passed {
		label = r.red("FAIL")
	}

	dur := FormatDuration(time.Duration(res.DurationMs) * time.Millisecond)
	r.Println("%s %s (%s, %d actions)", label, res.ScenarioID, dur, res.ActionsTaken)
	if r.pretty {
		r.Println(strings.Repeat("─", 60))
	}

	if res.TimedOut {
		r.Item("%s deadline exceeded", StatusIcon("timeout"))
	}
	if res.Error != "" {
		r.Item("error: %s", strutil.Truncate(res.Error, 200))
	}

	r.checkpointsSection(res.Checkpoints)
	r.criteriaSection(res.Criteria)

	if res.Progress != nil {
		r.Section("score")
		r.Item("Overall:    %.2f", res.Progress.Overall)
		r.Item("Completion: %d%%", res.Progress.CompletionPct)

		for _, id := range sortedTaskIDs(res.Progress.Tasks) {
			task := res.Progress.Tasks[id]
			r.SubItem("%-24s %.2f %s", id, task.Confidence, modifierNotes(task))
		}
	}

	if len(res.Errors) > 0 {
		r.Section("failures")
		for _, msg := range res.Errors {
			lines := strings.Split(strutil.WordWrap(msg, 72), "\n")
			r.Item("%s %s", r.red("✗"), lines[0])
			for _, cont := range lines[1:] {
				r.SubItem("%s", cont)
			}
		}
	}
	r.Line()
}

func (r *Report) checkpointsSection(cps []orchestrator.CheckpointResult) {
	r.Section("checkpoints")
	for _, cp := range cps {
		icon := "•"
		switch {
		case cp.Reached:
			icon = r.green("✓")
		case cp.Required:
			icon = r.red("✗")
		}

		name := cp.Name
		if name == "" {
			name = cp.ID
		}
		if cp.Required {
			r.Item("%s %s", icon, name)
		} else {
			r.Item("%s %s (optional)", icon, name)
		}
	}
}

// criteriaSection is skipped entirely for runs recorded without
// criteria.
func (r *Report) criteriaSection(criteria []orchestrator.CriterionResult) {
	if len(criteria) == 0 {
		return
	}
	r.Section("criteria")
	for _, c := range criteria {
		r.Item("%s %s", BoolIcon(c.Passed), c.Message)
	}
}

// RunDetail renders one stored run in full, mirroring the live
// verdict layout.
func (r *Report) RunDetail(run *runhistory.Run) {
	label := r.green("PASS")
	if !run.Passed {
		label = r.red("FAIL")
	}

	dur := FormatDuration(time.Duration(run.DurationMs) * time.Millisecond)
	r.Println("%s %s (%s, %d actions)", label, run.ScenarioID, dur, run.Actions)
	if r.pretty {
		r.Println(strings.Repeat("─", 60))
	}

	r.Item("Run:       %s", run.RunID)
	r.Item("Module:    %s", run.ModuleID)
	if run.SessionID != "" {
		r.Item("Session:   %s", run.SessionID)
	}
	r.Item("Score:     %.2f (completion %d%%)", run.Score, run.CompletionPct)
	r.Item("Recorded:  %s", run.CreatedAt)

	if run.TimedOut {
		r.Item("%s deadline exceeded", StatusIcon("timeout"))
	}
	if run.Error != "" {
		r.Item("error: %s", strutil.Truncate(run.Error, 200))
	}

	r.checkpointsSection(run.Checkpoints)
	r.criteriaSection(run.Criteria)
	r.Line()
}

// Progress renders derived lab progress, walking steps in module order
// when the module definition is at hand.
func (r *Report) Progress(prog *scoring.Progress, mod *module.Module) {
	r.Header("LAB PROGRESS (%s)", prog.ModuleID)

	var ids []string
	if mod != nil {
		for _, s := range mod.TaskSteps() {
			if _, ok := prog.Tasks[s.ID]; ok {
				ids = append(ids, s.ID)
			}
		}
	} else {
		ids = sortedTaskIDs(prog.Tasks)
	}

	for _, id := range ids {
		task := prog.Tasks[id]

		icon := "•"
		switch {
		case task.Passed:
			icon = r.green("✓")
		case task.Completed:
			icon = r.cyan("~")
		}

		r.Item("%s %-24s %.2f", icon, id, task.Confidence)
		for _, m := range task.Modifiers {
			r.Nested("%s x%d (%+.2f)", m.Kind, m.Count, m.Delta)
		}
	}

	r.Section("summary")
	r.Item("Preset:     %s", prog.Preset)
	r.Item("Overall:    %.2f", prog.Overall)
	r.Item("Completion: %d%%", prog.CompletionPct)
	r.Item("Passed:     %s", BoolIcon(prog.Passed))
}

// Runs renders recorded run history, newest first.
func (r *Report) Runs(runs []*runhistory.Run) {
	if len(runs) == 0 {
		r.Empty("No recorded runs")
		return
	}

	r.Header("RUN HISTORY (%d runs)", len(runs))

	for _, run := range runs {
		icon := r.green(BoolIcon(true))
		if !run.Passed {
			icon = r.red(BoolIcon(false))
		}

		r.Println("%s [%s] %s score=%.2f checkpoints=%d/%d (%s)",
			icon, run.CreatedAt, run.ScenarioID, run.Score,
			run.CheckpointsPassed, run.CheckpointsTotal,
			FormatDuration(time.Duration(run.DurationMs)*time.Millisecond))

		if run.Error != "" {
			r.Nested("%s", strutil.Truncate(run.Error, 70))
		}
	}
}

// HistoryStats renders aggregate run statistics.
func (r *Report) HistoryStats(st *runhistory.Stats) {
	r.Header("RUN STATISTICS")

	r.Item("Total runs:   %d", st.TotalRuns)
	r.Item("Passed:       %d", st.Passed)
	r.Item("Failed:       %d", st.Failed)
	r.Item("Timed out:    %d", st.TimedOut)

	if st.TotalRuns > 0 {
		r.Line()
		r.Item("Avg score:    %.2f", st.AvgScore)
		r.Item("Avg duration: %s", FormatDuration(time.Duration(st.AvgDurationMs)*time.Millisecond))
	}
}

// Presets renders the built-in scoring presets.
func (r *Report) Presets(presets []scoring.Preset) {
	r.Header("SCORING PRESETS")

	for _, p := range presets {
		r.Item("%s", r.cyan(p.ID))
		r.SubItem("hint -%.2f, solution -%.2f, retry -%.2f", p.HintPenalty, p.SolutionPenalty, p.RetryPenalty)
		if p.FirstTryBonus > 0 {
			r.SubItem("first-try bonus +%.2f", p.FirstTryBonus)
		}
		r.SubItem("confidence floor %.2f, pass threshold %.2f", p.MinConfidence, p.PassThreshold)
		r.Line()
	}
}

func sortedTaskIDs(tasks map[string]scoring.TaskScore) []string {
	ids := make([]string, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func modifierNotes(t scoring.TaskScore) string {
	if len(t.Modifiers) == 0 {
		return ""
	}
	parts := make([]string, 0, len(t.Modifiers))
	for _, m := range t.Modifiers {
		parts = append(parts, fmt.Sprintf("%s x%d", m.Kind, m.Count))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
