package labenv

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/edulabs/labscope/internal/exec"
	"github.com/edulabs/labscope/internal/module"
	"github.com/edulabs/labscope/internal/scenario"
	"github.com/edulabs/labscope/internal/strutil"
	"github.com/edulabs/labscope/internal/telemetry"
)

// DefaultActionTimeout bounds each shell action in a real environment.
const DefaultActionTimeout = 30 * time.Second

// Real executes actions on the host through a shell runner. Each
// action is a fresh `sh -c`; completion rules are re-checked after
// every action with probe commands. The host is assumed disposable
// and prepared out of band.
type Real struct {
	runner  exec.Runner
	spec    *scenario.EnvironmentSpec
	mod     *module.Module
	timeout time.Duration

	disposed  bool
	rules     []scenario.CompletionRule
	completed map[string]bool
	started   map[string]bool
	events    []telemetry.Event

	actions    int
	lastOutput string
	lastExit   int
}

// NewReal creates a real environment driven through runner.
func NewReal(runner exec.Runner, spec *scenario.EnvironmentSpec) *Real {
	timeout := DefaultActionTimeout
	if spec != nil && spec.ActionTimeoutMs > 0 {
		timeout = time.Duration(spec.ActionTimeoutMs) * time.Millisecond
	}
	return &Real{
		runner:    runner,
		spec:      spec,
		timeout:   timeout,
		completed: map[string]bool{},
		started:   map[string]bool{},
	}
}

// Initialize binds the module and installs the completion rules.
func (r *Real) Initialize(mod *module.Module) error {
	if r.disposed {
		return fmt.Errorf("environment disposed")
	}
	r.mod = mod
	r.rules = nil
	if r.spec != nil {
		r.rules = append(r.rules, r.spec.Completions...)
	}
	r.completed = map[string]bool{}
	r.started = map[string]bool{}
	r.events = nil
	r.actions = 0
	return nil
}

// Execute performs one action on the host.
func (r *Real) Execute(a Action) (Result, error) {
	if r.disposed {
		return Result{}, fmt.Errorf("environment disposed")
	}
	if r.mod == nil {
		return Result{}, fmt.Errorf("environment not initialized")
	}

	r.actions++
	if a.StepID != "" && !r.started[a.StepID] {
		r.started[a.StepID] = true
		r.emit(telemetry.EventStepStarted, a.StepID, nil)
	}

	var res Result
	commandText := ""
	switch a.Kind {
	case "", scenario.ActionCommand, scenario.ActionQuery, scenario.ActionCode:
		kind := a.Kind
		if kind == "" {
			kind = scenario.ActionCommand
		}
		out, code, err := r.shell(a.Text)
		if err != nil {
			return Result{}, fmt.Errorf("executing %q: %w", a.Text, err)
		}
		r.lastOutput, r.lastExit = out, code
		commandText = a.Text
		// Host actions inherit the process working directory; record it
		// so replays of real runs can be placed.
		p := telemetry.ActionPayload(kind, a.Text, code)
		p["cwd"] = strutil.GetCwd()
		r.emit(telemetry.EventStudentAction, a.StepID, p)
		res = Result{ExitCode: code, Output: out}
	case scenario.ActionHint:
		r.emit(telemetry.EventHintRequested, a.StepID, telemetry.HintPayload(a.HintIndex))
	case scenario.ActionSolution:
		r.emit(telemetry.EventSolutionViewed, a.StepID, nil)
	case scenario.ActionAnswer:
		r.emit(telemetry.EventQuestionAnswered, a.StepID,
			telemetry.QuestionPayload(a.QuestionID, a.Correct))
	default:
		return Result{}, fmt.Errorf("unknown action kind %q", a.Kind)
	}

	res.CompletedSteps = r.checkRules(commandText)
	return res, nil
}

func (r *Real) checkRules(commandText string) []string {
	var newly []string
	for _, rule := range r.rules {
		if r.completed[rule.StepID] {
			continue
		}
		probe, ok := r.ruleHolds(rule, commandText)
		if !ok {
			continue
		}
		r.completed[rule.StepID] = true
		r.emit(telemetry.EventCheckPassed, rule.StepID, telemetry.CheckPayload(probe, 0))
		r.emit(telemetry.EventStepCompleted, rule.StepID, nil)
		newly = append(newly, rule.StepID)
	}
	return newly
}

// ruleHolds probes the host for one rule. It returns the probe it ran
// (recorded as the check script) and whether the rule holds.
func (r *Real) ruleHolds(rule scenario.CompletionRule, commandText string) (string, bool) {
	switch rule.Kind {
	case scenario.RuleUserIs:
		probe := "id -un"
		out, code, err := r.shell(probe)
		return probe, err == nil && code == 0 && strings.TrimSpace(out) == rule.User
	case scenario.RuleUserExists:
		probe := fmt.Sprintf("id -u '%s'", rule.User)
		_, code, err := r.shell(probe)
		return probe, err == nil && code == 0
	case scenario.RuleUserInGroup:
		probe := fmt.Sprintf("id -nG '%s' | tr ' ' '\\n' | grep -qx '%s'", rule.User, rule.Group)
		_, code, err := r.shell(probe)
		return probe, err == nil && code == 0
	case scenario.RuleFileExists:
		probe := fmt.Sprintf("test -e '%s'", rule.Path)
		_, code, err := r.shell(probe)
		return probe, err == nil && code == 0
	case scenario.RuleCommandMatches:
		if commandText == "" {
			return rule.Kind, false
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return rule.Kind, false
		}
		return rule.Kind, re.MatchString(commandText)
	}
	return rule.Kind, false
}

func (r *Real) shell(script string) (string, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	out, code, err := r.runner.RunShell(ctx, script)
	return string(out), code, err
}

// State snapshots what a fresh-shell environment can know cheaply.
func (r *Real) State() State {
	return State{
		CompletedSteps: sortedKeys(r.completed),
		ActionsTaken:   r.actions,
		LastOutput:     r.lastOutput,
		LastExitCode:   r.lastExit,
	}
}

// Events returns the accumulated telemetry.
func (r *Real) Events() []telemetry.Event {
	out := make([]telemetry.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Dispose releases the environment.
func (r *Real) Dispose() error {
	r.disposed = true
	return nil
}

func (r *Real) emit(t telemetry.EventType, stepID string, p telemetry.Payload) {
	r.events = append(r.events, newEvent(r.mod, t, stepID, p))
}
