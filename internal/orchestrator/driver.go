package orchestrator

import (
	"time"

	"github.com/edulabs/labscope/internal/labenv"
	"github.com/edulabs/labscope/internal/module"
	"github.com/edulabs/labscope/internal/scenario"
	"github.com/edulabs/labscope/internal/telemetry"
)

// Driver decides what the simulated student does next. NextAction
// returning (nil, nil) means the script is exhausted, which ends the
// run normally.
type Driver interface {
	Initialize(mod *module.Module) error
	NextAction(state labenv.State) (*labenv.Action, error)
	OnActionResult(a labenv.Action, res labenv.Result)
	Dispose()
}

// ScriptedDriver plays a scenario's actions list in order. WaitMs on
// an entry delays inside NextAction, like a student thinking.
type ScriptedDriver struct {
	actions     []scenario.ScriptedAction
	next        int
	defaultKind string
}

// NewScriptedDriver creates a driver over a scripted action list.
func NewScriptedDriver(actions []scenario.ScriptedAction) *ScriptedDriver {
	return &ScriptedDriver{actions: actions, defaultKind: scenario.ActionCommand}
}

// Initialize picks the default action kind from the module's lab type.
func (d *ScriptedDriver) Initialize(mod *module.Module) error {
	switch mod.LabType {
	case telemetry.LabQuery:
		d.defaultKind = scenario.ActionQuery
	case telemetry.LabCode:
		d.defaultKind = scenario.ActionCode
	default:
		d.defaultKind = scenario.ActionCommand
	}
	return nil
}

// NextAction returns the next scripted action, nil when exhausted.
func (d *ScriptedDriver) NextAction(labenv.State) (*labenv.Action, error) {
	if d.next >= len(d.actions) {
		return nil, nil
	}
	entry := d.actions[d.next]
	d.next++

	if entry.WaitMs > 0 {
		time.Sleep(time.Duration(entry.WaitMs) * time.Millisecond)
	}

	kind := entry.Kind
	if kind == "" {
		kind = d.defaultKind
	}
	return &labenv.Action{
		Kind:       kind,
		StepID:     entry.StepID,
		Text:       entry.Text,
		HintIndex:  entry.HintIndex,
		QuestionID: entry.QuestionID,
		Correct:    entry.Correct,
	}, nil
}

// OnActionResult is a no-op; the script does not branch.
func (d *ScriptedDriver) OnActionResult(labenv.Action, labenv.Result) {}

// Dispose is a no-op.
func (d *ScriptedDriver) Dispose() {}

// FuncDriver adapts plain functions into a Driver, for programmatic
// scenarios written in Go. Nil fields behave as no-ops.
type FuncDriver struct {
	OnInit   func(mod *module.Module) error
	Next     func(state labenv.State) (*labenv.Action, error)
	OnResult func(a labenv.Action, res labenv.Result)
	OnClose  func()
}

func (d *FuncDriver) Initialize(mod *module.Module) error {
	if d.OnInit != nil {
		return d.OnInit(mod)
	}
	return nil
}

func (d *FuncDriver) NextAction(state labenv.State) (*labenv.Action, error) {
	if d.Next == nil {
		return nil, nil
	}
	return d.Next(state)
}

func (d *FuncDriver) OnActionResult(a labenv.Action, res labenv.Result) {
	if d.OnResult != nil {
		d.OnResult(a, res)
	}
}

func (d *FuncDriver) Dispose() {
	if d.OnClose != nil {
		d.OnClose()
	}
}
