// Package labenv provides the execution environments scenario runs
// drive: an in-memory mock of a small linux host, and a real
// environment that shells out through internal/exec.
package labenv

import (
	"fmt"
	"sort"
	"time"

	"github.com/edulabs/labscope/internal/exec"
	"github.com/edulabs/labscope/internal/module"
	"github.com/edulabs/labscope/internal/scenario"
	"github.com/edulabs/labscope/internal/telemetry"
)

// Action is one student action a driver asks the environment to
// perform. Kind uses the scenario action vocabulary; an empty kind
// means command.
type Action struct {
	Kind       string
	StepID     string
	Text       string
	HintIndex  int
	QuestionID string
	Correct    bool
}

// Result is the outcome of one executed action. CompletedSteps lists
// only the steps this action newly completed.
type Result struct {
	ExitCode       int
	Output         string
	CompletedSteps []string
}

// State is a point-in-time snapshot drivers can inspect between
// actions. Maps and slices are copies; mutating them changes nothing.
type State struct {
	CurrentUser    string
	Users          []string
	Groups         map[string][]string
	Files          []string
	CompletedSteps []string
	ActionsTaken   int
	LastOutput     string
	LastExitCode   int
}

// Completed reports whether the snapshot shows stepID as done.
func (s State) Completed(stepID string) bool {
	for _, id := range s.CompletedSteps {
		if id == stepID {
			return true
		}
	}
	return false
}

// Environment executes actions for a scenario run and accumulates the
// telemetry they produce. Implementations are not safe for concurrent
// use; the orchestrator drives them from one goroutine.
type Environment interface {
	// Initialize binds the environment to a module and seeds fixtures.
	Initialize(mod *module.Module) error

	// Execute performs one action. Command failures are results
	// (non-zero exit codes), not errors; the error return is for
	// execution faults such as a disposed environment.
	Execute(a Action) (Result, error)

	// State snapshots the environment between actions.
	State() State

	// Events returns every telemetry event accumulated so far, in
	// occurrence order.
	Events() []telemetry.Event

	// Dispose releases the environment. Execute fails afterwards.
	Dispose() error
}

// New builds the environment an environment spec asks for. A nil spec
// means a mock with default fixtures.
func New(spec *scenario.EnvironmentSpec) (Environment, error) {
	if spec == nil {
		return NewMock(nil), nil
	}
	switch spec.Kind {
	case "", scenario.EnvMock:
		return NewMock(spec), nil
	case scenario.EnvReal:
		return NewReal(exec.Default, spec), nil
	}
	return nil, fmt.Errorf("unknown environment kind %q", spec.Kind)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// newEvent stamps id, timestamp and module context. Session identity
// is stamped later, when the orchestrator appends to its log.
func newEvent(mod *module.Module, t telemetry.EventType, stepID string, p telemetry.Payload) telemetry.Event {
	ev := telemetry.Event{
		EventID:   telemetry.NewEventID(),
		Timestamp: time.Now().UTC(),
		Type:      t,
		StepID:    stepID,
		Payload:   p,
	}
	if mod != nil {
		ev.ModuleID = mod.ID
		ev.LabType = mod.LabType
	}
	return ev
}
