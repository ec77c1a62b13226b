package hub

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"

	"github.com/edulabs/labscope/internal/telemetry"
)

// Action kinds reported by adapters.
const (
	ActionCommand = "command"
	ActionQuery   = "query"
	ActionCode    = "code"
)

// Action is one student action observed by an adapter.
type Action struct {
	Kind     string `json:"kind"`
	StepID   string `json:"stepId,omitempty"`
	Text     string `json:"text"`
	ExitCode int    `json:"exitCode"`
}

// Completion is a step completion observed by an adapter.
type Completion struct {
	StepID string `json:"stepId"`
	Script string `json:"script,omitempty"` // verification that proved it
}

// Adapter watches one kind of lab activity and reports observations
// back to the hub. The hub never looks inside an adapter: it starts
// it, stops it, and receives everything through the two callbacks.
// The kinds are a closed set: shell command watcher, query log
// watcher, code submission watcher.
type Adapter interface {
	Start() error
	Stop() error
	IsRunning() bool
	LabType() telemetry.LabType
	ModuleID() string
	SetOnAction(func(Action))
	SetOnStepCompleted(func(Completion))
}

// streamObservation is one NDJSON line from a watcher process.
type streamObservation struct {
	Kind     string `json:"kind"` // action | completed
	Action   string `json:"action,omitempty"`
	StepID   string `json:"stepId,omitempty"`
	Text     string `json:"text,omitempty"`
	ExitCode int    `json:"exitCode,omitempty"`
	Script   string `json:"script,omitempty"`
}

// StreamAdapter turns an observation stream (NDJSON lines, typically a
// watcher process's stdout piped to us) into adapter callbacks. It is
// the transport behind `labscope watch` and the hub tests.
type StreamAdapter struct {
	labType  telemetry.LabType
	moduleID string
	r        io.Reader

	mu          sync.Mutex
	running     bool
	onAction    func(Action)
	onCompleted func(Completion)

	done chan struct{}
}

// NewStreamAdapter creates an adapter reading observations from r.
func NewStreamAdapter(labType telemetry.LabType, moduleID string, r io.Reader) *StreamAdapter {
	return &StreamAdapter{labType: labType, moduleID: moduleID, r: r}
}

// Start begins consuming the stream. The reader goroutine exits on
// EOF; closing the stream's write end releases it.
func (a *StreamAdapter) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil
	}
	a.running = true
	a.done = make(chan struct{})
	go a.consume()
	return nil
}

// Stop halts observation delivery. The underlying reader may stay
// blocked until its source closes, but no callback fires after Stop
// returns.
func (a *StreamAdapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = false
	return nil
}

// IsRunning reports whether observations are being delivered.
func (a *StreamAdapter) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// LabType returns the kind of lab this adapter watches.
func (a *StreamAdapter) LabType() telemetry.LabType { return a.labType }

// ModuleID returns the module this adapter was built for.
func (a *StreamAdapter) ModuleID() string { return a.moduleID }

// SetOnAction installs the student-action callback.
func (a *StreamAdapter) SetOnAction(fn func(Action)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onAction = fn
}

// SetOnStepCompleted installs the completion callback.
func (a *StreamAdapter) SetOnStepCompleted(fn func(Completion)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onCompleted = fn
}

// Wait blocks until the stream is drained. Callers use it to notice
// that the watcher process went away.
func (a *StreamAdapter) Wait() {
	a.mu.Lock()
	done := a.done
	a.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (a *StreamAdapter) consume() {
	defer close(a.done)

	scanner := bufio.NewScanner(a.r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var obs streamObservation
		if err := json.Unmarshal(line, &obs); err != nil {
			continue // watcher noise, not fatal
		}
		a.dispatch(obs)
	}
}

// dispatch delivers one observation under the adapter lock, so Stop
// cannot return while a callback is mid-flight. Callbacks must not
// call back into the adapter.
func (a *StreamAdapter) dispatch(obs streamObservation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return
	}

	switch obs.Kind {
	case "action":
		if a.onAction == nil {
			return
		}
		kind := obs.Action
		if kind == "" {
			kind = defaultActionKind(a.labType)
		}
		a.onAction(Action{Kind: kind, StepID: obs.StepID, Text: obs.Text, ExitCode: obs.ExitCode})
	case "completed":
		if a.onCompleted == nil || obs.StepID == "" {
			return
		}
		a.onCompleted(Completion{StepID: obs.StepID, Script: obs.Script})
	}
}

func defaultActionKind(t telemetry.LabType) string {
	switch t {
	case telemetry.LabQuery:
		return ActionQuery
	case telemetry.LabCode:
		return ActionCode
	default:
		return ActionCommand
	}
}
