// Package telemetry defines the immutable event model for lab sessions and
// the append-only log that persists it. Events are facts: once appended they
// are never mutated or deleted, and every derived view (scores, progress,
// state snapshots) must be recomputable from the log alone.
package telemetry

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// EventType classifies observed occurrences during a lab session.
type EventType string

const (
	// Student activity, legacy single-purpose shapes.
	EventCommandExecuted EventType = "command_executed"
	EventQueryExecuted   EventType = "query_executed"
	EventCodeExecuted    EventType = "code_executed"

	// Unified action shape carrying an action_type discriminator in the
	// payload. Newer adapters emit this instead of the per-kind events above;
	// consumers must match on both.
	EventStudentAction EventType = "student_action"

	EventHintRequested    EventType = "hint_requested"
	EventSolutionViewed   EventType = "solution_viewed"
	EventCheckPassed      EventType = "check_passed"
	EventCheckFailed      EventType = "check_failed"
	EventQuestionAnswered EventType = "question_answered"
	EventStepStarted      EventType = "step_started"
	EventStepCompleted    EventType = "step_completed"
	EventSessionStarted   EventType = "session_started"
	EventSessionEnded     EventType = "session_ended"
)

var knownTypes = map[EventType]bool{
	EventCommandExecuted:  true,
	EventQueryExecuted:    true,
	EventCodeExecuted:     true,
	EventStudentAction:    true,
	EventHintRequested:    true,
	EventSolutionViewed:   true,
	EventCheckPassed:      true,
	EventCheckFailed:      true,
	EventQuestionAnswered: true,
	EventStepStarted:      true,
	EventStepCompleted:    true,
	EventSessionStarted:   true,
	EventSessionEnded:     true,
}

// IsKnown reports whether t is part of the closed event-type set.
// Generic checkpoint matching accepts unknown types; everything else
// should reject them at the boundary.
func IsKnown(t EventType) bool {
	return knownTypes[t]
}

// LabType identifies the kind of sandboxed environment being observed.
type LabType string

const (
	LabShell LabType = "shell"
	LabQuery LabType = "query"
	LabCode  LabType = "code"
)

// Event is one immutable observation from a lab session.
type Event struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"ts"`
	SessionID string    `json:"session_id"`
	ModuleID  string    `json:"module_id"`
	StudentID string    `json:"student_id,omitempty"`
	StepID    string    `json:"step_id,omitempty"`
	LabType   LabType   `json:"lab_type,omitempty"`
	Type      EventType `json:"type"`
	Payload   Payload   `json:"payload,omitempty"`
}

// NewEventID returns a fresh ULID. ULIDs sort lexicographically by creation
// time, which keeps the log totally ordered even when wall-clock timestamps
// collide at millisecond resolution.
func NewEventID() string {
	return ulid.Make().String()
}

// New constructs an event with a fresh ID and UTC timestamp.
func New(sessionID, moduleID string, t EventType) Event {
	return Event{
		EventID:   NewEventID(),
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		ModuleID:  moduleID,
		Type:      t,
	}
}

// WithStep returns a copy of e bound to a step.
func (e Event) WithStep(stepID string) Event {
	e.StepID = stepID
	return e
}

// WithPayload returns a copy of e carrying the given payload.
func (e Event) WithPayload(p Payload) Event {
	e.Payload = p
	return e
}

// CommandText extracts the command string from either command-event shape:
// the legacy command_executed payload or the unified student_action payload.
// Returns "" when e is not a command-like event.
func (e Event) CommandText() string {
	switch e.Type {
	case EventCommandExecuted, EventQueryExecuted, EventCodeExecuted:
		return e.Payload.Str("command")
	case EventStudentAction:
		switch e.Payload.Str("action_type") {
		case "command":
			return e.Payload.Str("command")
		case "query":
			return e.Payload.Str("query")
		case "code":
			return e.Payload.Str("code")
		}
	}
	return ""
}

// ExitCode extracts the exit code from either command-event shape.
// The second return is false when no exit code is present.
func (e Event) ExitCode() (int, bool) {
	switch e.Type {
	case EventCommandExecuted, EventQueryExecuted, EventCodeExecuted, EventStudentAction:
		if e.Payload.Has("exit_code") {
			return e.Payload.Int("exit_code"), true
		}
	}
	return 0, false
}
