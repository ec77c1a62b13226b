package telemetry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileName is the per-session telemetry file inside a session directory.
const FileName = "events.ndjson"

// Log is the durable, append-only event store for one session. One JSON
// object per line; the file is the single source of truth for everything
// that happened in the session.
//
// Append is safe for concurrent use. ReadAll re-opens the file on every
// call, so it always reflects prior appends from this process and stays
// restartable.
type Log struct {
	mu   sync.Mutex
	dir  string
	file *os.File

	sessionID string
	moduleID  string
	studentID string
	labType   LabType
	ended     bool
}

// Open creates the session directory if needed and opens the telemetry file
// for appending.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open telemetry file: %w", err)
	}
	return &Log{dir: dir, file: f}, nil
}

// Dir returns the session directory.
func (l *Log) Dir() string { return l.dir }

// Path returns the telemetry file path.
func (l *Log) Path() string { return filepath.Join(l.dir, FileName) }

// SessionID returns the bound session id, or "" before StartSession.
func (l *Log) SessionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessionID
}

// StartSession binds the log to a fresh session and appends the
// session_started event. attempt numbers repeat runs of the same module.
func (l *Log) StartSession(moduleID, studentID string, labType LabType, attempt int) (string, error) {
	l.mu.Lock()
	l.sessionID = uuid.New().String()
	l.moduleID = moduleID
	l.studentID = studentID
	l.labType = labType
	l.ended = false
	id := l.sessionID
	l.mu.Unlock()

	ev := New(id, moduleID, EventSessionStarted).WithPayload(SessionStartPayload(attempt))
	if err := l.Append(ev); err != nil {
		return "", err
	}
	return id, nil
}

// EndSession appends the session_ended event exactly once. Later calls are
// no-ops so duplicate shutdown paths cannot double-close a session.
func (l *Log) EndSession(reason string, elapsed time.Duration) error {
	l.mu.Lock()
	if l.ended || l.sessionID == "" {
		l.mu.Unlock()
		return nil
	}
	l.ended = true
	id, mod := l.sessionID, l.moduleID
	l.mu.Unlock()

	ev := New(id, mod, EventSessionEnded).WithPayload(SessionEndPayload(reason, elapsed))
	return l.Append(ev)
}

// Append writes one event as a JSON line. Empty session context fields are
// stamped from the bound session so callers that produce events elsewhere
// (environments, adapters) don't have to thread identifiers around.
// Failures are storage errors only; callers log and carry on.
func (l *Log) Append(ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ev.EventID == "" {
		ev.EventID = NewEventID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.SessionID == "" {
		ev.SessionID = l.sessionID
	}
	if ev.ModuleID == "" {
		ev.ModuleID = l.moduleID
	}
	if ev.StudentID == "" {
		ev.StudentID = l.studentID
	}
	if ev.LabType == "" {
		ev.LabType = l.labType
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(l.file, "%s\n", data); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ReadAll replays the full log in append order. It may be called any number
// of times. Blank lines and lines that fail to parse (including a trailing
// partial line from an interrupted write) are skipped.
func (l *Log) ReadAll() ([]Event, error) {
	return ReadFile(l.Path())
}

// Close releases the underlying file. The log must not be appended to
// afterwards; ReadAll keeps working since it re-opens the file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadFile parses a telemetry file written by Log. Consumers of a live
// session file may observe a half-written final line, so lines that fail
// to parse are skipped rather than failing the read.
func ReadFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open telemetry file: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("scan telemetry file: %w", err)
	}
	return events, nil
}

// ReadSessionDir reads the telemetry file from a session directory.
func ReadSessionDir(dir string) ([]Event, error) {
	return ReadFile(filepath.Join(dir, FileName))
}
