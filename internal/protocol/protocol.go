// Package protocol defines the hub↔UI communication protocol.
// Messages use JSON envelope format, one per line, over a local
// domain socket.
//
// The hub is the only required writer: it pushes progress
// notifications and heartbeats at the UI. The UI may write control
// messages back; both sides must tolerate and skip lines they cannot
// parse, so either end can evolve independently.
package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// MessageType identifies the kind of message.
type MessageType string

const (
	// Hub → UI
	MsgTaskCompleted  MessageType = "taskCompleted"
	MsgLabStatus      MessageType = "labStatus"
	MsgPing           MessageType = "ping"
	MsgStepAdded      MessageType = "stepAdded"
	MsgQuestionResult MessageType = "questionResult"
	MsgHighlight      MessageType = "highlight"
)

// Lab status values carried by labStatus messages.
const (
	StatusRunning = "running"
	StatusStopped = "stopped"
)

// Envelope wraps all protocol messages.
type Envelope struct {
	Type      MessageType `json:"type"`
	ID        string      `json:"id"`                // Message ID for correlation
	Timestamp string      `json:"ts"`                // ISO8601
	Payload   any         `json:"payload,omitempty"` // Type-specific data
}

// NewEnvelope creates a new envelope with auto-generated ID and timestamp.
func NewEnvelope(msgType MessageType, payload any) *Envelope {
	return &Envelope{
		Type:      msgType,
		ID:        fmt.Sprintf("msg-%d", time.Now().UnixNano()),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
}

// TaskCompletedPayload announces a genuine (non-duplicate) step
// completion. The promise to the UI: the state snapshot already
// reflects the completion by the time this message is readable.
type TaskCompletedPayload struct {
	TaskID string `json:"taskId"`
	StepID string `json:"stepId"`
	Source string `json:"source"`
}

// LabStatusPayload reports session lifecycle transitions.
type LabStatusPayload struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// StepAddedPayload announces a dynamically inserted step.
type StepAddedPayload struct {
	StepID      string `json:"stepId"`
	AfterStepID string `json:"afterStepId,omitempty"`
}

// QuestionResultPayload acknowledges a graded quiz answer.
type QuestionResultPayload struct {
	StepID  string `json:"stepId"`
	Correct bool   `json:"correct"`
}

// HighlightPayload asks the UI to navigate to a step
// (presentation-mode sessions).
type HighlightPayload struct {
	StepID string `json:"stepId"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Encoder/Decoder for streaming JSON lines
// ─────────────────────────────────────────────────────────────────────────────

// Encoder writes envelopes as JSON lines. Safe for concurrent use;
// the hub's heartbeat and dispatch goroutines share one encoder.
type Encoder struct {
	w  io.Writer
	mu sync.Mutex
}

// NewEncoder creates an encoder for the given writer.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes an envelope as a single JSON line.
func (e *Encoder) Encode(env *Envelope) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	_, err = fmt.Fprintf(e.w, "%s\n", data)
	return err
}

// Send is a convenience method to create and encode an envelope.
func (e *Encoder) Send(msgType MessageType, payload any) error {
	return e.Encode(NewEnvelope(msgType, payload))
}

// Decoder reads envelopes from JSON lines. Lines that fail to parse
// are skipped, not surfaced: unknown content from the peer must never
// wedge the stream.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder creates a decoder for the given reader.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	// Allow large messages (up to 1MB)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return &Decoder{scanner: scanner}
}

// Decode reads the next well-formed envelope.
func (d *Decoder) Decode() (*Envelope, error) {
	for d.scanner.Scan() {
		line := d.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			continue // Forward-compatible: skip what we cannot parse
		}
		return &env, nil
	}
	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// ─────────────────────────────────────────────────────────────────────────────
// Payload extraction helpers
// ─────────────────────────────────────────────────────────────────────────────

// GetPayload extracts and unmarshals the payload into the target type.
func (e *Envelope) GetPayload(target any) error {
	if e.Payload == nil {
		return nil
	}

	// Payload comes as map[string]any from JSON, re-marshal to unmarshal into struct
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

// AsTaskCompleted extracts TaskCompletedPayload.
func (e *Envelope) AsTaskCompleted() (*TaskCompletedPayload, error) {
	var p TaskCompletedPayload
	if err := e.GetPayload(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// AsLabStatus extracts LabStatusPayload.
func (e *Envelope) AsLabStatus() (*LabStatusPayload, error) {
	var p LabStatusPayload
	if err := e.GetPayload(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// AsStepAdded extracts StepAddedPayload.
func (e *Envelope) AsStepAdded() (*StepAddedPayload, error) {
	var p StepAddedPayload
	if err := e.GetPayload(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// AsQuestionResult extracts QuestionResultPayload.
func (e *Envelope) AsQuestionResult() (*QuestionResultPayload, error) {
	var p QuestionResultPayload
	if err := e.GetPayload(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// AsHighlight extracts HighlightPayload.
func (e *Envelope) AsHighlight() (*HighlightPayload, error) {
	var p HighlightPayload
	if err := e.GetPayload(&p); err != nil {
		return nil, err
	}
	return &p, nil
}
