package telemetry

import "time"

// Payload carries the event-type-specific fields of an event. It stays a
// plain map so that generic checkpoint matching can filter on arbitrary
// fields; the typed accessors below absorb the numeric widening that
// JSON round-trips introduce.
type Payload map[string]any

// Str extracts a string field, or "" when absent or of another type.
func (p Payload) Str(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// Int extracts an integer field. JSON decoding yields float64, so both
// widths are accepted.
func (p Payload) Int(key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Float extracts a float field.
func (p Payload) Float(key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// Bool extracts a boolean field, or false when absent.
func (p Payload) Bool(key string) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return false
}

// Has reports whether the field is present at all.
func (p Payload) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// CommandPayload is the legacy single-purpose shape for executed commands.
func CommandPayload(command string, exitCode int) Payload {
	return Payload{"command": command, "exit_code": exitCode}
}

// ActionPayload is the unified student_action shape. actionType is one of
// command, query, code, hint, solution, answer; the text lands under the
// field named after the action type so both event generations stay readable.
func ActionPayload(actionType, text string, exitCode int) Payload {
	p := Payload{"action_type": actionType}
	if text != "" {
		p[actionType] = text
	}
	if actionType == "command" || actionType == "query" || actionType == "code" {
		p["exit_code"] = exitCode
	}
	return p
}

// HintPayload records which hint index was revealed (zero-based).
func HintPayload(index int) Payload {
	return Payload{"hint_index": index}
}

// QuestionPayload records an answered quiz question.
func QuestionPayload(questionID string, correct bool) Payload {
	return Payload{"question_id": questionID, "correct": correct}
}

// CheckPayload records one verification-script outcome.
func CheckPayload(script string, exitCode int) Payload {
	p := Payload{"exit_code": exitCode}
	if script != "" {
		p["script"] = script
	}
	return p
}

// SessionStartPayload records the attempt number for a starting session.
func SessionStartPayload(attempt int) Payload {
	return Payload{"attempt": attempt}
}

// SessionEndPayload records why and after how long a session ended.
func SessionEndPayload(reason string, elapsed time.Duration) Payload {
	return Payload{"reason": reason, "elapsed_ms": elapsed.Milliseconds()}
}
