// Package scoring turns raw telemetry into per-task evidence and
// aggregate lab progress. Interpretation is pure: the same events,
// steps and preset always yield the same result, so progress can be
// recomputed from the log at any time.
package scoring

import (
	"fmt"
	"sort"
)

// Modifier kinds.
const (
	ModifierHintUsed       = "hint_used"
	ModifierSolutionViewed = "solution_viewed"
	ModifierRetry          = "retry"
	ModifierFirstTryBonus  = "first_try_bonus"
)

// Built-in preset ids.
const (
	PresetStrict        = "strict"
	PresetPartialCredit = "partial_credit"
	PresetPracticeMode  = "practice_mode"
)

// Preset is a named scoring policy. Penalty fields are positive
// magnitudes subtracted from a base confidence of 1.0; FirstTryBonus
// is added when a task is solved with no hints, no solution view and
// no failed checks. MinConfidence floors the result of the penalty
// pipeline; PassThreshold is the minimum confidence for a completed
// task to count as passed.
type Preset struct {
	ID              string  `json:"id" yaml:"id"`
	HintPenalty     float64 `json:"hintPenalty" yaml:"hintPenalty"`
	SolutionPenalty float64 `json:"solutionPenalty" yaml:"solutionPenalty"`
	RetryPenalty    float64 `json:"retryPenalty" yaml:"retryPenalty"`
	FirstTryBonus   float64 `json:"firstTryBonus" yaml:"firstTryBonus"`
	MinConfidence   float64 `json:"minConfidence" yaml:"minConfidence"`
	PassThreshold   float64 `json:"passThreshold" yaml:"passThreshold"`
}

var builtins = map[string]Preset{
	PresetStrict: {
		ID:              PresetStrict,
		HintPenalty:     1.0,
		SolutionPenalty: 1.0,
		RetryPenalty:    1.0,
		FirstTryBonus:   0,
		MinConfidence:   0,
		PassThreshold:   1.0,
	},
	PresetPartialCredit: {
		ID:              PresetPartialCredit,
		HintPenalty:     0.15,
		SolutionPenalty: 0.5,
		RetryPenalty:    0.10,
		FirstTryBonus:   0.05,
		MinConfidence:   0,
		PassThreshold:   0.7,
	},
	PresetPracticeMode: {
		ID:              PresetPracticeMode,
		HintPenalty:     0.05,
		SolutionPenalty: 0.10,
		RetryPenalty:    0,
		FirstTryBonus:   0,
		MinConfidence:   0.25,
		PassThreshold:   0,
	},
}

// Lookup returns the built-in preset for id.
func Lookup(id string) (Preset, error) {
	p, ok := builtins[id]
	if !ok {
		return Preset{}, fmt.Errorf("unknown scoring preset %q", id)
	}
	return p, nil
}

// Derive builds a custom preset from a built-in base. The override
// receives a copy of the base to adjust; the derived preset keeps the
// id the override sets, or the base id if left unchanged.
func Derive(base string, override func(*Preset)) (Preset, error) {
	p, err := Lookup(base)
	if err != nil {
		return Preset{}, err
	}
	if override != nil {
		override(&p)
	}
	return p, nil
}

// BuiltinIDs lists the built-in preset ids, sorted.
func BuiltinIDs() []string {
	ids := make([]string, 0, len(builtins))
	for id := range builtins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
