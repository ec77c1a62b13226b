// Package scenario defines the declarative test-scenario documents the
// orchestrator runs: which module to exercise, the checkpoints that
// must be reached, the success criteria, and optionally a scripted
// action sequence and an environment fixture.
package scenario

import (
	"fmt"
	"regexp"
	"time"

	"github.com/edulabs/labscope/internal/scoring"
)

// Checkpoint trigger kinds.
const (
	TriggerStepCompleted   = "step_completed"
	TriggerCheckPassed     = "check_passed"
	TriggerCommandExecuted = "command_executed"
	TriggerEventOccurred   = "event_occurred"
)

// Environment kinds.
const (
	EnvMock = "mock"
	EnvReal = "real"
)

// Scripted action kinds. An empty kind defaults from the module's lab
// type when the script runs.
const (
	ActionCommand  = "command"
	ActionQuery    = "query"
	ActionCode     = "code"
	ActionHint     = "hint"
	ActionSolution = "solution"
	ActionAnswer   = "answer"
)

// Defaults applied by the loader when a document omits them.
const (
	DefaultTimeoutMs  = 120000
	DefaultMaxActions = 100
)

// Trigger describes what makes a checkpoint count as reached. Exactly
// the fields for its kind are consulted; the rest stay empty.
type Trigger struct {
	Kind string `yaml:"kind" json:"kind"`

	// step_completed and check_passed match on the step.
	StepID string `yaml:"stepId,omitempty" json:"stepId,omitempty"`
	// check_passed optionally narrows to one verification script.
	Script string `yaml:"script,omitempty" json:"script,omitempty"`

	// command_executed matches the command text against a regular
	// expression, optionally requiring an exact exit code.
	Pattern  string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	ExitCode *int   `yaml:"exitCode,omitempty" json:"exitCode,omitempty"`

	// event_occurred matches any event type plus payload field equality.
	EventType string         `yaml:"eventType,omitempty" json:"eventType,omitempty"`
	Match     map[string]any `yaml:"match,omitempty" json:"match,omitempty"`
}

// Checkpoint is a named milestone evaluated against the event log.
type Checkpoint struct {
	ID       string  `yaml:"id" json:"id"`
	Name     string  `yaml:"name,omitempty" json:"name,omitempty"`
	Required bool    `yaml:"required" json:"required"`
	Trigger  Trigger `yaml:"trigger" json:"trigger"`
}

// SuccessCriteria are the independently evaluated pass/fail gates.
// Pointer fields are only evaluated when set.
type SuccessCriteria struct {
	AllCheckpoints     bool     `yaml:"allCheckpoints" json:"allCheckpoints"`
	MinScore           *float64 `yaml:"minScore,omitempty" json:"minScore,omitempty"`
	MaxHints           *int     `yaml:"maxHints,omitempty" json:"maxHints,omitempty"`
	MaxSolutionsViewed *int     `yaml:"maxSolutionsViewed,omitempty" json:"maxSolutionsViewed,omitempty"`
	WithinTimeout      bool     `yaml:"withinTimeout" json:"withinTimeout"`
	MaxActions         *int     `yaml:"maxActions,omitempty" json:"maxActions,omitempty"`
}

// ScriptedAction is one entry of a scenario's scripted action sequence.
type ScriptedAction struct {
	Kind       string `yaml:"kind,omitempty" json:"kind,omitempty"`
	StepID     string `yaml:"stepId,omitempty" json:"stepId,omitempty"`
	Text       string `yaml:"text,omitempty" json:"text,omitempty"`
	HintIndex  int    `yaml:"hintIndex,omitempty" json:"hintIndex,omitempty"`
	QuestionID string `yaml:"questionId,omitempty" json:"questionId,omitempty"`
	Correct    bool   `yaml:"correct,omitempty" json:"correct,omitempty"`

	// WaitMs delays before the action executes. Timeout scenarios use
	// it to simulate a slow student.
	WaitMs int `yaml:"waitMs,omitempty" json:"waitMs,omitempty"`
}

// CompletionRule tells a mock environment when a step counts as done.
// Rules are re-evaluated after every executed action.
type CompletionRule struct {
	StepID  string `yaml:"stepId" json:"stepId"`
	Kind    string `yaml:"rule" json:"rule"`
	User    string `yaml:"user,omitempty" json:"user,omitempty"`
	Group   string `yaml:"group,omitempty" json:"group,omitempty"`
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
}

// Completion rule kinds.
const (
	RuleUserIs         = "user_is"
	RuleUserExists     = "user_exists"
	RuleUserInGroup    = "user_in_group"
	RuleFileExists     = "file_exists"
	RuleCommandMatches = "command_matches"
)

// EnvironmentSpec selects and seeds the execution environment. The
// fixture fields (currentUser, users, groups, files) only apply to
// mock environments; a real host is prepared out of band.
type EnvironmentSpec struct {
	Kind        string              `yaml:"kind" json:"kind"`
	CurrentUser string              `yaml:"currentUser,omitempty" json:"currentUser,omitempty"`
	Users       []string            `yaml:"users,omitempty" json:"users,omitempty"`
	Groups      map[string][]string `yaml:"groups,omitempty" json:"groups,omitempty"`
	Files       map[string]string   `yaml:"files,omitempty" json:"files,omitempty"`
	Completions []CompletionRule    `yaml:"completions,omitempty" json:"completions,omitempty"`

	// ActionTimeoutMs bounds each real-environment shell action.
	ActionTimeoutMs int `yaml:"actionTimeoutMs,omitempty" json:"actionTimeoutMs,omitempty"`
}

// Scenario is one loaded, validated test-scenario document.
type Scenario struct {
	ID        string `yaml:"id" json:"id"`
	Name      string `yaml:"name" json:"name"`
	ModuleID  string `yaml:"moduleId" json:"moduleId"`
	Preset    string `yaml:"preset,omitempty" json:"preset,omitempty"`
	StudentID string `yaml:"studentId,omitempty" json:"studentId,omitempty"`

	TimeoutMs  int `yaml:"timeoutMs,omitempty" json:"timeoutMs,omitempty"`
	MaxActions int `yaml:"maxActions,omitempty" json:"maxActions,omitempty"`

	Checkpoints []Checkpoint     `yaml:"checkpoints" json:"checkpoints"`
	Criteria    *SuccessCriteria `yaml:"successCriteria,omitempty" json:"successCriteria,omitempty"`
	Actions     []ScriptedAction `yaml:"actions,omitempty" json:"actions,omitempty"`
	Environment *EnvironmentSpec `yaml:"environment,omitempty" json:"environment,omitempty"`

	// Path is the source file, set by the loader. Empty for scenarios
	// built in code.
	Path string `yaml:"-" json:"-"`
}

// Timeout returns the advisory run deadline.
func (s *Scenario) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// RequiredCheckpoints returns the checkpoints that gate the verdict.
func (s *Scenario) RequiredCheckpoints() []Checkpoint {
	var out []Checkpoint
	for _, cp := range s.Checkpoints {
		if cp.Required {
			out = append(out, cp)
		}
	}
	return out
}

// applyDefaults fills omitted knobs in place.
func (s *Scenario) applyDefaults() {
	if s.TimeoutMs <= 0 {
		s.TimeoutMs = DefaultTimeoutMs
	}
	if s.MaxActions <= 0 {
		s.MaxActions = DefaultMaxActions
	}
	if s.Preset == "" {
		s.Preset = scoring.PresetPartialCredit
	}
	if s.Criteria == nil {
		s.Criteria = &SuccessCriteria{AllCheckpoints: true, WithinTimeout: true}
	}
}

// Validate checks the document is complete and internally consistent.
// It runs after defaulting, so only genuinely missing fields fail.
func (s *Scenario) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("scenario is missing an id")
	}
	if s.Name == "" {
		return fmt.Errorf("scenario %s: missing name", s.ID)
	}
	if s.ModuleID == "" {
		return fmt.Errorf("scenario %s: missing moduleId", s.ID)
	}
	if len(s.Checkpoints) == 0 {
		return fmt.Errorf("scenario %s: at least one checkpoint is required", s.ID)
	}
	if _, err := scoring.Lookup(s.Preset); err != nil {
		return fmt.Errorf("scenario %s: %w", s.ID, err)
	}

	seen := make(map[string]bool, len(s.Checkpoints))
	for i, cp := range s.Checkpoints {
		if cp.ID == "" {
			return fmt.Errorf("scenario %s: checkpoint %d: missing id", s.ID, i)
		}
		if seen[cp.ID] {
			return fmt.Errorf("scenario %s: duplicate checkpoint id %q", s.ID, cp.ID)
		}
		seen[cp.ID] = true
		if err := cp.Trigger.validate(); err != nil {
			return fmt.Errorf("scenario %s: checkpoint %s: %w", s.ID, cp.ID, err)
		}
	}

	for i, a := range s.Actions {
		if err := validateActionKind(a.Kind); err != nil {
			return fmt.Errorf("scenario %s: action %d: %w", s.ID, i, err)
		}
	}

	if s.Environment != nil {
		if err := s.Environment.validate(); err != nil {
			return fmt.Errorf("scenario %s: environment: %w", s.ID, err)
		}
	}
	return nil
}

func (tr *Trigger) validate() error {
	switch tr.Kind {
	case TriggerStepCompleted:
		if tr.StepID == "" {
			return fmt.Errorf("step_completed trigger needs a stepId")
		}
	case TriggerCheckPassed:
		if tr.StepID == "" {
			return fmt.Errorf("check_passed trigger needs a stepId")
		}
	case TriggerCommandExecuted:
		if tr.Pattern == "" {
			return fmt.Errorf("command_executed trigger needs a pattern")
		}
		if _, err := regexp.Compile(tr.Pattern); err != nil {
			return fmt.Errorf("invalid pattern %q: %w", tr.Pattern, err)
		}
	case TriggerEventOccurred:
		if tr.EventType == "" {
			return fmt.Errorf("event_occurred trigger needs an eventType")
		}
	case "":
		return fmt.Errorf("trigger kind is missing")
	default:
		return fmt.Errorf("unknown trigger kind %q", tr.Kind)
	}
	return nil
}

func validateActionKind(kind string) error {
	switch kind {
	case "", ActionCommand, ActionQuery, ActionCode, ActionHint, ActionSolution, ActionAnswer:
		return nil
	}
	return fmt.Errorf("unknown action kind %q", kind)
}

func (e *EnvironmentSpec) validate() error {
	switch e.Kind {
	case EnvMock, EnvReal:
	case "":
		return fmt.Errorf("kind is missing")
	default:
		return fmt.Errorf("unknown environment kind %q", e.Kind)
	}

	for i, r := range e.Completions {
		if r.StepID == "" {
			return fmt.Errorf("completion rule %d: missing stepId", i)
		}
		switch r.Kind {
		case RuleUserIs, RuleUserExists:
			if r.User == "" {
				return fmt.Errorf("completion rule %d: %s needs a user", i, r.Kind)
			}
		case RuleUserInGroup:
			if r.User == "" || r.Group == "" {
				return fmt.Errorf("completion rule %d: user_in_group needs a user and a group", i)
			}
		case RuleFileExists:
			if r.Path == "" {
				return fmt.Errorf("completion rule %d: file_exists needs a path", i)
			}
		case RuleCommandMatches:
			if r.Pattern == "" {
				return fmt.Errorf("completion rule %d: command_matches needs a pattern", i)
			}
			if _, err := regexp.Compile(r.Pattern); err != nil {
				return fmt.Errorf("completion rule %d: invalid pattern %q: %w", i, r.Pattern, err)
			}
		case "":
			return fmt.Errorf("completion rule %d: missing rule kind", i)
		default:
			return fmt.Errorf("completion rule %d: unknown rule %q", i, r.Kind)
		}
	}
	return nil
}
