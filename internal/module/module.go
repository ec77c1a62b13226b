// Package module defines the lab module catalog: the read-only step
// lists that scoring and orchestration run against.
package module

import (
	"fmt"
	"strings"

	"github.com/edulabs/labscope/internal/telemetry"
)

// Step is a single unit of work inside a module. Steps with Task set
// are gradable; informational steps carry content only and never
// contribute to scores.
type Step struct {
	ID     string   `json:"id" yaml:"id"`
	Title  string   `json:"title" yaml:"title"`
	Task   bool     `json:"task" yaml:"task"`
	Hints  []string `json:"hints,omitempty" yaml:"hints,omitempty"`
	Weight float64  `json:"weight,omitempty" yaml:"weight,omitempty"`
}

// TaskWeight returns the step's scoring weight, defaulting to 1.0.
func (s Step) TaskWeight() float64 {
	if s.Weight > 0 {
		return s.Weight
	}
	return 1.0
}

// Module is a complete lab definition.
type Module struct {
	ID      string            `json:"id" yaml:"id"`
	Name    string            `json:"name" yaml:"name"`
	LabType telemetry.LabType `json:"labType" yaml:"labType"`
	Steps   []Step            `json:"steps" yaml:"steps"`
}

// TaskSteps returns the gradable steps in definition order.
func (m *Module) TaskSteps() []Step {
	var tasks []Step
	for _, s := range m.Steps {
		if s.Task {
			tasks = append(tasks, s)
		}
	}
	return tasks
}

// Step looks up a step by id.
func (m *Module) Step(id string) (Step, bool) {
	for _, s := range m.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// Validate checks structural requirements on a module definition.
func (m *Module) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("module id must not be empty")
	}
	if len(m.Steps) == 0 {
		return fmt.Errorf("module %q has no steps", m.ID)
	}
	seen := make(map[string]bool, len(m.Steps))
	for i, s := range m.Steps {
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("module %q: step[%d] id must not be empty", m.ID, i)
		}
		if seen[s.ID] {
			return fmt.Errorf("module %q: duplicate step id %q", m.ID, s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// Catalog resolves module ids to definitions.
type Catalog interface {
	// Lookup returns the module for id. A missing module is an error,
	// not a nil result.
	Lookup(id string) (*Module, error)
}

// NotFoundError reports a module id absent from the catalog.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("module %q not found in catalog", e.ID)
}

// StaticCatalog serves modules from an in-memory list.
type StaticCatalog struct {
	modules map[string]*Module
}

// NewStaticCatalog builds a catalog from module definitions.
// Duplicate ids and invalid modules are rejected.
func NewStaticCatalog(modules ...*Module) (*StaticCatalog, error) {
	c := &StaticCatalog{modules: make(map[string]*Module, len(modules))}
	for _, m := range modules {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.modules[m.ID]; dup {
			return nil, fmt.Errorf("duplicate module id %q", m.ID)
		}
		c.modules[m.ID] = m
	}
	return c, nil
}

// Lookup implements Catalog.
func (c *StaticCatalog) Lookup(id string) (*Module, error) {
	m, ok := c.modules[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return m, nil
}

// IDs returns the catalog's module ids in unspecified order.
func (c *StaticCatalog) IDs() []string {
	ids := make([]string, 0, len(c.modules))
	for id := range c.modules {
		ids = append(ids, id)
	}
	return ids
}
