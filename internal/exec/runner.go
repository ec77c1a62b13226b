// Package exec runs student actions and verification probes through a
// shell, behind an interface so environments stay testable without
// touching the host.
package exec

import (
	"context"
	"errors"
	osexec "os/exec"
)

// Runner executes shell scripts on behalf of a lab environment.
// Inject this instead of calling exec.Command directly.
type Runner interface {
	// RunShell executes script via `sh -c` and returns its combined
	// stdout/stderr and exit status. A non-zero exit is a result, not
	// an error; err is reserved for spawn and context failures.
	RunShell(ctx context.Context, script string) ([]byte, int, error)
}

// OSRunner implements Runner using os/exec.
type OSRunner struct {
	// Env overrides environment variables (nil = inherit from parent)
	Env []string
}

// NewOSRunner creates a new OS-based shell runner.
func NewOSRunner() *OSRunner {
	return &OSRunner{}
}

// RunShell executes script through sh -c.
func (r *OSRunner) RunShell(ctx context.Context, script string) ([]byte, int, error) {
	cmd := osexec.CommandContext(ctx, "sh", "-c", script)
	if r.Env != nil {
		cmd.Env = r.Env
	}
	out, err := cmd.CombinedOutput()
	if err == nil {
		return out, 0, nil
	}
	if ctx.Err() != nil {
		return out, -1, ctx.Err()
	}
	var exitErr *osexec.ExitError
	if errors.As(err, &exitErr) {
		return out, exitErr.ExitCode(), nil
	}
	return out, -1, err
}

// MockRunner implements Runner for testing.
type MockRunner struct {
	// Calls records every script in execution order.
	Calls []string

	// Responses maps exact script text to a canned response.
	Responses map[string]MockResponse

	// DefaultExitCode answers scripts with no canned response.
	DefaultExitCode int
}

// MockResponse defines the response for a mocked script.
type MockResponse struct {
	Output   string
	ExitCode int
	Err      error
}

// NewMockRunner creates a new mock runner.
func NewMockRunner() *MockRunner {
	return &MockRunner{Responses: make(map[string]MockResponse)}
}

// AddResponse sets the response for an exact script.
func (m *MockRunner) AddResponse(script string, resp MockResponse) {
	m.Responses[script] = resp
}

// RunShell records the call and replays the canned response.
func (m *MockRunner) RunShell(ctx context.Context, script string) ([]byte, int, error) {
	m.Calls = append(m.Calls, script)
	if resp, ok := m.Responses[script]; ok {
		return []byte(resp.Output), resp.ExitCode, resp.Err
	}
	return nil, m.DefaultExitCode, nil
}

// Default is the runner used when callers do not inject their own.
var Default Runner = NewOSRunner()
