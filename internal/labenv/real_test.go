package labenv

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edulabs/labscope/internal/exec"
	"github.com/edulabs/labscope/internal/scenario"
	"github.com/edulabs/labscope/internal/telemetry"
)

func newReal(t *testing.T, runner exec.Runner, spec *scenario.EnvironmentSpec) *Real {
	t.Helper()
	r := NewReal(runner, spec)
	require.NoError(t, r.Initialize(usersModule()))
	return r
}

func TestRealRunsActionsThroughShell(t *testing.T) {
	runner := exec.NewMockRunner()
	runner.DefaultExitCode = 1
	runner.AddResponse("id -un", exec.MockResponse{Output: "root\n"})
	runner.AddResponse("sudo su", exec.MockResponse{})

	r := newReal(t, runner, &scenario.EnvironmentSpec{
		Kind: scenario.EnvReal,
		Completions: []scenario.CompletionRule{
			{StepID: "become-root", Kind: scenario.RuleUserIs, User: "root"},
		},
	})

	res, err := r.Execute(Action{Kind: scenario.ActionCommand, StepID: "become-root", Text: "sudo su"})
	require.NoError(t, err)
	assert.Zero(t, res.ExitCode)
	assert.Equal(t, []string{"become-root"}, res.CompletedSteps)

	// The action itself, then the probe.
	assert.Equal(t, []string{"sudo su", "id -un"}, runner.Calls)

	var checks []telemetry.Event
	for _, ev := range r.Events() {
		if ev.Type == telemetry.EventCheckPassed {
			checks = append(checks, ev)
		}
	}
	require.Len(t, checks, 1)
	assert.Equal(t, "id -un", checks[0].Payload.Str("script"))
}

func TestRealProbesPerRule(t *testing.T) {
	runner := exec.NewMockRunner()
	runner.DefaultExitCode = 1
	runner.AddResponse("id -u 'alice'", exec.MockResponse{Output: "1001\n"})
	runner.AddResponse("test -e '/etc/app.conf'", exec.MockResponse{})

	r := newReal(t, runner, &scenario.EnvironmentSpec{
		Kind: scenario.EnvReal,
		Completions: []scenario.CompletionRule{
			{StepID: "become-root", Kind: scenario.RuleUserExists, User: "alice"},
			{StepID: "create-user", Kind: scenario.RuleFileExists, Path: "/etc/app.conf"},
		},
	})

	res, err := r.Execute(Action{Kind: scenario.ActionCommand, Text: "true"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"become-root", "create-user"}, res.CompletedSteps)

	// Completed rules are not probed again.
	res, err = r.Execute(Action{Kind: scenario.ActionCommand, Text: "true"})
	require.NoError(t, err)
	assert.Empty(t, res.CompletedSteps)
	probes := 0
	for _, call := range runner.Calls {
		if call != "true" {
			probes++
		}
	}
	assert.Equal(t, 2, probes)
}

func TestRealCapturesExitCodes(t *testing.T) {
	runner := exec.NewMockRunner()
	runner.AddResponse("grep root /etc/passwd", exec.MockResponse{Output: "no match", ExitCode: 1})

	r := newReal(t, runner, nil)
	res, err := r.Execute(Action{Kind: scenario.ActionCommand, Text: "grep root /etc/passwd"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, "no match", res.Output)

	events := r.Events()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, telemetry.EventStudentAction, last.Type)
	code, ok := last.ExitCode()
	require.True(t, ok)
	assert.Equal(t, 1, code)
}

func TestRealSpawnFailureIsAnError(t *testing.T) {
	runner := exec.NewMockRunner()
	runner.AddResponse("broken", exec.MockResponse{Err: errors.New("fork failed")})

	r := newReal(t, runner, nil)
	_, err := r.Execute(Action{Kind: scenario.ActionCommand, Text: "broken"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fork failed")
}

func TestRealActionTimeoutFromSpec(t *testing.T) {
	r := NewReal(exec.NewMockRunner(), &scenario.EnvironmentSpec{
		Kind:            scenario.EnvReal,
		ActionTimeoutMs: 250,
	})
	assert.Equal(t, 250*time.Millisecond, r.timeout)

	r = NewReal(exec.NewMockRunner(), nil)
	assert.Equal(t, DefaultActionTimeout, r.timeout)
}

func TestRealDisposed(t *testing.T) {
	r := newReal(t, exec.NewMockRunner(), nil)
	require.NoError(t, r.Dispose())
	_, err := r.Execute(Action{Kind: scenario.ActionCommand, Text: "whoami"})
	require.Error(t, err)
}
