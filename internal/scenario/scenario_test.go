package scenario

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const becomeRootYAML = `
id: become-root-happy-path
name: Become root, the short way
moduleId: linux-users
preset: partial_credit
timeoutMs: 5000
maxActions: 10
environment:
  kind: mock
  currentUser: student
  users: [student]
  completions:
    - stepId: become-root
      rule: user_is
      user: root
actions:
  - kind: command
    stepId: become-root
    text: sudo su
checkpoints:
  - id: root-reached
    required: true
    trigger:
      kind: step_completed
      stepId: become-root
  - id: used-sudo
    trigger:
      kind: command_executed
      pattern: "^sudo\\s+su"
      exitCode: 0
successCriteria:
  allCheckpoints: true
  minScore: 0.7
  withinTimeout: true
`

func TestParseFullDocument(t *testing.T) {
	s, err := Parse([]byte(becomeRootYAML))
	require.NoError(t, err)

	assert.Equal(t, "become-root-happy-path", s.ID)
	assert.Equal(t, "linux-users", s.ModuleID)
	assert.Equal(t, 5*time.Second, s.Timeout())
	assert.Equal(t, 10, s.MaxActions)

	require.Len(t, s.Checkpoints, 2)
	assert.Equal(t, TriggerStepCompleted, s.Checkpoints[0].Trigger.Kind)
	assert.True(t, s.Checkpoints[0].Required)
	assert.False(t, s.Checkpoints[1].Required)
	require.NotNil(t, s.Checkpoints[1].Trigger.ExitCode)
	assert.Equal(t, 0, *s.Checkpoints[1].Trigger.ExitCode)

	require.NotNil(t, s.Criteria)
	require.NotNil(t, s.Criteria.MinScore)
	assert.InDelta(t, 0.7, *s.Criteria.MinScore, 1e-9)
	assert.Nil(t, s.Criteria.MaxHints)

	require.NotNil(t, s.Environment)
	assert.Equal(t, EnvMock, s.Environment.Kind)
	require.Len(t, s.Environment.Completions, 1)
	assert.Equal(t, RuleUserIs, s.Environment.Completions[0].Kind)

	require.Len(t, s.RequiredCheckpoints(), 1)
	assert.Equal(t, "root-reached", s.RequiredCheckpoints()[0].ID)
}

func TestParseAppliesDefaults(t *testing.T) {
	s, err := Parse([]byte(`
id: minimal
name: Minimal scenario
moduleId: linux-users
checkpoints:
  - id: done
    trigger:
      kind: step_completed
      stepId: intro
`))
	require.NoError(t, err)

	assert.Equal(t, DefaultTimeoutMs, s.TimeoutMs)
	assert.Equal(t, 2*time.Minute, s.Timeout())
	assert.Equal(t, DefaultMaxActions, s.MaxActions)
	assert.Equal(t, "partial_credit", s.Preset)

	require.NotNil(t, s.Criteria)
	assert.True(t, s.Criteria.AllCheckpoints)
	assert.True(t, s.Criteria.WithinTimeout)
	assert.Nil(t, s.Criteria.MinScore)
}

func TestParseKeepsExplicitCriteria(t *testing.T) {
	s, err := Parse([]byte(`
id: lenient
name: Checkpoints only
moduleId: linux-users
successCriteria:
  allCheckpoints: true
  withinTimeout: false
checkpoints:
  - id: done
    trigger:
      kind: step_completed
      stepId: intro
`))
	require.NoError(t, err)
	assert.False(t, s.Criteria.WithinTimeout, "explicit false must survive defaulting")
}

func TestParseRejections(t *testing.T) {
	base := func(mutate string) string {
		return `
id: s1
name: Scenario
moduleId: linux-users
checkpoints:
  - id: done
    trigger:
      kind: step_completed
      stepId: intro
` + mutate
	}

	cases := []struct {
		name string
		doc  string
		want string
	}{
		{"missing id", `
name: x
moduleId: m
checkpoints: [{id: c, trigger: {kind: step_completed, stepId: s}}]`, "missing an id"},
		{"missing name", `
id: s1
moduleId: m
checkpoints: [{id: c, trigger: {kind: step_completed, stepId: s}}]`, "missing name"},
		{"missing module", `
id: s1
name: x
checkpoints: [{id: c, trigger: {kind: step_completed, stepId: s}}]`, "missing moduleId"},
		{"no checkpoints", `
id: s1
name: x
moduleId: m`, "at least one checkpoint"},
		{"unknown trigger kind", `
id: s1
name: x
moduleId: m
checkpoints: [{id: c, trigger: {kind: telepathy}}]`, `unknown trigger kind "telepathy"`},
		{"trigger missing step", `
id: s1
name: x
moduleId: m
checkpoints: [{id: c, trigger: {kind: step_completed}}]`, "needs a stepId"},
		{"bad command pattern", `
id: s1
name: x
moduleId: m
checkpoints: [{id: c, trigger: {kind: command_executed, pattern: "["}}]`, "invalid pattern"},
		{"missing event type", `
id: s1
name: x
moduleId: m
checkpoints: [{id: c, trigger: {kind: event_occurred}}]`, "needs an eventType"},
		{"duplicate checkpoint ids", `
id: s1
name: x
moduleId: m
checkpoints:
  - {id: c, trigger: {kind: step_completed, stepId: a}}
  - {id: c, trigger: {kind: step_completed, stepId: b}}`, `duplicate checkpoint id "c"`},
		{"unknown preset", base(`preset: generous`), "generous"},
		{"unknown action kind", base(`actions: [{kind: teleport}]`), `unknown action kind "teleport"`},
		{"unknown environment kind", base(`environment: {kind: vm}`), `unknown environment kind "vm"`},
		{"rule missing step", base(`environment:
  kind: mock
  completions: [{rule: user_is, user: root}]`), "missing stepId"},
		{"unknown rule", base(`environment:
  kind: mock
  completions: [{stepId: s, rule: moon_phase}]`), `unknown rule "moon_phase"`},
		{"rule missing field", base(`environment:
  kind: mock
  completions: [{stepId: s, rule: user_in_group, user: alice}]`), "needs a user and a group"},
		{"rule bad pattern", base(`environment:
  kind: mock
  completions: [{stepId: s, rule: command_matches, pattern: "("}]`), "invalid pattern"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func writeScenario(t *testing.T, path, id string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	doc := `
id: ` + id + `
name: Scenario ` + id + `
moduleId: linux-users
checkpoints:
  - id: done
    trigger:
      kind: step_completed
      stepId: intro
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
}

func TestLoadRecordsPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "one.yaml")
	writeScenario(t, path, "one")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, s.Path)
}

func TestLoadGlob(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, filepath.Join(dir, "a", "first.yaml"), "first")
	writeScenario(t, filepath.Join(dir, "b", "second.yml"), "second")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not yaml"), 0644))

	scenarios, err := LoadGlob(filepath.Join(dir, "**", "*.yaml"), filepath.Join(dir, "**", "*.yml"))
	require.NoError(t, err)
	require.Len(t, scenarios, 2)
	assert.Equal(t, "first", scenarios[0].ID)
	assert.Equal(t, "second", scenarios[1].ID)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, filepath.Join(dir, "nested", "deep", "s.yaml"), "deep")

	scenarios, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, scenarios, 1)
	assert.Equal(t, "deep", scenarios[0].ID)
}

func TestLoadGlobRejectsDuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, filepath.Join(dir, "x.yaml"), "same")
	writeScenario(t, filepath.Join(dir, "y.yaml"), "same")

	_, err := LoadGlob(filepath.Join(dir, "*.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate scenario id "same"`)
}

func TestLoadGlobNoMatches(t *testing.T) {
	_, err := LoadGlob(filepath.Join(t.TempDir(), "**", "*.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scenario files match")
}
