package labenv

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/edulabs/labscope/internal/module"
	"github.com/edulabs/labscope/internal/scenario"
	"github.com/edulabs/labscope/internal/telemetry"
)

type mockFile struct {
	content string
	mode    string
	owner   string
	dir     bool
}

// Mock simulates just enough of a linux host for user-management and
// file-exercise labs: users, groups, a flat file table and a current
// user. Command semantics cover the verbs lab modules actually teach;
// anything else exits 127 like a shell would.
type Mock struct {
	spec *scenario.EnvironmentSpec
	mod  *module.Module

	disposed    bool
	currentUser string
	users       map[string]bool
	groups      map[string]map[string]bool
	files       map[string]*mockFile

	rules     []scenario.CompletionRule
	completed map[string]bool
	started   map[string]bool
	events    []telemetry.Event

	actions    int
	lastOutput string
	lastExit   int
}

// NewMock creates a mock environment seeded from spec. A nil spec
// gives the default fixture: user "student" logged in, plus root.
func NewMock(spec *scenario.EnvironmentSpec) *Mock {
	m := &Mock{spec: spec}
	m.reset()
	return m
}

// Initialize binds the module and reseeds the fixture.
func (m *Mock) Initialize(mod *module.Module) error {
	if m.disposed {
		return fmt.Errorf("environment disposed")
	}
	m.mod = mod
	m.reset()
	return nil
}

func (m *Mock) reset() {
	m.currentUser = "student"
	m.users = map[string]bool{"root": true, "student": true}
	m.groups = map[string]map[string]bool{}
	m.files = map[string]*mockFile{}
	m.rules = nil
	m.completed = map[string]bool{}
	m.started = map[string]bool{}
	m.events = nil
	m.actions = 0
	m.lastOutput = ""
	m.lastExit = 0

	if m.spec == nil {
		return
	}
	if m.spec.CurrentUser != "" {
		m.currentUser = m.spec.CurrentUser
	}
	for _, u := range m.spec.Users {
		m.users[u] = true
	}
	m.users[m.currentUser] = true
	for group, members := range m.spec.Groups {
		set := map[string]bool{}
		for _, u := range members {
			set[u] = true
			m.users[u] = true
		}
		m.groups[group] = set
	}
	for path, content := range m.spec.Files {
		m.files[path] = &mockFile{content: content, mode: "0644", owner: "root"}
	}
	m.rules = append(m.rules, m.spec.Completions...)
}

// Execute performs one action, records its telemetry, and re-checks
// the completion rules.
func (m *Mock) Execute(a Action) (Result, error) {
	if m.disposed {
		return Result{}, fmt.Errorf("environment disposed")
	}
	if m.mod == nil {
		return Result{}, fmt.Errorf("environment not initialized")
	}

	m.actions++
	if a.StepID != "" && !m.started[a.StepID] {
		m.started[a.StepID] = true
		m.emit(telemetry.EventStepStarted, a.StepID, nil)
	}

	var res Result
	commandText := ""
	switch a.Kind {
	case "", scenario.ActionCommand:
		out, code := m.runCommand(a.Text)
		m.lastOutput, m.lastExit = out, code
		commandText = a.Text
		m.emit(telemetry.EventStudentAction, a.StepID,
			telemetry.ActionPayload(scenario.ActionCommand, a.Text, code))
		res = Result{ExitCode: code, Output: out}
	case scenario.ActionQuery, scenario.ActionCode:
		// No interpreter behind these in the mock; they exist so
		// query/code scenarios can exercise pattern checkpoints.
		m.lastOutput, m.lastExit = "", 0
		commandText = a.Text
		m.emit(telemetry.EventStudentAction, a.StepID,
			telemetry.ActionPayload(a.Kind, a.Text, 0))
	case scenario.ActionHint:
		m.emit(telemetry.EventHintRequested, a.StepID, telemetry.HintPayload(a.HintIndex))
	case scenario.ActionSolution:
		m.emit(telemetry.EventSolutionViewed, a.StepID, nil)
	case scenario.ActionAnswer:
		m.emit(telemetry.EventQuestionAnswered, a.StepID,
			telemetry.QuestionPayload(a.QuestionID, a.Correct))
	default:
		return Result{}, fmt.Errorf("unknown action kind %q", a.Kind)
	}

	res.CompletedSteps = m.checkRules(commandText)
	return res, nil
}

// checkRules evaluates every completion rule and completes the steps
// whose rules newly hold. A step with several rules completes on the
// first one that matches.
func (m *Mock) checkRules(commandText string) []string {
	var newly []string
	for _, rule := range m.rules {
		if m.completed[rule.StepID] {
			continue
		}
		if !m.ruleHolds(rule, commandText) {
			continue
		}
		m.completed[rule.StepID] = true
		m.emit(telemetry.EventCheckPassed, rule.StepID, telemetry.CheckPayload(rule.Kind, 0))
		m.emit(telemetry.EventStepCompleted, rule.StepID, nil)
		newly = append(newly, rule.StepID)
	}
	return newly
}

func (m *Mock) ruleHolds(rule scenario.CompletionRule, commandText string) bool {
	switch rule.Kind {
	case scenario.RuleUserIs:
		return m.currentUser == rule.User
	case scenario.RuleUserExists:
		return m.users[rule.User]
	case scenario.RuleUserInGroup:
		return m.groups[rule.Group][rule.User]
	case scenario.RuleFileExists:
		_, ok := m.files[rule.Path]
		return ok
	case scenario.RuleCommandMatches:
		if commandText == "" {
			return false
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return false
		}
		return re.MatchString(commandText)
	}
	return false
}

// State snapshots the host.
func (m *Mock) State() State {
	groups := make(map[string][]string, len(m.groups))
	for g, members := range m.groups {
		groups[g] = sortedKeys(members)
	}
	return State{
		CurrentUser:    m.currentUser,
		Users:          sortedKeys(m.users),
		Groups:         groups,
		Files:          sortedKeys(m.files),
		CompletedSteps: sortedKeys(m.completed),
		ActionsTaken:   m.actions,
		LastOutput:     m.lastOutput,
		LastExitCode:   m.lastExit,
	}
}

// Events returns the accumulated telemetry.
func (m *Mock) Events() []telemetry.Event {
	out := make([]telemetry.Event, len(m.events))
	copy(out, m.events)
	return out
}

// Dispose releases the environment.
func (m *Mock) Dispose() error {
	m.disposed = true
	return nil
}

func (m *Mock) emit(t telemetry.EventType, stepID string, p telemetry.Payload) {
	m.events = append(m.events, newEvent(m.mod, t, stepID, p))
}

// ───────────────────────────────────────────────────────────────────
// Command interpreter
// ───────────────────────────────────────────────────────────────────

func (m *Mock) runCommand(text string) (string, int) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", 0
	}

	fields := strings.Fields(trimmed)
	asRoot := m.currentUser == "root"
	if fields[0] == "sudo" {
		asRoot = true
		fields = fields[1:]
		if len(fields) == 0 || fields[0] == "-i" {
			m.currentUser = "root"
			return "", 0
		}
	}

	name, args := fields[0], fields[1:]
	switch name {
	case "su":
		return m.cmdSu(args, asRoot)
	case "useradd":
		return m.cmdUseradd(args, asRoot)
	case "groupadd":
		return m.cmdGroupadd(args, asRoot)
	case "usermod":
		return m.cmdUsermod(args, asRoot)
	case "mkdir":
		return m.cmdMkdir(args, asRoot)
	case "touch":
		return m.cmdTouch(args, asRoot)
	case "rm":
		return m.cmdRm(args)
	case "chmod":
		return m.cmdChmod(args)
	case "chown":
		return m.cmdChown(args, asRoot)
	case "echo":
		return m.cmdEcho(trimmed, asRoot)
	case "cat":
		return m.cmdCat(args)
	case "id":
		return m.cmdID(args, asRoot)
	case "whoami":
		return m.effectiveUser(asRoot) + "\n", 0
	}
	return fmt.Sprintf("sh: %s: command not found\n", name), 127
}

func (m *Mock) cmdSu(args []string, asRoot bool) (string, int) {
	target := "root"
	for _, a := range args {
		if a != "-" && a != "-l" && !strings.HasPrefix(a, "-") {
			target = a
			break
		}
	}
	if !asRoot {
		return "su: Authentication failure\n", 1
	}
	if !m.users[target] {
		return fmt.Sprintf("su: user %s does not exist\n", target), 1
	}
	m.currentUser = target
	return "", 0
}

func (m *Mock) cmdUseradd(args []string, asRoot bool) (string, int) {
	if !asRoot {
		return "useradd: Permission denied.\n", 1
	}
	name := lastPositional(args)
	if name == "" {
		return "Usage: useradd [options] LOGIN\n", 2
	}
	if m.users[name] {
		return fmt.Sprintf("useradd: user '%s' already exists\n", name), 9
	}
	m.users[name] = true
	m.groups[name] = map[string]bool{name: true}
	m.files["/home/"+name] = &mockFile{mode: "0755", owner: name, dir: true}
	return "", 0
}

func (m *Mock) cmdGroupadd(args []string, asRoot bool) (string, int) {
	if !asRoot {
		return "groupadd: Permission denied.\n", 1
	}
	name := lastPositional(args)
	if name == "" {
		return "Usage: groupadd [options] GROUP\n", 2
	}
	if _, ok := m.groups[name]; ok {
		return fmt.Sprintf("groupadd: group '%s' already exists\n", name), 9
	}
	m.groups[name] = map[string]bool{}
	return "", 0
}

func (m *Mock) cmdUsermod(args []string, asRoot bool) (string, int) {
	if !asRoot {
		return "usermod: Permission denied.\n", 1
	}

	var groupList, user string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if strings.HasPrefix(a, "-") {
			if strings.Contains(a, "G") && i+1 < len(args) {
				i++
				groupList = args[i]
			}
			continue
		}
		user = a
	}
	if user == "" || groupList == "" {
		return "Usage: usermod [options] LOGIN\n", 2
	}
	if !m.users[user] {
		return fmt.Sprintf("usermod: user '%s' does not exist\n", user), 6
	}
	for _, g := range strings.Split(groupList, ",") {
		members, ok := m.groups[g]
		if !ok {
			return fmt.Sprintf("usermod: group '%s' does not exist\n", g), 6
		}
		members[user] = true
	}
	return "", 0
}

func (m *Mock) cmdMkdir(args []string, asRoot bool) (string, int) {
	parents := false
	var paths []string
	for _, a := range args {
		if a == "-p" {
			parents = true
			continue
		}
		paths = append(paths, a)
	}
	for _, p := range paths {
		if _, ok := m.files[p]; ok {
			if parents {
				continue
			}
			return fmt.Sprintf("mkdir: cannot create directory '%s': File exists\n", p), 1
		}
		m.files[p] = &mockFile{mode: "0755", owner: m.effectiveUser(asRoot), dir: true}
	}
	return "", 0
}

func (m *Mock) cmdTouch(args []string, asRoot bool) (string, int) {
	for _, p := range args {
		if strings.HasPrefix(p, "-") {
			continue
		}
		if _, ok := m.files[p]; !ok {
			m.files[p] = &mockFile{mode: "0644", owner: m.effectiveUser(asRoot)}
		}
	}
	return "", 0
}

func (m *Mock) cmdRm(args []string) (string, int) {
	recursive, force := false, false
	var paths []string
	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			if strings.Contains(a, "r") || strings.Contains(a, "R") {
				recursive = true
			}
			if strings.Contains(a, "f") {
				force = true
			}
			continue
		}
		paths = append(paths, a)
	}
	for _, p := range paths {
		f, ok := m.files[p]
		if !ok {
			if force {
				continue
			}
			return fmt.Sprintf("rm: cannot remove '%s': No such file or directory\n", p), 1
		}
		if f.dir && !recursive {
			return fmt.Sprintf("rm: cannot remove '%s': Is a directory\n", p), 1
		}
		delete(m.files, p)
		if f.dir {
			for child := range m.files {
				if strings.HasPrefix(child, p+"/") {
					delete(m.files, child)
				}
			}
		}
	}
	return "", 0
}

func (m *Mock) cmdChmod(args []string) (string, int) {
	if len(args) < 2 {
		return "chmod: missing operand\n", 1
	}
	mode := args[0]
	for _, p := range args[1:] {
		f, ok := m.files[p]
		if !ok {
			return fmt.Sprintf("chmod: cannot access '%s': No such file or directory\n", p), 1
		}
		f.mode = mode
	}
	return "", 0
}

func (m *Mock) cmdChown(args []string, asRoot bool) (string, int) {
	if len(args) < 2 {
		return "chown: missing operand\n", 1
	}
	owner := args[0]
	if i := strings.IndexByte(owner, ':'); i >= 0 {
		owner = owner[:i]
	}
	if !asRoot {
		return fmt.Sprintf("chown: changing ownership of '%s': Operation not permitted\n", args[1]), 1
	}
	if !m.users[owner] {
		return fmt.Sprintf("chown: invalid user: '%s'\n", args[0]), 1
	}
	for _, p := range args[1:] {
		f, ok := m.files[p]
		if !ok {
			return fmt.Sprintf("chown: cannot access '%s': No such file or directory\n", p), 1
		}
		f.owner = owner
	}
	return "", 0
}

// cmdEcho handles `echo text`, `echo text > file` and `echo text >> file`.
func (m *Mock) cmdEcho(trimmed string, asRoot bool) (string, int) {
	rest := strings.TrimSpace(strings.TrimPrefix(trimmed, "echo"))

	redirect, appendTo := "", false
	if i := strings.Index(rest, ">>"); i >= 0 {
		redirect = strings.TrimSpace(rest[i+2:])
		rest = strings.TrimSpace(rest[:i])
		appendTo = true
	} else if i := strings.IndexByte(rest, '>'); i >= 0 {
		redirect = strings.TrimSpace(rest[i+1:])
		rest = strings.TrimSpace(rest[:i])
	}
	content := unquote(rest)

	if redirect == "" {
		return content + "\n", 0
	}
	f, ok := m.files[redirect]
	if !ok {
		f = &mockFile{mode: "0644", owner: m.effectiveUser(asRoot)}
		m.files[redirect] = f
	}
	if appendTo {
		f.content += content + "\n"
	} else {
		f.content = content + "\n"
	}
	return "", 0
}

func (m *Mock) cmdCat(args []string) (string, int) {
	var out strings.Builder
	for _, p := range args {
		if strings.HasPrefix(p, "-") {
			continue
		}
		f, ok := m.files[p]
		if !ok {
			return fmt.Sprintf("cat: %s: No such file or directory\n", p), 1
		}
		if f.dir {
			return fmt.Sprintf("cat: %s: Is a directory\n", p), 1
		}
		out.WriteString(f.content)
	}
	return out.String(), 0
}

func (m *Mock) cmdID(args []string, asRoot bool) (string, int) {
	user := m.effectiveUser(asRoot)
	if name := lastPositional(args); name != "" {
		user = name
	}
	if !m.users[user] {
		return fmt.Sprintf("id: '%s': no such user\n", user), 1
	}

	uid := 1000
	if user == "root" {
		uid = 0
	}
	memberships := []string{user}
	for _, g := range sortedKeys(m.groups) {
		if g != user && m.groups[g][user] {
			memberships = append(memberships, g)
		}
	}
	return fmt.Sprintf("uid=%d(%s) gid=%d(%s) groups=%s\n",
		uid, user, uid, user, strings.Join(memberships, ",")), 0
}

func (m *Mock) effectiveUser(asRoot bool) string {
	if asRoot {
		return "root"
	}
	return m.currentUser
}

func lastPositional(args []string) string {
	name := ""
	for i := 0; i < len(args); i++ {
		a := args[i]
		if strings.HasPrefix(a, "-") {
			// These flags consume a value token.
			switch a {
			case "-s", "-g", "-u", "-d", "-c", "-G", "-p":
				i++
			}
			continue
		}
		name = a
	}
	return name
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
