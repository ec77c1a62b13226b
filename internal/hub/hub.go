// Package hub wires one live lab session together: the telemetry log,
// the state snapshot, the UI channel and a lab adapter. One hub owns
// one session; there is no cross-session sharing.
package hub

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/edulabs/labscope/internal/labstate"
	"github.com/edulabs/labscope/internal/logging"
	"github.com/edulabs/labscope/internal/module"
	"github.com/edulabs/labscope/internal/protocol"
	"github.com/edulabs/labscope/internal/scoring"
	"github.com/edulabs/labscope/internal/telemetry"
)

// State is the hub lifecycle phase.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// Session outcomes recorded on session_ended.
const (
	OutcomeCompleted = "completed"
	OutcomeAbandoned = "abandoned"
)

const (
	DefaultHeartbeat   = 10 * time.Second
	DefaultDedupWindow = time.Second
)

// Config assembles a hub.
type Config struct {
	Dir       string // session directory for telemetry and state
	Module    *module.Module
	StudentID string
	Attempt   int
	Preset    scoring.Preset
	Adapter   Adapter

	// SocketPath is the UI socket. Empty disables UI notifications
	// entirely; an unreachable socket merely degrades them.
	SocketPath   string
	DialAttempts int
	DialDelay    time.Duration

	Heartbeat   time.Duration
	DedupWindow time.Duration

	// OnCompleted, when set, runs after each genuine completion has
	// been logged, written to state and pushed at the UI. It executes
	// inside the dispatch critical section and must not call back
	// into the hub.
	OnCompleted func(stepID, source string)
}

// Hub is the per-session event hub.
type Hub struct {
	cfg    Config
	logger *logging.Logger

	// mu is the dispatch lock: every observation and every lifecycle
	// transition funnels through it.
	mu        sync.Mutex
	state     State
	log       *telemetry.Log
	writer    *labstate.Writer
	sessionID string
	startedAt time.Time
	completed map[string]struct{}
	lastSeen  map[string]time.Time

	heartbeatStop chan struct{}
	heartbeatDone chan struct{}

	// uiMu guards the UI connection separately so the heartbeat can
	// send without contending with dispatch. Lock order: mu, then uiMu.
	uiMu   sync.Mutex
	ui     *protocol.Client
	uiDead bool
}

// New validates the config and returns an idle hub.
func New(cfg Config) (*Hub, error) {
	if cfg.Module == nil {
		return nil, errors.New("hub: module is required")
	}
	if cfg.Adapter == nil {
		return nil, errors.New("hub: adapter is required")
	}
	if cfg.Dir == "" {
		return nil, errors.New("hub: session directory is required")
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = DefaultDedupWindow
	}
	if cfg.DialAttempts <= 0 {
		cfg.DialAttempts = protocol.DefaultDialAttempts
	}
	if cfg.DialDelay <= 0 {
		cfg.DialDelay = protocol.DefaultDialDelay
	}
	return &Hub{
		cfg:       cfg,
		logger:    logging.New("hub").WithModule(cfg.Module.ID),
		state:     StateIdle,
		completed: make(map[string]struct{}),
		lastSeen:  make(map[string]time.Time),
	}, nil
}

// State returns the current lifecycle phase.
func (h *Hub) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// SessionID returns the live session id, or "" before Start.
func (h *Hub) SessionID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessionID
}

// CompletedSteps returns the steps completed so far, sorted.
func (h *Hub) CompletedSteps() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	steps := make([]string, 0, len(h.completed))
	for id := range h.completed {
		steps = append(steps, id)
	}
	sort.Strings(steps)
	return steps
}

// Start opens the session: telemetry log and state snapshot first,
// then the UI channel (best-effort), then the adapter, then the
// heartbeat. A UI that cannot be reached never fails the start.
func (h *Hub) Start() error {
	h.mu.Lock()
	if h.state != StateIdle {
		state := h.state
		h.mu.Unlock()
		return fmt.Errorf("hub: cannot start from %q", state)
	}
	h.state = StateStarting
	h.mu.Unlock()

	startedAt := time.Now()

	log, err := telemetry.Open(h.cfg.Dir)
	if err != nil {
		h.setState(StateIdle)
		return fmt.Errorf("opening telemetry log: %w", err)
	}
	sessionID, err := log.StartSession(h.cfg.Module.ID, h.cfg.StudentID, h.cfg.Module.LabType, h.cfg.Attempt)
	if err != nil {
		log.Close()
		h.setState(StateIdle)
		return fmt.Errorf("starting session: %w", err)
	}

	logger := h.logger.WithSession(sessionID)
	writer := labstate.NewWriter(h.cfg.Dir, h.cfg.Module.ID, sessionID,
		labstate.WithCompletedBy("hub"),
		labstate.WithErrorHandler(func(op string, err error) {
			logger.Error("state_write_failed", map[string]interface{}{"op": op}, err)
		}),
	)
	stepIDs := make([]string, 0, len(h.cfg.Module.Steps))
	for _, s := range h.cfg.Module.Steps {
		stepIDs = append(stepIDs, s.ID)
	}
	writer.Initialize(stepIDs)

	var ui *protocol.Client
	if h.cfg.SocketPath != "" {
		c, err := protocol.DialRetry(h.cfg.SocketPath, h.cfg.DialAttempts, h.cfg.DialDelay)
		if err != nil {
			// Non-fatal: the hub runs without a UI, dropping notifications.
			logger.Warn("ui_unreachable", map[string]interface{}{"socket": h.cfg.SocketPath}, err)
		} else {
			ui = c
		}
	}

	h.mu.Lock()
	h.log = log
	h.writer = writer
	h.sessionID = sessionID
	h.startedAt = startedAt
	h.logger = logger
	h.heartbeatStop = make(chan struct{})
	h.heartbeatDone = make(chan struct{})
	h.mu.Unlock()

	h.uiMu.Lock()
	h.ui = ui
	h.uiDead = false
	h.uiMu.Unlock()

	h.cfg.Adapter.SetOnAction(h.handleAction)
	h.cfg.Adapter.SetOnStepCompleted(h.handleCompletion)

	if err := h.cfg.Adapter.Start(); err != nil {
		h.setState(StateStopped)
		log.EndSession("error", time.Since(startedAt))
		log.Close()
		h.closeUI()
		return fmt.Errorf("starting adapter: %w", err)
	}

	go h.heartbeat()

	h.setState(StateRunning)
	h.sendUI(protocol.MsgLabStatus, &protocol.LabStatusPayload{Status: protocol.StatusRunning})
	logger.Info("session_started", map[string]interface{}{"attempt": h.cfg.Attempt, "labType": string(h.cfg.Module.LabType)})
	return nil
}

// Stop winds the session down: heartbeat, adapter, outcome, telemetry,
// UI notification, socket. No timer fires after Stop returns.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if h.state != StateRunning {
		state := h.state
		h.mu.Unlock()
		return fmt.Errorf("hub: cannot stop from %q", state)
	}
	h.state = StateStopping
	stop, done := h.heartbeatStop, h.heartbeatDone
	h.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	// The dispatch lock must be free here: a callback in flight may be
	// waiting on it, and the adapter's Stop waits for that callback.
	if err := h.cfg.Adapter.Stop(); err != nil {
		h.logger.Warn("adapter_stop_failed", nil, err)
	}

	h.mu.Lock()
	outcome := OutcomeAbandoned
	if h.allTasksCompletedLocked() {
		outcome = OutcomeCompleted
	}
	elapsed := time.Since(h.startedAt)
	log := h.log
	h.state = StateStopped
	h.mu.Unlock()

	if err := log.EndSession(outcome, elapsed); err != nil {
		h.logger.Error("session_end_failed", nil, err)
	}

	h.sendUI(protocol.MsgLabStatus, &protocol.LabStatusPayload{Status: protocol.StatusStopped, Message: outcome})
	h.closeUI()

	if err := log.Close(); err != nil {
		h.logger.Error("telemetry_close_failed", nil, err)
	}

	h.logger.Info("session_stopped", map[string]interface{}{"outcome": outcome, "elapsed_ms": elapsed.Milliseconds()})
	return nil
}

// AddStep registers a dynamically inserted step and announces it.
func (h *Hub) AddStep(stepID, afterStepID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.acceptingLocked() {
		return
	}
	h.writer.AddStep(stepID, afterStepID)
	h.sendUI(protocol.MsgStepAdded, &protocol.StepAddedPayload{StepID: stepID, AfterStepID: afterStepID})
}

// RecordQuestionAnswer logs a graded quiz answer and acknowledges it.
func (h *Hub) RecordQuestionAnswer(stepID, questionID string, correct bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.acceptingLocked() {
		return
	}
	h.appendLocked(telemetry.Event{
		Type:    telemetry.EventQuestionAnswered,
		StepID:  stepID,
		Payload: telemetry.QuestionPayload(questionID, correct),
	})
	h.writer.RecordQuestionAnswer(stepID, correct)
	h.sendUI(protocol.MsgQuestionResult, &protocol.QuestionResultPayload{StepID: stepID, Correct: correct})
}

// RecordHint logs a revealed hint.
func (h *Hub) RecordHint(stepID string, index int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.acceptingLocked() {
		return
	}
	h.appendLocked(telemetry.Event{
		Type:    telemetry.EventHintRequested,
		StepID:  stepID,
		Payload: telemetry.HintPayload(index),
	})
	h.writer.RecordHintRevealed(stepID, index)
}

// RecordSolutionViewed logs that a step's solution was opened.
func (h *Hub) RecordSolutionViewed(stepID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.acceptingLocked() {
		return
	}
	h.appendLocked(telemetry.Event{
		Type:   telemetry.EventSolutionViewed,
		StepID: stepID,
	})
	h.writer.RecordSolutionViewed(stepID)
}

// Highlight asks the UI to navigate to a step.
func (h *Hub) Highlight(stepID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.acceptingLocked() {
		return
	}
	h.sendUI(protocol.MsgHighlight, &protocol.HighlightPayload{StepID: stepID})
}

// handleAction is the adapter's student-action callback.
func (h *Hub) handleAction(a Action) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.acceptingLocked() {
		return
	}
	if h.seenRecentlyLocked("action", a) {
		return
	}
	h.appendLocked(h.actionEvent(a))
}

// handleCompletion is the adapter's step-completion callback. The
// whole pipeline runs inside the dispatch lock so two observations of
// the same step cannot both pass the completed check.
func (h *Hub) handleCompletion(c Completion) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.acceptingLocked() {
		return
	}
	if h.seenRecentlyLocked("completed", c) {
		return
	}
	if _, done := h.completed[c.StepID]; done {
		return // one transition per step per hub lifetime
	}
	h.completed[c.StepID] = struct{}{}

	// Telemetry before the UI notification: a UI that reads state on
	// receipt must see the completion reflected.
	h.appendLocked(telemetry.Event{
		Type:    telemetry.EventCheckPassed,
		StepID:  c.StepID,
		Payload: telemetry.CheckPayload(c.Script, 0),
	})
	h.appendLocked(telemetry.Event{
		Type:   telemetry.EventStepCompleted,
		StepID: c.StepID,
	})

	h.writer.MarkCompleted(c.StepID, labstate.SourceModule)
	h.refreshScoresLocked(c.StepID)

	h.sendUI(protocol.MsgTaskCompleted, &protocol.TaskCompletedPayload{
		TaskID: c.StepID,
		StepID: c.StepID,
		Source: labstate.SourceModule,
	})

	if h.cfg.OnCompleted != nil {
		h.cfg.OnCompleted(c.StepID, labstate.SourceModule)
	}

	h.logger.Info("step_completed", map[string]interface{}{"step": c.StepID})
}

func (h *Hub) acceptingLocked() bool {
	return h.state == StateStarting || h.state == StateRunning
}

// seenRecentlyLocked drops observations whose structural hash was seen
// inside the dedup window. Every sighting refreshes the window, so an
// adapter re-reporting the same observation on each poll tick is
// absorbed for as long as it keeps re-reporting.
func (h *Hub) seenRecentlyLocked(tag string, v any) bool {
	key := observationKey(tag, v)
	now := time.Now()
	for k, seen := range h.lastSeen {
		if now.Sub(seen) > h.cfg.DedupWindow {
			delete(h.lastSeen, k)
		}
	}
	_, dup := h.lastSeen[key]
	h.lastSeen[key] = now
	return dup
}

func (h *Hub) appendLocked(ev telemetry.Event) {
	if err := h.log.Append(ev); err != nil {
		// Best-effort: report upward, do not abort the session.
		h.logger.Error("telemetry_append_failed", map[string]interface{}{"type": string(ev.Type)}, err)
	}
}

// refreshScoresLocked re-derives progress from the full log and
// writes it through to the snapshot.
func (h *Hub) refreshScoresLocked(stepID string) {
	events, err := h.log.ReadAll()
	if err != nil {
		h.logger.Error("score_refresh_failed", nil, err)
		return
	}
	prog := scoring.Interpret(events, h.cfg.Module.Steps, h.cfg.Preset)
	if task, ok := prog.Tasks[stepID]; ok {
		h.writer.UpdateStepScore(stepID, task)
	}
	h.writer.UpdateOverallScore(prog)
}

func (h *Hub) actionEvent(a Action) telemetry.Event {
	switch a.Kind {
	case ActionCommand:
		return telemetry.Event{Type: telemetry.EventCommandExecuted, StepID: a.StepID, Payload: telemetry.CommandPayload(a.Text, a.ExitCode)}
	case ActionQuery:
		return telemetry.Event{Type: telemetry.EventQueryExecuted, StepID: a.StepID, Payload: telemetry.CommandPayload(a.Text, a.ExitCode)}
	case ActionCode:
		return telemetry.Event{Type: telemetry.EventCodeExecuted, StepID: a.StepID, Payload: telemetry.CommandPayload(a.Text, a.ExitCode)}
	default:
		return telemetry.Event{Type: telemetry.EventStudentAction, StepID: a.StepID, Payload: telemetry.ActionPayload(a.Kind, a.Text, a.ExitCode)}
	}
}

func (h *Hub) allTasksCompletedLocked() bool {
	for _, s := range h.cfg.Module.Steps {
		if !s.Task {
			continue
		}
		if _, ok := h.completed[s.ID]; !ok {
			return false
		}
	}
	return true
}

func (h *Hub) heartbeat() {
	defer close(h.heartbeatDone)
	ticker := time.NewTicker(h.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-h.heartbeatStop:
			return
		case <-ticker.C:
			h.sendUI(protocol.MsgPing, nil)
		}
	}
}

// sendUI pushes one message at the UI, best-effort. A write failure
// marks the channel dead and later sends skip it.
func (h *Hub) sendUI(t protocol.MessageType, payload any) {
	h.uiMu.Lock()
	ui, dead := h.ui, h.uiDead
	h.uiMu.Unlock()
	if ui == nil || dead {
		return
	}
	if err := ui.Send(t, payload); err != nil {
		h.uiMu.Lock()
		h.uiDead = true
		h.uiMu.Unlock()
		h.logger.Warn("ui_send_failed", map[string]interface{}{"type": string(t)}, err)
	}
}

func (h *Hub) closeUI() {
	h.uiMu.Lock()
	defer h.uiMu.Unlock()
	if h.ui != nil {
		h.ui.Close()
		h.ui = nil
	}
}

func (h *Hub) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// observationKey hashes an observation structurally. JSON marshaling
// sorts map keys, so equal content always yields equal hashes.
func observationKey(tag string, v any) string {
	data, _ := json.Marshal(v)
	sum := sha256.Sum256(append([]byte(tag+"|"), data...))
	return hex.EncodeToString(sum[:])
}
