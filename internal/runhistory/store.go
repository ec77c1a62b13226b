// Package runhistory keeps a local SQLite history of scenario run
// verdicts so past runs can be listed and compared without digging
// through session directories.
package runhistory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/edulabs/labscope/internal/orchestrator"
)

type Store struct {
	db   *sql.DB
	path string
}

func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "history.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		scenario_id TEXT NOT NULL,
		module_id TEXT NOT NULL,
		session_id TEXT,
		passed INTEGER NOT NULL,
		timed_out INTEGER NOT NULL DEFAULT 0,
		score REAL NOT NULL DEFAULT 0,
		completion_pct INTEGER NOT NULL DEFAULT 0,
		checkpoints_total INTEGER NOT NULL DEFAULT 0,
		checkpoints_passed INTEGER NOT NULL DEFAULT 0,
		actions INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		checkpoints_json TEXT,
		criteria_json TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_scenario ON runs(scenario_id);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Run is one recorded verdict row.
type Run struct {
	RunID             string                          `json:"run_id"`
	ScenarioID        string                          `json:"scenario_id"`
	ModuleID          string                          `json:"module_id"`
	SessionID         string                          `json:"session_id,omitempty"`
	Passed            bool                            `json:"passed"`
	TimedOut          bool                            `json:"timed_out"`
	Score             float64                         `json:"score"`
	CompletionPct     int                             `json:"completion_pct"`
	CheckpointsTotal  int                             `json:"checkpoints_total"`
	CheckpointsPassed int                             `json:"checkpoints_passed"`
	Actions           int                             `json:"actions"`
	DurationMs        int64                           `json:"duration_ms"`
	Error             string                          `json:"error,omitempty"`
	Checkpoints       []orchestrator.CheckpointResult `json:"checkpoints,omitempty"`
	Criteria          []orchestrator.CriterionResult  `json:"criteria,omitempty"`
	CreatedAt         string                          `json:"created_at"`
}

// Record stores a run verdict, replacing any earlier row with the same
// run id.
func (s *Store) Record(ctx context.Context, res *orchestrator.RunResult) error {
	checkpointsJSON, _ := json.Marshal(res.Checkpoints)
	criteriaJSON, _ := json.Marshal(res.Criteria)

	completionPct := 0
	if res.Progress != nil {
		completionPct = res.Progress.CompletionPct
	}

	// Truncate error for storage (keep first 10KB)
	errText := res.Error
	if len(errText) > 10240 {
		errText = errText[:10240] + "\n... (truncated)"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (
			run_id, scenario_id, module_id, session_id,
			passed, timed_out, score, completion_pct,
			checkpoints_total, checkpoints_passed, actions, duration_ms,
			error, checkpoints_json, criteria_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, res.RunID, res.ScenarioID, res.ModuleID, res.SessionID,
		res.Passed, res.TimedOut, res.Score(), completionPct,
		len(res.Checkpoints), res.CheckpointsReached(), res.ActionsTaken, res.DurationMs,
		errText, checkpointsJSON, criteriaJSON, res.StartedAt.UTC().Format(time.RFC3339))
	return err
}

// List returns the most recent runs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, scenario_id, module_id, session_id,
			   passed, timed_out, score, completion_pct,
			   checkpoints_total, checkpoints_passed, actions, duration_ms,
			   error, checkpoints_json, criteria_json, created_at
		FROM runs ORDER BY created_at DESC, run_id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Get returns one run by id, or an error naming the id when no row
// exists.
func (s *Store) Get(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, scenario_id, module_id, session_id,
			   passed, timed_out, score, completion_pct,
			   checkpoints_total, checkpoints_passed, actions, duration_ms,
			   error, checkpoints_json, criteria_json, created_at
		FROM runs WHERE run_id = ?
	`, runID)

	r, err := scanRun(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	return r, err
}

func scanRun(scan func(dest ...any) error) (*Run, error) {
	var r Run
	var sessionID, errText sql.NullString
	var checkpointsJSON, criteriaJSON sql.NullString

	err := scan(&r.RunID, &r.ScenarioID, &r.ModuleID, &sessionID,
		&r.Passed, &r.TimedOut, &r.Score, &r.CompletionPct,
		&r.CheckpointsTotal, &r.CheckpointsPassed, &r.Actions, &r.DurationMs,
		&errText, &checkpointsJSON, &criteriaJSON, &r.CreatedAt)
	if err != nil {
		return nil, err
	}

	if sessionID.Valid {
		r.SessionID = sessionID.String
	}
	if errText.Valid {
		r.Error = errText.String
	}
	if checkpointsJSON.Valid {
		json.Unmarshal([]byte(checkpointsJSON.String), &r.Checkpoints)
	}
	if criteriaJSON.Valid {
		json.Unmarshal([]byte(criteriaJSON.String), &r.Criteria)
	}
	return &r, nil
}

// Stats is the aggregate view over every recorded run.
type Stats struct {
	TotalRuns     int     `json:"total_runs"`
	Passed        int     `json:"passed"`
	Failed        int     `json:"failed"`
	TimedOut      int     `json:"timed_out"`
	AvgScore      float64 `json:"avg_score"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			   COALESCE(SUM(CASE WHEN passed THEN 1 ELSE 0 END), 0),
			   COALESCE(SUM(CASE WHEN passed THEN 0 ELSE 1 END), 0),
			   COALESCE(SUM(CASE WHEN timed_out THEN 1 ELSE 0 END), 0),
			   COALESCE(AVG(score), 0),
			   COALESCE(AVG(duration_ms), 0)
		FROM runs
	`).Scan(&st.TotalRuns, &st.Passed, &st.Failed, &st.TimedOut,
		&st.AvgScore, &st.AvgDurationMs)
	return &st, err
}
