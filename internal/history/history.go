// Package history keeps a ledger of task run segments in SQLite. Every
// daemon writes to the same database, one row per launch.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

const OutcomeFailedToStart = "failed_to_start"

// Fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		run_id     TEXT PRIMARY KEY,
		queue      TEXT NOT NULL,
		tag        TEXT NOT NULL,
		command    TEXT NOT NULL,
		priority   INTEGER NOT NULL,
		pid        INTEGER NOT NULL DEFAULT 0,
		log_path   TEXT NOT NULL DEFAULT '',
		resumed    INTEGER NOT NULL DEFAULT 0,
		started_at TEXT NOT NULL,
		ended_at   TEXT,
		outcome    TEXT NOT NULL DEFAULT '',
		exit_code  INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_queue ON runs(queue)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_log_path ON runs(log_path)`,
}

// Run is one launch of a task.
type Run struct {
	RunID     string
	Queue     string
	Tag       string
	Command   string
	Priority  int
	PID       int
	LogPath   string
	Resumed   bool
	StartedAt time.Time
	EndedAt   *time.Time
	Outcome   string
	ExitCode  *int
}

type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the ledger at dbPath and applies the schema.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger.With("component", "history")}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordStart inserts a run. A run that never started is recorded with its
// outcome already set.
func (s *Store) RecordStart(ctx context.Context, r Run) error {
	s.logger.Debug("sql", "op", "insert", "table", "runs", "run_id", r.RunID)

	var endedAt any
	if r.EndedAt != nil {
		endedAt = r.EndedAt.UTC().Format(timeLayout)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, queue, tag, command, priority, pid, log_path, resumed, started_at, ended_at, outcome, exit_code)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Queue, r.Tag, r.Command, r.Priority, r.PID, r.LogPath, boolToInt(r.Resumed),
		r.StartedAt.UTC().Format(timeLayout), endedAt, r.Outcome, nullableInt(r.ExitCode),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.RunID, err)
	}
	return nil
}

// RecordEnd sets the outcome of a started run.
func (s *Store) RecordEnd(ctx context.Context, runID, outcome string, exitCode *int, endedAt time.Time) error {
	s.logger.Debug("sql", "op", "update", "table", "runs", "run_id", runID)

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET ended_at = ?, outcome = ?, exit_code = ? WHERE run_id = ?`,
		endedAt.UTC().Format(timeLayout), outcome, nullableInt(exitCode), runID,
	)
	if err != nil {
		return fmt.Errorf("update run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update run %s: no such run", runID)
	}
	return nil
}

// List returns the most recent runs first. An empty queue lists every queue;
// limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, queue string, limit int) ([]Run, error) {
	s.logger.Debug("sql", "op", "select", "table", "runs", "queue", queue)

	query := `SELECT run_id, queue, tag, command, priority, pid, log_path, resumed, started_at, ended_at, outcome, exit_code FROM runs`
	var args []any
	if queue != "" {
		query += ` WHERE queue = ?`
		args = append(args, queue)
	}
	query += ` ORDER BY started_at DESC, rowid DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var resumed int
		var startedAt string
		var endedAt sql.NullString
		var exitCode sql.NullInt64
		if err := rows.Scan(&r.RunID, &r.Queue, &r.Tag, &r.Command, &r.Priority, &r.PID, &r.LogPath,
			&resumed, &startedAt, &endedAt, &r.Outcome, &exitCode); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Resumed = resumed != 0
		r.StartedAt, _ = time.Parse(timeLayout, startedAt)
		if endedAt.Valid {
			t, _ := time.Parse(timeLayout, endedAt.String)
			r.EndedAt = &t
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			r.ExitCode = &code
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
