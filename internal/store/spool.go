package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/MikeSquared-Agency/callq/internal/analysis"
	"github.com/MikeSquared-Agency/callq/internal/eligibility"
)

// Spool is a single-file SQLite sink used when no PostgreSQL database is
// configured. Results are kept as JSON documents keyed by call id.
type Spool struct {
	db     *sql.DB
	logger *slog.Logger
}

// spoolTime has a fixed width so stored timestamps sort as text.
const spoolTime = "2006-01-02T15:04:05.000000000Z"

// RunRecord is one run as kept by the spool.
type RunRecord struct {
	Stats   analysis.Stats
	Outcome string
	Error   string
}

// OpenSpool opens or creates the spool at path. ":memory:" gives a private
// in-memory spool.
func OpenSpool(path string, logger *slog.Logger) (*Spool, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open spool: %w", err)
	}
	// one connection keeps ":memory:" databases shared and writes serialized
	db.SetMaxOpenConns(1)

	s := &Spool{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Spool) Close() error { return s.db.Close() }

func (s *Spool) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS results (
			call_id INTEGER PRIMARY KEY,
			run_id TEXT NOT NULL,
			status TEXT NOT NULL,
			result_json TEXT NOT NULL,
			completed_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_results_run ON results(run_id);`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			outcome TEXT NOT NULL,
			error TEXT,
			stats_json TEXT NOT NULL,
			finished_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS operators (
			id INTEGER PRIMARY KEY,
			full_name TEXT NOT NULL,
			department_id INTEGER NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate spool: %w", err)
		}
	}
	return nil
}

// SaveResults upserts every result in one transaction.
func (s *Spool) SaveResults(ctx context.Context, runID uuid.UUID, results []analysis.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for i := range results {
		r := &results[i]
		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal call %d: %w", r.CallID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO results (call_id, run_id, status, result_json, completed_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(call_id) DO UPDATE SET
				run_id = excluded.run_id,
				status = excluded.status,
				result_json = excluded.result_json,
				completed_at = excluded.completed_at`,
			r.CallID, runID.String(), string(r.Status), string(payload), r.CompletedAt.UTC().Format(spoolTime),
		)
		if err != nil {
			return fmt.Errorf("save call %d: %w", r.CallID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Info("results spooled", "run_id", runID, "saved", len(results))
	return nil
}

// Results returns the results last written by runID, ordered by call id.
func (s *Spool) Results(ctx context.Context, runID uuid.UUID) ([]analysis.Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT result_json FROM results WHERE run_id = ? ORDER BY call_id`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []analysis.Result
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		var r analysis.Result
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Spool) RecordRun(ctx context.Context, stats analysis.Stats, runErr error) error {
	outcome, errText := runOutcome(runErr)
	payload, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, outcome, error, stats_json, finished_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			outcome = excluded.outcome,
			error = excluded.error,
			stats_json = excluded.stats_json,
			finished_at = excluded.finished_at`,
		stats.RunID.String(), outcome, errText, string(payload), stats.FinishedAt.UTC().Format(spoolTime),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// LastRun returns the most recently finished run, or nil when the spool has
// none.
func (s *Spool) LastRun(ctx context.Context) (*RunRecord, error) {
	var (
		rec     RunRecord
		errText sql.NullString
		raw     string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT outcome, error, stats_json FROM runs ORDER BY finished_at DESC LIMIT 1`,
	).Scan(&rec.Outcome, &errText, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last run: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &rec.Stats); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	rec.Error = errText.String
	return &rec, nil
}

// PutOperators replaces the operator reference rows of one department.
func (s *Spool) PutOperators(ctx context.Context, departmentID int, ops []eligibility.Operator) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM operators WHERE department_id = ?`, departmentID); err != nil {
		return fmt.Errorf("clear operators: %w", err)
	}
	for _, op := range ops {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO operators (id, full_name, department_id) VALUES (?, ?, ?)`,
			op.ID, op.FullName, departmentID)
		if err != nil {
			return fmt.Errorf("insert operator: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Spool) LoadOperators(ctx context.Context, departmentID int) ([]eligibility.Operator, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, full_name FROM operators WHERE department_id = ? ORDER BY id`, departmentID)
	if err != nil {
		return nil, fmt.Errorf("query operators: %w", err)
	}
	defer rows.Close()

	var out []eligibility.Operator
	for rows.Next() {
		var op eligibility.Operator
		if err := rows.Scan(&op.ID, &op.FullName); err != nil {
			return nil, fmt.Errorf("scan operator: %w", err)
		}
		out = append(out, op)
	}
	return out, rows.Err()
}
