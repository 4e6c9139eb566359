package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrRunNotFound is returned when a run ID has no row.
var ErrRunNotFound = errors.New("run not found")

// Run is one engine session, from process start to shutdown.
type Run struct {
	ID         string     `json:"run_id"`
	Mode       string     `json:"mode"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	EndReason  string     `json:"end_reason,omitempty"`
	ConfigJSON string     `json:"config_json"`
	Ticks      int64      `json:"ticks"`
}

func (db *DB) InsertRun(ctx context.Context, r Run) error {
	if r.ConfigJSON == "" {
		r.ConfigJSON = "{}"
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO runs (run_id, mode, started_ns, config_json) VALUES (?, ?, ?, ?)`,
		r.ID, r.Mode, r.StartedAt.UnixNano(), r.ConfigJSON)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.ID, err)
	}
	return nil
}

func (db *DB) FinishRun(ctx context.Context, id string, at time.Time, reason string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE runs SET ended_ns = ?, end_reason = ? WHERE run_id = ?`,
		at.UnixNano(), reason, id)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrRunNotFound)
	}
	return nil
}

const runColumns = `r.run_id, r.mode, r.started_ns, r.ended_ns, r.end_reason, r.config_json,
	(SELECT COUNT(*) FROM ticks t WHERE t.run_id = r.run_id)`

func scanRun(row interface{ Scan(...any) error }) (Run, error) {
	var (
		r       Run
		started int64
		ended   sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.Mode, &started, &ended, &r.EndReason, &r.ConfigJSON, &r.Ticks); err != nil {
		return Run{}, err
	}
	r.StartedAt = time.Unix(0, started).UTC()
	if ended.Valid {
		t := time.Unix(0, ended.Int64).UTC()
		r.EndedAt = &t
	}
	return r, nil
}

func (db *DB) GetRun(ctx context.Context, id string) (Run, error) {
	r, err := scanRun(db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs r WHERE r.run_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

// ListRuns returns the newest runs first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs r ORDER BY r.started_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
