package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// TickRow is the stored digest of one control tick.
type TickRow struct {
	RunID        string        `json:"run_id"`
	Seq          uint64        `json:"seq"`
	At           time.Time     `json:"at"`
	Duration     time.Duration `json:"duration_ns"`
	Overrun      bool          `json:"overrun"`
	RunState     string        `json:"run_state"`
	DistanceCm   *float64      `json:"distance_cm,omitempty"` // nil when the reading was invalid
	Reliability  float64       `json:"reliability"`
	Degraded     bool          `json:"degraded"`
	Risk         string        `json:"risk"`
	Trend        string        `json:"trend"`
	LinePosition string        `json:"line_position"`
	RotaryState  string        `json:"rotary_state"`
	Action       string        `json:"action"`
	Turn         string        `json:"turn"`
	Speed        int           `json:"speed"`
	Priority     string        `json:"priority"`
	WheelLeft    int           `json:"wheel_left"`
	WheelRight   int           `json:"wheel_right"`
	Fault        string        `json:"fault,omitempty"`
}

// Event is a stored engine event.
type Event struct {
	ID        int64     `json:"event_id"`
	RunID     string    `json:"run_id"`
	At        time.Time `json:"at"`
	Kind      string    `json:"kind"`
	FaultKind string    `json:"fault_kind,omitempty"`
	Message   string    `json:"message"`
}

// InsertTicks writes a batch in one transaction.
func (db *DB) InsertTicks(ctx context.Context, ticks []TickRow) error {
	if len(ticks) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tick batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO ticks (
		run_id, seq, at_ns, duration_ns, overrun, run_state, distance_cm,
		reliability, degraded, risk, trend, line_position, rotary_state,
		action, turn, speed, priority, wheel_left, wheel_right, fault
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare tick insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range ticks {
		var dist sql.NullFloat64
		if t.DistanceCm != nil {
			dist = sql.NullFloat64{Float64: *t.DistanceCm, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			t.RunID, int64(t.Seq), t.At.UnixNano(), int64(t.Duration), t.Overrun, t.RunState, dist,
			t.Reliability, t.Degraded, t.Risk, t.Trend, t.LinePosition, t.RotaryState,
			t.Action, t.Turn, t.Speed, t.Priority, t.WheelLeft, t.WheelRight, t.Fault,
		); err != nil {
			return fmt.Errorf("insert tick %s/%d: %w", t.RunID, t.Seq, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tick batch: %w", err)
	}
	return nil
}

// Ticks pages through a run in sequence order, starting after afterSeq.
func (db *DB) Ticks(ctx context.Context, runID string, afterSeq uint64, limit int) ([]TickRow, error) {
	if limit <= 0 || limit > 5000 {
		limit = 5000
	}
	rows, err := db.QueryContext(ctx, `SELECT
		run_id, seq, at_ns, duration_ns, overrun, run_state, distance_cm,
		reliability, degraded, risk, trend, line_position, rotary_state,
		action, turn, speed, priority, wheel_left, wheel_right, fault
		FROM ticks WHERE run_id = ? AND seq > ? ORDER BY seq LIMIT ?`,
		runID, int64(afterSeq), limit)
	if err != nil {
		return nil, fmt.Errorf("query ticks: %w", err)
	}
	defer rows.Close()

	out := []TickRow{}
	for rows.Next() {
		var (
			t        TickRow
			seq, at  int64
			duration int64
			dist     sql.NullFloat64
		)
		if err := rows.Scan(&t.RunID, &seq, &at, &duration, &t.Overrun, &t.RunState, &dist,
			&t.Reliability, &t.Degraded, &t.Risk, &t.Trend, &t.LinePosition, &t.RotaryState,
			&t.Action, &t.Turn, &t.Speed, &t.Priority, &t.WheelLeft, &t.WheelRight, &t.Fault,
		); err != nil {
			return nil, fmt.Errorf("scan tick: %w", err)
		}
		t.Seq = uint64(seq)
		t.At = time.Unix(0, at).UTC()
		t.Duration = time.Duration(duration)
		if dist.Valid {
			v := dist.Float64
			t.DistanceCm = &v
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (db *DB) InsertEvents(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event batch: %w", err)
	}
	defer tx.Rollback()
	for _, e := range events {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events (run_id, at_ns, kind, fault_kind, message) VALUES (?, ?, ?, ?, ?)`,
			e.RunID, e.At.UnixNano(), e.Kind, e.FaultKind, e.Message,
		); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	return tx.Commit()
}

// Events returns a run's events oldest first. An empty kind matches all.
func (db *DB) Events(ctx context.Context, runID, kind string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := db.QueryContext(ctx, `SELECT event_id, run_id, at_ns, kind, fault_kind, message
		FROM events WHERE run_id = ? AND (? = '' OR kind = ?)
		ORDER BY at_ns, event_id LIMIT ?`, runID, kind, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	out := []Event{}
	for rows.Next() {
		var (
			e  Event
			at int64
		)
		if err := rows.Scan(&e.ID, &e.RunID, &at, &e.Kind, &e.FaultKind, &e.Message); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.At = time.Unix(0, at).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneTicksBefore deletes ticks older than cutoff and returns how many went.
// Runs and events are kept.
func (db *DB) PruneTicksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM ticks WHERE at_ns < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune ticks: %w", err)
	}
	return res.RowsAffected()
}

// RunSummary aggregates a run's ticks.
type RunSummary struct {
	RunID          string           `json:"run_id"`
	Ticks          int64            `json:"ticks"`
	Overruns       int64            `json:"overruns"`
	MeanDurationMs float64          `json:"mean_duration_ms"`
	MinReliability float64          `json:"min_reliability"`
	ByPriority     map[string]int64 `json:"by_priority"`
	Faults         int64            `json:"faults"`
}

func (db *DB) RunSummary(ctx context.Context, runID string) (RunSummary, error) {
	s := RunSummary{RunID: runID, ByPriority: map[string]int64{}}
	var (
		meanNs sql.NullFloat64
		minRel sql.NullFloat64
		overr  sql.NullInt64
	)
	err := db.QueryRowContext(ctx, `SELECT COUNT(*), SUM(overrun), AVG(duration_ns), MIN(reliability),
		(SELECT COUNT(*) FROM events WHERE run_id = ? AND kind = 'fault')
		FROM ticks WHERE run_id = ?`, runID, runID).Scan(&s.Ticks, &overr, &meanNs, &minRel, &s.Faults)
	if err != nil {
		return RunSummary{}, fmt.Errorf("summarise run %s: %w", runID, err)
	}
	s.Overruns = overr.Int64
	s.MeanDurationMs = meanNs.Float64 / float64(time.Millisecond)
	s.MinReliability = minRel.Float64

	rows, err := db.QueryContext(ctx,
		`SELECT priority, COUNT(*) FROM ticks WHERE run_id = ? GROUP BY priority`, runID)
	if err != nil {
		return RunSummary{}, fmt.Errorf("summarise priorities: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			p string
			n int64
		)
		if err := rows.Scan(&p, &n); err != nil {
			return RunSummary{}, err
		}
		s.ByPriority[p] = n
	}
	return s, rows.Err()
}
