package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// StartRun records a new extraction run with status "running".
func (s *SQLiteStore) StartRun(ctx context.Context, r *Run) error {
	if r.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	if r.Status == "" {
		r.Status = "running"
	}
	if r.Options == "" {
		r.Options = "{}"
	}
	if r.Stats == "" {
		r.Stats = "{}"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO extraction_runs (id, started_at, status, options, stats) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.StartedAt.UTC(), r.Status, r.Options, r.Stats,
	)
	if err != nil {
		return fmt.Errorf("starting run %s: %w", r.ID, err)
	}
	return nil
}

// FinishRun stamps finished_at and stores the final status and stats.
func (s *SQLiteStore) FinishRun(ctx context.Context, r *Run) error {
	if r.FinishedAt == nil {
		now := time.Now().UTC()
		r.FinishedAt = &now
	}
	if r.Stats == "" {
		r.Stats = "{}"
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE extraction_runs SET finished_at = ?, status = ?, stats = ? WHERE id = ?`,
		r.FinishedAt.UTC(), r.Status, r.Stats, r.ID,
	)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", r.ID, ErrNotFound)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, status, options, stats
		 FROM extraction_runs ORDER BY started_at DESC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r := &Run{}
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.StartedAt, &finished, &r.Status, &r.Options, &r.Stats); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
