package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const itemColumns = `id, interaction_id, type, content, owner_name, owner_entity, target_name, target_entity,
	source_path, source_quote, line_range, quote_timestamp, trust_level, due_date, status, confidence,
	extracted_at, updated_at`

// upsertItemSQL overwrites every mutable field on conflict. interaction_id and
// extracted_at keep their values from the first insert.
const upsertItemSQL = `INSERT INTO extracted_items (
		id, interaction_id, type, content, owner_name, owner_entity, target_name, target_entity,
		source_path, source_quote, line_range, quote_timestamp, trust_level, due_date, status, confidence,
		extracted_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		type = excluded.type,
		content = excluded.content,
		owner_name = excluded.owner_name,
		owner_entity = excluded.owner_entity,
		target_name = excluded.target_name,
		target_entity = excluded.target_entity,
		source_path = excluded.source_path,
		source_quote = excluded.source_quote,
		line_range = excluded.line_range,
		quote_timestamp = excluded.quote_timestamp,
		trust_level = excluded.trust_level,
		due_date = excluded.due_date,
		status = excluded.status,
		confidence = excluded.confidence,
		updated_at = excluded.updated_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// UpsertItem inserts an item or overwrites the mutable fields of an existing one.
func (s *SQLiteStore) UpsertItem(ctx context.Context, it *Item) error {
	return upsertItem(ctx, s.db, it, time.Now().UTC())
}

// ReplaceItems writes the full item set for one interaction in a single
// transaction. Items of that interaction whose ids are not in items are
// deleted, so re-extraction replaces the previous set wholesale.
func (s *SQLiteStore) ReplaceItems(ctx context.Context, interactionID string, items []*Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning item replace: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	keep := make([]interface{}, 0, len(items)+1)
	keep = append(keep, interactionID)
	for _, it := range items {
		if it.InteractionID == "" {
			it.InteractionID = interactionID
		}
		if it.InteractionID != interactionID {
			return fmt.Errorf("item %s belongs to %s, not %s", it.ID, it.InteractionID, interactionID)
		}
		if err := upsertItem(ctx, tx, it, now); err != nil {
			return err
		}
		keep = append(keep, it.ID)
	}

	del := `DELETE FROM extracted_items WHERE interaction_id = ?`
	if len(items) > 0 {
		del += ` AND id NOT IN (?` + strings.Repeat(",?", len(items)-1) + `)`
	}
	if _, err := tx.ExecContext(ctx, del, keep...); err != nil {
		return fmt.Errorf("deleting stale items for %s: %w", interactionID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing item replace: %w", err)
	}
	return nil
}

func upsertItem(ctx context.Context, db execer, it *Item, now time.Time) error {
	if strings.TrimSpace(it.ID) == "" {
		return fmt.Errorf("item id is required")
	}
	if it.Status == "" {
		it.Status = "pending"
	}
	if it.ExtractedAt.IsZero() {
		it.ExtractedAt = now
	}
	it.UpdatedAt = now

	_, err := db.ExecContext(ctx, upsertItemSQL,
		it.ID, it.InteractionID, it.Type, it.Content,
		it.OwnerName, nullString(it.OwnerEntity), it.TargetName, nullString(it.TargetEntity),
		it.SourcePath, it.SourceQuote, it.LineRange, it.QuoteTimestamp,
		it.TrustLevel, it.DueDate, it.Status, it.Confidence,
		it.ExtractedAt.UTC(), now,
	)
	if err != nil {
		return fmt.Errorf("upserting item %s: %w", it.ID, err)
	}
	return nil
}

// GetItem retrieves an item by ID. Returns nil, nil when absent.
func (s *SQLiteStore) GetItem(ctx context.Context, id string) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM extracted_items WHERE id = ?`, id)
	it, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item %s: %w", id, err)
	}
	return it, nil
}

// ListItems returns items matching opts, newest interaction first, then by id.
func (s *SQLiteStore) ListItems(ctx context.Context, opts ItemListOpts) ([]*Item, error) {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}

	query := `SELECT ` + prefixColumns("e", itemColumns) + `
		FROM extracted_items e
		JOIN interactions i ON i.id = e.interaction_id`
	var where []string
	args := []interface{}{}
	if opts.InteractionID != "" {
		where = append(where, "e.interaction_id = ?")
		args = append(args, opts.InteractionID)
	}
	if opts.Type != "" {
		where = append(where, "e.type = ?")
		args = append(args, opts.Type)
	}
	if opts.TrustLevel != "" {
		where = append(where, "e.trust_level = ?")
		args = append(args, opts.TrustLevel)
	}
	if opts.Status != "" {
		where = append(where, "e.status = ?")
		args = append(args, opts.Status)
	}
	if opts.Entity != "" {
		where = append(where, "(e.owner_entity = ? OR e.target_entity = ?)")
		args = append(args, opts.Entity, opts.Entity)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += ` ORDER BY i.timestamp DESC, e.interaction_id ASC, e.id ASC LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var out []*Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item row: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// CountItems returns the number of items stored for an interaction.
func (s *SQLiteStore) CountItems(ctx context.Context, interactionID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM extracted_items WHERE interaction_id = ?`, interactionID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting items for %s: %w", interactionID, err)
	}
	return n, nil
}

func scanItem(r rowScanner) (*Item, error) {
	it := &Item{}
	var owner, target sql.NullString
	if err := r.Scan(&it.ID, &it.InteractionID, &it.Type, &it.Content,
		&it.OwnerName, &owner, &it.TargetName, &target,
		&it.SourcePath, &it.SourceQuote, &it.LineRange, &it.QuoteTimestamp,
		&it.TrustLevel, &it.DueDate, &it.Status, &it.Confidence,
		&it.ExtractedAt, &it.UpdatedAt); err != nil {
		return nil, err
	}
	it.OwnerEntity = owner.String
	it.TargetEntity = target.String
	return it, nil
}

func prefixColumns(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
