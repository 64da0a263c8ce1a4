package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const entityColumns = `slug, name, type, attributes, is_candidate, last_activity, created_at, updated_at`

// GetEntity retrieves an entity by slug. Returns nil, nil when absent.
func (s *SQLiteStore) GetEntity(ctx context.Context, slug string) (*Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE slug = ?`, slug)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting entity %s: %w", slug, err)
	}
	return e, nil
}

// FindEntityByName looks up an entity by exact, case-insensitive name within a type.
func (s *SQLiteStore) FindEntityByName(ctx context.Context, name, entityType string) (*Entity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities
		 WHERE LOWER(name) = LOWER(?) AND type = ?
		 ORDER BY created_at ASC, slug ASC LIMIT 1`, name, entityType)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding entity by name %q: %w", name, err)
	}
	return e, nil
}

// FindEntityByHandle looks up an entity whose email or telegram attribute
// equals handle (case-insensitive, leading @ ignored) within a type.
func (s *SQLiteStore) FindEntityByHandle(ctx context.Context, handle, entityType string) (*Entity, error) {
	h := normalizeHandle(handle)
	if h == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities
		 WHERE type = ? AND (
			LOWER(json_extract(attributes, '$.email')) = ?
			OR LTRIM(LOWER(json_extract(attributes, '$.telegram')), '@') = ?
		 )
		 ORDER BY created_at ASC, slug ASC LIMIT 1`, entityType, h, h)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding entity by handle %q: %w", handle, err)
	}
	return e, nil
}

// CreateEntity inserts an entity if its slug is free. Returns true when a row
// was created; an existing slug is a no-op, never an error.
func (s *SQLiteStore) CreateEntity(ctx context.Context, e *Entity) (bool, error) {
	if strings.TrimSpace(e.Slug) == "" {
		return false, fmt.Errorf("entity slug is required")
	}
	if strings.TrimSpace(e.Name) == "" {
		return false, fmt.Errorf("entity name is required")
	}
	attrs, err := encodeAttributes(e.Attributes)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	var lastActivity interface{}
	if !e.LastActivity.IsZero() {
		lastActivity = e.LastActivity.UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO entities (slug, name, type, attributes, is_candidate, last_activity, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (slug) DO NOTHING`,
		e.Slug, e.Name, e.Type, attrs, boolToInt(e.IsCandidate), lastActivity, now, now,
	)
	if err != nil {
		return false, fmt.Errorf("creating entity %s: %w", e.Slug, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	if n > 0 {
		e.CreatedAt = now
		e.UpdatedAt = now
	}
	return n > 0, nil
}

// TouchEntity advances last_activity to seen (never backwards) and fills in
// attributes the entity does not have yet. Existing attribute values win.
func (s *SQLiteStore) TouchEntity(ctx context.Context, slug string, seen time.Time, attrs map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning entity touch: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE slug = ?`, slug)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return fmt.Errorf("entity %s: %w", slug, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("reading entity %s: %w", slug, err)
	}

	changed := false
	if !seen.IsZero() && seen.After(e.LastActivity) {
		e.LastActivity = seen.UTC()
		changed = true
	}
	for k, v := range attrs {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := e.Attributes[k]; ok {
			continue
		}
		e.Attributes[k] = v
		changed = true
	}
	if !changed {
		return nil
	}

	encoded, err := encodeAttributes(e.Attributes)
	if err != nil {
		return err
	}
	var lastActivity interface{}
	if !e.LastActivity.IsZero() {
		lastActivity = e.LastActivity
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE entities SET attributes = ?, last_activity = ?, updated_at = ? WHERE slug = ?`,
		encoded, lastActivity, time.Now().UTC(), slug,
	); err != nil {
		return fmt.Errorf("updating entity %s: %w", slug, err)
	}
	return tx.Commit()
}

// ListEntities returns entities ordered by most recent activity.
func (s *SQLiteStore) ListEntities(ctx context.Context, opts EntityListOpts) ([]*Entity, error) {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	query := `SELECT ` + entityColumns + ` FROM entities`
	var where []string
	args := []interface{}{}
	if opts.Type != "" {
		where = append(where, "type = ?")
		args = append(args, opts.Type)
	}
	if opts.CandidateOnly {
		where = append(where, "is_candidate = 1")
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += ` ORDER BY last_activity IS NULL, last_activity DESC, slug ASC LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	defer rows.Close()

	var out []*Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entity row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntity(r rowScanner) (*Entity, error) {
	e := &Entity{}
	var attrs string
	var candidate int
	var lastActivity, createdAt, updatedAt sql.NullTime
	if err := r.Scan(&e.Slug, &e.Name, &e.Type, &attrs, &candidate,
		&lastActivity, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	e.IsCandidate = candidate != 0
	if lastActivity.Valid {
		e.LastActivity = lastActivity.Time
	}
	if createdAt.Valid {
		e.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		e.UpdatedAt = updatedAt.Time
	}
	e.Attributes = map[string]string{}
	if strings.TrimSpace(attrs) != "" {
		if err := json.Unmarshal([]byte(attrs), &e.Attributes); err != nil {
			return nil, fmt.Errorf("decoding attributes of %s: %w", e.Slug, err)
		}
	}
	return e, nil
}

func encodeAttributes(attrs map[string]string) (string, error) {
	clean := make(map[string]string, len(attrs))
	for k, v := range attrs {
		if v = strings.TrimSpace(v); v != "" {
			clean[k] = v
		}
	}
	b, err := json.Marshal(clean)
	if err != nil {
		return "", fmt.Errorf("encoding attributes: %w", err)
	}
	return string(b), nil
}

func normalizeHandle(h string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(h)), "@")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
