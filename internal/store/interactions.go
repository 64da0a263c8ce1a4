package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// UpsertInteraction registers an interaction or refreshes its source metadata.
// Participant lists are never shrunk by an upsert; use MergeParticipants to grow them.
func (s *SQLiteStore) UpsertInteraction(ctx context.Context, in *Interaction) error {
	if strings.TrimSpace(in.ID) == "" {
		return fmt.Errorf("interaction id is required")
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now().UTC()
	}
	participants, names, err := encodeParticipants(in.Participants, in.ParticipantNames)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO interactions (id, type, source_path, title, timestamp, participants, participant_names, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			type = excluded.type,
			source_path = excluded.source_path,
			title = excluded.title,
			timestamp = excluded.timestamp`,
		in.ID, in.Type, nullString(in.SourcePath), in.Title, in.Timestamp.UTC(), participants, names, now,
	)
	if err != nil {
		return fmt.Errorf("upserting interaction %s: %w", in.ID, err)
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = now
	}
	return nil
}

// GetInteraction retrieves an interaction by ID. Returns nil, nil when absent.
func (s *SQLiteStore) GetInteraction(ctx context.Context, id string) (*Interaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, type, source_path, title, timestamp, participants, participant_names, created_at
		 FROM interactions WHERE id = ?`, id)
	in, err := scanInteraction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting interaction %s: %w", id, err)
	}
	return in, nil
}

// ListInteractionsForExtraction returns interactions with a source path, newest first.
// Unless opts.Force is set, interactions that already have extracted items are skipped.
func (s *SQLiteStore) ListInteractionsForExtraction(ctx context.Context, opts SelectOpts) ([]*Interaction, error) {
	query := `SELECT i.id, i.type, i.source_path, i.title, i.timestamp, i.participants, i.participant_names, i.created_at
		FROM interactions i
		WHERE i.source_path IS NOT NULL AND i.source_path != ''`
	args := []interface{}{}

	if !opts.Force {
		query += ` AND NOT EXISTS (SELECT 1 FROM extracted_items e WHERE e.interaction_id = i.id)`
	}
	if opts.Type != "" {
		query += ` AND i.type = ?`
		args = append(args, opts.Type)
	}
	query += ` ORDER BY i.timestamp DESC, i.id ASC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing interactions: %w", err)
	}
	defer rows.Close()

	var out []*Interaction
	for rows.Next() {
		in, err := scanInteraction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning interaction row: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// MergeParticipants unions resolved entities into the interaction's participant
// lists. Existing order is preserved and only unseen slugs are appended; the
// blocked sentinel and empty slugs are skipped. Returns nil, nil when the
// interaction does not exist.
func (s *SQLiteStore) MergeParticipants(ctx context.Context, interactionID string, add []Participant) (*Interaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning participant merge: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT id, type, source_path, title, timestamp, participants, participant_names, created_at
		 FROM interactions WHERE id = ?`, interactionID)
	in, err := scanInteraction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading interaction %s: %w", interactionID, err)
	}

	slugs, names, changed := unionParticipants(in.Participants, in.ParticipantNames, add)
	if !changed {
		return in, nil
	}

	participants, participantNames, err := encodeParticipants(slugs, names)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE interactions SET participants = ?, participant_names = ? WHERE id = ?`,
		participants, participantNames, interactionID,
	); err != nil {
		return nil, fmt.Errorf("updating participants for %s: %w", interactionID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing participant merge: %w", err)
	}

	in.Participants = slugs
	in.ParticipantNames = names
	return in, nil
}

// unionParticipants appends unseen slugs from add to the existing lists.
// Names stay index-aligned with slugs; a short names list is padded with the slug.
func unionParticipants(slugs, names []string, add []Participant) ([]string, []string, bool) {
	outSlugs := append([]string(nil), slugs...)
	outNames := append([]string(nil), names...)
	for len(outNames) < len(outSlugs) {
		outNames = append(outNames, outSlugs[len(outNames)])
	}

	seen := make(map[string]bool, len(outSlugs))
	for _, s := range outSlugs {
		seen[s] = true
	}

	changed := false
	for _, p := range add {
		if p.Slug == "" || p.Slug == BlockedSlug || seen[p.Slug] {
			continue
		}
		seen[p.Slug] = true
		outSlugs = append(outSlugs, p.Slug)
		name := p.Name
		if name == "" {
			name = p.Slug
		}
		outNames = append(outNames, name)
		changed = true
	}
	return outSlugs, outNames, changed
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInteraction(r rowScanner) (*Interaction, error) {
	in := &Interaction{}
	var sourcePath sql.NullString
	var participants, names string
	var createdAt sql.NullTime
	if err := r.Scan(&in.ID, &in.Type, &sourcePath, &in.Title, &in.Timestamp,
		&participants, &names, &createdAt); err != nil {
		return nil, err
	}
	in.SourcePath = sourcePath.String
	if createdAt.Valid {
		in.CreatedAt = createdAt.Time
	}
	if err := decodeList(participants, &in.Participants); err != nil {
		return nil, fmt.Errorf("decoding participants of %s: %w", in.ID, err)
	}
	if err := decodeList(names, &in.ParticipantNames); err != nil {
		return nil, fmt.Errorf("decoding participant names of %s: %w", in.ID, err)
	}
	return in, nil
}

func encodeParticipants(slugs, names []string) (string, string, error) {
	if slugs == nil {
		slugs = []string{}
	}
	if names == nil {
		names = []string{}
	}
	a, err := json.Marshal(slugs)
	if err != nil {
		return "", "", fmt.Errorf("encoding participants: %w", err)
	}
	b, err := json.Marshal(names)
	if err != nil {
		return "", "", fmt.Errorf("encoding participant names: %w", err)
	}
	return string(a), string(b), nil
}

func decodeList(raw string, dst *[]string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		*dst = []string{}
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
