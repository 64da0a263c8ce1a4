// Package store provides the SQLite storage layer for contextgraph.
//
// All knowledge-base data lives in a single SQLite database file:
// - Interactions (calls, emails, chats) registered by ingestion
// - The entity registry (people, companies, products), keyed by slug
// - Extracted items with provenance quotes and trust levels
// - Extraction run history
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.contextgraph/contextgraph.db"

// BlockedSlug is the sentinel slug the resolver hands out for discarded mentions.
// It is never written to the entity registry or to participant lists.
const BlockedSlug = "_blocked_"

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("not found")

// Interaction is a call, email, or chat registered by ingestion.
type Interaction struct {
	ID               string
	Type             string // call, email, chat
	SourcePath       string
	Title            string
	Timestamp        time.Time
	Participants     []string // entity slugs
	ParticipantNames []string
	CreatedAt        time.Time
}

// Participant is one resolved entity to merge into an interaction.
type Participant struct {
	Slug string
	Name string
}

// Entity is a deduplicated person, company, or product.
type Entity struct {
	Slug         string
	Name         string
	Type         string // person, company, product
	Attributes   map[string]string
	IsCandidate  bool
	LastActivity time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Item is a persisted extracted item.
type Item struct {
	ID             string
	InteractionID  string
	Type           string
	Content        string
	OwnerName      string
	OwnerEntity    string
	TargetName     string
	TargetEntity   string
	SourcePath     string
	SourceQuote    string
	LineRange      string
	QuoteTimestamp string
	TrustLevel     string
	DueDate        string
	Status         string
	Confidence     float64
	ExtractedAt    time.Time
	UpdatedAt      time.Time
}

// Run records one batch extraction.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string // running, completed, failed
	Options    string // JSON
	Stats      string // JSON
}

// SelectOpts controls which interactions are picked for extraction.
type SelectOpts struct {
	Type  string // filter by interaction type (empty = all)
	Limit int    // 0 = no limit
	Force bool   // include interactions that already have items
}

// ItemListOpts controls filtering for ListItems.
type ItemListOpts struct {
	InteractionID string
	Type          string
	TrustLevel    string
	Status        string
	Entity        string // owner or target slug
	Limit         int
	Offset        int
}

// EntityListOpts controls filtering for ListEntities.
type EntityListOpts struct {
	Type          string
	CandidateOnly bool
	Limit         int
	Offset        int
}

// StoreStats holds observability statistics about the store.
type StoreStats struct {
	InteractionCount int64
	EntityCount      int64
	CandidateCount   int64
	ItemCount        int64
	RunCount         int64
	DBSizeBytes      int64
}

// StoreConfig holds configuration for NewStore.
type StoreConfig struct {
	DBPath string
}

// Store defines the storage interface used by the extraction pipeline.
type Store interface {
	// Interactions
	UpsertInteraction(ctx context.Context, in *Interaction) error
	GetInteraction(ctx context.Context, id string) (*Interaction, error)
	ListInteractionsForExtraction(ctx context.Context, opts SelectOpts) ([]*Interaction, error)
	MergeParticipants(ctx context.Context, interactionID string, add []Participant) (*Interaction, error)

	// Entities
	GetEntity(ctx context.Context, slug string) (*Entity, error)
	FindEntityByName(ctx context.Context, name, entityType string) (*Entity, error)
	FindEntityByHandle(ctx context.Context, handle, entityType string) (*Entity, error)
	CreateEntity(ctx context.Context, e *Entity) (bool, error)
	TouchEntity(ctx context.Context, slug string, seen time.Time, attrs map[string]string) error
	ListEntities(ctx context.Context, opts EntityListOpts) ([]*Entity, error)

	// Items
	ReplaceItems(ctx context.Context, interactionID string, items []*Item) error
	UpsertItem(ctx context.Context, it *Item) error
	GetItem(ctx context.Context, id string) (*Item, error)
	ListItems(ctx context.Context, opts ItemListOpts) ([]*Item, error)
	CountItems(ctx context.Context, interactionID string) (int, error)

	// Runs
	StartRun(ctx context.Context, r *Run) error
	FinishRun(ctx context.Context, r *Run) error
	ListRuns(ctx context.Context, limit int) ([]*Run, error)

	// Observability
	Stats(ctx context.Context) (*StoreStats, error)
	Path() string

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewStore creates a new SQLite-backed Store.
// Pass ":memory:" for in-memory databases (testing).
func NewStore(cfg StoreConfig) (Store, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = ExpandPath(DefaultDBPath)
	}

	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection keeps ":memory:" databases alive across calls and
	// serializes writers, which is all a sequential pipeline needs.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		dbPath: cfg.DBPath,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Path returns the database path this store was opened with.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Stats returns row counts and the on-disk size of the database.
func (s *SQLiteStore) Stats(ctx context.Context) (*StoreStats, error) {
	st := &StoreStats{}
	counts := []struct {
		query string
		dst   *int64
	}{
		{"SELECT COUNT(*) FROM interactions", &st.InteractionCount},
		{"SELECT COUNT(*) FROM entities", &st.EntityCount},
		{"SELECT COUNT(*) FROM entities WHERE is_candidate = 1", &st.CandidateCount},
		{"SELECT COUNT(*) FROM extracted_items", &st.ItemCount},
		{"SELECT COUNT(*) FROM extraction_runs", &st.RunCount},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("counting (%s): %w", c.query, err)
		}
	}

	if s.dbPath != ":memory:" {
		if info, err := os.Stat(s.dbPath); err == nil {
			st.DBSizeBytes = info.Size()
		}
	}
	return st, nil
}

// ExpandPath expands ~ to home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
