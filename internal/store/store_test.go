package store

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// newTestStore creates an in-memory store for testing.
func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewStore(StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedInteraction(t *testing.T, s Store, id string, ts time.Time) *Interaction {
	t.Helper()
	in := &Interaction{
		ID:         id,
		Type:       "call",
		SourcePath: "/tmp/" + id,
		Title:      "Call " + id,
		Timestamp:  ts,
	}
	if err := s.UpsertInteraction(context.Background(), in); err != nil {
		t.Fatalf("UpsertInteraction(%s): %v", id, err)
	}
	return in
}

// --- Database Initialization ---

func TestNewStore(t *testing.T) {
	s, err := NewStore(StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer s.Close()

	ss := s.(*SQLiteStore)
	tables := []string{"interactions", "entities", "extracted_items", "extraction_runs", "meta"}
	for _, table := range tables {
		var name string
		err := ss.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestNewStore_FileReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cg.db")
	s, err := NewStore(StoreConfig{DBPath: path})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	seedInteraction(t, s, "call-1", time.Now())
	s.Close()

	s2, err := NewStore(StoreConfig{DBPath: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	in, err := s2.GetInteraction(context.Background(), "call-1")
	if err != nil || in == nil {
		t.Fatalf("expected interaction after reopen, got %v, %v", in, err)
	}
	if s2.Path() != path {
		t.Errorf("Path() = %q, want %q", s2.Path(), path)
	}
}

// --- Interactions ---

func TestUpsertInteraction_PreservesParticipants(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	in := seedInteraction(t, s, "call-1", time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))

	if _, err := s.MergeParticipants(ctx, in.ID, []Participant{{Slug: "alice", Name: "Alice"}}); err != nil {
		t.Fatalf("MergeParticipants: %v", err)
	}

	in.Title = "Renamed"
	in.Participants = nil
	if err := s.UpsertInteraction(ctx, in); err != nil {
		t.Fatalf("UpsertInteraction: %v", err)
	}

	got, err := s.GetInteraction(ctx, in.ID)
	if err != nil {
		t.Fatalf("GetInteraction: %v", err)
	}
	if got.Title != "Renamed" {
		t.Errorf("title = %q, want Renamed", got.Title)
	}
	if !reflect.DeepEqual(got.Participants, []string{"alice"}) {
		t.Errorf("participants = %v, want [alice]", got.Participants)
	}
}

func TestGetInteraction_NotFound(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetInteraction(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestListInteractionsForExtraction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	seedInteraction(t, s, "old", base)
	seedInteraction(t, s, "mid", base.Add(24*time.Hour))
	seedInteraction(t, s, "new", base.Add(48*time.Hour))

	chat := &Interaction{ID: "chat-1", Type: "chat", SourcePath: "/tmp/chat.md", Timestamp: base.Add(72 * time.Hour)}
	if err := s.UpsertInteraction(ctx, chat); err != nil {
		t.Fatal(err)
	}
	noSource := &Interaction{ID: "nosrc", Type: "call", Timestamp: base.Add(96 * time.Hour)}
	if err := s.UpsertInteraction(ctx, noSource); err != nil {
		t.Fatal(err)
	}

	if err := s.ReplaceItems(ctx, "mid", []*Item{{ID: "mid-promise-0", Type: "promise", TrustLevel: "low"}}); err != nil {
		t.Fatal(err)
	}

	ids := func(list []*Interaction) []string {
		var out []string
		for _, in := range list {
			out = append(out, in.ID)
		}
		return out
	}

	tests := []struct {
		name string
		opts SelectOpts
		want []string
	}{
		{"default skips extracted and sourceless", SelectOpts{}, []string{"chat-1", "new", "old"}},
		{"force includes extracted", SelectOpts{Force: true}, []string{"chat-1", "new", "mid", "old"}},
		{"type filter", SelectOpts{Type: "call"}, []string{"new", "old"}},
		{"limit", SelectOpts{Force: true, Limit: 2}, []string{"chat-1", "new"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListInteractionsForExtraction(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListInteractionsForExtraction: %v", err)
			}
			if !reflect.DeepEqual(ids(got), tt.want) {
				t.Errorf("got %v, want %v", ids(got), tt.want)
			}
		})
	}
}

func TestMergeParticipants_Union(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	in := seedInteraction(t, s, "call-1", time.Now())

	if _, err := s.MergeParticipants(ctx, in.ID, []Participant{{Slug: "b", Name: "B"}, {Slug: "c", Name: "C"}}); err != nil {
		t.Fatal(err)
	}
	got, err := s.MergeParticipants(ctx, in.ID, []Participant{
		{Slug: "a", Name: "A"},
		{Slug: "b", Name: "B"},
		{Slug: BlockedSlug, Name: "Speaker"},
		{Slug: "", Name: "nobody"},
	})
	if err != nil {
		t.Fatalf("MergeParticipants: %v", err)
	}
	if !reflect.DeepEqual(got.Participants, []string{"b", "c", "a"}) {
		t.Errorf("participants = %v, want [b c a]", got.Participants)
	}
	if !reflect.DeepEqual(got.ParticipantNames, []string{"B", "C", "A"}) {
		t.Errorf("names = %v, want [B C A]", got.ParticipantNames)
	}

	stored, _ := s.GetInteraction(ctx, in.ID)
	if !reflect.DeepEqual(stored.Participants, got.Participants) {
		t.Errorf("stored participants = %v, want %v", stored.Participants, got.Participants)
	}
}

func TestMergeParticipants_Missing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.MergeParticipants(context.Background(), "nope", []Participant{{Slug: "a"}})
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil; got %v, %v", got, err)
	}
}

func TestUnionParticipants_PadsShortNames(t *testing.T) {
	slugs, names, changed := unionParticipants([]string{"x", "y"}, []string{"X"}, nil)
	if changed {
		t.Error("expected no change when nothing is added")
	}
	if !reflect.DeepEqual(slugs, []string{"x", "y"}) || !reflect.DeepEqual(names, []string{"X", "y"}) {
		t.Errorf("got %v / %v", slugs, names)
	}
}

// --- Entities ---

func TestCreateEntity_ConflictTolerant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := &Entity{Slug: "jane-doe", Name: "Jane Doe", Type: "person", IsCandidate: true,
		Attributes: map[string]string{"email": "jane@acme.com"}}
	created, err := s.CreateEntity(ctx, e)
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}

	dup := &Entity{Slug: "jane-doe", Name: "JANE DOE", Type: "person"}
	created, err = s.CreateEntity(ctx, dup)
	if err != nil {
		t.Fatalf("second create errored: %v", err)
	}
	if created {
		t.Error("second create should be a no-op")
	}

	got, err := s.GetEntity(ctx, "jane-doe")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Jane Doe" || !got.IsCandidate || got.Attributes["email"] != "jane@acme.com" {
		t.Errorf("unexpected entity: %+v", got)
	}
}

func TestCreateEntity_Validation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateEntity(ctx, &Entity{Name: "x", Type: "person"}); err == nil {
		t.Error("expected error for empty slug")
	}
	if _, err := s.CreateEntity(ctx, &Entity{Slug: "x", Type: "person"}); err == nil {
		t.Error("expected error for empty name")
	}
	if _, err := s.CreateEntity(ctx, &Entity{Slug: "x", Name: "x", Type: "planet"}); err == nil {
		t.Error("expected CHECK constraint error for unknown type")
	}
}

func TestFindEntityByName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.CreateEntity(ctx, &Entity{Slug: "acme", Name: "Acme", Type: "company"})

	got, err := s.FindEntityByName(ctx, "  ACME ", "company")
	if err != nil || got == nil || got.Slug != "acme" {
		t.Fatalf("expected acme, got %+v, %v", got, err)
	}

	got, err = s.FindEntityByName(ctx, "Acme", "person")
	if err != nil || got != nil {
		t.Fatalf("expected no person named Acme, got %+v, %v", got, err)
	}
}

func TestFindEntityByHandle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.CreateEntity(ctx, &Entity{Slug: "jane-doe", Name: "Jane Doe", Type: "person",
		Attributes: map[string]string{"email": "Jane@Acme.com", "telegram": "@janed"}})

	tests := []struct {
		handle string
		want   string
	}{
		{"jane@acme.com", "jane-doe"},
		{"janed", "jane-doe"},
		{"@JaneD", "jane-doe"},
		{"other@acme.com", ""},
		{"", ""},
	}
	for _, tt := range tests {
		got, err := s.FindEntityByHandle(ctx, tt.handle, "person")
		if err != nil {
			t.Fatalf("FindEntityByHandle(%q): %v", tt.handle, err)
		}
		slug := ""
		if got != nil {
			slug = got.Slug
		}
		if slug != tt.want {
			t.Errorf("FindEntityByHandle(%q) = %q, want %q", tt.handle, slug, tt.want)
		}
	}
}

func TestTouchEntity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t1 := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	t0 := t1.Add(-24 * time.Hour)
	t2 := t1.Add(24 * time.Hour)

	s.CreateEntity(ctx, &Entity{Slug: "bob", Name: "Bob", Type: "person", LastActivity: t1,
		Attributes: map[string]string{"role": "CTO"}})

	if err := s.TouchEntity(ctx, "bob", t0, map[string]string{"role": "CEO", "company": "Acme"}); err != nil {
		t.Fatalf("TouchEntity: %v", err)
	}
	got, _ := s.GetEntity(ctx, "bob")
	if !got.LastActivity.Equal(t1) {
		t.Errorf("last_activity moved backwards to %v", got.LastActivity)
	}
	if got.Attributes["role"] != "CTO" || got.Attributes["company"] != "Acme" {
		t.Errorf("attributes = %v", got.Attributes)
	}

	if err := s.TouchEntity(ctx, "bob", t2, nil); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetEntity(ctx, "bob")
	if !got.LastActivity.Equal(t2) {
		t.Errorf("last_activity = %v, want %v", got.LastActivity, t2)
	}

	if err := s.TouchEntity(ctx, "ghost", t2, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListEntities(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	s.CreateEntity(ctx, &Entity{Slug: "me", Name: "Me", Type: "person", LastActivity: now})
	s.CreateEntity(ctx, &Entity{Slug: "acme", Name: "Acme", Type: "company", IsCandidate: true, LastActivity: now.Add(-time.Hour)})
	s.CreateEntity(ctx, &Entity{Slug: "widget", Name: "Widget", Type: "product", IsCandidate: true})

	all, err := s.ListEntities(ctx, EntityListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Slug != "me" || all[2].Slug != "widget" {
		t.Errorf("unexpected order: %v", entitySlugs(all))
	}

	candidates, _ := s.ListEntities(ctx, EntityListOpts{CandidateOnly: true})
	if len(candidates) != 2 {
		t.Errorf("candidates = %v", entitySlugs(candidates))
	}
	companies, _ := s.ListEntities(ctx, EntityListOpts{Type: "company"})
	if len(companies) != 1 || companies[0].Slug != "acme" {
		t.Errorf("companies = %v", entitySlugs(companies))
	}
}

func entitySlugs(list []*Entity) []string {
	var out []string
	for _, e := range list {
		out = append(out, e.Slug)
	}
	return out
}

// --- Items ---

func TestUpsertItem_OverwritesMutableFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedInteraction(t, s, "call-1", time.Now())

	it := &Item{ID: "call-1-promise-0", InteractionID: "call-1", Type: "promise",
		Content: "send pricing", OwnerName: "Jane", OwnerEntity: "jane", TrustLevel: "high",
		Status: "pending", Confidence: 0.9}
	if err := s.UpsertItem(ctx, it); err != nil {
		t.Fatalf("UpsertItem: %v", err)
	}
	first, _ := s.GetItem(ctx, it.ID)

	again := &Item{ID: "call-1-promise-0", InteractionID: "call-1", Type: "promise",
		Content: "send pricing deck", OwnerName: "Jane", TrustLevel: "medium",
		Status: "completed", Confidence: 0.7}
	if err := s.UpsertItem(ctx, again); err != nil {
		t.Fatalf("second UpsertItem: %v", err)
	}

	got, err := s.GetItem(ctx, it.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "send pricing deck" || got.TrustLevel != "medium" || got.Status != "completed" {
		t.Errorf("fields not overwritten: %+v", got)
	}
	if got.OwnerEntity != "" {
		t.Errorf("owner entity should be cleared, got %q", got.OwnerEntity)
	}
	if !got.ExtractedAt.Equal(first.ExtractedAt) {
		t.Errorf("extracted_at changed: %v -> %v", first.ExtractedAt, got.ExtractedAt)
	}
	if n, _ := s.CountItems(ctx, "call-1"); n != 1 {
		t.Errorf("CountItems = %d, want 1", n)
	}
}

func TestReplaceItems_DeletesStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedInteraction(t, s, "call-1", time.Now())
	seedInteraction(t, s, "call-2", time.Now())

	first := []*Item{
		{ID: "call-1-promise-0", Type: "promise", TrustLevel: "low"},
		{ID: "call-1-decision-1", Type: "decision", TrustLevel: "low"},
		{ID: "call-1-question-2", Type: "question", TrustLevel: "low"},
	}
	if err := s.ReplaceItems(ctx, "call-1", first); err != nil {
		t.Fatalf("ReplaceItems: %v", err)
	}
	if err := s.ReplaceItems(ctx, "call-2", []*Item{{ID: "call-2-metric-0", Type: "metric", TrustLevel: "low"}}); err != nil {
		t.Fatal(err)
	}

	second := []*Item{{ID: "call-1-promise-0", Type: "promise", TrustLevel: "medium"}}
	if err := s.ReplaceItems(ctx, "call-1", second); err != nil {
		t.Fatalf("ReplaceItems: %v", err)
	}

	items, err := s.ListItems(ctx, ItemListOpts{InteractionID: "call-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].ID != "call-1-promise-0" || items[0].TrustLevel != "medium" {
		t.Errorf("unexpected items after replace: %+v", items)
	}
	if n, _ := s.CountItems(ctx, "call-2"); n != 1 {
		t.Errorf("other interaction touched: %d items", n)
	}

	if err := s.ReplaceItems(ctx, "call-1", nil); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.CountItems(ctx, "call-1"); n != 0 {
		t.Errorf("empty replace left %d items", n)
	}
}

func TestReplaceItems_RejectsForeignItem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedInteraction(t, s, "call-1", time.Now())
	seedInteraction(t, s, "call-2", time.Now())

	err := s.ReplaceItems(ctx, "call-1", []*Item{
		{ID: "call-1-promise-0", Type: "promise", TrustLevel: "low"},
		{ID: "call-2-promise-0", InteractionID: "call-2", Type: "promise", TrustLevel: "low"},
	})
	if err == nil {
		t.Fatal("expected error for item of another interaction")
	}
	if n, _ := s.CountItems(ctx, "call-1"); n != 0 {
		t.Errorf("transaction not rolled back: %d items", n)
	}
}

func TestListItems_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedInteraction(t, s, "call-1", time.Now())
	s.ReplaceItems(ctx, "call-1", []*Item{
		{ID: "a", Type: "promise", TrustLevel: "high", OwnerEntity: "jane", Status: "pending"},
		{ID: "b", Type: "action_item", TrustLevel: "low", TargetEntity: "jane", Status: "completed"},
		{ID: "c", Type: "decision", TrustLevel: "medium"},
	})

	tests := []struct {
		name string
		opts ItemListOpts
		want int
	}{
		{"all", ItemListOpts{}, 3},
		{"type", ItemListOpts{Type: "promise"}, 1},
		{"trust", ItemListOpts{TrustLevel: "low"}, 1},
		{"status", ItemListOpts{Status: "pending"}, 2},
		{"entity owner or target", ItemListOpts{Entity: "jane"}, 2},
		{"limit", ItemListOpts{Limit: 1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListItems(ctx, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d items, want %d", len(got), tt.want)
			}
		})
	}
}

func TestItemsCascadeWithInteraction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedInteraction(t, s, "call-1", time.Now())
	s.ReplaceItems(ctx, "call-1", []*Item{{ID: "a", Type: "promise", TrustLevel: "low"}})

	ss := s.(*SQLiteStore)
	if _, err := ss.db.Exec(`DELETE FROM interactions WHERE id = 'call-1'`); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.CountItems(ctx, "call-1"); n != 0 {
		t.Errorf("items survived interaction delete: %d", n)
	}
}

// --- Runs & stats ---

func TestRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r1 := &Run{ID: "r1", StartedAt: time.Now().Add(-time.Hour).UTC(), Options: `{"force":false}`}
	r2 := &Run{ID: "r2", StartedAt: time.Now().UTC()}
	if err := s.StartRun(ctx, r1); err != nil {
		t.Fatal(err)
	}
	if err := s.StartRun(ctx, r2); err != nil {
		t.Fatal(err)
	}
	r1.Status = "completed"
	r1.Stats = `{"interactionsProcessed":2}`
	if err := s.FinishRun(ctx, r1); err != nil {
		t.Fatal(err)
	}

	runs, err := s.ListRuns(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].ID != "r2" {
		t.Fatalf("unexpected runs: %+v", runs)
	}
	if runs[0].Status != "running" || runs[0].FinishedAt != nil {
		t.Errorf("r2 should still be running: %+v", runs[0])
	}
	if runs[1].Status != "completed" || runs[1].FinishedAt == nil || runs[1].Stats != `{"interactionsProcessed":2}` {
		t.Errorf("r1 not finished: %+v", runs[1])
	}

	if err := s.FinishRun(ctx, &Run{ID: "ghost", Status: "failed"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedInteraction(t, s, "call-1", time.Now())
	s.CreateEntity(ctx, &Entity{Slug: "me", Name: "Me", Type: "person"})
	s.CreateEntity(ctx, &Entity{Slug: "x", Name: "X", Type: "person", IsCandidate: true})
	s.ReplaceItems(ctx, "call-1", []*Item{{ID: "a", Type: "promise", TrustLevel: "low"}})

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.InteractionCount != 1 || st.EntityCount != 2 || st.CandidateCount != 1 || st.ItemCount != 1 {
		t.Errorf("unexpected stats: %+v", st)
	}
}
