package extract

import (
	"context"
	"testing"
	"time"

	"github.com/hurttlocker/contextgraph/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewStore(store.StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testIdentity() Identity {
	return NewIdentity("Alex Kim", "Alex", "", []string{"AK"})
}

func mention(name string, t EntityType, attrs ...string) Mention {
	m := Mention{Name: name, Type: t, Attributes: map[string]string{}}
	for i := 0; i+1 < len(attrs); i += 2 {
		m.Attributes[attrs[i]] = attrs[i+1]
	}
	return m
}

func TestMentionFromRaw(t *testing.T) {
	m, ok := MentionFromRaw(RawEntity{
		Name:     " Jane Doe ",
		Type:     "Individual",
		Email:    "jane@acme.com",
		Company:  "Acme",
		Building: "   ",
	})
	if !ok {
		t.Fatal("expected mention")
	}
	if m.Name != "Jane Doe" || m.Type != EntityPerson {
		t.Errorf("mention = %+v", m)
	}
	if m.Attributes["email"] != "jane@acme.com" || m.Attributes["company"] != "Acme" {
		t.Errorf("attributes = %v", m.Attributes)
	}
	if _, ok := m.Attributes["building"]; ok {
		t.Error("blank attribute should be dropped")
	}

	if _, ok := MentionFromRaw(RawEntity{Name: "Paris", Type: "location"}); ok {
		t.Error("unknown entity type should be discarded")
	}
	if _, ok := MentionFromRaw(RawEntity{Name: "", Type: "person"}); ok {
		t.Error("empty name should be discarded")
	}
}

func TestBatch_DedupWithinInteraction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := NewResolver(s, testIdentity())
	b := r.NewBatch(time.Now())

	first, ok, err := b.Add(ctx, mention("Jane Doe", EntityPerson))
	if err != nil || !ok {
		t.Fatalf("Add: ok=%v err=%v", ok, err)
	}
	second, ok, err := b.Add(ctx, mention("jane doe", EntityPerson))
	if err != nil || !ok {
		t.Fatalf("Add again: ok=%v err=%v", ok, err)
	}
	if first.Slug != "jane-doe" || second.Slug != first.Slug {
		t.Errorf("slugs = %q, %q", first.Slug, second.Slug)
	}
	if b.Resolved != 1 || b.Created != 1 {
		t.Errorf("Resolved=%d Created=%d, want 1/1", b.Resolved, b.Created)
	}

	e, _ := s.GetEntity(ctx, "jane-doe")
	if e == nil || !e.IsCandidate || e.Type != "person" {
		t.Fatalf("stored entity = %+v", e)
	}
}

func TestBatch_ReuseAcrossInteractions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := NewResolver(s, testIdentity())

	early := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(48 * time.Hour)

	b1 := r.NewBatch(early)
	if _, _, err := b1.Add(ctx, mention("Jane Doe", EntityPerson)); err != nil {
		t.Fatal(err)
	}
	b2 := r.NewBatch(late)
	res, ok, err := b2.Add(ctx, mention("JANE DOE", EntityPerson, "role", "CFO"))
	if err != nil || !ok {
		t.Fatalf("Add: ok=%v err=%v", ok, err)
	}
	if res.Slug != "jane-doe" || res.Name != "Jane Doe" {
		t.Errorf("resolved = %+v", res)
	}
	if b2.Created != 0 || b2.Resolved != 1 {
		t.Errorf("Created=%d Resolved=%d, want 0/1", b2.Created, b2.Resolved)
	}

	e, _ := s.GetEntity(ctx, "jane-doe")
	if !e.LastActivity.Equal(late) {
		t.Errorf("last activity = %v, want %v", e.LastActivity, late)
	}
	if e.Attributes["role"] != "CFO" {
		t.Errorf("attributes = %v, want role filled in", e.Attributes)
	}
}

func TestBatch_SlugNamespacing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := NewResolver(s, testIdentity()).NewBatch(time.Now())

	company, _, err := b.Add(ctx, mention("Acme", EntityCompany))
	if err != nil {
		t.Fatal(err)
	}
	product, _, err := b.Add(ctx, mention("Acme", EntityProduct))
	if err != nil {
		t.Fatal(err)
	}
	if company.Slug != "acme" {
		t.Errorf("company slug = %q, want acme", company.Slug)
	}
	if product.Slug != "acme-product" {
		t.Errorf("product slug = %q, want acme-product", product.Slug)
	}

	// A later product mention finds the namespaced slug.
	again, _, err := NewResolver(s, testIdentity()).NewBatch(time.Now()).Add(ctx, mention("acme", EntityProduct))
	if err != nil {
		t.Fatal(err)
	}
	if again.Slug != "acme-product" {
		t.Errorf("reused product slug = %q", again.Slug)
	}

	ents, _ := s.ListEntities(ctx, store.EntityListOpts{})
	if len(ents) != 2 {
		t.Errorf("entities = %d, want 2", len(ents))
	}
}

func TestBatch_HandleLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateEntity(ctx, &store.Entity{
		Slug:       "jdoe",
		Name:       "J. Doe",
		Type:       "person",
		Attributes: map[string]string{"email": "jane@acme.com", "telegram": "@janed"},
	}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		m    Mention
	}{
		{"email", mention("Jane Doe", EntityPerson, "email", "JANE@acme.com")},
		{"telegram", mention("Janie", EntityPerson, "telegram", "janed")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewResolver(s, testIdentity()).NewBatch(time.Now())
			res, ok, err := b.Add(ctx, tt.m)
			if err != nil || !ok {
				t.Fatalf("Add: ok=%v err=%v", ok, err)
			}
			if res.Slug != "jdoe" {
				t.Errorf("slug = %q, want jdoe", res.Slug)
			}
			if b.Created != 0 {
				t.Errorf("Created = %d, want 0", b.Created)
			}
		})
	}
}

func TestBatch_IdentityIsSingular(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := NewResolver(s, testIdentity())
	b := r.NewBatch(time.Now())

	for _, name := range []string{"Alex", "Alex Kim", "ak"} {
		res, ok, err := b.Add(ctx, mention(name, EntityPerson))
		if err != nil || !ok {
			t.Fatalf("Add(%q): ok=%v err=%v", name, ok, err)
		}
		if res.Slug != "alex-kim" {
			t.Errorf("Add(%q) slug = %q, want alex-kim", name, res.Slug)
		}
	}
	if b.Created != 0 {
		t.Errorf("identity must not count as created, got %d", b.Created)
	}

	slug, err := b.ResolveParty(ctx, "me")
	if err != nil {
		t.Fatal(err)
	}
	if slug != "alex-kim" {
		t.Errorf("ResolveParty(me) = %q", slug)
	}

	ents, _ := s.ListEntities(ctx, store.EntityListOpts{})
	if len(ents) != 1 {
		t.Fatalf("entities = %d, want only the user", len(ents))
	}
	if ents[0].IsCandidate {
		t.Error("user entity should not be a candidate")
	}
}

func TestBatch_ExistingIdentitySlug(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := NewIdentity("Alex Kim", "", "alex", nil)
	// An entity with the user's slug under another spelling still maps to the user.
	if _, err := s.CreateEntity(ctx, &store.Entity{Slug: "alex", Name: "Alex", Type: "person"}); err != nil {
		t.Fatal(err)
	}

	b := NewResolver(s, id).NewBatch(time.Now())
	res, ok, err := b.Add(ctx, mention("ALEX!", EntityPerson))
	if err != nil || !ok {
		t.Fatalf("Add: ok=%v err=%v", ok, err)
	}
	if res.Slug != "alex" || res.Name != "Alex Kim" {
		t.Errorf("resolved = %+v, want the user", res)
	}
}

func TestBatch_BlockedNamesNeverPersist(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := NewResolver(s, testIdentity()).NewBatch(time.Now())

	for _, name := range []string{"Speaker 1", "Unknown", "Me", "participant b", "!!!"} {
		_, ok, err := b.Add(ctx, mention(name, EntityPerson))
		if err != nil {
			t.Fatalf("Add(%q): %v", name, err)
		}
		if ok {
			t.Errorf("Add(%q) should be discarded", name)
		}
	}

	ents, _ := s.ListEntities(ctx, store.EntityListOpts{})
	if len(ents) != 0 {
		t.Errorf("entities = %d, want 0", len(ents))
	}
	if len(b.Participants()) != 0 {
		t.Errorf("participants = %v, want none", b.Participants())
	}
}

func TestBatch_ResolvePartyAndParticipants(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := NewResolver(s, testIdentity()).NewBatch(time.Now())

	for _, m := range []Mention{
		mention("Jane Doe", EntityPerson),
		mention("Acme", EntityCompany),
		mention("Widget", EntityProduct),
		mention("Alex", EntityPerson),
	} {
		if _, _, err := b.Add(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	tests := map[string]string{
		"Jane Doe": "jane-doe",
		"acme":     "acme",
		"Widget":   "",
		"Me":       "alex-kim",
		"Stranger": "",
		"":         "",
	}
	for name, want := range tests {
		got, err := b.ResolveParty(ctx, name)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("ResolveParty(%q) = %q, want %q", name, got, want)
		}
	}

	parts := b.Participants()
	wantSlugs := []string{"jane-doe", "acme", "alex-kim"}
	if len(parts) != len(wantSlugs) {
		t.Fatalf("participants = %v, want %v", parts, wantSlugs)
	}
	for i, p := range parts {
		if p.Slug != wantSlugs[i] {
			t.Errorf("participant[%d] = %q, want %q", i, p.Slug, wantSlugs[i])
		}
	}
	if len(b.Entries()) != 4 {
		t.Errorf("entries = %d, want 4", len(b.Entries()))
	}
}
