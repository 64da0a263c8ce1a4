package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hurttlocker/contextgraph/internal/store"
)

// EntityRepository is the slice of the store the resolver needs.
type EntityRepository interface {
	GetEntity(ctx context.Context, slug string) (*store.Entity, error)
	FindEntityByName(ctx context.Context, name, entityType string) (*store.Entity, error)
	FindEntityByHandle(ctx context.Context, handle, entityType string) (*store.Entity, error)
	CreateEntity(ctx context.Context, e *store.Entity) (bool, error)
	TouchEntity(ctx context.Context, slug string, seen time.Time, attrs map[string]string) error
}

// Mention is one (name, type) reference to resolve.
type Mention struct {
	Name       string
	Type       EntityType
	Attributes map[string]string
}

// MentionFromRaw converts a model entity into a Mention. It returns false when
// the name is empty or the type has no canonical mapping.
func MentionFromRaw(raw RawEntity) (Mention, bool) {
	name := strings.TrimSpace(raw.Name.String())
	if name == "" {
		return Mention{}, false
	}
	t, ok := NormalizeEntityType(raw.Type.String())
	if !ok {
		return Mention{}, false
	}
	attrs := map[string]string{}
	for k, v := range map[string]Text{
		"email":    raw.Email,
		"telegram": raw.Telegram,
		"company":  raw.Company,
		"role":     raw.Role,
		"building": raw.Building,
		"sector":   raw.Sector,
	} {
		if s := strings.TrimSpace(v.String()); s != "" {
			attrs[k] = s
		}
	}
	return Mention{Name: name, Type: t, Attributes: attrs}, true
}

// Resolved is the canonical entity a mention maps onto.
type Resolved struct {
	Slug string
	Name string
	Type EntityType
}

// Resolver maps mentions onto registry slugs.
type Resolver struct {
	repo          EntityRepository
	identity      Identity
	identityReady bool
}

// NewResolver creates a resolver bound to a repository and the user identity.
func NewResolver(repo EntityRepository, identity Identity) *Resolver {
	return &Resolver{repo: repo, identity: identity}
}

// Identity returns the identity this resolver treats as the user.
func (r *Resolver) Identity() Identity {
	return r.identity
}

// EnsureIdentity creates the user entity once. Later calls are no-ops.
func (r *Resolver) EnsureIdentity(ctx context.Context) error {
	if r.identityReady {
		return nil
	}
	_, err := r.repo.CreateEntity(ctx, &store.Entity{
		Slug:        r.identity.Slug,
		Name:        r.identity.Name,
		Type:        string(EntityPerson),
		IsCandidate: false,
	})
	if err != nil {
		return fmt.Errorf("ensuring user entity %s: %w", r.identity.Slug, err)
	}
	r.identityReady = true
	return nil
}

// Batch holds the resolutions made while processing one interaction.
type Batch struct {
	r       *Resolver
	seen    time.Time
	entries map[string]Resolved
	order   []string

	// Resolved counts distinct mentions mapped to an entity; Created counts
	// those that produced a new candidate.
	Resolved int
	Created  int
}

// NewBatch starts a resolution batch. seen is the interaction timestamp used
// to advance last_activity on reused entities.
func (r *Resolver) NewBatch(seen time.Time) *Batch {
	return &Batch{r: r, seen: seen, entries: map[string]Resolved{}}
}

func dedupKey(t EntityType, name string) string {
	return string(t) + ":" + strings.ToLower(strings.TrimSpace(name))
}

// Add resolves one mention. The second result is false when the mention was
// discarded (blocked name or empty slug).
func (b *Batch) Add(ctx context.Context, m Mention) (Resolved, bool, error) {
	if IsBlockedName(m.Name) {
		return Resolved{}, false, nil
	}

	key := dedupKey(m.Type, m.Name)
	if res, ok := b.entries[key]; ok {
		return res, true, nil
	}

	if b.r.identity.Matches(m.Name) {
		if err := b.r.EnsureIdentity(ctx); err != nil {
			return Resolved{}, false, err
		}
		res := Resolved{Slug: b.r.identity.Slug, Name: b.r.identity.Name, Type: EntityPerson}
		b.remember(key, res)
		return res, true, nil
	}

	res, created, err := b.r.lookupOrCreate(ctx, m, b.seen)
	if err != nil {
		return Resolved{}, false, err
	}
	if res.Slug == "" {
		return Resolved{}, false, nil
	}
	b.remember(key, res)
	if created {
		b.Created++
	}
	return res, true, nil
}

func (b *Batch) remember(key string, res Resolved) {
	b.entries[key] = res
	b.order = append(b.order, key)
	b.Resolved++
}

// Lookup finds a resolved person, then company, by name.
func (b *Batch) Lookup(name string) (Resolved, bool) {
	for _, t := range []EntityType{EntityPerson, EntityCompany} {
		if res, ok := b.entries[dedupKey(t, name)]; ok {
			return res, true
		}
	}
	return Resolved{}, false
}

// ResolveParty maps an item owner or target onto a slug. The user identity
// (including "Me") wins; otherwise the batch is consulted. It returns "" when
// the name is unlinked.
func (b *Batch) ResolveParty(ctx context.Context, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", nil
	}
	if b.r.identity.Matches(name) {
		if err := b.r.EnsureIdentity(ctx); err != nil {
			return "", err
		}
		return b.r.identity.Slug, nil
	}
	if res, ok := b.Lookup(name); ok {
		return res.Slug, nil
	}
	return "", nil
}

// Entries returns the batch map from dedup key to resolution.
func (b *Batch) Entries() map[string]Resolved {
	out := make(map[string]Resolved, len(b.entries))
	for k, v := range b.entries {
		out[k] = v
	}
	return out
}

// Participants lists resolved people and companies in first-seen order.
func (b *Batch) Participants() []store.Participant {
	var out []store.Participant
	for _, key := range b.order {
		res := b.entries[key]
		if res.Type != EntityPerson && res.Type != EntityCompany {
			continue
		}
		if res.Slug == store.BlockedSlug {
			continue
		}
		out = append(out, store.Participant{Slug: res.Slug, Name: res.Name})
	}
	return out
}

// lookupOrCreate finds the registry entity for m or creates a candidate.
// Lookup order: namespaced slug, exact name of the same type, then email or
// telegram handle of the same type.
func (r *Resolver) lookupOrCreate(ctx context.Context, m Mention, seen time.Time) (Resolved, bool, error) {
	base := Slugify(m.Name)
	if base == "" {
		return Resolved{}, false, nil
	}

	slug, existing, err := r.namespacedSlug(ctx, base, m.Type)
	if err != nil {
		return Resolved{}, false, err
	}

	if existing == nil {
		existing, err = r.repo.FindEntityByName(ctx, m.Name, string(m.Type))
		if err != nil {
			return Resolved{}, false, err
		}
	}
	for _, handle := range []string{m.Attributes["email"], m.Attributes["telegram"]} {
		if existing != nil || handle == "" {
			continue
		}
		existing, err = r.repo.FindEntityByHandle(ctx, handle, string(m.Type))
		if err != nil {
			return Resolved{}, false, err
		}
	}

	if existing != nil {
		if existing.Slug == r.identity.Slug {
			if err := r.EnsureIdentity(ctx); err != nil {
				return Resolved{}, false, err
			}
			return Resolved{Slug: r.identity.Slug, Name: r.identity.Name, Type: EntityPerson}, false, nil
		}
		if err := r.repo.TouchEntity(ctx, existing.Slug, seen, m.Attributes); err != nil {
			return Resolved{}, false, fmt.Errorf("touching entity %s: %w", existing.Slug, err)
		}
		return Resolved{Slug: existing.Slug, Name: existing.Name, Type: EntityType(existing.Type)}, false, nil
	}

	e := &store.Entity{
		Slug:         slug,
		Name:         m.Name,
		Type:         string(m.Type),
		Attributes:   m.Attributes,
		IsCandidate:  true,
		LastActivity: seen,
	}
	created, err := r.repo.CreateEntity(ctx, e)
	if err != nil {
		return Resolved{}, false, err
	}
	return Resolved{Slug: slug, Name: m.Name, Type: m.Type}, created, nil
}

// namespacedSlug returns base when it is free or owned by the same type, and
// base-<type> when another type already holds base. The entity already stored
// under the returned slug, if any, is returned with it.
func (r *Resolver) namespacedSlug(ctx context.Context, base string, t EntityType) (string, *store.Entity, error) {
	e, err := r.repo.GetEntity(ctx, base)
	if err != nil {
		return "", nil, err
	}
	if e == nil || e.Type == string(t) {
		return base, e, nil
	}

	slug := base + "-" + string(t)
	e, err = r.repo.GetEntity(ctx, slug)
	if err != nil {
		return "", nil, err
	}
	if e != nil && e.Type != string(t) {
		return "", nil, fmt.Errorf("slug %s is held by a %s entity", slug, e.Type)
	}
	return slug, e, nil
}
