package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/hurttlocker/contextgraph/internal/ingest"
	"github.com/hurttlocker/contextgraph/internal/llm"
	"github.com/hurttlocker/contextgraph/internal/store"
)

// Default model pricing in USD per 1K tokens.
const (
	DefaultInputCostPer1K  = 0.001
	DefaultOutputCostPer1K = 0.005
	DefaultMaxTokens       = 4096
)

var (
	// ErrModelCall wraps a failed model invocation.
	ErrModelCall = errors.New("model call failed")
	// ErrRunLocked means another extraction run holds the run lock.
	ErrRunLocked = errors.New("another extraction run is in progress")
)

// RunnerConfig configures a Runner. Zero values take defaults.
type RunnerConfig struct {
	Identity        Identity
	Adapters        []ingest.Adapter // nil = ingest.DefaultAdapters()
	MaxTokens       int
	InputCostPer1K  float64
	OutputCostPer1K float64
	LockPath        string // "" = <db path>.extract.lock; in-memory stores skip locking
	Logger          *slog.Logger
}

// RunOptions selects interactions for one batch.
type RunOptions struct {
	Type  string `json:"type,omitempty"`
	Limit int    `json:"limit,omitempty"`
	Force bool   `json:"force,omitempty"`
}

// TokenUsage totals provider-reported tokens.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Stats summarizes one batch.
type Stats struct {
	RunID                 string     `json:"runId"`
	InteractionsSelected  int        `json:"interactionsSelected"`
	InteractionsProcessed int        `json:"interactionsProcessed"`
	ItemsExtracted        int        `json:"itemsExtracted"`
	ItemsDropped          int        `json:"itemsDropped"`
	EntitiesResolved      int        `json:"entitiesResolved"`
	EntitiesCreated       int        `json:"entitiesCreated"`
	TokensUsed            TokenUsage `json:"tokensUsed"`
	CostUSD               float64    `json:"costUsd"`
	Errors                []string   `json:"errors"`
	Duration              string     `json:"duration"`
}

// Runner drives extraction over stored interactions, one at a time.
type Runner struct {
	store    store.Store
	provider llm.Provider
	resolver *Resolver
	adapters []ingest.Adapter
	cfg      RunnerConfig
	log      *slog.Logger
	now      func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(s store.Store, provider llm.Provider, cfg RunnerConfig) *Runner {
	if cfg.Identity.Slug == "" {
		cfg.Identity = NewIdentity(cfg.Identity.Name, cfg.Identity.ShortName, "", cfg.Identity.Aliases)
	}
	if cfg.Adapters == nil {
		cfg.Adapters = ingest.DefaultAdapters()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.InputCostPer1K <= 0 {
		cfg.InputCostPer1K = DefaultInputCostPer1K
	}
	if cfg.OutputCostPer1K <= 0 {
		cfg.OutputCostPer1K = DefaultOutputCostPer1K
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:    s,
		provider: provider,
		resolver: NewResolver(s, cfg.Identity),
		adapters: cfg.Adapters,
		cfg:      cfg,
		log:      logger,
		now:      time.Now,
	}
}

// Cost converts token usage into estimated USD.
func (r *Runner) Cost(u TokenUsage) float64 {
	return float64(u.Input)/1000*r.cfg.InputCostPer1K + float64(u.Output)/1000*r.cfg.OutputCostPer1K
}

// Run extracts every selected interaction. Per-interaction failures are
// recorded in Stats.Errors and never abort the batch. Cancellation is checked
// between interactions only.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*Stats, error) {
	if r.provider == nil {
		return nil, fmt.Errorf("%w: no model provider configured", llm.ErrAPIKeyRequired)
	}

	unlock, err := r.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	start := r.now()
	stats := &Stats{RunID: uuid.NewString(), Errors: []string{}}

	// Marshal cannot fail for these plain structs.
	optJSON, _ := json.Marshal(opts)
	run := &store.Run{ID: stats.RunID, StartedAt: start.UTC(), Options: string(optJSON)}
	if err := r.store.StartRun(ctx, run); err != nil {
		return nil, fmt.Errorf("recording run start: %w", err)
	}

	runErr := r.runBatch(ctx, opts, stats)

	stats.CostUSD = r.Cost(stats.TokensUsed)
	stats.Duration = r.now().Sub(start).Round(time.Millisecond).String()

	run.Status = "completed"
	if runErr != nil {
		run.Status = "failed"
	}
	statsJSON, _ := json.Marshal(stats) // plain struct, cannot fail
	run.Stats = string(statsJSON)
	if err := r.store.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		r.log.Warn("recording run finish failed", "run", stats.RunID, "error", err)
	}

	r.log.Info("extraction finished",
		"run", stats.RunID,
		"processed", stats.InteractionsProcessed,
		"items", stats.ItemsExtracted,
		"entities_resolved", stats.EntitiesResolved,
		"entities_created", stats.EntitiesCreated,
		"tokens_in", stats.TokensUsed.Input,
		"tokens_out", stats.TokensUsed.Output,
		"cost_usd", fmt.Sprintf("%.4f", stats.CostUSD),
		"errors", len(stats.Errors),
	)
	return stats, runErr
}

func (r *Runner) runBatch(ctx context.Context, opts RunOptions, stats *Stats) error {
	interactions, err := r.store.ListInteractionsForExtraction(ctx, store.SelectOpts{
		Type:  opts.Type,
		Limit: opts.Limit,
		Force: opts.Force,
	})
	if err != nil {
		return fmt.Errorf("selecting interactions: %w", err)
	}
	stats.InteractionsSelected = len(interactions)
	r.log.Info("extraction started", "run", stats.RunID, "interactions", len(interactions),
		"type", opts.Type, "limit", opts.Limit, "force", opts.Force, "model", r.provider.Name())

	for _, in := range interactions {
		if err := ctx.Err(); err != nil {
			return err
		}
		// An interaction runs to completion once started.
		if err := r.ExtractInteraction(context.WithoutCancel(ctx), in, stats); err != nil {
			r.log.Error("extraction failed", "interaction", in.ID, "error", err)
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", in.ID, err))
		}
	}
	return nil
}

// ExtractInteraction runs the full pipeline for one interaction and folds
// its results into stats.
func (r *Runner) ExtractInteraction(ctx context.Context, in *store.Interaction, stats *Stats) error {
	adapter := ingest.AdapterFor(r.adapters, in.Type)
	if adapter == nil {
		return fmt.Errorf("unknown interaction type %q", in.Type)
	}

	identity := r.resolver.Identity()
	prompt, err := adapter.BuildPrompt(ctx, in, ingest.Persona{Names: identity.Names(), OwnerName: identity.ShortName})
	if err != nil {
		return err
	}

	completion, err := r.provider.Complete(ctx, prompt.User, llm.CompletionOpts{
		System:    prompt.System,
		MaxTokens: r.cfg.MaxTokens,
		Format:    "json",
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrModelCall, err)
	}
	stats.TokensUsed.Input += completion.Usage.InputTokens
	stats.TokensUsed.Output += completion.Usage.OutputTokens

	resp, err := ParseResponse(completion.Text)
	if err != nil {
		var mErr *MalformedJSONError
		if errors.As(err, &mErr) {
			r.log.Warn("unparseable model response", "interaction", in.ID, "error", mErr.Err, "text", mErr.Snippet)
		} else {
			r.log.Warn("unparseable model response", "interaction", in.ID, "error", err)
		}
		return err
	}

	droppedElements := 0
	for _, rej := range resp.Rejected {
		if rej.Field == "items" {
			droppedElements++
			r.log.Warn("item dropped", "interaction", in.ID, "index", rej.Index, "error", rej.Err)
			continue
		}
		r.log.Debug("entity discarded", "interaction", in.ID, "index", rej.Index, "error", rej.Err)
	}

	batch := r.resolver.NewBatch(in.Timestamp)
	for _, raw := range resp.Entities {
		m, ok := MentionFromRaw(raw)
		if !ok {
			r.log.Debug("entity discarded", "interaction", in.ID, "name", raw.Name.String(), "type", raw.Type.String())
			continue
		}
		if _, ok, err := batch.Add(ctx, m); err != nil {
			return fmt.Errorf("resolving %q: %w", m.Name, err)
		} else if !ok {
			r.log.Debug("entity blocked", "interaction", in.ID, "name", m.Name)
		}
	}
	stats.EntitiesResolved += batch.Resolved
	stats.EntitiesCreated += batch.Created

	items, dropped, err := r.buildItems(ctx, in, resp.Items, batch)
	if err != nil {
		return err
	}
	stats.ItemsDropped += dropped + droppedElements

	if err := r.store.ReplaceItems(ctx, in.ID, items); err != nil {
		return fmt.Errorf("storing items: %w", err)
	}
	if _, err := r.store.MergeParticipants(ctx, in.ID, batch.Participants()); err != nil {
		return fmt.Errorf("merging participants: %w", err)
	}

	stats.ItemsExtracted += len(items)
	stats.InteractionsProcessed++
	r.log.Info("interaction extracted", "interaction", in.ID, "items", len(items),
		"entities", batch.Resolved, "new", batch.Created)
	return nil
}

// buildItems normalizes raw items, resolves owner and target, scores trust and
// assigns ids from each item's position among the items that survived.
func (r *Runner) buildItems(ctx context.Context, in *store.Interaction, raws []RawItem, batch *Batch) ([]*store.Item, int, error) {
	now := r.now().UTC()
	items := make([]*store.Item, 0, len(raws))
	dropped := 0

	for _, raw := range raws {
		n, err := NormalizeItem(raw)
		if err != nil {
			dropped++
			r.log.Warn("item dropped", "interaction", in.ID, "error", err)
			continue
		}

		owner, err := batch.ResolveParty(ctx, n.Owner)
		if err != nil {
			return nil, dropped, err
		}
		target, err := batch.ResolveParty(ctx, n.Target)
		if err != nil {
			return nil, dropped, err
		}

		items = append(items, &store.Item{
			ID:             ItemID(in.ID, n.Type, len(items)),
			InteractionID:  in.ID,
			Type:           string(n.Type),
			Content:        n.Content,
			OwnerName:      n.Owner,
			OwnerEntity:    owner,
			TargetName:     n.Target,
			TargetEntity:   target,
			SourcePath:     in.SourcePath,
			SourceQuote:    n.EvidenceQuote,
			LineRange:      n.LineRange,
			QuoteTimestamp: n.Timestamp,
			TrustLevel:     string(ScoreTrust(n, owner != "", target != "")),
			DueDate:        n.DueDate,
			Status:         string(n.Status),
			Confidence:     n.Confidence,
			ExtractedAt:    now,
		})
	}
	return items, dropped, nil
}

// ItemID is the deterministic id of the ordinal-th normalized item.
func ItemID(interactionID string, t ItemType, ordinal int) string {
	return fmt.Sprintf("%s-%s-%d", interactionID, t, ordinal)
}

// lock takes the run lock next to the database file.
func (r *Runner) lock() (func(), error) {
	path := r.cfg.LockPath
	if path == "" {
		dbPath := r.store.Path()
		if dbPath == "" || dbPath == ":memory:" {
			return func() {}, nil
		}
		path = dbPath + ".extract.lock"
	}

	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring run lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w (lock %s)", ErrRunLocked, path)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			r.log.Warn("releasing run lock failed", "path", path, "error", err)
		}
	}, nil
}
