// Package mcp provides a Model Context Protocol server for contextgraph.
//
// It exposes extraction runs, extracted items, and the entity registry as MCP
// tools, and store statistics and recent runs as MCP resources. The binary
// serves it over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/contextgraph/internal/extract"
	"github.com/hurttlocker/contextgraph/internal/ingest"
	"github.com/hurttlocker/contextgraph/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Store   store.Store
	Runner  *extract.Runner // nil disables contextgraph_extract
	Version string
}

// dbMu serializes tool calls that touch the database. mcp-go dispatches
// handlers concurrently and the store holds a single connection.
var dbMu sync.Mutex

// NewServer creates a configured MCP server with all contextgraph tools and resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"contextgraph",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	registerExtractTool(s, cfg.Runner)
	registerImportTool(s, cfg.Store)
	registerItemsTool(s, cfg.Store)
	registerEntityTool(s, cfg.Store)
	registerEntitiesTool(s, cfg.Store)
	registerRunsTool(s, cfg.Store)

	registerStatsResource(s, cfg.Store)
	registerRecentRunsResource(s, cfg.Store)

	return s
}

// Serve runs the server over stdio until the client disconnects.
func Serve(cfg ServerConfig) error {
	return server.ServeStdio(NewServer(cfg))
}

// --- JSON views ---

type itemView struct {
	ID             string    `json:"id"`
	InteractionID  string    `json:"interaction_id"`
	Type           string    `json:"type"`
	Content        string    `json:"content"`
	Owner          string    `json:"owner,omitempty"`
	OwnerEntity    string    `json:"owner_entity,omitempty"`
	Target         string    `json:"target,omitempty"`
	TargetEntity   string    `json:"target_entity,omitempty"`
	SourcePath     string    `json:"source_path,omitempty"`
	SourceQuote    string    `json:"source_quote,omitempty"`
	LineRange      string    `json:"line_range,omitempty"`
	QuoteTimestamp string    `json:"quote_timestamp,omitempty"`
	TrustLevel     string    `json:"trust_level"`
	DueDate        string    `json:"due_date,omitempty"`
	Status         string    `json:"status"`
	Confidence     float64   `json:"confidence"`
	ExtractedAt    time.Time `json:"extracted_at"`
}

func toItemView(it *store.Item) itemView {
	return itemView{
		ID:             it.ID,
		InteractionID:  it.InteractionID,
		Type:           it.Type,
		Content:        it.Content,
		Owner:          it.OwnerName,
		OwnerEntity:    it.OwnerEntity,
		Target:         it.TargetName,
		TargetEntity:   it.TargetEntity,
		SourcePath:     it.SourcePath,
		SourceQuote:    it.SourceQuote,
		LineRange:      it.LineRange,
		QuoteTimestamp: it.QuoteTimestamp,
		TrustLevel:     it.TrustLevel,
		DueDate:        it.DueDate,
		Status:         it.Status,
		Confidence:     it.Confidence,
		ExtractedAt:    it.ExtractedAt,
	}
}

type entityView struct {
	Slug         string            `json:"slug"`
	Name         string            `json:"name"`
	Type         string            `json:"type"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	IsCandidate  bool              `json:"is_candidate"`
	LastActivity *time.Time        `json:"last_activity,omitempty"`
}

func toEntityView(e *store.Entity) entityView {
	v := entityView{
		Slug:        e.Slug,
		Name:        e.Name,
		Type:        e.Type,
		Attributes:  e.Attributes,
		IsCandidate: e.IsCandidate,
	}
	if !e.LastActivity.IsZero() {
		t := e.LastActivity
		v.LastActivity = &t
	}
	return v
}

type runView struct {
	ID         string          `json:"id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Status     string          `json:"status"`
	Options    json.RawMessage `json:"options,omitempty"`
	Stats      json.RawMessage `json:"stats,omitempty"`
}

func toRunView(r *store.Run) runView {
	return runView{
		ID:         r.ID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Status:     r.Status,
		Options:    rawJSON(r.Options),
		Stats:      rawJSON(r.Stats),
	}
}

func rawJSON(s string) json.RawMessage {
	if s == "" || !json.Valid([]byte(s)) {
		return nil
	}
	return json.RawMessage(s)
}

func jsonResult(v interface{}) *mcp.CallToolResult {
	data, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(data))
}

// optionalLimit reads a "limit" argument, clamped to [1, maxListLimit].
func optionalLimit(req mcp.CallToolRequest, def int) int {
	limit := def
	if v, err := req.RequireFloat("limit"); err == nil && v > 0 {
		limit = int(v)
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit
}

func optionalString(req mcp.CallToolRequest, key string) string {
	v, err := req.RequireString(key)
	if err != nil {
		return ""
	}
	return v
}

// --- Tools ---

func registerExtractTool(s *server.MCPServer, runner *extract.Runner) {
	tool := mcp.NewTool("contextgraph_extract",
		mcp.WithDescription("Run LLM extraction over stored interactions that have no items yet (or all of them with force). Returns run statistics: interactions processed, items extracted, entities resolved/created, token usage, estimated cost, and per-interaction errors."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("type",
			mcp.Description("Only process interactions of this type"),
			mcp.Enum(ingest.KindCall, ingest.KindEmail, ingest.KindChat),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of interactions to process (default: all)"),
		),
		mcp.WithBoolean("force",
			mcp.Description("Re-extract interactions that already have items (default: false)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if runner == nil {
			return mcp.NewToolResultError("extraction is not configured: an API key for the selected provider is required"), nil
		}

		dbMu.Lock()
		defer dbMu.Unlock()

		opts := extract.RunOptions{Type: optionalString(req, "type")}
		if v, err := req.RequireFloat("limit"); err == nil && v > 0 {
			opts.Limit = int(v)
		}
		if v, err := req.RequireBool("force"); err == nil {
			opts.Force = v
		}

		stats, err := runner.Run(ctx, opts)
		if err != nil && stats == nil {
			if errors.Is(err, extract.ErrRunLocked) {
				return mcp.NewToolResultError("another extraction run is in progress"), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf("extract error: %v", err)), nil
		}
		return jsonResult(stats), nil
	})
}

func registerImportTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("contextgraph_import",
		mcp.WithDescription("Register a call folder, email folder, or chat log as an interaction so extraction can pick it up. Re-importing the same path keeps its id."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Path to the call folder, email folder, or chat markdown file"),
		),
		mcp.WithString("type",
			mcp.Description("Interaction type (default: detected from the path)"),
			mcp.Enum(ingest.KindCall, ingest.KindEmail, ingest.KindChat),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		path, err := req.RequireString("path")
		if err != nil || path == "" {
			return mcp.NewToolResultError("path is required"), nil
		}

		in, err := ingest.ImportInteraction(ctx, st, ingest.DefaultAdapters(), path, optionalString(req, "type"))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("import error: %v", err)), nil
		}
		return jsonResult(map[string]interface{}{
			"id":          in.ID,
			"type":        in.Type,
			"source_path": in.SourcePath,
			"title":       in.Title,
			"timestamp":   in.Timestamp,
		}), nil
	})
}

func registerItemsTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("contextgraph_items",
		mcp.WithDescription("List extracted items (promises, action items, decisions, questions, metrics, deal mentions, entity context) with provenance quotes and trust levels, newest interaction first."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("interaction_id",
			mcp.Description("Only items from this interaction"),
		),
		mcp.WithString("type",
			mcp.Description("Item type filter"),
			mcp.Enum(
				string(extract.ItemPromise), string(extract.ItemActionItem), string(extract.ItemDecision),
				string(extract.ItemQuestion), string(extract.ItemMetric), string(extract.ItemDealMention),
				string(extract.ItemEntityContext),
			),
		),
		mcp.WithString("trust",
			mcp.Description("Trust level filter"),
			mcp.Enum(string(extract.TrustHigh), string(extract.TrustMedium), string(extract.TrustLow)),
		),
		mcp.WithString("status",
			mcp.Description("Status filter"),
			mcp.Enum(string(extract.StatusPending), string(extract.StatusCompleted), string(extract.StatusCancelled)),
		),
		mcp.WithString("entity",
			mcp.Description("Only items owned by or targeting this entity slug"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of items (default: 50, max: 500)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		items, err := st.ListItems(ctx, store.ItemListOpts{
			InteractionID: optionalString(req, "interaction_id"),
			Type:          optionalString(req, "type"),
			TrustLevel:    optionalString(req, "trust"),
			Status:        optionalString(req, "status"),
			Entity:        optionalString(req, "entity"),
			Limit:         optionalLimit(req, defaultListLimit),
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("items error: %v", err)), nil
		}

		views := make([]itemView, 0, len(items))
		for _, it := range items {
			views = append(views, toItemView(it))
		}
		return jsonResult(views), nil
	})
}

func registerEntityTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("contextgraph_entity",
		mcp.WithDescription("Look up one entity by slug, with the items it owns or is the target of."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("slug",
			mcp.Required(),
			mcp.Description("Entity slug (e.g. 'jane-doe', 'acme')"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of related items (default: 50, max: 500)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		slug, err := req.RequireString("slug")
		if err != nil || slug == "" {
			return mcp.NewToolResultError("slug is required"), nil
		}

		e, err := st.GetEntity(ctx, slug)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("entity error: %v", err)), nil
		}
		if e == nil {
			return mcp.NewToolResultError(fmt.Sprintf("entity %q not found", slug)), nil
		}

		items, err := st.ListItems(ctx, store.ItemListOpts{Entity: slug, Limit: optionalLimit(req, defaultListLimit)})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("entity items error: %v", err)), nil
		}
		views := make([]itemView, 0, len(items))
		for _, it := range items {
			views = append(views, toItemView(it))
		}

		return jsonResult(map[string]interface{}{
			"entity": toEntityView(e),
			"items":  views,
		}), nil
	})
}

func registerEntitiesTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("contextgraph_entities",
		mcp.WithDescription("List registry entities (people, companies, products), most recently active first. Candidates are entities created by extraction that nobody has confirmed yet."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("type",
			mcp.Description("Entity type filter"),
			mcp.Enum(string(extract.EntityPerson), string(extract.EntityCompany), string(extract.EntityProduct)),
		),
		mcp.WithBoolean("candidates_only",
			mcp.Description("Only list unconfirmed candidates (default: false)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of entities (default: 50, max: 500)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		opts := store.EntityListOpts{
			Type:  optionalString(req, "type"),
			Limit: optionalLimit(req, defaultListLimit),
		}
		if v, err := req.RequireBool("candidates_only"); err == nil {
			opts.CandidateOnly = v
		}

		ents, err := st.ListEntities(ctx, opts)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("entities error: %v", err)), nil
		}
		views := make([]entityView, 0, len(ents))
		for _, e := range ents {
			views = append(views, toEntityView(e))
		}
		return jsonResult(views), nil
	})
}

func registerRunsTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("contextgraph_runs",
		mcp.WithDescription("List recent extraction runs with their options and final statistics, newest first."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of runs (default: 20)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		runs, err := st.ListRuns(ctx, optionalLimit(req, 20))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("runs error: %v", err)), nil
		}
		views := make([]runView, 0, len(runs))
		for _, r := range runs {
			views = append(views, toRunView(r))
		}
		return jsonResult(views), nil
	})
}
