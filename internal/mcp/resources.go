package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/contextgraph/internal/store"
)

func registerStatsResource(s *server.MCPServer, st store.Store) {
	resource := mcp.NewResource(
		"contextgraph://stats",
		"Store Statistics",
		mcp.WithResourceDescription("Counts of interactions, entities, candidates, items and runs, plus database size."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		stats, err := st.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading stats resource: %w", err)
		}

		payload := map[string]interface{}{
			"interactions":  stats.InteractionCount,
			"entities":      stats.EntityCount,
			"candidates":    stats.CandidateCount,
			"items":         stats.ItemCount,
			"runs":          stats.RunCount,
			"db_size_bytes": stats.DBSizeBytes,
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}

func registerRecentRunsResource(s *server.MCPServer, st store.Store) {
	resource := mcp.NewResource(
		"contextgraph://runs/recent",
		"Recent Extraction Runs",
		mcp.WithResourceDescription("The ten most recent extraction runs with their statistics."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		runs, err := st.ListRuns(ctx, 10)
		if err != nil {
			return nil, fmt.Errorf("reading runs resource: %w", err)
		}
		views := make([]runView, 0, len(runs))
		for _, r := range runs {
			views = append(views, toRunView(r))
		}

		payload := map[string]interface{}{
			"runs":  views,
			"count": len(views),
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}
