// Package llm provides a provider-agnostic model adapter for contextgraph.
// The extraction pipeline treats a provider as a black box that turns a
// system prompt and a user prompt into raw text plus token usage.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// DefaultModel is the model used when no --llm flag or config is given.
const DefaultModel = "claude-3-5-haiku-20241022"

// ErrAPIKeyRequired is returned when the selected provider has no credential.
var ErrAPIKeyRequired = errors.New("API key required")

// Provider is the interface for model completions.
type Provider interface {
	// Complete sends a prompt and returns the response text with token usage.
	Complete(ctx context.Context, prompt string, opts CompletionOpts) (*Completion, error)
	// Name returns a human-readable provider name (e.g., "anthropic/claude-3-5-haiku-20241022").
	Name() string
}

// CompletionOpts configures a single completion request.
type CompletionOpts struct {
	MaxTokens   int     // Max tokens to generate (0 = provider default)
	Temperature float64 // 0.0-1.0 (0 = deterministic)
	Model       string  // Override model for this request (empty = use provider default)
	Format      string  // "json" for structured output where the provider supports it
	System      string  // System prompt (optional)
}

// Completion is one model response.
type Completion struct {
	Text  string
	Usage Usage
}

// Usage counts tokens reported by the provider for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Config holds provider configuration.
type Config struct {
	Provider          string // "anthropic", "openrouter"
	Model             string // e.g., "claude-3-5-haiku-20241022", "openai/gpt-4o-mini"
	APIKey            string // API key (empty = read from env)
	BaseURL           string // Optional URL override
	RequestsPerMinute int    // 0 = unlimited
}

// NewProvider creates a provider from the given config.
func NewProvider(cfg Config) (Provider, error) {
	var p Provider
	switch strings.ToLower(cfg.Provider) {
	case "anthropic", "":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("%w: anthropic provider needs ANTHROPIC_API_KEY or llm.api_key", ErrAPIKeyRequired)
		}
		model := cfg.Model
		if model == "" {
			model = DefaultModel
		}
		p = newAnthropicProvider(key, model, cfg.BaseURL)

	case "openrouter":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("OPENROUTER_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("%w: openrouter provider needs OPENROUTER_API_KEY or llm.api_key", ErrAPIKeyRequired)
		}
		model := cfg.Model
		if model == "" {
			model = "anthropic/claude-3.5-haiku"
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://openrouter.ai/api/v1"
		}
		p = &openrouterProvider{
			apiKey:         key,
			model:          model,
			baseURL:        baseURL,
			maxRetries:     defaultMaxRetries,
			initialBackoff: defaultInitialBackoff,
		}

	default:
		return nil, fmt.Errorf("unknown LLM provider: %q (supported: anthropic, openrouter)", cfg.Provider)
	}

	if cfg.RequestsPerMinute > 0 {
		p = NewRateLimited(p, cfg.RequestsPerMinute)
	}
	return p, nil
}

// ParseLLMFlag parses a --llm flag value into a Config.
// Format: "provider/model" e.g., "anthropic/claude-3-5-haiku-20241022",
// "openrouter/anthropic/claude-3.5-haiku".
func ParseLLMFlag(flag string) (Config, error) {
	if flag == "" {
		return Config{Provider: "anthropic", Model: DefaultModel}, nil
	}

	parts := strings.SplitN(flag, "/", 2)
	if len(parts) < 2 || parts[1] == "" {
		return Config{}, fmt.Errorf("invalid --llm format %q: expected provider/model (e.g., anthropic/%s)", flag, DefaultModel)
	}

	provider := strings.ToLower(parts[0])
	model := parts[1]

	switch provider {
	case "anthropic", "openrouter":
		return Config{Provider: provider, Model: model}, nil
	default:
		return Config{}, fmt.Errorf("unknown provider %q in --llm flag (supported: anthropic, openrouter)", provider)
	}
}
