package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	anthropicDefaultMaxTokens = 4096
	defaultMaxRetries         = 3
	defaultInitialBackoff     = 1 * time.Second
)

// anthropicProvider implements Provider using the Anthropic Messages API.
type anthropicProvider struct {
	client         anthropic.Client
	model          string
	maxRetries     int
	initialBackoff time.Duration
}

func newAnthropicProvider(apiKey, model, baseURL string) *anthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Retries are handled by callWithRetry so backoff stays observable.
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &anthropicProvider{
		client:         anthropic.NewClient(opts...),
		model:          model,
		maxRetries:     defaultMaxRetries,
		initialBackoff: defaultInitialBackoff,
	}
}

func (a *anthropicProvider) Name() string {
	return "anthropic/" + a.model
}

func (a *anthropicProvider) Complete(ctx context.Context, prompt string, opts CompletionOpts) (*Completion, error) {
	model := a.model
	if opts.Model != "" {
		model = opts.Model
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(opts.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if opts.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: opts.System}}
	}

	return a.callWithRetry(ctx, params)
}

func (a *anthropicProvider) callWithRetry(ctx context.Context, params anthropic.MessageNewParams) (*Completion, error) {
	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := a.initialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		message, err := a.client.Messages.New(ctx, params)
		if err == nil {
			return completionFromMessage(message)
		}

		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRetryable(err) {
			return nil, fmt.Errorf("non-retryable error: %w", err)
		}
	}
	return nil, fmt.Errorf("failed after %d attempts: %w", a.maxRetries+1, lastErr)
}

func completionFromMessage(message *anthropic.Message) (*Completion, error) {
	c := &Completion{
		Usage: Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
	}
	for _, block := range message.Content {
		if block.Type == "text" {
			c.Text += block.Text
		}
	}
	if c.Text == "" {
		return c, fmt.Errorf("unexpected response format: no text content blocks")
	}
	return c, nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}
