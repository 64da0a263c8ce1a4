package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// rateLimited spaces out calls to the wrapped provider.
type rateLimited struct {
	Provider
	limiter *rate.Limiter
}

// NewRateLimited wraps p so that at most rpm requests start per minute.
func NewRateLimited(p Provider, rpm int) Provider {
	if rpm <= 0 {
		return p
	}
	return &rateLimited{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
	}
}

func (r *rateLimited) Complete(ctx context.Context, prompt string, opts CompletionOpts) (*Completion, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return r.Provider.Complete(ctx, prompt, opts)
}
