package llm

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/time/rate"
)

// RateLimited spaces calls to a backend with a token bucket.
type RateLimited struct {
	next    Completer
	limiter *rate.Limiter
}

// NewRateLimited allows requestsPerMinute calls per minute with a burst of
// one tenth of that, at least one.
func NewRateLimited(next Completer, requestsPerMinute int) *RateLimited {
	burst := max(requestsPerMinute/10, 1)
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst),
	}
}

// Complete waits for a token, then delegates. Waiting honours ctx.
func (r *RateLimited) Complete(ctx context.Context, req Request) (Completion, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Completion{}, fmt.Errorf("rate limit wait: %w", err)
	}
	return r.next.Complete(ctx, req)
}

func (r *RateLimited) Info() Info {
	return r.next.Info()
}

// Close closes the wrapped backend when it holds resources.
func (r *RateLimited) Close() error {
	if c, ok := r.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
