// ABOUTME: Budget gates each generation request against requests-per-minute and tokens-per-minute
// ABOUTME: Token buckets from golang.org/x/time/rate, refilled continuously over a minute
package core

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Budget tracks recent usage against the provider's per-minute ceilings.
// A nil Budget admits everything.
type Budget struct {
	requests *rate.Limiter
	tokens   *rate.Limiter
}

// NewBudget creates a budget; a zero limit disables that dimension
func NewBudget(requestsPerMin, tokensPerMin int) *Budget {
	b := &Budget{}
	if requestsPerMin > 0 {
		b.requests = rate.NewLimiter(rate.Limit(float64(requestsPerMin)/60), requestsPerMin)
	}
	if tokensPerMin > 0 {
		b.tokens = rate.NewLimiter(rate.Limit(float64(tokensPerMin)/60), tokensPerMin)
	}
	return b
}

// Wait blocks until one request of the given token size fits the budget.
// Asks larger than a full minute of tokens are clamped to the bucket size.
func (b *Budget) Wait(ctx context.Context, tokens int) error {
	if b == nil {
		return nil
	}
	if b.requests != nil {
		if err := b.requests.Wait(ctx); err != nil {
			return fmt.Errorf("request budget: %w", err)
		}
	}
	if b.tokens != nil && tokens > 0 {
		n := min(tokens, b.tokens.Burst())
		if err := b.tokens.WaitN(ctx, n); err != nil {
			return fmt.Errorf("token budget: %w", err)
		}
	}
	return nil
}
