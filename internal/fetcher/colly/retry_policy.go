package collyfetcher

import (
	"net/http"
	"time"
)

// RateLimitRetryPolicy retries only rate-limited responses, waiting a fixed delay between attempts.
type RateLimitRetryPolicy struct {
	maxAttempts int
	backoff     time.Duration
}

// NewRateLimitRetryPolicy builds a policy. Attempts below one are treated as one.
func NewRateLimitRetryPolicy(maxAttempts int, backoff time.Duration) *RateLimitRetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if backoff < 0 {
		backoff = 0
	}
	return &RateLimitRetryPolicy{maxAttempts: maxAttempts, backoff: backoff}
}

// ShouldRetry reports whether another attempt follows the given status.
func (p *RateLimitRetryPolicy) ShouldRetry(status int, attempt int) bool {
	if status != http.StatusTooManyRequests {
		return false
	}
	return attempt < p.maxAttempts
}

// Backoff returns the wait before the next attempt. It does not grow.
func (p *RateLimitRetryPolicy) Backoff(int) time.Duration {
	return p.backoff
}

// MaxAttempts returns the total attempt budget.
func (p *RateLimitRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}
