package collyfetcher

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimitRetryPolicyOnlyRetries429(t *testing.T) {
	t.Parallel()

	p := NewRateLimitRetryPolicy(5, 10*time.Second)
	for attempt := 1; attempt < 5; attempt++ {
		require.True(t, p.ShouldRetry(http.StatusTooManyRequests, attempt), "attempt %d", attempt)
	}
	require.False(t, p.ShouldRetry(http.StatusTooManyRequests, 5))
	require.False(t, p.ShouldRetry(http.StatusInternalServerError, 1))
	require.False(t, p.ShouldRetry(http.StatusServiceUnavailable, 1))
	require.False(t, p.ShouldRetry(http.StatusOK, 1))
}

func TestRateLimitRetryPolicyFixedBackoff(t *testing.T) {
	t.Parallel()

	p := NewRateLimitRetryPolicy(5, 10*time.Second)
	for attempt := 1; attempt <= 5; attempt++ {
		require.Equal(t, 10*time.Second, p.Backoff(attempt))
	}
}

func TestRateLimitRetryPolicyClampsInputs(t *testing.T) {
	t.Parallel()

	p := NewRateLimitRetryPolicy(0, -time.Second)
	require.Equal(t, 1, p.MaxAttempts())
	require.Zero(t, p.Backoff(1))
	require.False(t, p.ShouldRetry(http.StatusTooManyRequests, 1))
}
