package client

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"time"
)

// RetryConfig controls retries of reads. Writes are never retried: a
// rotation commit that timed out may still have landed, and a repeated
// verify spends another of the server's limited attempts.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     float64
}

func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Jitter:     0.2,
	}
}

// backoff decides whether the read that failed with statusCode and err gets
// another attempt, and after how long. A 429 waits out the server's
// Retry-After; one longer than MaxDelay goes back to the caller, who can
// show the wait instead of hanging on it.
func (r *RetryConfig) backoff(attempt, statusCode int, err error) (time.Duration, bool) {
	if attempt >= r.MaxRetries {
		return 0, false
	}

	switch statusCode {
	case http.StatusRequestTimeout, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return r.Delay(attempt), true

	case http.StatusTooManyRequests:
		var apiErr *Error
		if !errors.As(err, &apiErr) || apiErr.RetryAfter <= 0 {
			return r.Delay(attempt), true
		}
		if apiErr.RetryAfter > r.MaxDelay {
			return 0, false
		}
		return apiErr.RetryAfter, true
	}

	return 0, false
}

// Delay doubles from BaseDelay per attempt up to MaxDelay, then spreads the
// result by ±Jitter.
func (r *RetryConfig) Delay(attempt int) time.Duration {
	delay := r.BaseDelay
	for i := 0; i < attempt && delay < r.MaxDelay; i++ {
		delay *= 2
	}
	if delay > r.MaxDelay {
		delay = r.MaxDelay
	}

	if r.Jitter > 0 {
		spread := float64(delay) * r.Jitter
		delay += time.Duration(spread * (2*rand.Float64() - 1))
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
