package worker

import (
	"context"
	"time"

	"github.com/wordai/api/internal/model"
)

// RetryPolicy bounds retries of transient upstream failures inside a handler.
type RetryPolicy struct {
	Retries    int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// DefaultRetryPolicy retries twice, starting at one second.
var DefaultRetryPolicy = RetryPolicy{
	Retries:    2,
	Backoff:    time.Second,
	MaxBackoff: 30 * time.Second,
}

// Retry runs fn until it succeeds, returns a non-transient error, or the
// policy is exhausted. Only *model.TransientError is retried.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	backoff := policy.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	maxBackoff := policy.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil || !model.IsTransient(err) || attempt >= policy.Retries {
			return err
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
