// Package poller is the client side of the job API: submit a job, then poll
// its status until it reaches a terminal state or the caller's patience runs
// out.
package poller

import (
	"context"
	"errors"
	"time"

	"github.com/wordai/api/internal/model"
)

const (
	DefaultInterval    = 10 * time.Second
	DefaultMaxInterval = time.Minute
	DefaultTimeout     = 240 * time.Second
	DefaultMultiplier  = 2.0
)

// ErrStillProcessing is returned when Timeout elapses before the job reached
// a terminal state. The job may still finish server-side.
var ErrStillProcessing = errors.New("job still processing")

// StatusFunc fetches the current status of one job.
type StatusFunc func(ctx context.Context) (*model.JobStatusResponse, error)

type Options struct {
	// Interval between successful polls.
	Interval time.Duration
	// MaxInterval caps the backoff applied after failed polls.
	MaxInterval time.Duration
	// Timeout bounds the whole wait. Zero means DefaultTimeout.
	Timeout time.Duration
	// Multiplier grows the delay after each consecutive failed poll.
	Multiplier float64
	// OnStatus, when set, sees every status fetched.
	OnStatus func(*model.JobStatusResponse)
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.MaxInterval < o.Interval {
		o.MaxInterval = max(DefaultMaxInterval, o.Interval)
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Multiplier < 1 {
		o.Multiplier = DefaultMultiplier
	}
	return o
}

// Wait polls fetch until the job is completed or failed and returns that
// status. A failed job is not an error here; inspect the returned status.
//
// When Timeout elapses first, Wait returns the last status seen (possibly
// nil) with ErrStillProcessing. Fetch errors back off and keep polling,
// except API errors that retrying cannot fix, which are returned at once.
func Wait(ctx context.Context, fetch StatusFunc, opts Options) (*model.JobStatusResponse, error) {
	opts = opts.withDefaults()

	waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	var last *model.JobStatusResponse
	delay := opts.Interval
	for {
		status, err := fetch(waitCtx)
		switch {
		case err == nil:
			last = status
			if opts.OnStatus != nil {
				opts.OnStatus(status)
			}
			if status.Status.IsTerminal() {
				return status, nil
			}
			delay = opts.Interval
		case permanent(err):
			return last, err
		default:
			if waitCtx.Err() == nil {
				delay = min(time.Duration(float64(delay)*opts.Multiplier), opts.MaxInterval)
			}
		}

		timer := time.NewTimer(delay)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			return last, ErrStillProcessing
		case <-timer.C:
		}
	}
}

func permanent(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && !apiErr.Retryable()
}
