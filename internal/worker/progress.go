package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/wordai/api/internal/jobs"
	"github.com/wordai/api/internal/model"
)

// Progress lets a handler report motion. Every report refreshes the job
// heartbeat, which keeps the reaper away.
type Progress struct {
	store    JobStore
	notifier Notifier
	jobID    string
	attempt  int
	log      *zerolog.Logger
}

// Report records pct (clamped to 0..100, never decreasing) and step.
// It returns model.ErrCanceled once a cancel was requested, and
// model.ErrInvalidTransition if the job is no longer owned by this worker,
// including when it was reaped and claimed again (model.ErrClaimLost).
func (p *Progress) Report(ctx context.Context, pct int, step string) error {
	res, err := p.store.Update(ctx, p.jobID, jobs.Update{Progress: &pct, Step: step, Attempt: p.attempt})
	if errors.Is(err, model.ErrInvalidTransition) || errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("job %s is no longer processing: %w", p.jobID, err)
	}
	if err != nil {
		// Progress is advisory; a flaky store must not kill the job.
		p.log.Warn().Err(err).Int("progress", pct).Msg("failed to record progress")
		return nil
	}

	p.notifier.BroadcastProgress(p.jobID, pct, step)
	if res.CancelRequested {
		return model.ErrCanceled
	}
	return nil
}
