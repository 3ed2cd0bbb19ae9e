package worker

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/wordai/api/internal/jobs"
	"github.com/wordai/api/internal/logging"
	"github.com/wordai/api/internal/metrics"
)

// TaskTypeReapStale is the asynq task that triggers a stale-job sweep.
const TaskTypeReapStale = "maintenance:reap_stale_jobs"

// StaleReaper is implemented by jobs.Store.
type StaleReaper interface {
	ReapStale(ctx context.Context, staleBefore time.Time, maxAttempts int) (jobs.ReapResult, error)
}

// Reaper recovers jobs left in processing by a crashed worker: no heartbeat
// within staleAfter means the job is requeued, or failed once maxAttempts
// claims have been used.
type Reaper struct {
	store       StaleReaper
	staleAfter  time.Duration
	maxAttempts int
	now         func() time.Time
	log         *zerolog.Logger
}

func NewReaper(store StaleReaper, staleAfter time.Duration, maxAttempts int, logger *zerolog.Logger) *Reaper {
	l := logging.Component(logger, "Reaper")
	return &Reaper{
		store:       store,
		staleAfter:  staleAfter,
		maxAttempts: maxAttempts,
		now:         time.Now,
		log:         l,
	}
}

// Sweep runs one pass.
func (r *Reaper) Sweep(ctx context.Context) (jobs.ReapResult, error) {
	res, err := r.store.ReapStale(ctx, r.now().Add(-r.staleAfter), r.maxAttempts)
	if err != nil {
		r.log.Error().Err(err).Msg("stale sweep failed")
		return res, err
	}
	metrics.AddJobsReaped("requeued", res.Requeued)
	metrics.AddJobsReaped("failed", res.Failed)
	if res.Requeued > 0 || res.Failed > 0 {
		r.log.Warn().Int("requeued", res.Requeued).Int("failed", res.Failed).Msg("recovered stale jobs")
	}
	return res, nil
}

// ProcessTask handles TaskTypeReapStale.
func (r *Reaper) ProcessTask(ctx context.Context, t *asynq.Task) error {
	_, err := r.Sweep(ctx)
	return err
}

// NewReapTask builds the periodic sweep task.
func NewReapTask() *asynq.Task {
	return asynq.NewTask(TaskTypeReapStale, nil)
}
