package worker

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/wordai/api/internal/logging"
	"github.com/wordai/api/internal/model"
)

// TaskTypeSettle is the asynq task that charges completed jobs whose
// settlement did not go through at completion time.
const TaskTypeSettle = "maintenance:settle_jobs"

// DefaultSettleRetry bounds the in-line settlement retries after a job
// completes. Whatever still fails is picked up by the settlement sweep.
var DefaultSettleRetry = RetryPolicy{
	Retries:    3,
	Backoff:    200 * time.Millisecond,
	MaxBackoff: 5 * time.Second,
}

const (
	settleBatch = 100
	settleGrace = time.Minute
)

// UnsettledStore is implemented by jobs.Store.
type UnsettledStore interface {
	Get(ctx context.Context, id string) (*model.Job, error)
	Unsettled(ctx context.Context, before time.Time, limit int) ([]string, error)
	MarkSettled(ctx context.Context, id string) error
}

// settle charges job, retrying store failures under policy. Settlers are
// idempotent per job id, so repeating a charge that already landed is safe.
// An owner who can no longer cover the cost is not retried: charged is false
// and err is nil.
func settle(ctx context.Context, settler Settler, policy RetryPolicy, job *model.Job) (charged bool, err error) {
	var short *model.InsufficientBalanceError
	err = Retry(ctx, policy, func(ctx context.Context) error {
		err := settler.Settle(ctx, job)
		if err == nil || errors.As(err, &short) {
			return err
		}
		return model.Transient("settle", err)
	})
	if errors.As(err, &short) {
		return false, nil
	}
	return err == nil, err
}

// SettleResult counts what a settlement sweep did.
type SettleResult struct {
	Charged int
	Dropped int
	Failed  int
}

// Settlements charges completed jobs left in the unsettled set, for example
// after a ledger outage or a worker crash between completion and charge.
type Settlements struct {
	store   UnsettledStore
	settler Settler
	grace   time.Duration
	now     func() time.Time
	log     *zerolog.Logger
}

func NewSettlements(store UnsettledStore, settler Settler, logger *zerolog.Logger) *Settlements {
	return &Settlements{
		store:   store,
		settler: settler,
		grace:   settleGrace,
		now:     time.Now,
		log:     logging.Component(logger, "Settlements"),
	}
}

// Sweep settles one batch of jobs that completed more than the grace period
// ago. Jobs whose record expired or that are no longer completed are dropped
// from the set.
func (s *Settlements) Sweep(ctx context.Context) (SettleResult, error) {
	var res SettleResult
	ids, err := s.store.Unsettled(ctx, s.now().Add(-s.grace), settleBatch)
	if err != nil {
		s.log.Error().Err(err).Msg("settlement sweep failed")
		return res, err
	}

	for _, id := range ids {
		log := s.log.With().Str("job_id", id).Logger()

		job, err := s.store.Get(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			log.Warn().Msg("unsettled job record expired, charge dropped")
			res.Dropped++
			s.clear(ctx, &log, id)
			continue
		}
		if err != nil {
			log.Warn().Err(err).Msg("failed to load unsettled job")
			res.Failed++
			continue
		}
		if job.Status != model.JobStatusCompleted {
			res.Dropped++
			s.clear(ctx, &log, id)
			continue
		}

		charged, err := settle(ctx, s.settler, RetryPolicy{}, job)
		if err != nil {
			log.Warn().Err(err).Int64("cost", job.Cost).Msg("settlement still failing")
			res.Failed++
			continue
		}
		if charged {
			res.Charged++
		} else {
			log.Warn().Str("owner_id", job.OwnerID).Int64("cost", job.Cost).
				Msg("owner cannot cover completed job, charge dropped")
			res.Dropped++
		}
		s.clear(ctx, &log, id)
	}

	if len(ids) > 0 {
		s.log.Info().Int("charged", res.Charged).Int("dropped", res.Dropped).Int("failed", res.Failed).
			Msg("settlement sweep done")
	}
	return res, nil
}

func (s *Settlements) clear(ctx context.Context, log *zerolog.Logger, id string) {
	if err := s.store.MarkSettled(ctx, id); err != nil {
		log.Warn().Err(err).Msg("failed to clear unsettled marker")
	}
}

// ProcessTask handles TaskTypeSettle.
func (s *Settlements) ProcessTask(ctx context.Context, t *asynq.Task) error {
	_, err := s.Sweep(ctx)
	return err
}

// NewSettleTask builds the periodic settlement task.
func NewSettleTask() *asynq.Task {
	return asynq.NewTask(TaskTypeSettle, nil)
}
