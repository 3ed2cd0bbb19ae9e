package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/wordai/api/internal/jobs"
	"github.com/wordai/api/internal/logging"
	"github.com/wordai/api/internal/metrics"
	"github.com/wordai/api/internal/model"
)

// DefaultJobTimeout caps a single handler invocation.
const DefaultJobTimeout = 15 * time.Minute

// Executor runs one claimed job through its handler and records the outcome.
// It never panics and never returns an error: every handler failure becomes
// a failed job.
type Executor struct {
	store       JobStore
	handlers    map[string]Handler
	settler     Settler
	notifier    Notifier
	timeout     time.Duration
	settleRetry RetryPolicy
	log         *zerolog.Logger
}

type ExecutorOption func(*Executor)

// WithNotifier pushes progress and terminal events to live subscribers.
func WithNotifier(n Notifier) ExecutorOption {
	return func(e *Executor) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithJobTimeout overrides DefaultJobTimeout. Zero disables the cap.
func WithJobTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = d }
}

// WithSettleRetry overrides DefaultSettleRetry.
func WithSettleRetry(p RetryPolicy) ExecutorOption {
	return func(e *Executor) { e.settleRetry = p }
}

func NewExecutor(store JobStore, settler Settler, logger *zerolog.Logger, opts ...ExecutorOption) *Executor {
	l := logging.Component(logger, "Executor")
	e := &Executor{
		store:       store,
		handlers:    make(map[string]Handler),
		settler:     settler,
		notifier:    nopNotifier{},
		timeout:     DefaultJobTimeout,
		settleRetry: DefaultSettleRetry,
		log:         l,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register binds a handler to a job type.
func (e *Executor) Register(jobType string, h Handler) {
	e.handlers[jobType] = h
}

// Run executes job, which must already be in processing.
func (e *Executor) Run(ctx context.Context, job *model.Job) {
	start := time.Now()
	metrics.JobStarted()
	defer metrics.JobFinished()

	log := e.log.With().
		Str("job_id", job.ID).
		Str("job_type", job.Type).
		Str("owner_id", job.OwnerID).
		Int("attempt", job.Attempts).
		Logger()
	log.Info().Msg("job started")

	if job.CancelRequested {
		e.fail(ctx, &log, job, start, model.ErrCanceled)
		return
	}

	h, ok := e.handlers[job.Type]
	if !ok {
		e.fail(ctx, &log, job, start, fmt.Errorf("no handler registered for job type %q: %w", job.Type, model.ErrUnknownJobType))
		return
	}

	progress := &Progress{
		store:    e.store,
		notifier: e.notifier,
		jobID:    job.ID,
		attempt:  job.Attempts,
		log:      &log,
	}

	result, err := e.invoke(ctx, h, job, progress)
	if err != nil {
		e.fail(ctx, &log, job, start, err)
		return
	}
	e.complete(ctx, &log, job, start, result)
}

func (e *Executor) invoke(ctx context.Context, h Handler, job *model.Job, progress *Progress) (result *model.JobResult, err error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			e.log.Error().
				Str("job_id", job.ID).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("handler panicked")
			result, err = nil, fmt.Errorf("handler panic: %v", r)
		}
	}()

	return h.Handle(ctx, job, progress)
}

func (e *Executor) complete(ctx context.Context, log *zerolog.Logger, job *model.Job, start time.Time, result *model.JobResult) {
	if result == nil {
		result = &model.JobResult{}
	}
	data, err := json.Marshal(result)
	if err != nil {
		e.fail(ctx, log, job, start, fmt.Errorf("marshal result: %w", err))
		return
	}

	res, err := e.store.Update(ctx, job.ID, jobs.Update{
		Status:  model.JobStatusCompleted,
		Result:  data,
		Attempt: job.Attempts,
	})
	if errors.Is(err, model.ErrInvalidTransition) {
		// Reaped, and possibly claimed again by another worker.
		log.Warn().Err(err).Msg("completion rejected, job no longer held by this worker")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to record completion")
		return
	}
	if !res.Applied {
		log.Debug().Msg("completion already recorded")
		return
	}

	// Charge only after the completed state is durable.
	e.settleCompleted(ctx, log, job)

	took := time.Since(start)
	metrics.ObserveJobFinished(job.Type, string(model.JobStatusCompleted), "", took)
	e.notifier.BroadcastComplete(job.ID, result)
	log.Info().Dur("took", took).Str("artifact_id", result.ArtifactID).Int("version", result.Version).Msg("job completed")
}

func (e *Executor) fail(ctx context.Context, log *zerolog.Logger, job *model.Job, start time.Time, cause error) {
	jobErr := model.JobError{
		Kind:    model.ClassifyError(cause),
		Message: cause.Error(),
	}

	res, err := e.store.Update(ctx, job.ID, jobs.Update{
		Status:  model.JobStatusFailed,
		Error:   &jobErr,
		Attempt: job.Attempts,
	})
	if err != nil {
		if errors.Is(err, model.ErrInvalidTransition) {
			log.Warn().Err(cause).Msg("job failed after it was no longer processing")
			return
		}
		log.Error().Err(err).AnErr("cause", cause).Msg("failed to record failure")
		return
	}
	if !res.Applied {
		return
	}

	took := time.Since(start)
	metrics.ObserveJobFinished(job.Type, string(model.JobStatusFailed), string(jobErr.Kind), took)
	e.notifier.BroadcastFailed(job.ID, jobErr)
	log.Warn().Dur("took", took).Str("error_kind", string(jobErr.Kind)).Err(cause).Msg("job failed")
}

// settleCompleted charges a job that just completed. The job stays in the
// unsettled set until the charge lands or is dropped, so a failure here is
// picked up by the settlement sweep.
func (e *Executor) settleCompleted(ctx context.Context, log *zerolog.Logger, job *model.Job) {
	charged, err := settle(ctx, e.settler, e.settleRetry, job)
	if err != nil {
		log.Error().Err(err).Int64("cost", job.Cost).Str("billing", string(job.Billing)).
			Msg("job completed but settlement failed, left for the sweep")
		return
	}
	if !charged {
		log.Warn().Int64("cost", job.Cost).Msg("owner cannot cover completed job, charge dropped")
	}
	if err := e.store.MarkSettled(ctx, job.ID); err != nil {
		log.Warn().Err(err).Msg("failed to clear unsettled marker")
	}
}
