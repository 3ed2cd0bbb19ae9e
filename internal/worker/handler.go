package worker

import (
	"context"

	"github.com/wordai/api/internal/jobs"
	"github.com/wordai/api/internal/model"
)

// Handler executes one job type. Returning an error fails the job; the error
// is classified with model.ClassifyError.
type Handler interface {
	Handle(ctx context.Context, job *model.Job, progress *Progress) (*model.JobResult, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *model.Job, progress *Progress) (*model.JobResult, error)

func (f HandlerFunc) Handle(ctx context.Context, job *model.Job, progress *Progress) (*model.JobResult, error) {
	return f(ctx, job, progress)
}

// JobStore is the slice of jobs.Store the worker needs.
type JobStore interface {
	Dequeue(ctx context.Context) (*model.Job, error)
	Update(ctx context.Context, id string, u jobs.Update) (jobs.UpdateResult, error)
	MarkSettled(ctx context.Context, id string) error
}

// Settler charges for a completed job. Implementations must be idempotent
// per job id.
type Settler interface {
	Settle(ctx context.Context, job *model.Job) error
}

// Notifier pushes live job events. Delivery is best-effort.
type Notifier interface {
	BroadcastProgress(jobID string, progress int, step string)
	BroadcastComplete(jobID string, result *model.JobResult)
	BroadcastFailed(jobID string, jobErr model.JobError)
}

type nopNotifier struct{}

func (nopNotifier) BroadcastProgress(string, int, string)      {}
func (nopNotifier) BroadcastComplete(string, *model.JobResult) {}
func (nopNotifier) BroadcastFailed(string, model.JobError)     {}
