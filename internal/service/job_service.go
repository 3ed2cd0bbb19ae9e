package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/wordai/api/internal/jobs"
	"github.com/wordai/api/internal/logging"
	"github.com/wordai/api/internal/metering"
	"github.com/wordai/api/internal/metrics"
	"github.com/wordai/api/internal/model"
)

// jobResources maps job types onto the API resource they are polled under.
var jobResources = map[string]string{
	model.JobTypeTranslateChapter:  "chapters",
	model.JobTypeGenerateSubtitles: "presentations",
	model.JobTypeGenerateNarration: "presentations",
	model.JobTypeExportVideo:       "presentations",
}

// JobService admits, queues and reports on async jobs.
type JobService struct {
	store *jobs.Store
	gate  *metering.Gate
	log   *zerolog.Logger
}

func NewJobService(store *jobs.Store, gate *metering.Gate, logger *zerolog.Logger) *JobService {
	l := logging.Component(logger, "JobService")
	return &JobService{store: store, gate: gate, log: l}
}

// Submit validates payload, runs the admission check and enqueues the job.
// Validation and balance failures are returned before anything is queued.
func (s *JobService) Submit(ctx context.Context, ownerID, jobType string, payload []byte) (*model.SubmitJobResponse, error) {
	registry := s.store.Registry()
	if _, err := registry.Decode(jobType, payload); err != nil {
		metrics.IncAdmission(jobType, "invalid")
		return nil, err
	}
	def, _ := registry.Lookup(jobType)

	quote, err := s.gate.Admit(ctx, ownerID, jobType, metering.ProviderOf(payload))
	if err != nil {
		return nil, err
	}

	job, err := s.store.Submit(ctx, jobs.SubmitParams{
		Type:    jobType,
		OwnerID: ownerID,
		Payload: payload,
		Cost:    quote.Cost,
		Billing: quote.Billing,
	})
	if err != nil {
		return nil, err
	}
	metrics.IncJobSubmitted(jobType, string(quote.Billing))

	s.log.Info().
		Str("job_id", job.ID).
		Str("job_type", jobType).
		Str("owner_id", ownerID).
		Int64("cost", quote.Cost).
		Str("billing", string(quote.Billing)).
		Msg("job submitted")

	return &model.SubmitJobResponse{
		JobID:                job.ID,
		Status:               job.Status,
		EstimatedTimeSeconds: def.EstimatedSeconds,
		PollingURL:           PollingURL(jobType, job.ID),
		Cost:                 quote.Cost,
		Billing:              quote.Billing,
	}, nil
}

// PollingURL is where a client polls the status of jobID.
func PollingURL(jobType, jobID string) string {
	resource, ok := jobResources[jobType]
	if !ok {
		resource = "jobs"
	}
	return fmt.Sprintf("/api/%s/jobs/%s", resource, jobID)
}

// Status returns the polling view of a job owned by ownerID.
func (s *JobService) Status(ctx context.Context, ownerID, jobID string) (*model.JobStatusResponse, error) {
	job, err := s.owned(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	return model.NewJobStatusResponse(job), nil
}

// Cancel asks the worker to stop the job at its next progress report.
func (s *JobService) Cancel(ctx context.Context, ownerID, jobID string) (*model.CancelJobResponse, error) {
	if _, err := s.owned(ctx, ownerID, jobID); err != nil {
		return nil, err
	}
	job, err := s.store.RequestCancel(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &model.CancelJobResponse{
		JobID:           job.ID,
		Status:          job.Status,
		CancelRequested: job.CancelRequested,
	}, nil
}

func (s *JobService) owned(ctx context.Context, ownerID, jobID string) (*model.Job, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, model.ErrForbidden
	}
	return job, nil
}
