package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wordai/api/internal/model"
)

const (
	jobKeyPrefix   = "job:"
	queueKeyPrefix = "queue:jobs:"
	processingKey  = "jobs:processing"
	unsettledKey   = "jobs:unsettled"

	// DefaultRetention is how long terminal job records are kept.
	DefaultRetention = 24 * time.Hour

	reapBatch = 100
)

func jobKey(id string) string { return jobKeyPrefix + id }
func queueKey(p model.Priority) string { return queueKeyPrefix + string(p) }

// Store is the Redis-backed job queue and job status store.
type Store struct {
	redis     *redis.Client
	registry  *Registry
	retention time.Duration
	now       func() time.Time
}

type Option func(*Store)

// WithRetention overrides how long terminal records live.
func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(redisClient *redis.Client, registry *Registry, opts ...Option) *Store {
	s := &Store{
		redis:     redisClient,
		registry:  registry,
		retention: DefaultRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the job type registry backing this store.
func (s *Store) Registry() *Registry { return s.registry }

// SubmitParams is the input to Submit.
type SubmitParams struct {
	Type    string
	OwnerID string
	Payload json.RawMessage
	Cost    int64
	Billing model.Billing
}

// Submit validates the payload and enqueues a new pending job. The job record
// and the queue entry are written in one MULTI/EXEC.
func (s *Store) Submit(ctx context.Context, p SubmitParams) (*model.Job, error) {
	if p.OwnerID == "" {
		return nil, &model.ValidationError{Message: "owner_id is required"}
	}
	if _, err := s.registry.Decode(p.Type, p.Payload); err != nil {
		return nil, err
	}
	def, _ := s.registry.Lookup(p.Type)

	if len(p.Payload) == 0 {
		p.Payload = json.RawMessage("{}")
	}
	billing := p.Billing
	if billing == "" {
		billing = model.BillingPaid
	}

	now := s.now().UTC()
	job := &model.Job{
		ID:        uuid.New().String(),
		Type:      p.Type,
		OwnerID:   p.OwnerID,
		Payload:   p.Payload,
		Status:    model.JobStatusPending,
		Priority:  def.Priority,
		Cost:      p.Cost,
		Billing:   billing,
		CreatedAt: now,
		UpdatedAt: now,
	}

	ms := strconv.FormatInt(now.UnixMilli(), 10)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, jobKey(job.ID), map[string]any{
			"id":               job.ID,
			"type":             job.Type,
			"owner_id":         job.OwnerID,
			"payload":          string(job.Payload),
			"status":           string(job.Status),
			"progress":         0,
			"step":             "",
			"priority":         string(job.Priority),
			"cost":             job.Cost,
			"billing":          string(job.Billing),
			"attempts":         0,
			"cancel_requested": 0,
			"created_at":       ms,
			"updated_at":       ms,
		})
		pipe.RPush(ctx, queueKey(job.Priority), job.ID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}
	return job, nil
}

// Dequeue claims the next pending job, high priority first and FIFO within a
// class, flipping it to processing. Returns nil, nil when nothing is queued.
// The returned job's Attempts identifies this claim; pass it as
// Update.Attempt so a reclaimed job rejects the earlier worker.
func (s *Store) Dequeue(ctx context.Context) (*model.Job, error) {
	keys := make([]string, 0, len(model.Priorities)+1)
	for _, p := range model.Priorities {
		keys = append(keys, queueKey(p))
	}
	keys = append(keys, processingKey)

	vals, err := dequeueScript.Run(ctx, s.redis, keys, s.now().UnixMilli(), jobKeyPrefix).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}
	if len(vals) != 2 {
		return nil, fmt.Errorf("unexpected dequeue result %v", vals)
	}
	id, _ := vals[0].(string)
	attempt, _ := vals[1].(int64)

	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	job.Attempts = int(attempt)
	return job, nil
}

// Get returns the current job record or model.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*model.Job, error) {
	fields, err := s.redis.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	if len(fields) == 0 {
		return nil, model.ErrNotFound
	}
	return decodeJob(fields)
}

// Update describes a progress report or a terminal transition.
// An empty Status means progress/step only.
type Update struct {
	Status   model.JobStatus
	Progress *int
	Step     string
	Result   json.RawMessage
	Error    *model.JobError

	// Attempt fences the update to one claim. When non-zero it must equal
	// the attempt counter Dequeue returned, otherwise the update fails with
	// model.ErrClaimLost.
	Attempt int
}

// UpdateResult reports what Update did.
type UpdateResult struct {
	// Applied is false when an identical terminal update was already stored.
	Applied bool
	// CancelRequested is set on progress updates for jobs flagged for cancel.
	CancelRequested bool
}

// Update applies u atomically. Terminal transitions are accepted only from
// processing; repeating the same terminal update is a no-op and any other
// change after a terminal state fails with model.ErrInvalidTransition.
// Completed jobs stay listed by Unsettled until MarkSettled.
func (s *Store) Update(ctx context.Context, id string, u Update) (UpdateResult, error) {
	var progress, result, errKind, errMsg string

	switch u.Status {
	case "":
		if u.Result != nil || u.Error != nil {
			return UpdateResult{}, fmt.Errorf("result or error without terminal status: %w", model.ErrInvalidTransition)
		}
	case model.JobStatusCompleted:
		if u.Error != nil {
			return UpdateResult{}, fmt.Errorf("completed job cannot carry an error: %w", model.ErrInvalidTransition)
		}
		result = string(u.Result)
	case model.JobStatusFailed:
		if u.Result != nil {
			return UpdateResult{}, fmt.Errorf("failed job cannot carry a result: %w", model.ErrInvalidTransition)
		}
		jerr := u.Error
		if jerr == nil {
			jerr = &model.JobError{Kind: model.ErrorKindHandler, Message: "job failed"}
		}
		errKind, errMsg = string(jerr.Kind), jerr.Message
	default:
		return UpdateResult{}, fmt.Errorf("cannot set status %q: %w", u.Status, model.ErrInvalidTransition)
	}

	if u.Progress != nil {
		progress = strconv.Itoa(clampProgress(*u.Progress))
	}

	res, err := updateScript.Run(ctx, s.redis,
		[]string{jobKey(id), processingKey, unsettledKey},
		s.now().UnixMilli(),
		string(u.Status),
		progress,
		u.Step,
		result,
		errKind,
		errMsg,
		int64(s.retention/time.Second),
		id,
		u.Attempt,
	).Text()
	if err != nil {
		return UpdateResult{}, fmt.Errorf("failed to update job: %w", err)
	}

	switch res {
	case "ok":
		return UpdateResult{Applied: true}, nil
	case "cancel_requested":
		return UpdateResult{Applied: true, CancelRequested: true}, nil
	case "noop":
		return UpdateResult{}, nil
	case "not_found":
		return UpdateResult{}, model.ErrNotFound
	case "invalid_transition":
		return UpdateResult{}, model.ErrInvalidTransition
	case "claim_lost":
		return UpdateResult{}, model.ErrClaimLost
	default:
		return UpdateResult{}, fmt.Errorf("unexpected update result %q", res)
	}
}

// RequestCancel marks intent to cancel. The worker observes the flag on its
// next progress report; terminal jobs are left untouched.
func (s *Store) RequestCancel(ctx context.Context, id string) (*model.Job, error) {
	res, err := cancelScript.Run(ctx, s.redis, []string{jobKey(id)}, s.now().UnixMilli()).Text()
	if err != nil {
		return nil, fmt.Errorf("failed to cancel job: %w", err)
	}
	switch res {
	case "not_found":
		return nil, model.ErrNotFound
	case "terminal", "ok":
		return s.Get(ctx, id)
	default:
		return nil, fmt.Errorf("unexpected cancel result %q", res)
	}
}

// ReapResult counts what a stale sweep did.
type ReapResult struct {
	Requeued int
	Failed   int
}

// ReapStale recovers processing jobs whose last heartbeat is at or before
// staleBefore. Jobs with attempts left go back to the head of their queue,
// the rest fail with kind "stale".
func (s *Store) ReapStale(ctx context.Context, staleBefore time.Time, maxAttempts int) (ReapResult, error) {
	var total ReapResult
	for {
		vals, err := reapScript.Run(ctx, s.redis,
			[]string{processingKey},
			staleBefore.UnixMilli(),
			maxAttempts,
			s.now().UnixMilli(),
			int64(s.retention/time.Second),
			jobKeyPrefix,
			queueKeyPrefix,
			reapBatch,
		).Int64Slice()
		if err != nil {
			return total, fmt.Errorf("failed to reap stale jobs: %w", err)
		}
		if len(vals) != 2 {
			return total, fmt.Errorf("unexpected reap result %v", vals)
		}
		total.Requeued += int(vals[0])
		total.Failed += int(vals[1])
		if vals[0]+vals[1] < reapBatch {
			return total, nil
		}
	}
}

// Unsettled returns up to limit completed job ids that have not been charged
// and completed at or before before.
func (s *Store) Unsettled(ctx context.Context, before time.Time, limit int) ([]string, error) {
	ids, err := s.redis.ZRangeByScore(ctx, unsettledKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(before.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list unsettled jobs: %w", err)
	}
	return ids, nil
}

// MarkSettled removes id from the unsettled set.
func (s *Store) MarkSettled(ctx context.Context, id string) error {
	if err := s.redis.ZRem(ctx, unsettledKey, id).Err(); err != nil {
		return fmt.Errorf("failed to mark job settled: %w", err)
	}
	return nil
}

// Depth returns the number of queued ids per priority class.
func (s *Store) Depth(ctx context.Context) (map[model.Priority]int64, error) {
	pipe := s.redis.Pipeline()
	cmds := make(map[model.Priority]*redis.IntCmd, len(model.Priorities))
	for _, p := range model.Priorities {
		cmds[p] = pipe.LLen(ctx, queueKey(p))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read queue depth: %w", err)
	}
	out := make(map[model.Priority]int64, len(cmds))
	for p, cmd := range cmds {
		out[p] = cmd.Val()
	}
	return out, nil
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func decodeJob(f map[string]string) (*model.Job, error) {
	job := &model.Job{
		ID:              f["id"],
		Type:            f["type"],
		OwnerID:         f["owner_id"],
		Status:          model.JobStatus(f["status"]),
		CurrentStep:     f["step"],
		Priority:        model.Priority(f["priority"]),
		Billing:         model.Billing(f["billing"]),
		CancelRequested: f["cancel_requested"] == "1",
	}
	if v := f["payload"]; v != "" {
		job.Payload = json.RawMessage(v)
	}
	if v := f["result"]; v != "" && job.Status == model.JobStatusCompleted {
		job.Result = json.RawMessage(v)
	}
	if kind := f["error_kind"]; kind != "" && job.Status == model.JobStatusFailed {
		job.Error = &model.JobError{Kind: model.ErrorKind(kind), Message: f["error_message"]}
	}

	var err error
	if job.Progress, err = atoiDefault(f["progress"]); err != nil {
		return nil, fmt.Errorf("job %s progress: %w", job.ID, err)
	}
	if job.Attempts, err = atoiDefault(f["attempts"]); err != nil {
		return nil, fmt.Errorf("job %s attempts: %w", job.ID, err)
	}
	if v := f["cost"]; v != "" {
		if job.Cost, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("job %s cost: %w", job.ID, err)
		}
	}

	job.CreatedAt = msTime(f["created_at"])
	job.UpdatedAt = msTime(f["updated_at"])
	job.StartedAt = msTimePtr(f["started_at"])
	job.FinishedAt = msTimePtr(f["finished_at"])
	job.HeartbeatAt = msTimePtr(f["heartbeat_at"])
	return job, nil
}

func atoiDefault(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func msTime(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func msTimePtr(s string) *time.Time {
	t := msTime(s)
	if t.IsZero() {
		return nil
	}
	return &t
}
