package model

import (
	"encoding/json"
	"time"
)

// Job represents a background job in the system
type Job struct {
	ID              string          `json:"job_id"`
	Type            string          `json:"job_type"`
	OwnerID         string          `json:"owner_id"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Status          JobStatus       `json:"status"`
	Progress        int             `json:"progress"`
	CurrentStep     string          `json:"current_step,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           *JobError       `json:"error,omitempty"`
	Priority        Priority        `json:"priority"`
	Cost            int64           `json:"cost"`
	Billing         Billing         `json:"billing"`
	Attempts        int             `json:"attempts"`
	CancelRequested bool            `json:"cancel_requested,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
	HeartbeatAt     *time.Time      `json:"heartbeat_at,omitempty"`
}

// IsTerminal reports whether no further transitions are allowed.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// JobError is the structured failure stored on a failed job.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// JobResult is what a successful handler hands back to the worker.
type JobResult struct {
	ArtifactID string         `json:"artifact_id,omitempty"`
	Version    int            `json:"version,omitempty"`
	Language   string         `json:"language,omitempty"`
	URL        string         `json:"url,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// Job types
const (
	JobTypeTranslateChapter  = "translate_chapter"
	JobTypeGenerateSubtitles = "generate_subtitles"
	JobTypeGenerateNarration = "generate_narration"
	JobTypeExportVideo       = "export_video"
)

// TranslateChapterPayload contains the data for a chapter translation job
type TranslateChapterPayload struct {
	ChapterID      string `json:"chapter_id" validate:"required"`
	TargetLanguage string `json:"target_language" validate:"required,bcp47_language_tag"`
	SourceLanguage string `json:"source_language,omitempty" validate:"omitempty,bcp47_language_tag"`
	SourceText     string `json:"source_text,omitempty" validate:"omitempty,max=200000"`
	Provider       string `json:"provider,omitempty" validate:"omitempty,oneof=default gemini deepseek openai"`
}

// SlideText is one slide worth of source text for subtitle generation.
type SlideText struct {
	Index int    `json:"index" validate:"gte=0"`
	Text  string `json:"text" validate:"max=20000"`
}

// GenerateSubtitlesPayload contains the data for a subtitle generation job
type GenerateSubtitlesPayload struct {
	PresentationID string      `json:"presentation_id" validate:"required"`
	Language       string      `json:"language" validate:"required,bcp47_language_tag"`
	Slides         []SlideText `json:"slides,omitempty" validate:"omitempty,max=500,dive"`
	Mode           string      `json:"mode,omitempty" validate:"omitempty,oneof=presentation academy"`
	Provider       string      `json:"provider,omitempty" validate:"omitempty,oneof=default gemini deepseek openai"`
}

// GenerateNarrationPayload contains the data for a narration audio job
type GenerateNarrationPayload struct {
	PresentationID  string `json:"presentation_id" validate:"required"`
	Language        string `json:"language" validate:"required,bcp47_language_tag"`
	SubtitleVersion int    `json:"subtitle_version,omitempty" validate:"gte=0"`
	Voice           string `json:"voice,omitempty" validate:"omitempty,max=64"`
}

// ExportVideoPayload contains the data for a video export job
type ExportVideoPayload struct {
	PresentationID string `json:"presentation_id" validate:"required"`
	Language       string `json:"language" validate:"required,bcp47_language_tag"`
	AudioVersion   int    `json:"audio_version,omitempty" validate:"gte=0"`
	Resolution     string `json:"resolution,omitempty" validate:"omitempty,oneof=720p 1080p"`
}

// SubmitJobResponse is returned with 202 Accepted on job admission.
type SubmitJobResponse struct {
	JobID                string    `json:"job_id"`
	Status               JobStatus `json:"status"`
	EstimatedTimeSeconds int       `json:"estimated_time_seconds"`
	PollingURL           string    `json:"polling_url"`
	Cost                 int64     `json:"cost"`
	Billing              Billing   `json:"billing"`
}

// JobStatusResponse is the polling view of a job.
type JobStatusResponse struct {
	JobID       string          `json:"job_id"`
	JobType     string          `json:"job_type"`
	Status      JobStatus       `json:"status"`
	Progress    int             `json:"progress"`
	CurrentStep string          `json:"current_step,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *JobError       `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewJobStatusResponse builds the polling view of a job.
func NewJobStatusResponse(job *Job) *JobStatusResponse {
	progress := job.Progress
	if job.Status == JobStatusPending {
		progress = 0
	}
	return &JobStatusResponse{
		JobID:       job.ID,
		JobType:     job.Type,
		Status:      job.Status,
		Progress:    progress,
		CurrentStep: job.CurrentStep,
		Result:      job.Result,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
}

// CancelJobResponse acknowledges a cooperative cancel request.
type CancelJobResponse struct {
	JobID           string    `json:"job_id"`
	Status          JobStatus `json:"status"`
	CancelRequested bool      `json:"cancel_requested"`
}
