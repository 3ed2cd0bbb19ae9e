// Package tasks holds the job handlers: translation, subtitles, narration
// and video export. Each handler reads its inputs, calls one upstream
// service, stores a new artifact version and returns it as the job result.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/wordai/api/internal/artifact"
	"github.com/wordai/api/internal/client"
	"github.com/wordai/api/internal/logging"
	"github.com/wordai/api/internal/model"
	"github.com/wordai/api/internal/worker"
)

// providerModels maps a payload provider onto the chat model requested.
var providerModels = map[string]string{
	"deepseek": "deepseek-chat",
	"gemini":   "gemini-2.0-flash",
	"openai":   "gpt-4o-mini",
}

// Deps are the collaborators the handlers share. Unconfigured upstreams are
// replaced by deterministic mock output.
type Deps struct {
	Artifacts artifact.Store
	AI        client.Generator
	TTS       client.Synthesizer
	Render    client.Renderer
	Content   client.ContentSource
	Retry     worker.RetryPolicy

	// RenderPollInterval and RenderMaxWait bound export_video polling.
	RenderPollInterval time.Duration
	RenderMaxWait      time.Duration
}

type Handlers struct {
	deps Deps
	log  *zerolog.Logger
}

func New(deps Deps, logger *zerolog.Logger) *Handlers {
	if deps.RenderPollInterval <= 0 {
		deps.RenderPollInterval = 5 * time.Second
	}
	if deps.RenderMaxWait <= 0 {
		deps.RenderMaxWait = 10 * time.Minute
	}
	l := logging.Component(logger, "Tasks")
	return &Handlers{deps: deps, log: l}
}

// Register binds every handler to its job type.
func (h *Handlers) Register(exec *worker.Executor) {
	exec.Register(model.JobTypeTranslateChapter, worker.HandlerFunc(h.TranslateChapter))
	exec.Register(model.JobTypeGenerateSubtitles, worker.HandlerFunc(h.GenerateSubtitles))
	exec.Register(model.JobTypeGenerateNarration, worker.HandlerFunc(h.GenerateNarration))
	exec.Register(model.JobTypeExportVideo, worker.HandlerFunc(h.ExportVideo))
}

func decode[T any](job *model.Job) (*T, error) {
	var p T
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return nil, &model.ValidationError{Message: fmt.Sprintf("invalid %s payload: %v", job.Type, err)}
	}
	return &p, nil
}

func (h *Handlers) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	return worker.Retry(ctx, h.deps.Retry, fn)
}

func configured(c interface{ IsConfigured() bool }) bool {
	return c != nil && c.IsConfigured()
}

func (h *Handlers) store(ctx context.Context, job *model.Job, in model.NewArtifact, content any) (*model.JobResult, error) {
	if content != nil {
		data, err := json.Marshal(content)
		if err != nil {
			return nil, fmt.Errorf("marshal %s content: %w", in.Kind, err)
		}
		in.Content = data
	}
	in.OwnerID = job.OwnerID
	in.SourceJobID = job.ID

	a, err := h.deps.Artifacts.Create(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("store %s artifact: %w", in.Kind, err)
	}
	h.log.Info().
		Str("job_id", job.ID).
		Str("artifact_id", a.ID).
		Str("kind", string(a.Kind)).
		Str("subject_id", a.SubjectID).
		Str("language", a.Language).
		Int("version", a.Version).
		Msg("artifact version created")

	return &model.JobResult{
		ArtifactID: a.ID,
		Version:    a.Version,
		Language:   a.Language,
		URL:        a.URL,
	}, nil
}

// loadSource resolves the artifact a derived job builds on. version 0
// means the scope's effective default. A missing source is a validation
// failure, never retried.
func (h *Handlers) loadSource(ctx context.Context, scope model.Scope, version int) (*model.Artifact, error) {
	a, err := h.deps.Artifacts.Get(ctx, scope, version)
	if err != nil {
		return nil, fmt.Errorf("no %s for %s in %q: %w", scope.Kind, scope.SubjectID, scope.Language, err)
	}
	return a, nil
}
