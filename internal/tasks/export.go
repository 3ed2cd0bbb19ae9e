package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wordai/api/internal/client"
	"github.com/wordai/api/internal/model"
	"github.com/wordai/api/internal/worker"
)

// ExportVideo renders a presentation with one narration version.
func (h *Handlers) ExportVideo(ctx context.Context, job *model.Job, progress *worker.Progress) (*model.JobResult, error) {
	p, err := decode[model.ExportVideoPayload](job)
	if err != nil {
		return nil, err
	}
	resolution := p.Resolution
	if resolution == "" {
		resolution = "1080p"
	}

	if err := progress.Report(ctx, 5, "loading narration"); err != nil {
		return nil, err
	}
	audio, err := h.loadSource(ctx, model.Scope{
		OwnerID:   job.OwnerID,
		Kind:      model.ArtifactKindAudio,
		SubjectID: p.PresentationID,
		Language:  p.Language,
	}, p.AudioVersion)
	if err != nil {
		return nil, err
	}
	var narration model.AudioContent
	if err := json.Unmarshal(audio.Content, &narration); err != nil {
		return nil, fmt.Errorf("decode narration %s: %w", audio.ID, err)
	}

	scope := model.Scope{OwnerID: job.OwnerID, Kind: model.ArtifactKindVideo, SubjectID: p.PresentationID, Language: p.Language}
	key := client.ArtifactKey(job.OwnerID, scope, job.ID, "mp4")

	url, duration, err := h.render(ctx, progress, p, resolution, narration, key)
	if err != nil {
		return nil, err
	}

	if err := progress.Report(ctx, 95, "saving video"); err != nil {
		return nil, err
	}
	return h.store(ctx, job, model.NewArtifact{
		Scope:            scope,
		ObjectKey:        key,
		URL:              url,
		SourceArtifactID: audio.ID,
	}, model.VideoContent{
		AudioVersion:    audio.Version,
		Resolution:      resolution,
		DurationSeconds: duration,
	})
}

func (h *Handlers) render(ctx context.Context, progress *worker.Progress, p *model.ExportVideoPayload, resolution string, narration model.AudioContent, key string) (string, float64, error) {
	if !configured(h.deps.Render) {
		if err := progress.Report(ctx, 50, "rendering video"); err != nil {
			return "", 0, err
		}
		return "mock://" + key, narration.DurationSeconds, nil
	}

	urls := make([]string, 0, len(narration.Slides))
	for _, s := range narration.Slides {
		urls = append(urls, s.URL)
	}

	var task *client.RenderTask
	err := h.retry(ctx, func(ctx context.Context) error {
		var err error
		task, err = h.deps.Render.StartRender(ctx, &client.RenderRequest{
			PresentationID: p.PresentationID,
			Language:       p.Language,
			AudioURLs:      urls,
			Resolution:     resolution,
			OutputKey:      key,
		})
		return err
	})
	if err != nil {
		return "", 0, err
	}

	// Map the render's own 0-100 onto 10-90 of the job.
	done, err := client.PollRender(ctx, h.deps.Render, task.TaskID, h.deps.RenderPollInterval, h.deps.RenderMaxWait,
		func(t *client.RenderTask) error {
			return progress.Report(ctx, 10+t.Progress*80/100, "rendering video")
		})
	if err != nil {
		return "", 0, err
	}
	return done.VideoURL, done.Duration, nil
}
