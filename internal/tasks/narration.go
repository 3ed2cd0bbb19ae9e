package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wordai/api/internal/client"
	"github.com/wordai/api/internal/model"
	"github.com/wordai/api/internal/worker"
)

// mockSecondsPerWord sizes mock narration the way a slow reader would.
const mockSecondsPerWord = 0.4

// GenerateNarration synthesizes audio for a subtitles version, one file per
// slide. The audio artifact records the subtitles artifact it came from.
func (h *Handlers) GenerateNarration(ctx context.Context, job *model.Job, progress *worker.Progress) (*model.JobResult, error) {
	p, err := decode[model.GenerateNarrationPayload](job)
	if err != nil {
		return nil, err
	}

	if err := progress.Report(ctx, 5, "loading subtitles"); err != nil {
		return nil, err
	}
	subs, err := h.loadSource(ctx, model.Scope{
		OwnerID:   job.OwnerID,
		Kind:      model.ArtifactKindSubtitles,
		SubjectID: p.PresentationID,
		Language:  p.Language,
	}, p.SubtitleVersion)
	if err != nil {
		return nil, err
	}
	var content model.SubtitleContent
	if err := json.Unmarshal(subs.Content, &content); err != nil {
		return nil, fmt.Errorf("decode subtitles %s: %w", subs.ID, err)
	}

	scope := model.Scope{OwnerID: job.OwnerID, Kind: model.ArtifactKindAudio, SubjectID: p.PresentationID, Language: p.Language}
	audio := model.AudioContent{SubtitleVersion: subs.Version, Voice: p.Voice}

	for i, slide := range content.Slides {
		pct := 10 + 80*i/len(content.Slides)
		if err := progress.Report(ctx, pct, fmt.Sprintf("narrating slide %d of %d", i+1, len(content.Slides))); err != nil {
			return nil, err
		}
		if strings.TrimSpace(slide.Text) == "" {
			continue
		}

		key := client.ArtifactKey(job.OwnerID, scope, fmt.Sprintf("%s-%d", job.ID, slide.Index), "mp3")
		sa, err := h.synthesize(ctx, p, slide, key)
		if err != nil {
			return nil, fmt.Errorf("slide %d: %w", slide.Index, err)
		}
		audio.Slides = append(audio.Slides, *sa)
		audio.DurationSeconds += sa.DurationSeconds
	}
	if len(audio.Slides) == 0 {
		return nil, &model.ValidationError{Message: fmt.Sprintf("subtitles v%d have no text to narrate", subs.Version)}
	}

	if err := progress.Report(ctx, 95, "saving narration"); err != nil {
		return nil, err
	}
	return h.store(ctx, job, model.NewArtifact{
		Scope:            scope,
		SourceArtifactID: subs.ID,
	}, audio)
}

func (h *Handlers) synthesize(ctx context.Context, p *model.GenerateNarrationPayload, slide model.SlideSubtitle, key string) (*model.SlideAudio, error) {
	if !configured(h.deps.TTS) {
		words := len(strings.Fields(slide.Text))
		return &model.SlideAudio{
			Index:           slide.Index,
			URL:             "mock://" + key,
			DurationSeconds: float64(words) * mockSecondsPerWord,
		}, nil
	}

	var resp *client.SynthesizeResponse
	err := h.retry(ctx, func(ctx context.Context) error {
		var err error
		resp, err = h.deps.TTS.Synthesize(ctx, &client.SynthesizeRequest{
			Language:  p.Language,
			Voice:     p.Voice,
			Segments:  []client.SynthesizeSegment{{Index: slide.Index, Text: slide.Text}},
			OutputKey: key,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &model.SlideAudio{Index: slide.Index, URL: resp.AudioURL, DurationSeconds: resp.Duration}, nil
}
