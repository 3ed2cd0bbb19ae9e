package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/wordai/api/internal/client"
	"github.com/wordai/api/internal/model"
	"github.com/wordai/api/internal/worker"
)

var subtitlePrompts = map[string]string{
	"presentation": `Write a short spoken narration script for one presentation slide.
Write in the language given in the first line. Two to four sentences, no
markdown, no slide numbers.`,
	"academy": `Write a clear lecture-style narration for one course slide.
Write in the language given in the first line. Explain the content as a
lecturer would, in four to six sentences, no markdown.`,
}

// GenerateSubtitles writes one narration script per slide.
func (h *Handlers) GenerateSubtitles(ctx context.Context, job *model.Job, progress *worker.Progress) (*model.JobResult, error) {
	p, err := decode[model.GenerateSubtitlesPayload](job)
	if err != nil {
		return nil, err
	}
	mode := p.Mode
	if mode == "" {
		mode = "presentation"
	}

	if err := progress.Report(ctx, 5, "loading slides"); err != nil {
		return nil, err
	}
	slides, err := h.slides(ctx, p)
	if err != nil {
		return nil, err
	}
	if len(slides) == 0 {
		return nil, &model.ValidationError{Message: fmt.Sprintf("presentation %s has no slides", p.PresentationID)}
	}

	out := make([]model.SlideSubtitle, 0, len(slides))
	for i, s := range slides {
		pct := 10 + 80*i/len(slides)
		if err := progress.Report(ctx, pct, fmt.Sprintf("writing slide %d of %d", i+1, len(slides))); err != nil {
			return nil, err
		}
		text, err := h.subtitleFor(ctx, p, mode, s)
		if err != nil {
			return nil, fmt.Errorf("slide %d: %w", s.Index, err)
		}
		out = append(out, model.SlideSubtitle{Index: s.Index, Text: text})
	}

	if err := progress.Report(ctx, 95, "saving subtitles"); err != nil {
		return nil, err
	}
	return h.store(ctx, job, model.NewArtifact{
		Scope: model.Scope{
			Kind:      model.ArtifactKindSubtitles,
			SubjectID: p.PresentationID,
			Language:  p.Language,
		},
	}, model.SubtitleContent{Slides: out})
}

func (h *Handlers) subtitleFor(ctx context.Context, p *model.GenerateSubtitlesPayload, mode string, s model.SlideText) (string, error) {
	if strings.TrimSpace(s.Text) == "" {
		return "", nil
	}
	if !configured(h.deps.AI) {
		return fmt.Sprintf("[%s] %s", p.Language, s.Text), nil
	}

	var text string
	err := h.retry(ctx, func(ctx context.Context) error {
		var err error
		text, err = h.deps.AI.ChatCompletion(ctx, subtitlePrompts[mode],
			"Language: "+p.Language+"\n\n"+s.Text,
			client.WithModel(providerModels[p.Provider]),
			client.WithMaxTokens(512))
		return err
	})
	return text, err
}

func (h *Handlers) slides(ctx context.Context, p *model.GenerateSubtitlesPayload) ([]model.SlideText, error) {
	if len(p.Slides) > 0 {
		return p.Slides, nil
	}
	if !configured(h.deps.Content) {
		return []model.SlideText{{Index: 0, Text: "Presentation " + p.PresentationID}}, nil
	}

	var s *client.Slides
	err := h.retry(ctx, func(ctx context.Context) error {
		var err error
		s, err = h.deps.Content.Slides(ctx, p.PresentationID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.Slides, nil
}
