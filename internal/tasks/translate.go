package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/wordai/api/internal/client"
	"github.com/wordai/api/internal/model"
	"github.com/wordai/api/internal/worker"
)

const translateSystemPrompt = `You are a professional literary translator.
Translate the user's text into the target language given in the first line.
Preserve paragraph breaks and markdown. Output only the translation.`

// TranslateChapter translates one chapter into payload.TargetLanguage.
func (h *Handlers) TranslateChapter(ctx context.Context, job *model.Job, progress *worker.Progress) (*model.JobResult, error) {
	p, err := decode[model.TranslateChapterPayload](job)
	if err != nil {
		return nil, err
	}

	if err := progress.Report(ctx, 10, "loading chapter"); err != nil {
		return nil, err
	}
	text, sourceLang, err := h.chapterText(ctx, p)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, &model.ValidationError{Message: fmt.Sprintf("chapter %s has no text to translate", p.ChapterID)}
	}
	if sourceLang != "" && strings.EqualFold(sourceLang, p.TargetLanguage) {
		return nil, &model.ValidationError{Message: fmt.Sprintf("chapter %s is already in %s", p.ChapterID, p.TargetLanguage)}
	}

	if err := progress.Report(ctx, 30, "translating"); err != nil {
		return nil, err
	}
	var translated string
	if configured(h.deps.AI) {
		user := "Target language: " + p.TargetLanguage + "\n\n" + text
		err = h.retry(ctx, func(ctx context.Context) error {
			var err error
			translated, err = h.deps.AI.ChatCompletion(ctx, translateSystemPrompt, user,
				client.WithModel(providerModels[p.Provider]))
			return err
		})
		if err != nil {
			return nil, err
		}
	} else {
		translated = fmt.Sprintf("[%s] %s", p.TargetLanguage, text)
	}

	if err := progress.Report(ctx, 90, "saving translation"); err != nil {
		return nil, err
	}
	return h.store(ctx, job, model.NewArtifact{
		Scope: model.Scope{
			Kind:      model.ArtifactKindTranslation,
			SubjectID: p.ChapterID,
			Language:  p.TargetLanguage,
		},
	}, model.TranslationContent{
		SourceLanguage: sourceLang,
		Text:           translated,
		Provider:       p.Provider,
	})
}

func (h *Handlers) chapterText(ctx context.Context, p *model.TranslateChapterPayload) (string, string, error) {
	if p.SourceText != "" {
		return p.SourceText, p.SourceLanguage, nil
	}
	if !configured(h.deps.Content) {
		return fmt.Sprintf("Chapter %s", p.ChapterID), p.SourceLanguage, nil
	}

	var ch *client.Chapter
	err := h.retry(ctx, func(ctx context.Context) error {
		var err error
		ch, err = h.deps.Content.Chapter(ctx, p.ChapterID)
		return err
	})
	if err != nil {
		return "", "", err
	}
	lang := p.SourceLanguage
	if lang == "" {
		lang = ch.Language
	}
	return ch.Text, lang, nil
}
