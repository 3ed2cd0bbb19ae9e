package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wordai/api/internal/config"
	"github.com/wordai/api/internal/model"
)

// Chapter is the source document of a translation.
type Chapter struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Language string `json:"language"`
	Text     string `json:"text"`
}

// Slides is the source of a presentation's subtitles.
type Slides struct {
	PresentationID string            `json:"presentation_id"`
	Language       string            `json:"language"`
	Slides         []model.SlideText `json:"slides"`
}

// ContentSource reads documents owned by the document service.
type ContentSource interface {
	Chapter(ctx context.Context, chapterID string) (*Chapter, error)
	Slides(ctx context.Context, presentationID string) (*Slides, error)
	IsConfigured() bool
}

// ContentClient implements ContentSource over HTTP.
type ContentClient struct {
	api jsonAPI
}

func NewContentClient(cfg *config.ContentConfig) *ContentClient {
	return &ContentClient{
		api: newJSONAPI("content", strings.TrimRight(cfg.BaseURL, "/"), cfg.APIKey, 30*time.Second, nil),
	}
}

func (c *ContentClient) Chapter(ctx context.Context, chapterID string) (*Chapter, error) {
	var ch Chapter
	if err := c.api.get(ctx, "/v1/chapters/"+url.PathEscape(chapterID), &ch); err != nil {
		return nil, notFound(err, "chapter", chapterID)
	}
	return &ch, nil
}

func (c *ContentClient) Slides(ctx context.Context, presentationID string) (*Slides, error) {
	var s Slides
	if err := c.api.get(ctx, "/v1/presentations/"+url.PathEscape(presentationID)+"/slides", &s); err != nil {
		return nil, notFound(err, "presentation", presentationID)
	}
	return &s, nil
}

func (c *ContentClient) IsConfigured() bool {
	return c.api.configured()
}

// notFound turns a 404 into model.ErrNotFound so the job fails as a
// validation error instead of being retried.
func notFound(err error, what, id string) error {
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", what, id, model.ErrNotFound)
	}
	return err
}
