package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/wordai/api/internal/config"
)

// Renderer turns slides plus narration into a video.
type Renderer interface {
	StartRender(ctx context.Context, req *RenderRequest) (*RenderTask, error)
	RenderStatus(ctx context.Context, taskID string) (*RenderTask, error)
	IsConfigured() bool
}

// RenderRequest represents the request for a video render
type RenderRequest struct {
	PresentationID string   `json:"presentation_id"`
	Language       string   `json:"language"`
	AudioURLs      []string `json:"audio_urls"`
	Resolution     string   `json:"resolution"`
	OutputKey      string   `json:"output_key"`
}

// RenderTask is the render service's view of one render.
type RenderTask struct {
	TaskID   string  `json:"task_id"`
	Status   string  `json:"status"`
	Progress int     `json:"progress"`
	VideoURL string  `json:"video_url,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// Done reports whether the render reached a final state.
func (t *RenderTask) Done() bool {
	switch t.Status {
	case "completed", "success", "failed", "error":
		return true
	}
	return false
}

// Failed reports whether the render ended in failure.
func (t *RenderTask) Failed() bool {
	return t.Status == "failed" || t.Status == "error"
}

// RenderClient implements Renderer for the video render service
type RenderClient struct {
	api jsonAPI
}

// NewRenderClient creates a new render service client
func NewRenderClient(cfg *config.RenderConfig) *RenderClient {
	return &RenderClient{
		api: newJSONAPI("render", strings.TrimRight(cfg.BaseURL, "/"), cfg.APIKey, 60*time.Second, nil),
	}
}

// StartRender submits a render and returns its task.
func (c *RenderClient) StartRender(ctx context.Context, req *RenderRequest) (*RenderTask, error) {
	var task RenderTask
	if err := c.api.post(ctx, "/v1/renders", req, &task); err != nil {
		return nil, err
	}
	if task.TaskID == "" {
		return nil, fmt.Errorf("render service returned no task id")
	}
	return &task, nil
}

// RenderStatus retrieves the status of a render task
func (c *RenderClient) RenderStatus(ctx context.Context, taskID string) (*RenderTask, error) {
	var task RenderTask
	if err := c.api.get(ctx, "/v1/renders/"+url.PathEscape(taskID), &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *RenderClient) IsConfigured() bool {
	return c.api.configured()
}

// PollRender polls the render until it reaches a final state. onProgress is
// called with every status seen and may return an error to stop early.
func PollRender(ctx context.Context, r Renderer, taskID string, interval, maxWait time.Duration, onProgress func(*RenderTask) error) (*RenderTask, error) {
	ctx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		task, err := r.RenderStatus(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if onProgress != nil {
			if err := onProgress(task); err != nil {
				return nil, err
			}
		}
		if task.Done() {
			if task.Failed() {
				return nil, fmt.Errorf("video render failed: %s", task.Error)
			}
			return task, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
