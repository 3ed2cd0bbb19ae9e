package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wordai/api/internal/config"
	"github.com/wordai/api/internal/model"
)

func TestAIClientChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req ChatCompletionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "deepseek-chat", req.Model)
		if assert.Len(t, req.Messages, 2) {
			assert.Equal(t, "system", req.Messages[0].Role)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"  Xin chào  "}}]}`))
	}))
	defer srv.Close()

	c := NewAIClient(&config.AIConfig{APIKey: "secret", BaseURL: srv.URL + "/", Model: "gpt-4o-mini", TimeoutSec: 5})
	require.True(t, c.IsConfigured())

	out, err := c.ChatCompletion(context.Background(), "translate", "Hello", WithModel("deepseek-chat"))
	require.NoError(t, err)
	assert.Equal(t, "Xin chào", out)
}

func TestAIClientClassifiesUpstreamErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusBadGateway, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":"nope"}`))
			}))
			defer srv.Close()

			c := NewAIClient(&config.AIConfig{APIKey: "k", BaseURL: srv.URL, TimeoutSec: 5})
			_, err := c.ChatCompletion(context.Background(), "s", "u")
			require.Error(t, err)
			assert.Equal(t, tt.transient, model.IsTransient(err))

			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.StatusCode)
		})
	}
}

func TestAIClientTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(1500 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewAIClient(&config.AIConfig{APIKey: "k", BaseURL: srv.URL, TimeoutSec: 1})
	_, err := c.ChatCompletion(context.Background(), "s", "u")
	require.Error(t, err)
	assert.True(t, model.IsTransient(err))
}

func TestAIClientNotConfigured(t *testing.T) {
	c := NewAIClient(&config.AIConfig{BaseURL: "https://api.example.com"})
	assert.False(t, c.IsConfigured())
}

func TestContentClientMapsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/chapters/c1":
			w.Write([]byte(`{"id":"c1","title":"One","language":"vi","text":"Xin chào"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewContentClient(&config.ContentConfig{BaseURL: srv.URL})

	ch, err := c.Chapter(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "vi", ch.Language)
	assert.Equal(t, "Xin chào", ch.Text)

	_, err = c.Chapter(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Equal(t, model.ErrorKindValidation, model.ClassifyError(err))
}

func TestPollRenderUntilDone(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/renders":
			w.Write([]byte(`{"task_id":"r1","status":"queued"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/renders/r1":
			if calls.Add(1) < 3 {
				w.Write([]byte(`{"task_id":"r1","status":"rendering","progress":50}`))
				return
			}
			w.Write([]byte(`{"task_id":"r1","status":"completed","progress":100,"video_url":"https://cdn/v.mp4"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewRenderClient(&config.RenderConfig{BaseURL: srv.URL})
	task, err := c.StartRender(context.Background(), &RenderRequest{PresentationID: "p1"})
	require.NoError(t, err)

	var seen []int
	done, err := PollRender(context.Background(), c, task.TaskID, 5*time.Millisecond, time.Second, func(t *RenderTask) error {
		seen = append(seen, t.Progress)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/v.mp4", done.VideoURL)
	assert.Equal(t, []int{50, 50, 100}, seen)
}

func TestPollRenderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"task_id":"r1","status":"failed","error":"codec"}`))
	}))
	defer srv.Close()

	c := NewRenderClient(&config.RenderConfig{BaseURL: srv.URL})
	_, err := PollRender(context.Background(), c, "r1", time.Millisecond, time.Second, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "codec")
}

func TestArtifactKey(t *testing.T) {
	scope := model.Scope{Kind: model.ArtifactKindAudio, SubjectID: "p1", Language: "vi"}
	assert.Equal(t, "artifacts/u1/audio/p1/vi/job-1.mp3", ArtifactKey("u1", scope, "job-1", ".mp3"))
}
