package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/wordai/api/internal/config"
	"github.com/wordai/api/internal/model"
)

// ChatMessage represents a message in the chat completion request
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest represents the request body for chat completion
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// ChatCompletionResponse represents the response from chat completion
type ChatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Generator produces text with an LLM.
type Generator interface {
	ChatCompletion(ctx context.Context, system, user string, opts ...ChatOption) (string, error)
	IsConfigured() bool
}

type chatOptions struct {
	model       string
	temperature float64
	maxTokens   int
}

type ChatOption func(*chatOptions)

// WithModel overrides the configured model, e.g. for a provider choice.
func WithModel(m string) ChatOption {
	return func(o *chatOptions) {
		if m != "" {
			o.model = m
		}
	}
}

func WithMaxTokens(n int) ChatOption {
	return func(o *chatOptions) { o.maxTokens = n }
}

// AIClient talks to an OpenAI-compatible chat completions endpoint.
type AIClient struct {
	api   jsonAPI
	model string
}

// NewAIClient creates a new AI API client. Requests are throttled to
// cfg.RequestsPerSec.
func NewAIClient(cfg *config.AIConfig) *AIClient {
	var limiter *rate.Limiter
	if cfg.RequestsPerSec > 0 {
		burst := int(cfg.RequestsPerSec)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), burst)
	}
	return &AIClient{
		api:   newJSONAPI("ai", strings.TrimRight(cfg.BaseURL, "/"), cfg.APIKey, time.Duration(cfg.TimeoutSec)*time.Second, limiter),
		model: cfg.Model,
	}
}

// ChatCompletion sends a chat completion request and returns the first choice.
func (c *AIClient) ChatCompletion(ctx context.Context, system, user string, opts ...ChatOption) (string, error) {
	o := chatOptions{model: c.model, temperature: 0.3, maxTokens: 4096}
	for _, opt := range opts {
		opt(&o)
	}

	reqBody := ChatCompletionRequest{
		Model: o.model,
		Messages: []ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
	}

	var chatResp ChatCompletionResponse
	if err := c.api.post(ctx, "/chat/completions", reqBody, &chatResp); err != nil {
		return "", err
	}
	if len(chatResp.Choices) == 0 {
		return "", model.Transient("ai chat completion", fmt.Errorf("no choices in response"))
	}
	return strings.TrimSpace(chatResp.Choices[0].Message.Content), nil
}

// IsConfigured returns true if the client has valid configuration
func (c *AIClient) IsConfigured() bool {
	return c.api.apiKey != "" && c.api.configured()
}
