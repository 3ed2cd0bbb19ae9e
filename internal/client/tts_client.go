package client

import (
	"context"
	"strings"
	"time"

	"github.com/wordai/api/internal/config"
)

// Synthesizer turns subtitle text into narration audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error)
	IsConfigured() bool
}

// SynthesizeSegment is one slide worth of narration.
type SynthesizeSegment struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// SynthesizeRequest represents the request for speech synthesis
type SynthesizeRequest struct {
	Language  string              `json:"language"`
	Voice     string              `json:"voice,omitempty"`
	Segments  []SynthesizeSegment `json:"segments"`
	OutputKey string              `json:"output_key"`
}

// SynthesizeResponse represents the response from speech synthesis
type SynthesizeResponse struct {
	AudioURL string  `json:"audio_url"`
	Duration float64 `json:"duration"`
	Size     int64   `json:"size"`
}

// TTSClient implements Synthesizer for the speech microservice
type TTSClient struct {
	api jsonAPI
}

// NewTTSClient creates a new speech synthesis client
func NewTTSClient(cfg *config.TTSConfig) *TTSClient {
	return &TTSClient{
		api: newJSONAPI("tts", strings.TrimRight(cfg.ServiceURL, "/"), "", time.Duration(cfg.TimeoutSec)*time.Second, nil),
	}
}

// Synthesize renders the segments to one audio file stored at OutputKey.
func (c *TTSClient) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error) {
	var result SynthesizeResponse
	if err := c.api.post(ctx, "/synthesize", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// HealthCheck checks if the speech service is available
func (c *TTSClient) HealthCheck(ctx context.Context) error {
	return c.api.get(ctx, "/health", nil)
}

// IsConfigured returns true if the client has valid configuration
func (c *TTSClient) IsConfigured() bool {
	return c.api.configured()
}
