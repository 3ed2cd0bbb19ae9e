package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wordai/api/internal/model"
)

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    json.RawMessage
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api returned %d", e.StatusCode)
	}
	return fmt.Sprintf("api returned %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Retryable reports whether polling should keep going after e.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client talks to the job API on behalf of one bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type ClientOption func(*Client)

// WithHTTPClient replaces the default client with its 15s timeout.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit starts operation on /api/{resource}/{subjectID}. params is the
// operation-specific body and may be nil.
func (c *Client) Submit(ctx context.Context, resource, subjectID, operation string, params any) (*model.SubmitJobResponse, error) {
	if params == nil {
		params = struct{}{}
	}
	var out model.SubmitJobResponse
	path := fmt.Sprintf("/api/%s/%s/%s", resource, subjectID, operation)
	if err := c.do(ctx, http.MethodPost, path, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status fetches a job by its polling URL, as returned from Submit.
func (c *Client) Status(ctx context.Context, pollingURL string) (*model.JobStatusResponse, error) {
	var out model.JobStatusResponse
	if err := c.do(ctx, http.MethodGet, pollingURL, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StatusFunc binds Status to one job for Wait.
func (c *Client) StatusFunc(pollingURL string) StatusFunc {
	return func(ctx context.Context) (*model.JobStatusResponse, error) {
		return c.Status(ctx, pollingURL)
	}
}

func (c *Client) Balance(ctx context.Context) (*model.BalanceResponse, error) {
	var out model.BalanceResponse
	if err := c.do(ctx, http.MethodGet, "/api/points/balance", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var env struct {
			Error struct {
				Code    string          `json:"code"`
				Message string          `json:"message"`
				Details json.RawMessage `json:"details"`
			} `json:"error"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&env); err == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}
