package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/wordai/api/internal/metrics"
	"github.com/wordai/api/internal/model"
)

// maxErrorBody bounds how much of an upstream error body ends up in job errors.
const maxErrorBody = 512

// StatusError is a non-2xx response from an upstream service.
type StatusError struct {
	Upstream   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Upstream, e.StatusCode, e.Body)
}

// jsonAPI is the request plumbing shared by the HTTP upstreams.
type jsonAPI struct {
	upstream   string
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
}

func newJSONAPI(upstream, baseURL, apiKey string, timeout time.Duration, limiter *rate.Limiter) jsonAPI {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return jsonAPI{
		upstream:   upstream,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		limiter:    limiter,
	}
}

func (a jsonAPI) post(ctx context.Context, endpoint string, body, result any) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return a.doJSON(req, result)
}

func (a jsonAPI) get(ctx context.Context, endpoint string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return a.doJSON(req, result)
}

func (a jsonAPI) doJSON(req *http.Request, result any) error {
	req.Header.Set("Accept", "application/json")
	respBody, err := a.do(req)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal %s response: %w", a.upstream, err)
	}
	return nil
}

// do sends req and returns the body of a 2xx response. Network failures,
// timeouts, 429 and 5xx are returned as *model.TransientError.
func (a jsonAPI) do(req *http.Request) ([]byte, error) {
	op := a.upstream + " " + req.Method + " " + req.URL.Path

	if a.limiter != nil {
		if err := a.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	start := time.Now()
	resp, err := a.httpClient.Do(req)
	if err != nil {
		metrics.ObserveUpstream(a.upstream, time.Since(start), false)
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if isTimeout(err) {
			return nil, model.Transient(op, fmt.Errorf("timed out: %w", err))
		}
		return nil, model.Transient(op, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	ok := err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300
	metrics.ObserveUpstream(a.upstream, time.Since(start), ok)
	if err != nil {
		return nil, model.Transient(op, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body := string(respBody)
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		serr := &StatusError{Upstream: a.upstream, StatusCode: resp.StatusCode, Body: body}
		if retryableStatus(resp.StatusCode) {
			return nil, model.Transient(op, serr)
		}
		return nil, serr
	}
	return respBody, nil
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// configured reports whether a base URL was provided.
func (a jsonAPI) configured() bool {
	return a.baseURL != ""
}
