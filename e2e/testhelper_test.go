package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/wordai/api/internal/artifact"
	"github.com/wordai/api/internal/auth"
	"github.com/wordai/api/internal/client"
	"github.com/wordai/api/internal/config"
	"github.com/wordai/api/internal/handler"
	"github.com/wordai/api/internal/jobs"
	"github.com/wordai/api/internal/logging"
	"github.com/wordai/api/internal/metering"
	"github.com/wordai/api/internal/middleware"
	"github.com/wordai/api/internal/service"
	"github.com/wordai/api/internal/tasks"
	ws "github.com/wordai/api/internal/websocket"
	"github.com/wordai/api/internal/worker"
)

const testJWTSecret = "e2e-test-secret"

var testPrices = map[string]int64{
	"translate_chapter":  2,
	"generate_subtitles": 3,
	"generate_narration": 5,
	"export_video":       10,
}

type testEnv struct {
	app       *fiber.App
	mr        *miniredis.Miniredis
	redis     *redis.Client
	gate      *metering.Gate
	jobs      *jobs.Store
	artifacts *artifact.MemoryStore
}

// setupApp wires the API and an in-process worker pool against miniredis.
// Upstream clients are left unconfigured so handlers produce mock output.
func setupApp(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	log := logging.Nop()
	validate := jobs.NewValidator()
	jobStore := jobs.NewStore(rdb, jobs.DefaultRegistry(validate))
	artifacts := artifact.NewMemoryStore()
	gate := metering.NewGate(metering.NewPriceTable(testPrices), metering.NewMemoryLedger(), nil, log)
	hub := ws.NewHub(nil, log)

	handlers := tasks.New(tasks.Deps{
		Artifacts:          artifacts,
		AI:                 client.NewAIClient(&config.AIConfig{}),
		TTS:                client.NewTTSClient(&config.TTSConfig{}),
		Render:             client.NewRenderClient(&config.RenderConfig{}),
		Content:            client.NewContentClient(&config.ContentConfig{}),
		Retry:              worker.RetryPolicy{Retries: 1, Backoff: time.Millisecond, MaxBackoff: time.Millisecond},
		RenderPollInterval: time.Millisecond,
	}, log)
	exec := worker.NewExecutor(jobStore, gate, log, worker.WithNotifier(hub))
	handlers.Register(exec)
	pool := worker.NewPool(jobStore, exec, worker.PoolConfig{Concurrency: 2, PollInterval: 5 * time.Millisecond}, log)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = pool.Run(ctx) }()
	go func() { defer wg.Done(); hub.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	authenticator := auth.NewAuthenticator(nil, testJWTSecret)
	router := &handler.Router{
		Identity:      middleware.Authenticate(authenticator),
		WSIdentity:    middleware.AuthenticateQuery(authenticator),
		RateLimiter:   middleware.NewRateLimiter(rdb, log),
		SubmitPerHour: 100,
		StatusPerMin:  1000,
		Jobs:          handler.NewJobHandler(service.NewJobService(jobStore, gate, log), log),
		Artifacts:     handler.NewArtifactHandler(service.NewArtifactService(artifacts, nil, log), validate, log),
		Points:        handler.NewPointsHandler(gate, log),
		Payments: handler.NewPaymentHandler(service.NewPaymentService(gate, config.PaymentConfig{
			SePayAPIKey:   "sepay-key",
			PointsPerUnit: 0.001,
			ContentPrefix: "WAI",
		}, log), validate, log),
		Auth:   handler.NewAuthHandler(authenticator),
		Health: handler.NewHealthHandler(rdb),
		Hub:    hub,
	}

	app := fiber.New()
	router.Register(app)

	return &testEnv{app: app, mr: mr, redis: rdb, gate: gate, jobs: jobStore, artifacts: artifacts}
}

func (e *testEnv) credit(t *testing.T, userID string, amount int64) {
	t.Helper()
	_, err := e.gate.Credit(context.Background(), userID, amount, "topup", "e2e-"+userID)
	require.NoError(t, err)
}

func generateToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.IssueLegacyToken(testJWTSecret, userID, userID+"@example.com", time.Hour)
	require.NoError(t, err)
	return token
}

func doRequest(app *fiber.App, method, path string, body any, headers map[string]string) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return app.Test(req, -1)
}

func doAuthRequest(t *testing.T, app *fiber.App, method, path string, body any, userID string) *http.Response {
	t.Helper()
	resp, err := doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + generateToken(t, userID),
	})
	require.NoError(t, err)
	return resp
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return body
}

func parseJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(readBody(t, resp), v))
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d: %s", expected, resp.StatusCode, readBody(t, resp))
	}
}
