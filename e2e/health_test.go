package e2e

import (
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wordai/api/internal/model"
)

func TestHealthCheck(t *testing.T) {
	env := setupApp(t)

	resp, err := doRequest(env.app, http.MethodGet, "/health", nil, nil)
	require.NoError(t, err)
	assertStatus(t, resp, fiber.StatusOK)

	var body map[string]any
	parseJSON(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestHealthCheckDegradedWithoutRedis(t *testing.T) {
	env := setupApp(t)
	env.mr.Close()

	resp, err := doRequest(env.app, http.MethodGet, "/health", nil, nil)
	require.NoError(t, err)
	assertStatus(t, resp, fiber.StatusServiceUnavailable)
}

func TestTopUpThenSubmit(t *testing.T) {
	env := setupApp(t)

	resp := doAuthRequest(t, env.app, http.MethodPost, "/api/chapters/ch-9/translate", map[string]any{
		"target_language": "en",
		"source_text":     "Bonjour",
	}, "buyer_01")
	assertStatus(t, resp, fiber.StatusPaymentRequired)

	resp, err := doRequest(env.app, http.MethodPost, "/webhooks/sepay", map[string]any{
		"id":             901,
		"gateway":        "VCB",
		"content":        "CK WAIbuyer_01 nap diem",
		"transferType":   "in",
		"transferAmount": 5000,
	}, map[string]string{"Authorization": "Apikey sepay-key"})
	require.NoError(t, err)
	assertStatus(t, resp, fiber.StatusOK)

	resp = doAuthRequest(t, env.app, http.MethodGet, "/api/points/balance", nil, "buyer_01")
	assertStatus(t, resp, fiber.StatusOK)
	var balance model.BalanceResponse
	parseJSON(t, resp, &balance)
	assert.EqualValues(t, 5, balance.Balance)

	resp = doAuthRequest(t, env.app, http.MethodPost, "/api/chapters/ch-9/translate", map[string]any{
		"target_language": "en",
		"source_text":     "Bonjour",
	}, "buyer_01")
	assertStatus(t, resp, fiber.StatusAccepted)

	var submitted model.SubmitJobResponse
	parseJSON(t, resp, &submitted)
	status := waitForJob(t, env, submitted.PollingURL, "buyer_01")
	assert.Equal(t, model.JobStatusCompleted, status.Status)
	waitForBalance(t, env, "buyer_01", 3)
}
