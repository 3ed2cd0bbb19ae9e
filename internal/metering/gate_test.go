package metering

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wordai/api/internal/logging"
	"github.com/wordai/api/internal/model"
)

var testPrices = map[string]int64{
	"translate_chapter":          2,
	"translate_chapter:deepseek": 1,
	"export_video":               10,
}

func setupGate(t *testing.T, freeLimit int) (*Gate, *MemoryLedger, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	now := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	mr.SetTime(now)

	ledger := NewMemoryLedger()
	free := NewFreeTier(rdb, freeLimit, []string{"translate_chapter:deepseek"})
	free.now = func() time.Time { return now }

	return NewGate(NewPriceTable(testPrices), ledger, free, logging.Nop()), ledger, mr
}

func credit(t *testing.T, g *Gate, owner string, amount int64) {
	t.Helper()
	ok, err := g.Credit(context.Background(), owner, amount, "topup", "topup-"+owner)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestPriceTableProviderOverride(t *testing.T) {
	p := NewPriceTable(testPrices)

	c, ok := p.Cost("translate_chapter", "")
	assert.True(t, ok)
	assert.Equal(t, int64(2), c)

	c, ok = p.Cost("translate_chapter", "DeepSeek")
	assert.True(t, ok)
	assert.Equal(t, int64(1), c)

	c, ok = p.Cost("translate_chapter", "openai")
	assert.True(t, ok)
	assert.Equal(t, int64(2), c, "unknown provider falls back to the job type price")

	_, ok = p.Cost("unknown", "")
	assert.False(t, ok)
}

func TestCheckAndReserveIsReadOnly(t *testing.T) {
	g, _, _ := setupGate(t, 0)
	ctx := context.Background()
	credit(t, g, "u1", 5)

	ok, err := g.CheckAndReserve(ctx, "u1", 5)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.CheckAndReserve(ctx, "u1", 6)
	require.NoError(t, err)
	assert.False(t, ok)

	bal, err := g.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), bal)
}

func TestAdmitInsufficientBalance(t *testing.T) {
	g, _, _ := setupGate(t, 0)
	ctx := context.Background()
	credit(t, g, "u1", 1)

	_, err := g.Admit(ctx, "u1", "translate_chapter", "")
	var insufficient *model.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(2), insufficient.Required)
	assert.Equal(t, int64(1), insufficient.Current)
	assert.Equal(t, int64(1), insufficient.Shortage)

	bal, err := g.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), bal)
}

func TestAdmitUnknownJobType(t *testing.T) {
	g, _, _ := setupGate(t, 0)

	_, err := g.Admit(context.Background(), "u1", "mystery", "")
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestCommitDebitExactlyOnce(t *testing.T) {
	g, _, _ := setupGate(t, 0)
	ctx := context.Background()
	credit(t, g, "u1", 10)

	job := &model.Job{ID: "job-1", Type: "translate_chapter", OwnerID: "u1", Cost: 2, Billing: model.BillingPaid}
	require.NoError(t, g.Settle(ctx, job))
	require.NoError(t, g.Settle(ctx, job))
	require.NoError(t, g.CommitDebit(ctx, "u1", 2, "translate_chapter", "job-1"))

	bal, err := g.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(8), bal)

	history, err := g.History(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(-2), history[0].Amount)
	assert.Equal(t, model.LedgerKindDebit, history[0].Kind)
}

func TestDebitNeverDrivesBalanceNegative(t *testing.T) {
	g, _, _ := setupGate(t, 0)
	ctx := context.Background()
	credit(t, g, "u1", 3)

	require.NoError(t, g.CommitDebit(ctx, "u1", 2, "translate_chapter", "job-a"))
	err := g.CommitDebit(ctx, "u1", 2, "translate_chapter", "job-b")

	var insufficient *model.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)

	bal, err := g.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), bal)
}

func TestCreditIsIdempotentPerReference(t *testing.T) {
	g, _, _ := setupGate(t, 0)
	ctx := context.Background()

	ok, err := g.Credit(ctx, "u1", 50, "sepay", "sepay:42")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Credit(ctx, "u1", 50, "sepay", "sepay:42")
	require.NoError(t, err)
	assert.False(t, ok)

	bal, err := g.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), bal)
}

func TestFreeTierBypassesDebitUntilExhausted(t *testing.T) {
	g, _, mr := setupGate(t, 2)
	ctx := context.Background()

	payload := json.RawMessage(`{"chapter_id":"c1","target_language":"en","provider":"deepseek"}`)
	for i, id := range []string{"f1", "f2"} {
		q, err := g.Admit(ctx, "u1", "translate_chapter", "deepseek")
		require.NoError(t, err)
		assert.Equal(t, model.BillingFree, q.Billing)
		assert.Equal(t, int64(2-i), q.FreeRemaining)

		job := &model.Job{ID: id, Type: "translate_chapter", OwnerID: "u1", Cost: q.Cost, Billing: q.Billing, Payload: payload}
		require.NoError(t, g.Settle(ctx, job))
	}

	// allowance gone and no balance: rejected with the provider price
	_, err := g.Admit(ctx, "u1", "translate_chapter", "deepseek")
	var insufficient *model.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(1), insufficient.Required)

	credit(t, g, "u1", 5)
	q, err := g.Admit(ctx, "u1", "translate_chapter", "deepseek")
	require.NoError(t, err)
	assert.Equal(t, model.BillingPaid, q.Billing)

	bal, err := g.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), bal, "free jobs never touch the ledger")

	key := "freetier:u1:translate_chapter:deepseek:2026-03-01"
	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "2", got)
	assert.Equal(t, time.Hour, mr.TTL(key), "counter resets at UTC midnight")
}

func TestFreeSettleFallsBackToDebitWhenRaceLost(t *testing.T) {
	g, _, _ := setupGate(t, 1)
	ctx := context.Background()
	credit(t, g, "u1", 5)

	payload := json.RawMessage(`{"provider":"deepseek"}`)
	// both admitted while one free use was left
	a := &model.Job{ID: "a", Type: "translate_chapter", OwnerID: "u1", Cost: 1, Billing: model.BillingFree, Payload: payload}
	b := &model.Job{ID: "b", Type: "translate_chapter", OwnerID: "u1", Cost: 1, Billing: model.BillingFree, Payload: payload}

	require.NoError(t, g.Settle(ctx, a))
	require.NoError(t, g.Settle(ctx, b))
	require.NoError(t, g.Settle(ctx, a))

	bal, err := g.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), bal)
}

func TestConcurrentFreeAdmissionsCannotOversubscribe(t *testing.T) {
	g, _, _ := setupGate(t, 1)
	ctx := context.Background()

	// One free use left and no balance: only one of two queued jobs may be
	// admitted for free.
	q, err := g.Admit(ctx, "u1", "translate_chapter", "deepseek")
	require.NoError(t, err)
	assert.Equal(t, model.BillingFree, q.Billing)
	assert.Equal(t, int64(1), q.FreeRemaining)

	_, err = g.Admit(ctx, "u1", "translate_chapter", "deepseek")
	var insufficient *model.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)

	// With balance the second job is admitted as paid.
	credit(t, g, "u1", 3)
	q2, err := g.Admit(ctx, "u1", "translate_chapter", "deepseek")
	require.NoError(t, err)
	assert.Equal(t, model.BillingPaid, q2.Billing)

	payload := json.RawMessage(`{"provider":"deepseek"}`)
	first := &model.Job{ID: "f1", Type: "translate_chapter", OwnerID: "u1", Cost: q.Cost, Billing: q.Billing, Payload: payload}
	second := &model.Job{ID: "p1", Type: "translate_chapter", OwnerID: "u1", Cost: q2.Cost, Billing: q2.Billing, Payload: payload}
	require.NoError(t, g.Settle(ctx, first))
	require.NoError(t, g.Settle(ctx, second))

	bal, err := g.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), bal)
}

func TestUnsettledFreeHoldExpires(t *testing.T) {
	g, _, _ := setupGate(t, 1)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.free.now = func() time.Time { return now }

	_, err := g.Admit(ctx, "u1", "translate_chapter", "deepseek")
	require.NoError(t, err)

	// The admitted job failed and never settled.
	now = now.Add(DefaultFreeHoldTTL + time.Minute)
	q, err := g.Admit(ctx, "u1", "translate_chapter", "deepseek")
	require.NoError(t, err)
	assert.Equal(t, model.BillingFree, q.Billing)
}
