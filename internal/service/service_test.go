package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wordai/api/internal/artifact"
	"github.com/wordai/api/internal/config"
	"github.com/wordai/api/internal/jobs"
	"github.com/wordai/api/internal/logging"
	"github.com/wordai/api/internal/metering"
	"github.com/wordai/api/internal/model"
)

func setupJobService(t *testing.T) (*JobService, *jobs.Store, *metering.Gate) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store := jobs.NewStore(rdb, jobs.DefaultRegistry(nil))
	gate := metering.NewGate(
		metering.NewPriceTable(map[string]int64{"translate_chapter": 2, "export_video": 10}),
		metering.NewMemoryLedger(),
		nil,
		logging.Nop(),
	)
	return NewJobService(store, gate, logging.Nop()), store, gate
}

func topUp(t *testing.T, gate *metering.Gate, owner string, amount int64) {
	t.Helper()
	_, err := gate.Credit(context.Background(), owner, amount, "topup", "topup-"+owner)
	require.NoError(t, err)
}

func TestJobServiceSubmit(t *testing.T) {
	svc, store, gate := setupJobService(t)
	ctx := context.Background()
	topUp(t, gate, "u1", 10)

	resp, err := svc.Submit(ctx, "u1", model.JobTypeTranslateChapter, []byte(`{"chapter_id":"c1","target_language":"en"}`))
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, resp.Status)
	assert.Equal(t, 60, resp.EstimatedTimeSeconds)
	assert.Equal(t, "/api/chapters/jobs/"+resp.JobID, resp.PollingURL)
	assert.Equal(t, int64(2), resp.Cost)
	assert.Equal(t, model.BillingPaid, resp.Billing)

	job, err := store.Get(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), job.Cost)

	bal, err := gate.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), bal, "admission never debits")
}

func TestJobServiceRejectsBeforeQueueing(t *testing.T) {
	svc, store, gate := setupJobService(t)
	ctx := context.Background()
	topUp(t, gate, "u1", 5)

	_, err := svc.Submit(ctx, "u1", model.JobTypeExportVideo, []byte(`{"presentation_id":"p1","language":"en"}`))
	var ibe *model.InsufficientBalanceError
	require.ErrorAs(t, err, &ibe)
	assert.Equal(t, int64(10), ibe.Required)
	assert.Equal(t, int64(5), ibe.Current)
	assert.Equal(t, int64(5), ibe.Shortage)

	_, err = svc.Submit(ctx, "u1", model.JobTypeTranslateChapter, []byte(`{"chapter_id":"c1"}`))
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = svc.Submit(ctx, "u1", "summarize_book", []byte(`{}`))
	assert.ErrorIs(t, err, model.ErrValidation)

	depth, err := store.Depth(ctx)
	require.NoError(t, err)
	for _, d := range depth {
		assert.Zero(t, d)
	}
}

func TestJobServiceOwnership(t *testing.T) {
	svc, _, gate := setupJobService(t)
	ctx := context.Background()
	topUp(t, gate, "u1", 10)

	resp, err := svc.Submit(ctx, "u1", model.JobTypeTranslateChapter, []byte(`{"chapter_id":"c1","target_language":"en"}`))
	require.NoError(t, err)

	_, err = svc.Status(ctx, "u2", resp.JobID)
	assert.ErrorIs(t, err, model.ErrForbidden)

	_, err = svc.Status(ctx, "u1", "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)

	status, err := svc.Status(ctx, "u1", resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, 0, status.Progress)

	_, err = svc.Cancel(ctx, "u2", resp.JobID)
	assert.ErrorIs(t, err, model.ErrForbidden)

	c, err := svc.Cancel(ctx, "u1", resp.JobID)
	require.NoError(t, err)
	assert.True(t, c.CancelRequested)
}

func TestArtifactServiceDeleteBlockedByReferences(t *testing.T) {
	store := artifact.NewMemoryStore()
	svc := NewArtifactService(store, nil, logging.Nop())
	ctx := context.Background()

	subs, err := store.Create(ctx, model.NewArtifact{
		Scope:   model.Scope{OwnerID: "u1", Kind: model.ArtifactKindSubtitles, SubjectID: "p1", Language: "en"},
		Content: json.RawMessage(`{"slides":[]}`),
	})
	require.NoError(t, err)
	audio, err := store.Create(ctx, model.NewArtifact{
		Scope:            model.Scope{OwnerID: "u1", Kind: model.ArtifactKindAudio, SubjectID: "p1", Language: "en"},
		Content:          json.RawMessage(`{"slides":[]}`),
		SourceArtifactID: subs.ID,
	})
	require.NoError(t, err)

	err = svc.Delete(ctx, "u2", subs.ID)
	assert.ErrorIs(t, err, model.ErrForbidden)

	err = svc.Delete(ctx, "u1", subs.ID)
	var conflict *model.ReferenceConflictError
	require.ErrorAs(t, err, &conflict)
	require.Len(t, conflict.References, 1)
	assert.Equal(t, audio.ID, conflict.References[0].ArtifactID)

	require.NoError(t, svc.Delete(ctx, "u1", audio.ID))
	require.NoError(t, svc.Delete(ctx, "u1", subs.ID))

	_, err = svc.Get(ctx, "u1", subs.Scope(), 0)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestArtifactServiceSetDefaultAndList(t *testing.T) {
	store := artifact.NewMemoryStore()
	svc := NewArtifactService(store, nil, logging.Nop())
	ctx := context.Background()
	scope := model.Scope{OwnerID: "u1", Kind: model.ArtifactKindTranslation, SubjectID: "c1", Language: "en"}

	var ids []string
	for i := 0; i < 3; i++ {
		a, err := store.Create(ctx, model.NewArtifact{Scope: scope, Content: json.RawMessage(`{"text":"x"}`)})
		require.NoError(t, err)
		ids = append(ids, a.ID)
	}

	resp, err := svc.SetDefault(ctx, "u1", scope, ids[0])
	require.NoError(t, err)
	assert.Equal(t, model.SetDefaultResponse{Success: true, Language: "en", Version: 1}, *resp)

	got, err := svc.Get(ctx, "u1", scope, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)

	_, err = svc.SetDefault(ctx, "u1", model.Scope{Kind: model.ArtifactKindTranslation, SubjectID: "c1", Language: "fr"}, ids[0])
	assert.ErrorIs(t, err, model.ErrNotFound)

	list, err := svc.List(ctx, "u1", model.ArtifactKindTranslation, "c1", "en")
	require.NoError(t, err)
	require.Len(t, list.Versions, 3)
	assert.Equal(t, 3, list.Versions[0].Version)
	assert.True(t, list.Versions[2].IsDefault)

	_, err = svc.List(ctx, "u1", "poster", "c1", "")
	assert.ErrorIs(t, err, model.ErrValidation)
}

type fakeStorage struct {
	deleted []string
}

func (f *fakeStorage) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	return f.GetPublicURL(key), nil
}

func (f *fakeStorage) Delete(ctx context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeStorage) GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "https://signed.example/" + key + "?ttl=" + expiry.String(), nil
}

func (f *fakeStorage) GetPublicURL(key string) string { return "https://cdn.example/" + key }

func TestArtifactServiceSignsAndCleansUpFiles(t *testing.T) {
	store := artifact.NewMemoryStore()
	storage := &fakeStorage{}
	svc := NewArtifactService(store, storage, logging.Nop())
	ctx := context.Background()
	scope := model.Scope{OwnerID: "u1", Kind: model.ArtifactKindVideo, SubjectID: "p1", Language: "en"}

	video, err := store.Create(ctx, model.NewArtifact{
		Scope:     scope,
		Content:   json.RawMessage(`{"audio_version":1}`),
		ObjectKey: "artifacts/u1/video/p1/en/job-1.mp4",
		URL:       "https://cdn.example/artifacts/u1/video/p1/en/job-1.mp4",
	})
	require.NoError(t, err)

	got, err := svc.Get(ctx, "u1", scope, 0)
	require.NoError(t, err)
	assert.Equal(t, "https://signed.example/artifacts/u1/video/p1/en/job-1.mp4?ttl=1h0m0s", got.URL)

	_, err = svc.Get(ctx, "u2", scope, 0)
	assert.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, svc.Delete(ctx, "u1", video.ID))
	assert.Equal(t, []string{video.ObjectKey}, storage.deleted)
}

func setupPayments(t *testing.T) (*PaymentService, *metering.Gate) {
	t.Helper()
	gate := metering.NewGate(metering.NewPriceTable(nil), metering.NewMemoryLedger(), nil, logging.Nop())
	svc := NewPaymentService(gate, config.PaymentConfig{
		SePayAPIKey:   "k3y",
		PointsPerUnit: 0.001,
		ContentPrefix: "WAI",
	}, logging.Nop())
	return svc, gate
}

func TestPaymentAuthorize(t *testing.T) {
	svc, _ := setupPayments(t)
	assert.NoError(t, svc.Authorize("Apikey k3y"))
	assert.ErrorIs(t, svc.Authorize("Apikey wrong"), ErrWebhookUnauthorized)
	assert.ErrorIs(t, svc.Authorize("Bearer k3y"), ErrWebhookUnauthorized)
	assert.ErrorIs(t, svc.Authorize(""), ErrWebhookUnauthorized)
}

func TestPaymentRejectedKeyIsRedactedInLogs(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	gate := metering.NewGate(metering.NewPriceTable(nil), metering.NewMemoryLedger(), nil, logging.Nop())
	svc := NewPaymentService(gate, config.PaymentConfig{SePayAPIKey: "k3y", ContentPrefix: "WAI"}, &log)

	require.ErrorIs(t, svc.Authorize("Apikey guessed-secret-value"), ErrWebhookUnauthorized)
	assert.Contains(t, buf.String(), "gues...ue")
	assert.NotContains(t, buf.String(), "guessed-secret-value")
}

func TestPaymentCreditsOncePerTransaction(t *testing.T) {
	svc, gate := setupPayments(t)
	ctx := context.Background()

	hook := &model.SePayWebhook{
		ID:             9001,
		Content:        "CK WAIuser42 nap diem",
		TransferType:   "in",
		TransferAmount: 50000,
	}

	resp, err := svc.HandleSePayWebhook(ctx, hook)
	require.NoError(t, err)
	assert.Equal(t, int64(50), resp.Credited)
	assert.Equal(t, "user42", resp.OwnerID)

	resp, err = svc.HandleSePayWebhook(ctx, hook)
	require.NoError(t, err)
	assert.Zero(t, resp.Credited)
	assert.True(t, resp.Success)

	bal, err := gate.Balance(ctx, "user42")
	require.NoError(t, err)
	assert.Equal(t, int64(50), bal)
}

func TestPaymentRoundsToNearestPoint(t *testing.T) {
	tests := []struct {
		amount int64
		rate   float64
		want   int64
	}{
		{amount: 2900, rate: 0.001, want: 3},
		{amount: 2499, rate: 0.001, want: 2},
		{amount: 29, rate: 0.1, want: 3},
		{amount: 57, rate: 0.01, want: 1},
		{amount: 1000, rate: 0.001, want: 1},
	}
	for _, tt := range tests {
		gate := metering.NewGate(metering.NewPriceTable(nil), metering.NewMemoryLedger(), nil, logging.Nop())
		svc := NewPaymentService(gate, config.PaymentConfig{
			SePayAPIKey:   "k3y",
			PointsPerUnit: tt.rate,
			ContentPrefix: "WAI",
		}, logging.Nop())

		resp, err := svc.HandleSePayWebhook(context.Background(), &model.SePayWebhook{
			ID:             tt.amount,
			Content:        "WAIuser42",
			TransferType:   "in",
			TransferAmount: tt.amount,
		})
		require.NoError(t, err)
		assert.Equal(t, tt.want, resp.Credited, "amount %d at rate %v", tt.amount, tt.rate)
	}
}

func TestPaymentIgnoresUnmatchedTransfers(t *testing.T) {
	svc, _ := setupPayments(t)
	ctx := context.Background()

	tests := []*model.SePayWebhook{
		{ID: 1, Content: "no code here", TransferType: "in", TransferAmount: 50000},
		{ID: 2, Content: "WAIuser42", TransferType: "out", TransferAmount: 50000},
		{ID: 3, Content: "WAIuser42", TransferType: "in", TransferAmount: 400},
	}
	for _, hook := range tests {
		resp, err := svc.HandleSePayWebhook(ctx, hook)
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Zero(t, resp.Credited)
	}
}

func TestArtifactServiceOwnersDoNotShareScopes(t *testing.T) {
	store := artifact.NewMemoryStore()
	svc := NewArtifactService(store, nil, logging.Nop())
	ctx := context.Background()

	alice := model.Scope{OwnerID: "alice", Kind: model.ArtifactKindTranslation, SubjectID: "c1", Language: "en"}
	mallory := alice
	mallory.OwnerID = "mallory"

	mine, err := store.Create(ctx, model.NewArtifact{Scope: alice, Content: json.RawMessage(`{"text":"alice"}`)})
	require.NoError(t, err)
	theirs, err := store.Create(ctx, model.NewArtifact{Scope: mallory, Content: json.RawMessage(`{"text":"mallory"}`)})
	require.NoError(t, err)
	assert.Equal(t, 1, theirs.Version)

	// The handler passes a scope without an owner; the caller fills it in.
	requested := model.Scope{Kind: model.ArtifactKindTranslation, SubjectID: "c1", Language: "en"}

	got, err := svc.Get(ctx, "alice", requested, 0)
	require.NoError(t, err)
	assert.Equal(t, mine.ID, got.ID)

	_, err = svc.SetDefault(ctx, "mallory", requested, theirs.ID)
	require.NoError(t, err)
	_, err = svc.SetDefault(ctx, "mallory", requested, mine.ID)
	assert.ErrorIs(t, err, model.ErrForbidden)

	got, err = svc.Get(ctx, "alice", requested, 0)
	require.NoError(t, err)
	assert.Equal(t, mine.ID, got.ID)
	assert.JSONEq(t, `{"text":"alice"}`, string(got.Content))

	list, err := svc.List(ctx, "alice", model.ArtifactKindTranslation, "c1", "")
	require.NoError(t, err)
	require.Len(t, list.Versions, 1)
	assert.Equal(t, mine.ID, list.Versions[0].ID)
}
