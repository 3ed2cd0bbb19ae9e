package artifact

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wordai/api/internal/model"
)

// runStoreContract exercises the behavior every Store must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("versions start at one per scope", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		en := scope(model.ArtifactKindTranslation, "c1", "en")
		vi := scope(model.ArtifactKindTranslation, "c1", "vi")
		subs := scope(model.ArtifactKindSubtitles, "c1", "en")

		assert.Equal(t, 1, mustCreate(t, s, en, "").Version)
		assert.Equal(t, 2, mustCreate(t, s, en, "").Version)
		assert.Equal(t, 1, mustCreate(t, s, vi, "").Version)
		assert.Equal(t, 1, mustCreate(t, s, subs, "").Version)

		got, err := s.Get(ctx, en, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Version)
	})

	t.Run("concurrent creates never share a version", func(t *testing.T) {
		s := newStore(t)
		sc := scope(model.ArtifactKindSubtitles, "p1", "en")

		const n = 25
		versions := make([]int, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				a, err := s.Create(context.Background(), newArtifact(sc, ""))
				if err != nil {
					t.Errorf("create: %v", err)
					return
				}
				versions[i] = a.Version
			}(i)
		}
		wg.Wait()

		sort.Ints(versions)
		for i, v := range versions {
			assert.Equal(t, i+1, v)
		}
	})

	t.Run("preference override scenario", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		sc := scope(model.ArtifactKindTranslation, "c1", "en")

		v1 := mustCreate(t, s, sc, "")
		v2 := mustCreate(t, s, sc, "")

		got, err := s.Get(ctx, sc, 0)
		require.NoError(t, err)
		assert.Equal(t, v2.ID, got.ID)
		assert.True(t, got.IsDefault)

		_, err = s.SetDefault(ctx, sc, v1.ID)
		require.NoError(t, err)

		got, err = s.Get(ctx, sc, 0)
		require.NoError(t, err)
		assert.Equal(t, v1.ID, got.ID)
		assert.True(t, got.IsDefault)

		v3 := mustCreate(t, s, sc, "")
		assert.Equal(t, 3, v3.Version)
		assert.False(t, v3.IsDefault)

		got, err = s.Get(ctx, sc, 0)
		require.NoError(t, err)
		assert.Equal(t, v1.ID, got.ID, "explicit default survives newer versions")

		explicit, err := s.Get(ctx, sc, 2)
		require.NoError(t, err)
		assert.Equal(t, v2.ID, explicit.ID)
		assert.False(t, explicit.IsDefault)
	})

	t.Run("set default outside scope is not found", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		en := scope(model.ArtifactKindTranslation, "c1", "en")
		vi := scope(model.ArtifactKindTranslation, "c1", "vi")
		a := mustCreate(t, s, en, "")
		mustCreate(t, s, vi, "")

		_, err := s.SetDefault(ctx, vi, a.ID)
		assert.ErrorIs(t, err, model.ErrNotFound)

		_, err = s.SetDefault(ctx, en, "00000000-0000-0000-0000-000000000000")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("list versions is descending and marks the default", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		en := scope(model.ArtifactKindSubtitles, "p1", "en")
		vi := scope(model.ArtifactKindSubtitles, "p1", "vi")
		mustCreate(t, s, en, "")
		mustCreate(t, s, en, "")
		mustCreate(t, s, en, "")
		mustCreate(t, s, vi, "")

		list, err := s.ListVersions(ctx, en)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, []int{3, 2, 1}, versionsOf(list))
		assert.True(t, list[0].IsDefault)
		assert.False(t, list[1].IsDefault)

		all, err := s.ListVersions(ctx, scope(model.ArtifactKindSubtitles, "p1", ""))
		require.NoError(t, err)
		assert.Len(t, all, 4)

		none, err := s.ListVersions(ctx, scope(model.ArtifactKindAudio, "p1", "en"))
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("delete keeps surviving version numbers", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		sc := scope(model.ArtifactKindTranslation, "c9", "en")

		mustCreate(t, s, sc, "")
		v2 := mustCreate(t, s, sc, "")
		mustCreate(t, s, sc, "")

		require.NoError(t, s.Delete(ctx, v2.ID))
		assert.ErrorIs(t, s.Delete(ctx, v2.ID), model.ErrNotFound)

		_, err := s.Get(ctx, sc, 2)
		assert.ErrorIs(t, err, model.ErrNotFound)

		v4 := mustCreate(t, s, sc, "")
		assert.Equal(t, 4, v4.Version, "deleted versions are never reused")

		list, err := s.ListVersions(ctx, sc)
		require.NoError(t, err)
		assert.Equal(t, []int{4, 3, 1}, versionsOf(list))
	})

	t.Run("deleting the explicit default falls back to latest", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		sc := scope(model.ArtifactKindTranslation, "c2", "en")

		v1 := mustCreate(t, s, sc, "")
		v2 := mustCreate(t, s, sc, "")
		_, err := s.SetDefault(ctx, sc, v1.ID)
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, v1.ID))

		got, err := s.Get(ctx, sc, 0)
		require.NoError(t, err)
		assert.Equal(t, v2.ID, got.ID)
	})

	t.Run("references list derived artifacts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		subs := mustCreate(t, s, scope(model.ArtifactKindSubtitles, "p1", "en"), "")
		audio := mustCreate(t, s, scope(model.ArtifactKindAudio, "p1", "en"), subs.ID)

		refs, err := s.References(ctx, subs.ID)
		require.NoError(t, err)
		require.Len(t, refs, 1)
		assert.Equal(t, audio.ID, refs[0].ArtifactID)
		assert.Equal(t, model.ArtifactKindAudio, refs[0].Kind)
		assert.Equal(t, ReasonDerivedFrom, refs[0].Reason)

		refs, err = s.References(ctx, audio.ID)
		require.NoError(t, err)
		assert.Empty(t, refs)

		got, err := s.GetByID(ctx, audio.ID)
		require.NoError(t, err)
		assert.Equal(t, subs.ID, got.SourceArtifactID)
	})

	t.Run("get on empty scope is not found", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Get(context.Background(), scope(model.ArtifactKindVideo, "nope", "en"), 0)
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("owners on the same subject are isolated", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		alice := scope(model.ArtifactKindTranslation, "c1", "en")
		alice.OwnerID = "alice"
		mallory := alice
		mallory.OwnerID = "mallory"

		a1 := mustCreate(t, s, alice, "")
		m1 := mustCreate(t, s, mallory, "")
		m2 := mustCreate(t, s, mallory, "")
		assert.Equal(t, 1, a1.Version)
		assert.Equal(t, 1, m1.Version, "each owner has its own version sequence")
		assert.Equal(t, 2, m2.Version)
		assert.True(t, a1.IsDefault)

		got, err := s.Get(ctx, alice, 0)
		require.NoError(t, err)
		assert.Equal(t, a1.ID, got.ID)

		_, err = s.SetDefault(ctx, mallory, m1.ID)
		require.NoError(t, err)
		_, err = s.SetDefault(ctx, mallory, a1.ID)
		assert.ErrorIs(t, err, model.ErrNotFound)

		got, err = s.Get(ctx, alice, 0)
		require.NoError(t, err)
		assert.Equal(t, a1.ID, got.ID)
		assert.True(t, got.IsDefault)

		list, err := s.ListVersions(ctx, alice)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, a1.ID, list[0].ID)

		require.NoError(t, s.Delete(ctx, m1.ID))
		got, err = s.Get(ctx, alice, 0)
		require.NoError(t, err)
		assert.Equal(t, a1.ID, got.ID)
	})

	t.Run("invalid scope is a validation error", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Create(context.Background(), newArtifact(scope("poster", "p1", "en"), ""))
		assert.ErrorIs(t, err, model.ErrValidation)

		_, err = s.Create(context.Background(), newArtifact(scope(model.ArtifactKindVideo, "", "en"), ""))
		assert.ErrorIs(t, err, model.ErrValidation)

		ownerless := scope(model.ArtifactKindVideo, "p1", "en")
		ownerless.OwnerID = ""
		_, err = s.Create(context.Background(), newArtifact(ownerless, ""))
		assert.ErrorIs(t, err, model.ErrValidation)
	})
}

func scope(kind model.ArtifactKind, subjectID, language string) model.Scope {
	return model.Scope{OwnerID: "u1", Kind: kind, SubjectID: subjectID, Language: language}
}

func newArtifact(sc model.Scope, sourceID string) model.NewArtifact {
	return model.NewArtifact{
		Scope:            sc,
		Content:          json.RawMessage(`{"text":"hello"}`),
		SourceArtifactID: sourceID,
	}
}

func mustCreate(t *testing.T, s Store, sc model.Scope, sourceID string) *model.Artifact {
	t.Helper()
	a, err := s.Create(context.Background(), newArtifact(sc, sourceID))
	require.NoError(t, err)
	return a
}

func versionsOf(list []*model.Artifact) []int {
	out := make([]int, len(list))
	for i, a := range list {
		out[i] = a.Version
	}
	return out
}
