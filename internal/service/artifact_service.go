package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/wordai/api/internal/artifact"
	"github.com/wordai/api/internal/client"
	"github.com/wordai/api/internal/logging"
	"github.com/wordai/api/internal/model"
)

// DefaultSignedURLTTL is how long a returned file URL stays valid.
const DefaultSignedURLTTL = time.Hour

// ArtifactService is the owner-checked view of the artifact store.
type ArtifactService struct {
	store   artifact.Store
	storage client.StorageClient
	log     *zerolog.Logger
}

// NewArtifactService accepts a nil storage; files then keep their stored URL
// and deletes leave objects in place.
func NewArtifactService(store artifact.Store, storage client.StorageClient, logger *zerolog.Logger) *ArtifactService {
	l := logging.Component(logger, "ArtifactService")
	return &ArtifactService{store: store, storage: storage, log: l}
}

// Get returns version of the caller's scope, or its effective default when
// version is 0. Any owner set on scope is replaced by ownerID.
func (s *ArtifactService) Get(ctx context.Context, ownerID string, scope model.Scope, version int) (*model.Artifact, error) {
	scope.OwnerID = ownerID
	a, err := s.store.Get(ctx, scope, version)
	if err != nil {
		return nil, err
	}
	s.sign(ctx, a)
	return a, nil
}

// List returns the caller's versions of kind for subjectID, newest first.
func (s *ArtifactService) List(ctx context.Context, ownerID string, kind model.ArtifactKind, subjectID, language string) (*model.ArtifactListResponse, error) {
	if !kind.Valid() {
		return nil, &model.ValidationError{Message: "unknown artifact kind " + string(kind)}
	}
	list, err := s.store.ListVersions(ctx, model.Scope{
		OwnerID:   ownerID,
		Kind:      kind,
		SubjectID: subjectID,
		Language:  language,
	})
	if err != nil {
		return nil, err
	}

	resp := &model.ArtifactListResponse{
		SubjectID: subjectID,
		Kind:      kind,
		Versions:  make([]model.ArtifactMeta, 0, len(list)),
	}
	for _, a := range list {
		resp.Versions = append(resp.Versions, a.Meta())
	}
	return resp, nil
}

// SetDefault pins artifactID as the version served for the caller's scope.
// Other owners' defaults for the same subject are untouched.
func (s *ArtifactService) SetDefault(ctx context.Context, ownerID string, scope model.Scope, artifactID string) (*model.SetDefaultResponse, error) {
	scope.OwnerID = ownerID
	current, err := s.store.GetByID(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if current.OwnerID != ownerID {
		return nil, model.ErrForbidden
	}

	a, err := s.store.SetDefault(ctx, scope, artifactID)
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("artifact_id", a.ID).
		Str("scope", scope.Key()).
		Int("version", a.Version).
		Msg("default version changed")

	return &model.SetDefaultResponse{Success: true, Language: a.Language, Version: a.Version}, nil
}

// Delete removes an artifact unless other artifacts were derived from it.
// Surviving versions keep their numbers.
func (s *ArtifactService) Delete(ctx context.Context, ownerID, artifactID string) error {
	a, err := s.store.GetByID(ctx, artifactID)
	if err != nil {
		return err
	}
	if a.OwnerID != ownerID {
		return model.ErrForbidden
	}

	refs, err := s.store.References(ctx, artifactID)
	if err != nil {
		return err
	}
	if len(refs) > 0 {
		return &model.ReferenceConflictError{References: refs}
	}

	if err := s.store.Delete(ctx, artifactID); err != nil {
		return err
	}

	if a.ObjectKey != "" && s.storage != nil {
		if err := s.storage.Delete(ctx, a.ObjectKey); err != nil {
			s.log.Warn().Err(err).Str("artifact_id", a.ID).Str("object_key", a.ObjectKey).
				Msg("artifact deleted but object cleanup failed")
		}
	}
	return nil
}

// References lists what would block deleting artifactID.
func (s *ArtifactService) References(ctx context.Context, ownerID, artifactID string) ([]model.Reference, error) {
	a, err := s.store.GetByID(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if a.OwnerID != ownerID {
		return nil, model.ErrForbidden
	}
	return s.store.References(ctx, artifactID)
}

func (s *ArtifactService) sign(ctx context.Context, a *model.Artifact) {
	if a.ObjectKey == "" || s.storage == nil {
		return
	}
	url, err := s.storage.GetSignedURL(ctx, a.ObjectKey, DefaultSignedURLTTL)
	if err != nil {
		s.log.Warn().Err(err).Str("artifact_id", a.ID).Msg("failed to sign artifact url")
		return
	}
	a.URL = url
}
