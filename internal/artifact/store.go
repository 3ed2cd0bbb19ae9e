// Package artifact persists generated outputs as immutable, versioned
// artifacts. Each (owner, kind, subject, language) scope owns an independent
// version sequence starting at 1. Versions are never reused, even after deletes.
package artifact

import (
	"context"
	"fmt"
	"strings"

	"github.com/wordai/api/internal/model"
)

// Store is implemented by MemoryStore and PostgresStore.
type Store interface {
	// Create assigns the next version in the artifact's scope and persists it.
	Create(ctx context.Context, in model.NewArtifact) (*model.Artifact, error)
	// Get returns the given version, or the effective default when version is 0.
	Get(ctx context.Context, scope model.Scope, version int) (*model.Artifact, error)
	GetByID(ctx context.Context, id string) (*model.Artifact, error)
	// SetDefault marks artifactID as the explicit default of scope.
	// Returns model.ErrNotFound when the artifact is not in that scope.
	SetDefault(ctx context.Context, scope model.Scope, artifactID string) (*model.Artifact, error)
	// ListVersions lists the artifacts of scope, version descending. An empty
	// scope language lists every language.
	ListVersions(ctx context.Context, scope model.Scope) ([]*model.Artifact, error)
	// Delete removes one artifact. Surviving versions keep their numbers.
	Delete(ctx context.Context, id string) error
	// References lists artifacts derived from id.
	References(ctx context.Context, id string) ([]model.Reference, error)
}

// ReasonDerivedFrom marks a reference created by a generation pipeline,
// e.g. audio rendered from a subtitles artifact.
const ReasonDerivedFrom = "derived_from"

func validateScope(s model.Scope) error {
	fields := make(map[string]string)
	if strings.TrimSpace(s.OwnerID) == "" {
		fields["owner_id"] = "required"
	}
	if !s.Kind.Valid() {
		fields["kind"] = "oneof"
	}
	if strings.TrimSpace(s.SubjectID) == "" {
		fields["subject_id"] = "required"
	}
	if strings.TrimSpace(s.Language) == "" {
		fields["language"] = "required"
	}
	if len(fields) > 0 {
		return &model.ValidationError{Message: "invalid artifact scope", Fields: fields}
	}
	return nil
}

func validateNew(in model.NewArtifact) error {
	if err := validateScope(in.Scope); err != nil {
		return err
	}
	if len(in.Content) == 0 && in.ObjectKey == "" && in.URL == "" {
		return &model.ValidationError{Message: "artifact needs content or an object reference"}
	}
	return nil
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), model.ErrNotFound)
}
