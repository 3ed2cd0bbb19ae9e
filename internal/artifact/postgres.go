package artifact

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wordai/api/internal/model"
)

// PostgresStore persists artifacts in Postgres. Version numbers come from the
// per-scope last_version counter, bumped under the scope row lock.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// effective default of the row's scope: explicit default first, then latest
const isDefaultExpr = `
a.id = (
    SELECT e.id
    FROM artifacts e
    JOIN artifact_scopes es USING (owner_id, kind, subject_id, language)
    WHERE e.owner_id = a.owner_id AND e.kind = a.kind AND e.subject_id = a.subject_id AND e.language = a.language
    ORDER BY (e.id = es.default_artifact_id) DESC NULLS LAST, e.version DESC
    LIMIT 1
)`

const selectColumns = `
a.id::text, a.owner_id, a.kind, a.subject_id, a.language, a.version,
a.content, a.object_key, a.url, a.source_job_id,
COALESCE(a.source_artifact_id::text, ''), a.created_at, ` + isDefaultExpr

func scanArtifact(row pgx.Row) (*model.Artifact, error) {
	var a model.Artifact
	var kind string
	var content []byte
	if err := row.Scan(
		&a.ID,
		&a.OwnerID,
		&kind,
		&a.SubjectID,
		&a.Language,
		&a.Version,
		&content,
		&a.ObjectKey,
		&a.URL,
		&a.SourceJobID,
		&a.SourceArtifactID,
		&a.CreatedAt,
		&a.IsDefault,
	); err != nil {
		return nil, err
	}
	a.Kind = model.ArtifactKind(kind)
	if len(content) > 0 {
		a.Content = content
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

func (s *PostgresStore) Create(ctx context.Context, in model.NewArtifact) (*model.Artifact, error) {
	if err := validateNew(in); err != nil {
		return nil, err
	}
	var sourceID any
	if in.SourceArtifactID != "" {
		if _, err := uuid.Parse(in.SourceArtifactID); err != nil {
			return nil, &model.ValidationError{Message: "source_artifact_id is not a uuid"}
		}
		sourceID = in.SourceArtifactID
	}
	var content any
	if len(in.Content) > 0 {
		content = []byte(in.Content)
	}

	id := uuid.New().String()
	var created *model.Artifact
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var version int
		err := tx.QueryRow(ctx, `
INSERT INTO artifact_scopes (owner_id, kind, subject_id, language, last_version)
VALUES ($1, $2, $3, $4, 1)
ON CONFLICT (owner_id, kind, subject_id, language)
DO UPDATE SET last_version = artifact_scopes.last_version + 1
RETURNING last_version;
`, in.OwnerID, string(in.Kind), in.SubjectID, in.Language).Scan(&version)
		if err != nil {
			return fmt.Errorf("allocate version: %w", err)
		}

		_, err = tx.Exec(ctx, `
INSERT INTO artifacts (id, owner_id, kind, subject_id, language, version, content, object_key, url, source_job_id, source_artifact_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);
`,
			id,
			in.OwnerID,
			string(in.Kind),
			in.SubjectID,
			in.Language,
			version,
			content,
			in.ObjectKey,
			in.URL,
			in.SourceJobID,
			sourceID,
			time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert artifact: %w", err)
		}

		created, err = scanArtifact(tx.QueryRow(ctx,
			`SELECT `+selectColumns+` FROM artifacts a WHERE a.id = $1`, id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *PostgresStore) Get(ctx context.Context, scope model.Scope, version int) (*model.Artifact, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}

	var row pgx.Row
	if version == 0 {
		row = s.pool.QueryRow(ctx, `
SELECT `+selectColumns+`
FROM artifacts a
JOIN artifact_scopes s USING (owner_id, kind, subject_id, language)
WHERE a.owner_id = $1 AND a.kind = $2 AND a.subject_id = $3 AND a.language = $4
ORDER BY (a.id = s.default_artifact_id) DESC NULLS LAST, a.version DESC
LIMIT 1;
`, scope.OwnerID, string(scope.Kind), scope.SubjectID, scope.Language)
	} else {
		row = s.pool.QueryRow(ctx, `
SELECT `+selectColumns+`
FROM artifacts a
WHERE a.owner_id = $1 AND a.kind = $2 AND a.subject_id = $3 AND a.language = $4 AND a.version = $5;
`, scope.OwnerID, string(scope.Kind), scope.SubjectID, scope.Language, version)
	}

	a, err := scanArtifact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFoundf("%s artifact %s/%s version %d", scope.Kind, scope.SubjectID, scope.Language, version)
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*model.Artifact, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, notFoundf("artifact %s", id)
	}
	a, err := scanArtifact(s.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM artifacts a WHERE a.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFoundf("artifact %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) SetDefault(ctx context.Context, scope model.Scope, artifactID string) (*model.Artifact, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(artifactID); err != nil {
		return nil, notFoundf("artifact %s", artifactID)
	}

	tag, err := s.pool.Exec(ctx, `
UPDATE artifact_scopes s
SET default_artifact_id = $5
WHERE s.owner_id = $1 AND s.kind = $2 AND s.subject_id = $3 AND s.language = $4
  AND EXISTS (
    SELECT 1 FROM artifacts a
    WHERE a.id = $5 AND a.owner_id = s.owner_id AND a.kind = s.kind
      AND a.subject_id = s.subject_id AND a.language = s.language
  );
`, scope.OwnerID, string(scope.Kind), scope.SubjectID, scope.Language, artifactID)
	if err != nil {
		return nil, fmt.Errorf("set default: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, notFoundf("artifact %s in %s/%s", artifactID, scope.SubjectID, scope.Language)
	}
	return s.GetByID(ctx, artifactID)
}

func (s *PostgresStore) ListVersions(ctx context.Context, scope model.Scope) ([]*model.Artifact, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+selectColumns+`
FROM artifacts a
WHERE a.owner_id = $1 AND a.kind = $2 AND a.subject_id = $3 AND ($4 = '' OR a.language = $4)
ORDER BY a.version DESC, a.language;
`, scope.OwnerID, string(scope.Kind), scope.SubjectID, scope.Language)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []*model.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return notFoundf("artifact %s", id)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var ownerID, kind, subjectID, language string
		err := tx.QueryRow(ctx,
			`DELETE FROM artifacts WHERE id = $1 RETURNING owner_id, kind, subject_id, language`, id,
		).Scan(&ownerID, &kind, &subjectID, &language)
		if errors.Is(err, pgx.ErrNoRows) {
			return notFoundf("artifact %s", id)
		}
		if err != nil {
			return fmt.Errorf("delete artifact: %w", err)
		}

		_, err = tx.Exec(ctx, `
UPDATE artifact_scopes SET default_artifact_id = NULL
WHERE owner_id = $1 AND kind = $2 AND subject_id = $3 AND language = $4 AND default_artifact_id = $5;
`, ownerID, kind, subjectID, language, id)
		if err != nil {
			return fmt.Errorf("clear default: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) References(ctx context.Context, id string) ([]model.Reference, error) {
	if _, err := s.GetByID(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
SELECT id::text, kind, subject_id, language, version
FROM artifacts
WHERE source_artifact_id = $1
ORDER BY kind, language, version;
`, id)
	if err != nil {
		return nil, fmt.Errorf("list references: %w", err)
	}
	defer rows.Close()

	var refs []model.Reference
	for rows.Next() {
		var r model.Reference
		var kind string
		if err := rows.Scan(&r.ArtifactID, &kind, &r.SubjectID, &r.Language, &r.Version); err != nil {
			return nil, fmt.Errorf("scan reference: %w", err)
		}
		r.Kind = model.ArtifactKind(kind)
		r.Reason = ReasonDerivedFrom
		refs = append(refs, r)
	}
	return refs, rows.Err()
}
