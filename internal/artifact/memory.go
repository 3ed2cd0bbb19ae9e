package artifact

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wordai/api/internal/model"
)

type scopeState struct {
	lastVersion int
	defaultID   string
	ids         []string
}

// MemoryStore is an in-process Store. One mutex serializes every write, so
// version allocation is trivially atomic.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*model.Artifact
	scopes map[string]*scopeState
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*model.Artifact),
		scopes: make(map[string]*scopeState),
		now:    time.Now,
	}
}

func (m *MemoryStore) Create(ctx context.Context, in model.NewArtifact) (*model.Artifact, error) {
	if err := validateNew(in); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.scopes[in.Scope.Key()]
	if !ok {
		st = &scopeState{}
		m.scopes[in.Scope.Key()] = st
	}
	st.lastVersion++

	a := &model.Artifact{
		ID:               uuid.New().String(),
		OwnerID:          in.OwnerID,
		Kind:             in.Kind,
		SubjectID:        in.SubjectID,
		Language:         in.Language,
		Version:          st.lastVersion,
		Content:          in.Content,
		ObjectKey:        in.ObjectKey,
		URL:              in.URL,
		SourceJobID:      in.SourceJobID,
		SourceArtifactID: in.SourceArtifactID,
		CreatedAt:        m.now().UTC(),
	}
	m.byID[a.ID] = a
	st.ids = append(st.ids, a.ID)

	return m.view(a), nil
}

func (m *MemoryStore) Get(ctx context.Context, scope model.Scope, version int) (*model.Artifact, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.scopes[scope.Key()]
	if !ok || len(st.ids) == 0 {
		return nil, notFoundf("no %s artifact for %s/%s", scope.Kind, scope.SubjectID, scope.Language)
	}
	if version == 0 {
		return m.view(m.byID[m.effectiveDefault(st)]), nil
	}
	for _, id := range st.ids {
		if a := m.byID[id]; a.Version == version {
			return m.view(a), nil
		}
	}
	return nil, notFoundf("version %d of %s/%s", version, scope.SubjectID, scope.Language)
}

func (m *MemoryStore) GetByID(ctx context.Context, id string) (*model.Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.byID[id]
	if !ok {
		return nil, notFoundf("artifact %s", id)
	}
	return m.view(a), nil
}

func (m *MemoryStore) SetDefault(ctx context.Context, scope model.Scope, artifactID string) (*model.Artifact, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.byID[artifactID]
	if !ok || a.Scope() != scope {
		return nil, notFoundf("artifact %s in %s/%s", artifactID, scope.SubjectID, scope.Language)
	}
	m.scopes[scope.Key()].defaultID = artifactID
	return m.view(a), nil
}

func (m *MemoryStore) ListVersions(ctx context.Context, scope model.Scope) ([]*model.Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.Artifact
	for _, a := range m.byID {
		if a.OwnerID != scope.OwnerID || a.Kind != scope.Kind || a.SubjectID != scope.SubjectID {
			continue
		}
		if scope.Language != "" && a.Language != scope.Language {
			continue
		}
		out = append(out, m.view(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Version != out[j].Version {
			return out[i].Version > out[j].Version
		}
		return out[i].Language < out[j].Language
	})
	return out, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.byID[id]
	if !ok {
		return notFoundf("artifact %s", id)
	}
	delete(m.byID, id)

	st := m.scopes[a.Scope().Key()]
	for i, sid := range st.ids {
		if sid == id {
			st.ids = append(st.ids[:i], st.ids[i+1:]...)
			break
		}
	}
	if st.defaultID == id {
		st.defaultID = ""
	}
	return nil
}

func (m *MemoryStore) References(ctx context.Context, id string) ([]model.Reference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.byID[id]; !ok {
		return nil, notFoundf("artifact %s", id)
	}

	var refs []model.Reference
	for _, a := range m.byID {
		if a.SourceArtifactID != id {
			continue
		}
		refs = append(refs, model.Reference{
			ArtifactID: a.ID,
			Kind:       a.Kind,
			SubjectID:  a.SubjectID,
			Language:   a.Language,
			Version:    a.Version,
			Reason:     ReasonDerivedFrom,
		})
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Kind != refs[j].Kind {
			return refs[i].Kind < refs[j].Kind
		}
		if refs[i].Language != refs[j].Language {
			return refs[i].Language < refs[j].Language
		}
		return refs[i].Version < refs[j].Version
	})
	return refs, nil
}

// effectiveDefault returns the explicit default or the highest version.
// Caller holds the lock and st has at least one artifact.
func (m *MemoryStore) effectiveDefault(st *scopeState) string {
	if st.defaultID != "" {
		return st.defaultID
	}
	best := st.ids[0]
	for _, id := range st.ids[1:] {
		if m.byID[id].Version > m.byID[best].Version {
			best = id
		}
	}
	return best
}

// view copies a and stamps IsDefault. Caller holds the lock.
func (m *MemoryStore) view(a *model.Artifact) *model.Artifact {
	cp := *a
	st := m.scopes[a.Scope().Key()]
	cp.IsDefault = len(st.ids) > 0 && m.effectiveDefault(st) == a.ID
	return &cp
}
