package store

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jaseci-llmdocs/jacbench/types"
)

// memoryStore is an in-memory Store used in tests and by the coordinator
// test harness.
type memoryStore struct {
	mu          sync.RWMutex
	artifacts   map[string]*types.Artifact
	evals       map[string]*types.EvalResult
	collections map[string]*types.Collection
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() Store {
	return &memoryStore{
		artifacts:   make(map[string]*types.Artifact),
		evals:       make(map[string]*types.EvalResult),
		collections: make(map[string]*types.Collection),
	}
}

func (s *memoryStore) WriteArtifact(a *types.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.artifacts[a.ID] = &cp
	return nil
}

func (s *memoryStore) ReadArtifact(id string) (*types.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[id]
	if !ok {
		return nil, fmt.Errorf("artifact %s: %w", id, ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s *memoryStore) ListArtifacts() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.artifacts))
	for id := range s.artifacts {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *memoryStore) DeleteArtifact(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.artifacts[id]; !ok {
		return fmt.Errorf("artifact %s: %w", id, ErrNotFound)
	}
	for _, c := range s.collections {
		if slices.Contains(c.ArtifactIDs, id) {
			return fmt.Errorf("delete artifact %s: held by %q: %w", id, c.Name, ErrReferenced)
		}
	}
	delete(s.artifacts, id)
	delete(s.evals, id)
	return nil
}

func (s *memoryStore) WriteEvalResult(r *types.EvalResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.artifacts[r.ArtifactID]; !ok {
		return fmt.Errorf("write eval for %s: %w", r.ArtifactID, ErrNotFound)
	}
	cp := *r
	s.evals[r.ArtifactID] = &cp
	return nil
}

func (s *memoryStore) ReadEvalResult(artifactID string) (*types.EvalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.evals[artifactID]
	if !ok {
		return nil, fmt.Errorf("eval for %s: %w", artifactID, ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *memoryStore) CreateCollection(name string, artifactIDs []string) (*types.Collection, error) {
	if !types.ValidCollectionName(name) {
		return nil, fmt.Errorf("%w: collection name %q", types.ErrConfig, name)
	}
	if len(artifactIDs) == 0 {
		return nil, fmt.Errorf("%w: collection needs at least one artifact", types.ErrConfig)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; ok {
		return nil, fmt.Errorf("collection %q: %w", name, ErrExists)
	}
	for _, id := range artifactIDs {
		if _, ok := s.artifacts[id]; !ok {
			return nil, fmt.Errorf("artifact %s: %w", id, ErrNotFound)
		}
	}
	c := &types.Collection{
		Name:        name,
		ArtifactIDs: slices.Clone(artifactIDs),
		CreatedAt:   time.Now(),
		Meta:        s.artifacts[artifactIDs[0]].Metadata,
	}
	s.collections[name] = c
	cp := *c
	return &cp, nil
}

func (s *memoryStore) AddToCollection(name string, artifactIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("collection %q: %w", name, ErrNotFound)
	}
	for _, id := range artifactIDs {
		if _, ok := s.artifacts[id]; !ok {
			return fmt.Errorf("artifact %s: %w", id, ErrNotFound)
		}
		if !slices.Contains(c.ArtifactIDs, id) {
			c.ArtifactIDs = append(c.ArtifactIDs, id)
		}
	}
	return nil
}

func (s *memoryStore) RemoveFromCollection(name string, artifactIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("collection %q: %w", name, ErrNotFound)
	}
	c.ArtifactIDs = slices.DeleteFunc(c.ArtifactIDs, func(id string) bool {
		return slices.Contains(artifactIDs, id)
	})
	return nil
}

func (s *memoryStore) DeleteCollection(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; !ok {
		return fmt.Errorf("collection %q: %w", name, ErrNotFound)
	}
	delete(s.collections, name)
	return nil
}

func (s *memoryStore) ReadCollection(name string) (*types.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("collection %q: %w", name, ErrNotFound)
	}
	cp := *c
	cp.ArtifactIDs = slices.Clone(c.ArtifactIDs)
	return &cp, nil
}

func (s *memoryStore) ListCollections() ([]types.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cols := make([]types.Collection, 0, len(s.collections))
	for _, c := range s.collections {
		cp := *c
		cp.ArtifactIDs = slices.Clone(c.ArtifactIDs)
		cols = append(cols, cp)
	}
	slices.SortFunc(cols, func(a, b types.Collection) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return cols, nil
}
