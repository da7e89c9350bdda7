package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/jaseci-llmdocs/jacbench/types"
)

const (
	responsesFile  = "responses.json"
	evalFile       = "eval.json"
	collectionsDir = "collections"
)

// localStore keeps each artifact as a directory containing responses.json
// and eval.json, and each collection as a manifest under collections/.
// All writes go through a temp file and rename so concurrent readers see
// either the old or the new content, never a partial file.
type localStore struct {
	dir string
	mu  sync.RWMutex
}

// NewLocalStore creates an on-disk store rooted at dir.
func NewLocalStore(dir string) (Store, error) {
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(filepath.Join(dir, collectionsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &localStore{dir: dir}, nil
}

func (s *localStore) artifactDir(id string) string {
	return filepath.Join(s.dir, filepath.Base(id))
}

func (s *localStore) collectionPath(name string) string {
	return filepath.Join(s.dir, collectionsDir, filepath.Base(name)+".json")
}

func writeJSONAtomic(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	return os.Rename(name, path)
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	return json.Unmarshal(b, v)
}

func (s *localStore) WriteArtifact(a *types.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.artifactDir(a.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("write artifact %s: %w", a.ID, err)
	}
	if err := writeJSONAtomic(filepath.Join(dir, responsesFile), a); err != nil {
		return fmt.Errorf("write artifact %s: %w", a.ID, err)
	}
	return nil
}

func (s *localStore) ReadArtifact(id string) (*types.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var a types.Artifact
	if err := readJSON(filepath.Join(s.artifactDir(id), responsesFile), &a); err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", id, err)
	}
	return &a, nil
}

func (s *localStore) ListArtifacts() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() || e.Name() == collectionsDir {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.dir, e.Name(), responsesFile)); err == nil {
			ids = append(ids, e.Name())
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *localStore) DeleteArtifact(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cols, err := s.listCollectionsLocked()
	if err != nil {
		return err
	}
	for _, c := range cols {
		if slices.Contains(c.ArtifactIDs, id) {
			return fmt.Errorf("delete artifact %s: held by %q: %w", id, c.Name, ErrReferenced)
		}
	}
	dir := s.artifactDir(id)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("delete artifact %s: %w", id, ErrNotFound)
	}
	return os.RemoveAll(dir)
}

func (s *localStore) WriteEvalResult(r *types.EvalResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.artifactDir(r.ArtifactID)
	if _, err := os.Stat(filepath.Join(dir, responsesFile)); err != nil {
		return fmt.Errorf("write eval for %s: %w", r.ArtifactID, ErrNotFound)
	}
	if err := writeJSONAtomic(filepath.Join(dir, evalFile), r); err != nil {
		return fmt.Errorf("write eval for %s: %w", r.ArtifactID, err)
	}
	return nil
}

func (s *localStore) ReadEvalResult(artifactID string) (*types.EvalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var r types.EvalResult
	if err := readJSON(filepath.Join(s.artifactDir(artifactID), evalFile), &r); err != nil {
		return nil, fmt.Errorf("read eval for %s: %w", artifactID, err)
	}
	return &r, nil
}

func (s *localStore) CreateCollection(name string, artifactIDs []string) (*types.Collection, error) {
	if !types.ValidCollectionName(name) {
		return nil, fmt.Errorf("%w: collection name %q", types.ErrConfig, name)
	}
	if len(artifactIDs) == 0 {
		return nil, fmt.Errorf("%w: collection needs at least one artifact", types.ErrConfig)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.collectionPath(name)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("collection %q: %w", name, ErrExists)
	}
	first, err := s.readArtifactLocked(artifactIDs[0])
	if err != nil {
		return nil, err
	}
	for _, id := range artifactIDs[1:] {
		if _, err := s.readArtifactLocked(id); err != nil {
			return nil, err
		}
	}
	c := &types.Collection{
		Name:        name,
		ArtifactIDs: slices.Clone(artifactIDs),
		CreatedAt:   time.Now(),
		Meta:        first.Metadata,
	}
	if err := writeJSONAtomic(path, c); err != nil {
		return nil, fmt.Errorf("write collection %q: %w", name, err)
	}
	return c, nil
}

func (s *localStore) readArtifactLocked(id string) (*types.Artifact, error) {
	var a types.Artifact
	if err := readJSON(filepath.Join(s.artifactDir(id), responsesFile), &a); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", id, err)
	}
	return &a, nil
}

func (s *localStore) AddToCollection(name string, artifactIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c types.Collection
	if err := readJSON(s.collectionPath(name), &c); err != nil {
		return fmt.Errorf("collection %q: %w", name, err)
	}
	for _, id := range artifactIDs {
		if _, err := s.readArtifactLocked(id); err != nil {
			return err
		}
		if !slices.Contains(c.ArtifactIDs, id) {
			c.ArtifactIDs = append(c.ArtifactIDs, id)
		}
	}
	return writeJSONAtomic(s.collectionPath(name), &c)
}

func (s *localStore) RemoveFromCollection(name string, artifactIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c types.Collection
	if err := readJSON(s.collectionPath(name), &c); err != nil {
		return fmt.Errorf("collection %q: %w", name, err)
	}
	c.ArtifactIDs = slices.DeleteFunc(c.ArtifactIDs, func(id string) bool {
		return slices.Contains(artifactIDs, id)
	})
	return writeJSONAtomic(s.collectionPath(name), &c)
}

func (s *localStore) DeleteCollection(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.collectionPath(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("collection %q: %w", name, ErrNotFound)
	}
	return os.Remove(path)
}

func (s *localStore) ReadCollection(name string) (*types.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c types.Collection
	if err := readJSON(s.collectionPath(name), &c); err != nil {
		return nil, fmt.Errorf("collection %q: %w", name, err)
	}
	return &c, nil
}

func (s *localStore) ListCollections() ([]types.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listCollectionsLocked()
}

func (s *localStore) listCollectionsLocked() ([]types.Collection, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, collectionsDir))
	if err != nil {
		return nil, err
	}
	var cols []types.Collection
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		var c types.Collection
		if err := readJSON(filepath.Join(s.dir, collectionsDir, e.Name()), &c); err != nil {
			continue
		}
		cols = append(cols, c)
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
