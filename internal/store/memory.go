package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStore keeps artifacts in process memory. Used for tests and for
// running the engine without any external storage configured.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Artifact
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]Artifact),
	}
}

func (s *MemoryStore) Put(_ context.Context, a Artifact) error {
	if s == nil {
		return fmt.Errorf("store is nil")
	}
	if err := validate(a); err != nil {
		return err
	}
	key := objectKey(a.RunID, a.Step, a.Kind, a.Version)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; exists {
		return fmt.Errorf("put %s: %w", key, ErrDuplicateVersion)
	}
	a.Content = append([]byte(nil), a.Content...)
	s.data[key] = a
	return nil
}

func (s *MemoryStore) GetLatest(_ context.Context, runID, step, kind string) (Artifact, error) {
	if s == nil {
		return Artifact{}, fmt.Errorf("store is nil")
	}
	prefix := strings.TrimSpace(runID) + "/" + strings.TrimSpace(step) + "/" + strings.TrimSpace(kind) + "/"
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found bool
	var latest Artifact
	for key, a := range s.data {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if !found || a.Version > latest.Version {
			latest = a
			found = true
		}
	}
	if !found {
		return Artifact{}, ErrNotFound
	}
	latest.Content = append([]byte(nil), latest.Content...)
	return latest, nil
}

func (s *MemoryStore) GetVersion(_ context.Context, runID, step, kind string, version int) (Artifact, error) {
	if s == nil {
		return Artifact{}, fmt.Errorf("store is nil")
	}
	key := objectKey(runID, step, kind, version)
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.data[key]
	if !ok {
		return Artifact{}, ErrNotFound
	}
	a.Content = append([]byte(nil), a.Content...)
	return a, nil
}

func (s *MemoryStore) List(_ context.Context, runID string) ([]Descriptor, error) {
	if s == nil {
		return nil, fmt.Errorf("store is nil")
	}
	prefix := strings.TrimSpace(runID) + "/"
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Descriptor, 0, 16)
	for key, a := range s.data {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, a.Descriptor())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Step != out[j].Step {
			return out[i].Step < out[j].Step
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}
