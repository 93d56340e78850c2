package store

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedStore is a read-through cache in front of another Store. The engine
// re-reads prior artifacts on every step, so latest-version lookups dominate
// the read path.
//
// The wrapped store is the source of truth; the cache only holds what this
// process wrote or read. Artifacts are immutable per version, so version
// entries never need invalidation; only the latest pointer moves on Put.
type CachedStore struct {
	next     Store
	versions *lru.Cache[string, Artifact]
	latest   *lru.Cache[string, int]
}

func NewCachedStore(next Store, size int) (*CachedStore, error) {
	if next == nil {
		return nil, fmt.Errorf("wrapped store is required")
	}
	if size <= 0 {
		size = 1024
	}
	versions, err := lru.New[string, Artifact](size)
	if err != nil {
		return nil, err
	}
	latest, err := lru.New[string, int](size)
	if err != nil {
		return nil, err
	}
	return &CachedStore{next: next, versions: versions, latest: latest}, nil
}

func (s *CachedStore) Put(ctx context.Context, a Artifact) error {
	if err := s.next.Put(ctx, a); err != nil {
		return err
	}
	key := objectKey(a.RunID, a.Step, a.Kind, a.Version)
	s.versions.Add(key, copyContent(a))
	latestKey := a.RunID + "/" + a.Step + "/" + a.Kind
	if cur, ok := s.latest.Get(latestKey); !ok || a.Version > cur {
		s.latest.Add(latestKey, a.Version)
	}
	return nil
}

func (s *CachedStore) GetVersion(ctx context.Context, runID, step, kind string, version int) (Artifact, error) {
	key := objectKey(runID, step, kind, version)
	if a, ok := s.versions.Get(key); ok {
		return copyContent(a), nil
	}
	a, err := s.next.GetVersion(ctx, runID, step, kind, version)
	if err != nil {
		return Artifact{}, err
	}
	s.versions.Add(key, a)
	return copyContent(a), nil
}

func (s *CachedStore) GetLatest(ctx context.Context, runID, step, kind string) (Artifact, error) {
	latestKey := runID + "/" + step + "/" + kind
	if v, ok := s.latest.Get(latestKey); ok {
		return s.GetVersion(ctx, runID, step, kind, v)
	}
	a, err := s.next.GetLatest(ctx, runID, step, kind)
	if err != nil {
		return Artifact{}, err
	}
	s.versions.Add(objectKey(a.RunID, a.Step, a.Kind, a.Version), a)
	s.latest.Add(latestKey, a.Version)
	return copyContent(a), nil
}

// copyContent shields cache entries from caller mutation; artifacts are
// immutable per version, so the cached bytes must stay pristine.
func copyContent(a Artifact) Artifact {
	a.Content = append([]byte(nil), a.Content...)
	return a
}

func (s *CachedStore) List(ctx context.Context, runID string) ([]Descriptor, error) {
	return s.next.List(ctx, runID)
}

// GetURL delegates to the wrapped store when it can mint URLs.
func (s *CachedStore) GetURL(ctx context.Context, runID, step, kind string, version int) (string, error) {
	if up, ok := s.next.(URLProvider); ok {
		return up.GetURL(ctx, runID, step, kind, version)
	}
	return "", nil
}
