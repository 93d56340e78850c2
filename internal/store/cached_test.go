package store

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// countingStore wraps another Store and counts backend reads.
type countingStore struct {
	Store
	latestReads  atomic.Int64
	versionReads atomic.Int64
}

func (c *countingStore) GetLatest(ctx context.Context, runID, step, kind string) (Artifact, error) {
	c.latestReads.Add(1)
	return c.Store.GetLatest(ctx, runID, step, kind)
}

func (c *countingStore) GetVersion(ctx context.Context, runID, step, kind string, version int) (Artifact, error) {
	c.versionReads.Add(1)
	return c.Store.GetVersion(ctx, runID, step, kind, version)
}

func TestCachedStoreServesRepeatReadsFromCache(t *testing.T) {
	ctx := context.Background()
	backend := &countingStore{Store: NewMemoryStore()}
	s, err := NewCachedStore(backend, 64)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, New("run-1", "mask_pii", "response", 1, "text/plain", []byte("masked"))))

	for i := 0; i < 5; i++ {
		got, err := s.GetLatest(ctx, "run-1", "mask_pii", "response")
		require.NoError(t, err)
		require.Equal(t, "masked", string(got.Content))
	}
	// Put primed both caches, so the backend never sees the reads.
	require.Zero(t, backend.latestReads.Load())
	require.Zero(t, backend.versionReads.Load())
}

func TestCachedStoreLatestPointerMovesOnPut(t *testing.T) {
	ctx := context.Background()
	s, err := NewCachedStore(NewMemoryStore(), 64)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, New("run-1", "generate_testcases", "response", 1, "application/json", []byte(`{"v":1}`))))
	require.NoError(t, s.Put(ctx, New("run-1", "generate_testcases", "response", 2, "application/json", []byte(`{"v":2}`))))

	latest, err := s.GetLatest(ctx, "run-1", "generate_testcases", "response")
	require.NoError(t, err)
	require.Equal(t, 2, latest.Version)
}

func TestCachedStoreFillsFromBackendOnMiss(t *testing.T) {
	ctx := context.Background()
	backend := &countingStore{Store: NewMemoryStore()}
	// Write through the backend directly so the cache starts cold.
	require.NoError(t, backend.Put(ctx, New("run-1", "input", "doc", 1, "text/plain", []byte("requirements"))))

	s, err := NewCachedStore(backend, 64)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		got, err := s.GetLatest(ctx, "run-1", "input", "doc")
		require.NoError(t, err)
		require.Equal(t, 1, got.Version)
	}
	require.Equal(t, int64(1), backend.latestReads.Load())
}

func TestCachedStoreReadsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	s, err := NewCachedStore(NewMemoryStore(), 64)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, New("run-1", "input", "doc", 1, "text/plain", []byte("requirements"))))

	// Mutating a cache-hit result must not poison later reads.
	first, err := s.GetLatest(ctx, "run-1", "input", "doc")
	require.NoError(t, err)
	first.Content[0] = 'X'

	second, err := s.GetVersion(ctx, "run-1", "input", "doc", 1)
	require.NoError(t, err)
	require.Equal(t, "requirements", string(second.Content))
	second.Content[0] = 'Y'

	third, err := s.GetLatest(ctx, "run-1", "input", "doc")
	require.NoError(t, err)
	require.Equal(t, "requirements", string(third.Content))
}

func TestCachedStorePropagatesDuplicateAndNotFound(t *testing.T) {
	ctx := context.Background()
	s, err := NewCachedStore(NewMemoryStore(), 64)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, New("run-1", "mask_pii", "response", 1, "text/plain", []byte("x"))))
	require.ErrorIs(t, s.Put(ctx, New("run-1", "mask_pii", "response", 1, "text/plain", []byte("y"))), ErrDuplicateVersion)

	_, err = s.GetVersion(ctx, "run-1", "mask_pii", "response", 9)
	require.ErrorIs(t, err, ErrNotFound)
}
