package store

import (
	"context"
	"testing"

	"qaflow/internal/tester"
)

func TestMemoryStorePutAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a := New("run-1", "generate_scenarios", "response", 1, "text/plain", []byte("scenario list"))
	tester.NoErr(t, s.Put(ctx, a))

	got, err := s.GetVersion(ctx, "run-1", "generate_scenarios", "response", 1)
	tester.NoErr(t, err)
	tester.Eq(t, string(got.Content), "scenario list")
	tester.Eq(t, got.Checksum, Checksum([]byte("scenario list")))

	latest, err := s.GetLatest(ctx, "run-1", "generate_scenarios", "response")
	tester.NoErr(t, err)
	tester.Eq(t, latest.Version, 1)
}

func TestMemoryStoreLatestTracksHighestVersion(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	tester.NoErr(t, s.Put(ctx, New("run-1", "generate_testcases", "response", 1, "application/json", []byte(`{"v":1}`))))
	tester.NoErr(t, s.Put(ctx, New("run-1", "generate_testcases", "response", 2, "application/json", []byte(`{"v":2}`))))

	latest, err := s.GetLatest(ctx, "run-1", "generate_testcases", "response")
	tester.NoErr(t, err)
	tester.Eq(t, latest.Version, 2)
	tester.Eq(t, string(latest.Content), `{"v":2}`)

	// The earlier version stays retrievable.
	v1, err := s.GetVersion(ctx, "run-1", "generate_testcases", "response", 1)
	tester.NoErr(t, err)
	tester.Eq(t, string(v1.Content), `{"v":1}`)
}

func TestMemoryStoreRejectsDuplicateVersion(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	tester.NoErr(t, s.Put(ctx, New("run-1", "mask_pii", "response", 1, "text/plain", []byte("first"))))
	err := s.Put(ctx, New("run-1", "mask_pii", "response", 1, "text/plain", []byte("second")))
	tester.IsErr(t, err, ErrDuplicateVersion)

	// The original write is untouched.
	got, err := s.GetVersion(ctx, "run-1", "mask_pii", "response", 1)
	tester.NoErr(t, err)
	tester.Eq(t, string(got.Content), "first")
}

func TestMemoryStoreReadsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	tester.NoErr(t, s.Put(ctx, New("run-1", "input", "doc", 1, "text/plain", []byte("requirements"))))

	first, err := s.GetLatest(ctx, "run-1", "input", "doc")
	tester.NoErr(t, err)
	// Mutating a returned copy must not leak into the store.
	first.Content[0] = 'X'

	second, err := s.GetLatest(ctx, "run-1", "input", "doc")
	tester.NoErr(t, err)
	tester.Eq(t, string(second.Content), "requirements")
}

func TestMemoryStoreNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.GetLatest(ctx, "run-x", "mask_pii", "response")
	tester.IsErr(t, err, ErrNotFound)
	_, err = s.GetVersion(ctx, "run-x", "mask_pii", "response", 1)
	tester.IsErr(t, err, ErrNotFound)
}

func TestMemoryStoreValidation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	tester.Err(t, s.Put(ctx, New("run-1", "", "response", 1, "text/plain", nil)), "missing step")
	tester.Err(t, s.Put(ctx, New("run-1", "mask_pii", "response", 0, "text/plain", nil)), "version below 1")
}

func TestMemoryStoreListOrdersByStepKindVersion(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	tester.NoErr(t, s.Put(ctx, New("run-1", "mask_pii", "response", 2, "text/plain", []byte("b"))))
	tester.NoErr(t, s.Put(ctx, New("run-1", "mask_pii", "response", 1, "text/plain", []byte("a"))))
	tester.NoErr(t, s.Put(ctx, New("run-1", "input", "doc", 1, "text/plain", []byte("doc"))))
	tester.NoErr(t, s.Put(ctx, New("run-2", "input", "doc", 1, "text/plain", []byte("other run"))))

	got, err := s.List(ctx, "run-1")
	tester.NoErr(t, err)
	tester.Eq(t, len(got), 3)
	tester.Eq(t, got[0].Step, "input")
	tester.Eq(t, got[1].Version, 1)
	tester.Eq(t, got[2].Version, 2)
}
