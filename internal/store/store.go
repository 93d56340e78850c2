package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Store defines operations for persisting run artifacts.
//
// Artifacts are append-only: a (run, step, kind, version) key is written at
// most once, so every operation is independently retryable by the caller.
type Store interface {
	Put(ctx context.Context, a Artifact) error
	GetLatest(ctx context.Context, runID, step, kind string) (Artifact, error)
	GetVersion(ctx context.Context, runID, step, kind string, version int) (Artifact, error)
	List(ctx context.Context, runID string) ([]Descriptor, error)
}

// URLProvider is implemented by backends that can hand out download URLs.
type URLProvider interface {
	GetURL(ctx context.Context, runID, step, kind string, version int) (string, error)
}

var (
	ErrNotFound         = errors.New("artifact not found")
	ErrDuplicateVersion = errors.New("artifact version already exists")
)

// Artifact is one immutable, versioned payload produced by a step.
type Artifact struct {
	RunID     string    `json:"run_id"`
	Step      string    `json:"step"`
	Kind      string    `json:"kind"`
	Version   int       `json:"version"`
	MediaType string    `json:"media_type"`
	Checksum  string    `json:"checksum"`
	Content   []byte    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Descriptor identifies a stored artifact without carrying its content.
type Descriptor struct {
	RunID     string    `json:"run_id"`
	Step      string    `json:"step"`
	Kind      string    `json:"kind"`
	Version   int       `json:"version"`
	MediaType string    `json:"media_type"`
	Checksum  string    `json:"checksum"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

func (a Artifact) Descriptor() Descriptor {
	return Descriptor{
		RunID:     a.RunID,
		Step:      a.Step,
		Kind:      a.Kind,
		Version:   a.Version,
		MediaType: a.MediaType,
		Checksum:  a.Checksum,
		Size:      int64(len(a.Content)),
		CreatedAt: a.CreatedAt,
	}
}

// Checksum returns the hex-encoded SHA-256 of content.
func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// New builds an artifact with checksum and timestamp filled in.
func New(runID, step, kind string, version int, mediaType string, content []byte) Artifact {
	if content == nil {
		content = []byte{}
	}
	return Artifact{
		RunID:     runID,
		Step:      step,
		Kind:      kind,
		Version:   version,
		MediaType: mediaType,
		Checksum:  Checksum(content),
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

func validate(a Artifact) error {
	if strings.TrimSpace(a.RunID) == "" {
		return fmt.Errorf("run_id is required")
	}
	if strings.TrimSpace(a.Step) == "" {
		return fmt.Errorf("step is required")
	}
	if strings.TrimSpace(a.Kind) == "" {
		return fmt.Errorf("kind is required")
	}
	if a.Version < 1 {
		return fmt.Errorf("version must be >= 1, got %d", a.Version)
	}
	return nil
}

func objectKey(runID, step, kind string, version int) string {
	return fmt.Sprintf("%s/%s/%s/v%06d", strings.TrimSpace(runID), strings.TrimSpace(step), strings.TrimSpace(kind), version)
}
