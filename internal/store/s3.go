package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// S3Store persists artifacts in a MinIO/S3 bucket under
// {run_id}/{step}/{kind}/v{version} keys.
//
// Duplicate-version detection is best-effort (stat before put): the engine is
// the only writer, so the check only has to catch caller retries, not
// concurrent writers.
type S3Store struct {
	client     *minio.Client
	bucketName string
	region     string
	initOnce   sync.Once
	initErr    error
}

func NewS3Store(cfg S3Config) (*S3Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	return &S3Store{
		client:     client,
		bucketName: bucket,
		region:     region,
	}, nil
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("store is nil")
	}
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucketName)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

func (s *S3Store) Put(ctx context.Context, a Artifact) error {
	if s == nil {
		return fmt.Errorf("store is nil")
	}
	if err := validate(a); err != nil {
		return err
	}
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}

	key := objectKey(a.RunID, a.Step, a.Kind, a.Version)
	if _, err := s.client.StatObject(ctx, s.bucketName, key, minio.StatObjectOptions{}); err == nil {
		return fmt.Errorf("put %s: %w", key, ErrDuplicateVersion)
	}

	mediaType := a.MediaType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(a.Content), int64(len(a.Content)), minio.PutObjectOptions{
		ContentType: mediaType,
		UserMetadata: map[string]string{
			"Qaflow-Checksum": a.Checksum,
		},
	})
	return err
}

func (s *S3Store) GetVersion(ctx context.Context, runID, step, kind string, version int) (Artifact, error) {
	if s == nil {
		return Artifact{}, fmt.Errorf("store is nil")
	}
	if err := s.ensureBucket(ctx); err != nil {
		return Artifact{}, fmt.Errorf("ensure bucket: %w", err)
	}

	key := objectKey(runID, step, kind, version)
	obj, err := s.client.GetObject(ctx, s.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return Artifact{}, err
	}
	defer obj.Close()

	content, err := io.ReadAll(obj)
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NoSuchBucket" {
			return Artifact{}, ErrNotFound
		}
		return Artifact{}, err
	}

	info, _ := obj.Stat()
	a := Artifact{
		RunID:     strings.TrimSpace(runID),
		Step:      strings.TrimSpace(step),
		Kind:      strings.TrimSpace(kind),
		Version:   version,
		MediaType: info.ContentType,
		Checksum:  info.UserMetadata["Qaflow-Checksum"],
		Content:   content,
		CreatedAt: info.LastModified,
	}
	if a.Checksum == "" {
		a.Checksum = Checksum(content)
	}
	return a, nil
}

func (s *S3Store) GetLatest(ctx context.Context, runID, step, kind string) (Artifact, error) {
	if s == nil {
		return Artifact{}, fmt.Errorf("store is nil")
	}
	if err := s.ensureBucket(ctx); err != nil {
		return Artifact{}, fmt.Errorf("ensure bucket: %w", err)
	}

	prefix := strings.TrimSpace(runID) + "/" + strings.TrimSpace(step) + "/" + strings.TrimSpace(kind) + "/"
	latest := 0
	for obj := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return Artifact{}, obj.Err
		}
		v, ok := parseVersion(strings.TrimPrefix(obj.Key, prefix))
		if ok && v > latest {
			latest = v
		}
	}
	if latest == 0 {
		return Artifact{}, ErrNotFound
	}
	return s.GetVersion(ctx, runID, step, kind, latest)
}

func (s *S3Store) List(ctx context.Context, runID string) ([]Descriptor, error) {
	if s == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}

	runID = strings.TrimSpace(runID)
	prefix := runID + "/"
	out := make([]Descriptor, 0, 32)
	for obj := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		d, ok := parseObjectKey(runID, strings.TrimPrefix(obj.Key, prefix))
		if !ok {
			continue
		}
		d.Size = obj.Size
		d.MediaType = obj.ContentType
		d.CreatedAt = obj.LastModified
		out = append(out, d)
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

// GetURL returns a presigned download URL valid for one hour.
func (s *S3Store) GetURL(ctx context.Context, runID, step, kind string, version int) (string, error) {
	if s == nil || s.client == nil {
		return "", fmt.Errorf("store is nil")
	}
	// Keys below v000001 are never written; presigning one would mint a URL
	// that always 404s.
	if version < 1 {
		return "", fmt.Errorf("get url: version must be >= 1, got %d", version)
	}
	key := objectKey(runID, step, kind, version)
	u, err := s.client.PresignedGetObject(ctx, s.bucketName, key, time.Hour, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func parseVersion(rest string) (int, bool) {
	if !strings.HasPrefix(rest, "v") || strings.Contains(rest, "/") {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimLeft(strings.TrimPrefix(rest, "v"), "0"))
	if err != nil || v < 1 {
		return 0, false
	}
	return v, true
}

func parseObjectKey(runID, rest string) (Descriptor, bool) {
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return Descriptor{}, false
	}
	v, ok := parseVersion(parts[2])
	if !ok {
		return Descriptor{}, false
	}
	return Descriptor{
		RunID:   runID,
		Step:    parts[0],
		Kind:    parts[1],
		Version: v,
	}, true
}
