package infrastructure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"affsync/internal/domain"
	"affsync/pkg/config"
)

// stored paths embed a content hash, so objects never change
const immutableCacheControl = "public, max-age=31536000, immutable"

var (
	_ domain.ObjectStore = (*S3ObjectStore)(nil)
	_ domain.ObjectStore = (*FilesystemObjectStore)(nil)
)

// S3ObjectStore keeps cached images in an S3-compatible bucket
type S3ObjectStore struct {
	client  *minio.Client
	bucket  string
	baseURL string
}

func NewS3ObjectStore(cfg config.ImagesConfig) (*S3ObjectStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	baseURL := cfg.PublicBaseURL
	if baseURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}

	return &S3ObjectStore{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

func (s *S3ObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object %s: %w", key, err)
	}
	return true, nil
}

func (s *S3ObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: immutableCacheControl,
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

func (s *S3ObjectStore) PublicURL(key string) string {
	return s.baseURL + "/" + key
}

// FilesystemObjectStore keeps objects under a local directory served by the
// web layer at urlPrefix
type FilesystemObjectStore struct {
	dir       string
	urlPrefix string
}

func NewFilesystemObjectStore(dir, urlPrefix string) *FilesystemObjectStore {
	return &FilesystemObjectStore{dir: dir, urlPrefix: urlPrefix}
}

func (s *FilesystemObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(s.path(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", key, err)
}

func (s *FilesystemObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	target := s.path(key)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", key, err)
	}
	return nil
}

func (s *FilesystemObjectStore) PublicURL(key string) string {
	return path.Join("/", s.urlPrefix, key)
}

func (s *FilesystemObjectStore) path(key string) string {
	return filepath.Join(s.dir, filepath.FromSlash(path.Clean("/"+key)))
}
