// Package archive keeps copies of job result archives outside the backend,
// either on local disk or in S3-compatible object storage.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store persists objects under slash-separated keys.
type Store interface {
	// Put writes size bytes from r under key and returns where the object
	// now lives.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
}

// FileStore writes objects below a directory.
type FileStore struct {
	Dir string
}

// NewFileStore returns a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

// Put writes the object atomically: content goes to a temp file that is
// renamed into place once complete.
func (s *FileStore) Put(_ context.Context, key string, r io.Reader, size int64, _ string) (string, error) {
	dst := filepath.Join(s.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("archive: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".partial-*")
	if err != nil {
		return "", fmt.Errorf("archive: create temp: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	n, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("archive: write %s: %w", key, err)
	}
	if size >= 0 && n != size {
		return "", fmt.Errorf("archive: write %s: wrote %d bytes, expected %d", key, n, size)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("archive: move into place: %w", err)
	}
	return dst, nil
}

// MinioConfig holds the settings for MinioStore.
type MinioConfig struct {
	Endpoint  string // host:port, without scheme
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	UseSSL    bool
}

// Validate checks that the configuration is usable.
func (c MinioConfig) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("archive: endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("archive: endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" || strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("archive: access key and secret key are required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("archive: bucket is required")
	}
	return nil
}

// MinioStore writes objects to one bucket of an S3-compatible service.
type MinioStore struct {
	client *minio.Client
	bucket string
	region string
	scheme string
	host   string
}

// NewMinioStore creates the client. It does not contact the service; call
// EnsureBucket before the first Put.
func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: minio client: %w", err)
	}
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	return &MinioStore{client: client, bucket: cfg.Bucket, region: cfg.Region, scheme: scheme, host: cfg.Endpoint}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("archive: bucket exists %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("archive: make bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Put uploads the object.
func (s *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("archive: put %s/%s: %w", s.bucket, key, err)
	}
	return s.scheme + "://" + s.host + "/" + s.bucket + "/" + key, nil
}
