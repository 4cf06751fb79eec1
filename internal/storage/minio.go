package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/timkrebs/constrain-resolution/internal/metrics"
)

// Storage provides object storage for uploaded and constrained images
type Storage struct {
	client     *minio.Client
	metrics    *metrics.StorageMetrics
	bucketName string
}

// Config holds MinIO configuration
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// ObjectInfo is the subset of object metadata served to clients
type ObjectInfo struct {
	Key          string
	ContentType  string
	Size         int64
	LastModified time.Time
	Metadata     map[string]string
}

// New creates a new storage client
func New(cfg Config) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &Storage{
		client:     client,
		bucketName: cfg.Bucket,
	}, nil
}

// OriginalKey is where the upload for jobID is stored
func OriginalKey(jobID uuid.UUID, filename string) string {
	return path.Join("originals", jobID.String(), safeName(filename))
}

// ProcessedKey is where the constrained image for jobID is stored
func ProcessedKey(jobID uuid.UUID, filename, ext string) string {
	name := safeName(filename)
	return path.Join("processed", jobID.String(), strings.TrimSuffix(name, path.Ext(name))+ext)
}

func safeName(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		return "image"
	}
	return name
}

// SetMetrics injects metrics collectors into storage client
func (s *Storage) SetMetrics(m *metrics.StorageMetrics) {
	s.metrics = m
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// Upload stores an object; metadata is saved as user metadata
func (s *Storage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string, metadata map[string]string) error {
	start := time.Now()
	_, err := s.client.PutObject(ctx, s.bucketName, key, reader, size, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: metadata,
	})
	s.observe("upload", start, err)
	if err == nil && s.metrics != nil {
		s.metrics.BytesTransferred.WithLabelValues("upload").Add(float64(size))
	}

	if err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}
	return nil
}

// Download opens an object for reading
func (s *Storage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	obj, err := s.client.GetObject(ctx, s.bucketName, key, minio.GetObjectOptions{})
	s.observe("download", start, err)

	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	return obj, nil
}

// IsNotFound reports whether err comes from reading a missing object.
// GetObject is lazy, so the error usually surfaces on the first Read.
func IsNotFound(err error) bool {
	var resp minio.ErrorResponse
	return errors.As(err, &resp) && resp.Code == "NoSuchKey"
}

// Delete removes an object; a missing object is not an error
func (s *Storage) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.client.RemoveObject(ctx, s.bucketName, key, minio.RemoveObjectOptions{})
	s.observe("delete", start, err)
	return err
}

// GetPresignedURL generates a presigned URL for downloading
func (s *Storage) GetPresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	url, err := s.client.PresignedGetObject(ctx, s.bucketName, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return url.String(), nil
}

// Stat retrieves object metadata
func (s *Storage) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	start := time.Now()
	info, err := s.client.StatObject(ctx, s.bucketName, key, minio.StatObjectOptions{})
	s.observe("stat", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}
	return &ObjectInfo{
		Key:          info.Key,
		ContentType:  info.ContentType,
		Size:         info.Size,
		LastModified: info.LastModified,
		Metadata:     info.UserMetadata,
	}, nil
}

// Health checks if storage is accessible
func (s *Storage) Health(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucketName)
	return err
}

func (s *Storage) observe(operation string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := metrics.Status(err)
	s.metrics.OperationDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
	s.metrics.OperationsTotal.WithLabelValues(operation, status).Inc()
}
