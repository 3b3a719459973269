// Package storage keeps uploaded media in an S3-compatible bucket. The
// lifecycle engine only ever sees the resulting object URLs.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"civic-issue-tracker/pkg/config"
)

// MaxObjectSize caps a single upload.
const MaxObjectSize = 10 << 20

var allowedContentTypes = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
	"video/mp4":       ".mp4",
}

// AllowedContentType reports whether uploads of contentType are accepted.
func AllowedContentType(contentType string) bool {
	_, ok := allowedContentTypes[contentType]
	return ok
}

// ObjectName builds a collision-free key under prefix.
func ObjectName(prefix, contentType string, now time.Time) string {
	return path.Join(prefix, now.UTC().Format("2006/01/02"), uuid.NewString()+allowedContentTypes[contentType])
}

type ObjectStore struct {
	client    *minio.Client
	bucket    string
	publicURL string
	logger    *zap.Logger
}

// NewObjectStore connects to the configured endpoint and creates the bucket
// when it does not exist yet.
func NewObjectStore(ctx context.Context, cfg config.MinIOConfig, logger *zap.Logger) (*ObjectStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
		logger.Info("created bucket", zap.String("bucket", cfg.Bucket))
	}

	publicURL := cfg.PublicURL
	if publicURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}

	return &ObjectStore{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
		logger:    logger,
	}, nil
}

// Put stores r under a generated name below prefix and returns its URL.
func (s *ObjectStore) Put(ctx context.Context, prefix, contentType string, r io.Reader, size int64) (string, error) {
	if !AllowedContentType(contentType) {
		return "", fmt.Errorf("content type %q is not accepted", contentType)
	}
	if size > MaxObjectSize {
		return "", fmt.Errorf("object of %d bytes exceeds the %d byte limit", size, MaxObjectSize)
	}

	name := ObjectName(prefix, contentType, time.Now())
	info, err := s.client.PutObject(ctx, s.bucket, name, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("failed to upload object: %w", err)
	}

	s.logger.Info("object stored",
		zap.String("bucket", s.bucket),
		zap.String("object", info.Key),
		zap.Int64("size", info.Size))
	return s.publicURL + "/" + info.Key, nil
}
