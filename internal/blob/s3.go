package blob

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/hyperjump/raglite/internal/config"
	"github.com/hyperjump/raglite/pkg/utils"
)

// S3Store keeps documents in an S3-compatible bucket and downloads them to temporary
// files for parsing.
type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// NewS3Store connects to cfg.S3Endpoint. The bucket is not checked until first use.
func NewS3Store(cfg config.BlobConfig, logger *zap.Logger) (*S3Store, error) {
	if cfg.S3Endpoint == "" || cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 blob backend needs an endpoint and a bucket")
	}
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3Secure,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &S3Store{
		client: client,
		bucket: cfg.S3Bucket,
		prefix: strings.Trim(cfg.S3Prefix, "/"),
		logger: utils.OrNop(logger),
	}, nil
}

// Save uploads content and returns its s3:// path.
func (s *S3Store) Save(ctx context.Context, key string, content []byte, contentType string) (string, error) {
	objectKey := path.Join(s.prefix, key)
	_, err := s.client.PutObject(ctx, s.bucket, objectKey, bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", objectKey, err)
	}
	return S3Scheme + s.bucket + "/" + objectKey, nil
}

// EnsureLocal downloads s3:// paths to a temporary file that keeps the object's
// extension, so format detection still works. Local paths are returned as-is.
func (s *S3Store) EnsureLocal(ctx context.Context, p string) (string, func(), error) {
	if !IsRemote(p) {
		return p, noop, nil
	}
	bucket, key, err := ParseS3(p)
	if err != nil {
		return "", noop, err
	}
	f, err := os.CreateTemp("", "raglite-*"+filepath.Ext(key))
	if err != nil {
		return "", noop, fmt.Errorf("create temp file: %w", err)
	}
	local := f.Name()
	_ = f.Close()
	cleanup := func() {
		if err := os.Remove(local); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove materialized blob", zap.String("path", local), zap.Error(err))
		}
	}
	if err := s.client.FGetObject(ctx, bucket, key, local, minio.GetObjectOptions{}); err != nil {
		cleanup()
		return "", noop, fmt.Errorf("download %s: %w", p, err)
	}
	return local, cleanup, nil
}

// Delete removes the object behind an s3:// path.
func (s *S3Store) Delete(ctx context.Context, p string) error {
	bucket, key, err := ParseS3(p)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s: %w", p, err)
	}
	return nil
}
