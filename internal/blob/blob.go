// Package blob keeps uploaded document bytes and materializes them as local files for
// parsing. Paths are either local filesystem paths or s3://bucket/key URIs.
package blob

import (
	"context"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/raglite/internal/config"
	"github.com/hyperjump/raglite/pkg/utils"
)

// S3Scheme prefixes paths of objects kept in an S3-compatible bucket.
const S3Scheme = "s3://"

// Materializer returns a local path for a stored document. The cleanup callback is
// never nil and must be called once the file is no longer needed.
type Materializer interface {
	EnsureLocal(ctx context.Context, path string) (string, func(), error)
}

// Store saves uploaded bytes and can materialize them again.
type Store interface {
	Materializer
	// Save writes content under key and returns the path recorded on the document.
	Save(ctx context.Context, key string, content []byte, contentType string) (string, error)
	Delete(ctx context.Context, path string) error
}

// Key returns the storage key of an uploaded document:
// tenants/<tenant>/<dataset>/<document>/<filename>.
func Key(tenantID, datasetID, documentID, filename string) string {
	return path.Join("tenants", tenantID, datasetID, documentID, utils.SecureFilename(filename, "upload"))
}

// IsRemote reports whether p names an object in a bucket.
func IsRemote(p string) bool {
	return strings.HasPrefix(p, S3Scheme)
}

// ParseS3 splits an s3://bucket/key path.
func ParseS3(p string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(p, S3Scheme)
	if !ok {
		return "", "", fmt.Errorf("not an s3 path: %q", p)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 path needs a bucket and a key: %q", p)
	}
	return bucket, key, nil
}

func noop() {}

// NewStore opens the backend selected by cfg.Backend.
func NewStore(cfg config.BlobConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalStore(cfg.Root), nil
	case "s3":
		return NewS3Store(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
}
