// Package storage implements the file systems and segment layout used by the
// source reader and partition writers.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	apperrors "github.com/jittakal/kafcsvconnect/internal/errors"
	"github.com/jittakal/kafcsvconnect/pkg/storage"
)

// Supported storage backends.
const (
	BackendFile  = "file"
	BackendS3    = "s3"
	BackendGCS   = "gcs"
	BackendAzure = "azure"
)

// MetricsCollector defines metrics operations for storage.
type MetricsCollector interface {
	IncStorageErrors(backend string, operation string)
	ObserveStorageOperationDuration(backend string, operation string, duration float64)
}

// Config selects and configures a storage backend.
type Config struct {
	Backend string
	File    FileConfig
	S3      S3Config
	GCS     GCSConfig
	Azure   AzureConfig
}

// New creates the file system for the configured backend.
func New(ctx context.Context, cfg Config, logger *slog.Logger, metrics MetricsCollector) (storage.FileSystem, error) {
	switch cfg.Backend {
	case BackendFile, "":
		return NewLocalFileSystem(cfg.File, logger, metrics)
	case BackendS3:
		return NewS3FileSystem(ctx, cfg.S3, logger, metrics)
	case BackendGCS:
		return NewGCSFileSystem(ctx, cfg.GCS, logger, metrics)
	case BackendAzure:
		return NewAzureFileSystem(cfg.Azure, logger, metrics)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

// objectKey maps a slash-separated path to an object key below prefix.
// Object stores have no leading slash and no "." or ".." segments.
func objectKey(prefix, p string) string {
	return strings.TrimPrefix(path.Join("/", prefix, p), "/")
}

// dirPrefix returns the listing prefix for the folder dir below prefix.
func dirPrefix(prefix, dir string) string {
	key := objectKey(prefix, dir)
	if key == "" {
		return ""
	}
	return key + "/"
}

func storageError(metrics MetricsCollector, backend, operation, p string, err error) error {
	if metrics != nil {
		metrics.IncStorageErrors(backend, operation)
	}
	return &apperrors.StorageError{Operation: operation, Path: p, Err: err}
}

func duplicateError(metrics MetricsCollector, backend, dst string) error {
	return storageError(metrics, backend, "move", dst, apperrors.ErrDuplicateFile)
}
