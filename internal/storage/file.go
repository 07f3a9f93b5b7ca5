package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jittakal/kafcsvconnect/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.FileSystem = (*LocalFileSystem)(nil)

// FileConfig contains local filesystem configuration.
type FileConfig struct {
	// BasePath anchors relative paths. Empty means the working directory.
	BasePath string
}

// LocalFileSystem implements storage.FileSystem on the local disk.
type LocalFileSystem struct {
	basePath string
	logger   *slog.Logger
	metrics  MetricsCollector
}

// NewLocalFileSystem creates a local file system rooted at cfg.BasePath.
func NewLocalFileSystem(cfg FileConfig, logger *slog.Logger, metrics MetricsCollector) (*LocalFileSystem, error) {
	if cfg.BasePath != "" {
		if err := os.MkdirAll(cfg.BasePath, 0755); err != nil {
			return nil, storageError(metrics, BackendFile, "mkdir", cfg.BasePath, err)
		}
	}

	logger.Info("local file system created", "base_path", cfg.BasePath)

	return &LocalFileSystem{
		basePath: cfg.BasePath,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

func (l *LocalFileSystem) resolve(p string) string {
	p = filepath.FromSlash(p)
	if l.basePath == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(l.basePath, p)
}

// Open opens the file at p for reading.
func (l *LocalFileSystem) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	f, err := os.Open(l.resolve(p))
	if err != nil {
		return nil, storageError(l.metrics, BackendFile, "open", p, err)
	}
	return f, nil
}

// Create creates or truncates the file at p, creating parent folders.
func (l *LocalFileSystem) Create(ctx context.Context, p string) (io.WriteCloser, error) {
	full := l.resolve(p)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return nil, storageError(l.metrics, BackendFile, "create", p, err)
	}
	f, err := os.Create(full)
	if err != nil {
		return nil, storageError(l.metrics, BackendFile, "create", p, err)
	}
	return f, nil
}

// Exists reports whether a file exists at p.
func (l *LocalFileSystem) Exists(ctx context.Context, p string) (bool, error) {
	_, err := os.Stat(l.resolve(p))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, storageError(l.metrics, BackendFile, "stat", p, err)
}

// Delete removes the file at p.
func (l *LocalFileSystem) Delete(ctx context.Context, p string) error {
	if err := os.Remove(l.resolve(p)); err != nil {
		return storageError(l.metrics, BackendFile, "delete", p, err)
	}
	return nil
}

// Move renames src to dst. It never replaces an existing dst.
func (l *LocalFileSystem) Move(ctx context.Context, src, dst string) error {
	start := time.Now()
	to := l.resolve(dst)

	if _, err := os.Stat(to); err == nil {
		return duplicateError(l.metrics, BackendFile, dst)
	}
	if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
		return storageError(l.metrics, BackendFile, "move", dst, err)
	}
	if err := os.Rename(l.resolve(src), to); err != nil {
		return storageError(l.metrics, BackendFile, "move", src, err)
	}

	if l.metrics != nil {
		l.metrics.ObserveStorageOperationDuration(BackendFile, "move", time.Since(start).Seconds())
	}
	return nil
}

// ListFileNames returns the names of regular files directly under dir,
// sorted by name. A missing dir has no files.
func (l *LocalFileSystem) ListFileNames(ctx context.Context, dir string) ([]string, error) {
	entries, err := os.ReadDir(l.resolve(dir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, storageError(l.metrics, BackendFile, "list", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// Close closes the file system.
func (l *LocalFileSystem) Close() error {
	l.logger.Info("closing local file system")
	return nil
}
