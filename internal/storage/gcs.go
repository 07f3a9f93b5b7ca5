package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	pkgstorage "github.com/jittakal/kafcsvconnect/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ pkgstorage.FileSystem = (*GCSFileSystem)(nil)

// GCSConfig contains Google Cloud Storage configuration.
type GCSConfig struct {
	Bucket               string
	Prefix               string
	ProjectID            string
	CredentialsFile      string
	CredentialsJSON      string
	Endpoint             string
	UseDefaultCredential bool
}

// GCSFileSystem implements storage.FileSystem on a Google Cloud Storage bucket.
type GCSFileSystem struct {
	client  *storage.Client
	bucket  string
	prefix  string
	logger  *slog.Logger
	metrics MetricsCollector
}

// clientOptions maps the configured credentials to client options.
func (cfg GCSConfig) clientOptions(logger *slog.Logger) []option.ClientOption {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	switch {
	case cfg.UseDefaultCredential:
		logger.Info("using default GCP credentials")
	case cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
		logger.Info("using GCP credentials from JSON string")
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		logger.Info("using GCP credentials from file", "file", cfg.CredentialsFile)
	default:
		logger.Info("no explicit credentials provided, using default GCP credentials")
	}
	return opts
}

// NewGCSFileSystem creates a new Google Cloud Storage file system.
func NewGCSFileSystem(ctx context.Context, cfg GCSConfig, logger *slog.Logger, metrics MetricsCollector) (*GCSFileSystem, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}

	client, err := storage.NewClient(ctx, cfg.clientOptions(logger)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	logger.Info("GCS file system created",
		"bucket", cfg.Bucket,
		"prefix", cfg.Prefix,
		"project_id", cfg.ProjectID,
	)

	return &GCSFileSystem{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		logger:  logger,
		metrics: metrics,
	}, nil
}

func (g *GCSFileSystem) object(p string) *storage.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(objectKey(g.prefix, p))
}

// Open opens the object at p for reading.
func (g *GCSFileSystem) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	r, err := g.object(p).NewReader(ctx)
	if err != nil {
		return nil, storageError(g.metrics, BackendGCS, "open", p, err)
	}
	return r, nil
}

// Create returns a writer for the object at p. The object is committed when
// the writer is closed.
func (g *GCSFileSystem) Create(ctx context.Context, p string) (io.WriteCloser, error) {
	w := g.object(p).NewWriter(ctx)
	w.ContentType = contentType(p)
	return &gcsWriter{Writer: w, fs: g, path: p}, nil
}

// Exists reports whether an object exists at p.
func (g *GCSFileSystem) Exists(ctx context.Context, p string) (bool, error) {
	_, err := g.object(p).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, storageError(g.metrics, BackendGCS, "stat", p, err)
}

// Delete removes the object at p.
func (g *GCSFileSystem) Delete(ctx context.Context, p string) error {
	if err := g.object(p).Delete(ctx); err != nil {
		return storageError(g.metrics, BackendGCS, "delete", p, err)
	}
	return nil
}

// Move copies src to dst and deletes src. It never replaces an existing dst.
func (g *GCSFileSystem) Move(ctx context.Context, src, dst string) error {
	start := time.Now()

	dstObj := g.object(dst).If(storage.Conditions{DoesNotExist: true})
	if _, err := dstObj.CopierFrom(g.object(src)).Run(ctx); err != nil {
		exists, existsErr := g.Exists(ctx, dst)
		if existsErr == nil && exists {
			return duplicateError(g.metrics, BackendGCS, dst)
		}
		return storageError(g.metrics, BackendGCS, "move", src, err)
	}
	if err := g.Delete(ctx, src); err != nil {
		return err
	}

	if g.metrics != nil {
		g.metrics.ObserveStorageOperationDuration(BackendGCS, "move", time.Since(start).Seconds())
	}
	return nil
}

// ListFileNames returns the names of objects directly under dir.
func (g *GCSFileSystem) ListFileNames(ctx context.Context, dir string) ([]string, error) {
	prefix := dirPrefix(g.prefix, dir)
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{
		Prefix:    prefix,
		Delimiter: "/",
	})

	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, storageError(g.metrics, BackendGCS, "list", dir, err)
		}
		// Synthetic directory entries only carry a prefix.
		if attrs.Name == "" {
			continue
		}
		if name := strings.TrimPrefix(attrs.Name, prefix); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// Close closes the GCS client.
func (g *GCSFileSystem) Close() error {
	g.logger.Info("closing GCS file system")
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

type gcsWriter struct {
	*storage.Writer
	fs   *GCSFileSystem
	path string
}

func (w *gcsWriter) Close() error {
	if err := w.Writer.Close(); err != nil {
		return storageError(w.fs.metrics, BackendGCS, "upload", w.path, err)
	}
	return nil
}

// contentType picks the object content type from the segment extension.
func contentType(p string) string {
	switch {
	case strings.HasSuffix(p, ".csv"):
		return "text/csv"
	case strings.HasSuffix(p, ".avro"):
		return "application/avro"
	default:
		return "application/octet-stream"
	}
}
