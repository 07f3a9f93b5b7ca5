package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/jittakal/kafcsvconnect/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.FileSystem = (*S3FileSystem)(nil)

// S3Config contains AWS S3 configuration.
type S3Config struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	UsePathStyle bool
	SSEEnabled   bool
	SSEKMSKeyID  string
}

// s3API is the subset of the S3 client used by S3FileSystem.
type s3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

// s3Uploader streams object bodies to S3.
type s3Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3FileSystem implements storage.FileSystem on an S3 bucket.
// Paths map to object keys below the configured prefix.
type S3FileSystem struct {
	client      s3API
	uploader    s3Uploader
	bucket      string
	prefix      string
	sseEnabled  bool
	sseKMSKeyID string
	logger      *slog.Logger
	metrics     MetricsCollector
}

// NewS3FileSystem creates a new S3 file system.
func NewS3FileSystem(ctx context.Context, cfg S3Config, logger *slog.Logger, metrics MetricsCollector) (*S3FileSystem, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024 // 10MB parts
		u.Concurrency = 5
	})

	logger.Info("S3 file system created",
		"bucket", cfg.Bucket,
		"prefix", cfg.Prefix,
		"region", cfg.Region,
		"sse_enabled", cfg.SSEEnabled,
	)

	return newS3FileSystem(client, uploader, cfg, logger, metrics), nil
}

func newS3FileSystem(client s3API, uploader s3Uploader, cfg S3Config, logger *slog.Logger, metrics MetricsCollector) *S3FileSystem {
	return &S3FileSystem{
		client:      client,
		uploader:    uploader,
		bucket:      cfg.Bucket,
		prefix:      cfg.Prefix,
		sseEnabled:  cfg.SSEEnabled,
		sseKMSKeyID: cfg.SSEKMSKeyID,
		logger:      logger,
		metrics:     metrics,
	}
}

// Open opens the object at p for reading.
func (s *S3FileSystem) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(s.prefix, p)),
	})
	if err != nil {
		return nil, storageError(s.metrics, BackendS3, "open", p, err)
	}
	return out.Body, nil
}

// Create returns a writer that streams into a multipart upload.
// The object becomes visible once the writer is closed without error.
func (s *S3FileSystem) Create(ctx context.Context, p string) (io.WriteCloser, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(s.prefix, p)),
	}
	if s.sseEnabled {
		if s.sseKMSKeyID != "" {
			input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
			input.SSEKMSKeyId = aws.String(s.sseKMSKeyID)
		} else {
			input.ServerSideEncryption = types.ServerSideEncryptionAes256
		}
	}

	pr, pw := io.Pipe()
	input.Body = pr

	w := &pipeUpload{pw: pw, done: make(chan error, 1)}
	go func() {
		start := time.Now()
		_, err := s.uploader.Upload(ctx, input)
		if err != nil {
			pr.CloseWithError(err)
			w.done <- storageError(s.metrics, BackendS3, "upload", p, err)
			return
		}
		if s.metrics != nil {
			s.metrics.ObserveStorageOperationDuration(BackendS3, "upload", time.Since(start).Seconds())
		}
		w.done <- nil
	}()
	return w, nil
}

// Exists reports whether an object exists at p.
func (s *S3FileSystem) Exists(ctx context.Context, p string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(s.prefix, p)),
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, storageError(s.metrics, BackendS3, "stat", p, err)
}

// Delete removes the object at p.
func (s *S3FileSystem) Delete(ctx context.Context, p string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(s.prefix, p)),
	})
	if err != nil {
		return storageError(s.metrics, BackendS3, "delete", p, err)
	}
	return nil
}

// Move copies src to dst and deletes src. It never replaces an existing dst.
func (s *S3FileSystem) Move(ctx context.Context, src, dst string) error {
	start := time.Now()

	exists, err := s.Exists(ctx, dst)
	if err != nil {
		return err
	}
	if exists {
		return duplicateError(s.metrics, BackendS3, dst)
	}

	_, err = s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(objectKey(s.prefix, dst)),
		CopySource: aws.String(path.Join(s.bucket, objectKey(s.prefix, src))),
	})
	if err != nil {
		return storageError(s.metrics, BackendS3, "move", src, err)
	}
	if err := s.Delete(ctx, src); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.ObserveStorageOperationDuration(BackendS3, "move", time.Since(start).Seconds())
	}
	return nil
}

// ListFileNames returns the names of objects directly under dir.
func (s *S3FileSystem) ListFileNames(ctx context.Context, dir string) ([]string, error) {
	prefix := dirPrefix(s.prefix, dir)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var names []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, storageError(s.metrics, BackendS3, "list", dir, err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name != "" && !strings.Contains(name, "/") {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

// Close closes the S3 file system.
func (s *S3FileSystem) Close() error {
	s.logger.Info("closing S3 file system")
	return nil
}

// pipeUpload is the writer side of a streaming upload running in the background.
type pipeUpload struct {
	pw     *io.PipeWriter
	done   chan error
	closed bool
	err    error
}

func (w *pipeUpload) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

// Close finishes the body and waits for the upload to complete.
func (w *pipeUpload) Close() error {
	if w.closed {
		return w.err
	}
	w.closed = true
	w.pw.Close()
	w.err = <-w.done
	return w.err
}
