// Package storage defines interfaces for file storage operations.
//
// This package provides abstractions over the places CSV input files are read
// from and rotated segment files are written to (local filesystem, S3,
// Google Cloud Storage, Azure Blob).
package storage

import (
	"context"
	"io"
	"time"

	"github.com/jittakal/kafcsvconnect/pkg/record"
)

// FileSystem is a blocking byte-stream store addressed by slash-separated paths.
type FileSystem interface {
	// Open opens the file at path for reading.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Create creates (or truncates) the file at path for writing.
	// The content is durable once the returned writer is closed without error.
	Create(ctx context.Context, path string) (io.WriteCloser, error)

	// Exists reports whether a file exists at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Delete removes the file at path.
	Delete(ctx context.Context, path string) error

	// Move renames src to dst, creating parent folders as needed.
	// It fails with a duplicate-file error when dst already exists.
	Move(ctx context.Context, src, dst string) error

	// ListFileNames returns the base names of the files directly under dir.
	ListFileNames(ctx context.Context, dir string) ([]string, error)

	// Close releases resources held by the file system.
	Close() error
}

// Router determines where segment files of a topic partition are stored.
type Router interface {
	// Directory returns the folder holding committed segments of the partition.
	Directory(tp record.TopicPartition) string

	// Filename returns the committed segment name for a window starting at offset.
	Filename(tp record.TopicPartition, startOffset int64, extension string) string

	// TempPath returns a unique path for an open, uncommitted window.
	TempPath(tp record.TopicPartition, extension string) string
}

// RotationPolicy determines when an open rotation window must be closed.
type RotationPolicy interface {
	// ShouldRotate returns true if the window described by stats should rotate at now.
	ShouldRotate(stats record.FileStats, now time.Time) bool
}
