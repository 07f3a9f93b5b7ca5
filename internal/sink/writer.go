// Package sink writes records consumed from Kafka into rotated segment files,
// one PartitionWriter per assigned topic partition.
package sink

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/jittakal/kafcsvconnect/internal/buffer"
	apperrors "github.com/jittakal/kafcsvconnect/internal/errors"
	"github.com/jittakal/kafcsvconnect/pkg/encoder"
	"github.com/jittakal/kafcsvconnect/pkg/record"
	"github.com/jittakal/kafcsvconnect/pkg/storage"
)

// MetricsCollector defines metrics operations for the sink side.
type MetricsCollector interface {
	AddRecordsWritten(count int)
	ObserveSegmentCommitted(format string, sizeBytes int64, duration float64)
}

// Option configures a PartitionWriter.
type Option func(*PartitionWriter)

// WithClock replaces the clock used for window timestamps and time rotation.
func WithClock(now func() time.Time) Option {
	return func(w *PartitionWriter) {
		w.now = now
	}
}

// WithMetrics sets the collector that receives write and commit metrics.
func WithMetrics(metrics MetricsCollector) Option {
	return func(w *PartitionWriter) {
		w.metrics = metrics
	}
}

// PartitionWriter owns the output stream of one topic partition. Buffered
// records are appended to the open rotation window by Write; a window that
// satisfies the rotation policy is closed and moved to its final,
// offset-named location.
//
// A window file is opened lazily on its first record at a temporary path, so
// a committed segment name always carries the offset of its first record.
//
// PartitionWriter is not safe for concurrent use; the owner serializes calls.
type PartitionWriter struct {
	partition record.TopicPartition
	fs        storage.FileSystem
	router    storage.Router
	policy    storage.RotationPolicy
	provider  encoder.Provider
	pending   *buffer.PartitionBuffer
	logger    *slog.Logger
	metrics   MetricsCollector
	now       func() time.Time

	out         encoder.RecordWriter
	counter     *countingWriter
	tempPath    string
	startOffset int64
	lastOffset  int64
	window      record.FileStats

	committed    int64
	hasCommitted bool
	total        int64
	closed       bool
	err          error
}

// NewPartitionWriter creates a writer for partition. Nothing touches storage
// before the first record is written.
func NewPartitionWriter(
	partition record.TopicPartition,
	fs storage.FileSystem,
	router storage.Router,
	policy storage.RotationPolicy,
	provider encoder.Provider,
	logger *slog.Logger,
	opts ...Option,
) *PartitionWriter {
	w := &PartitionWriter{
		partition: partition,
		fs:        fs,
		router:    router,
		policy:    policy,
		provider:  provider,
		pending:   buffer.New(partition),
		logger:    logger.With("topic", partition.Topic, "partition", partition.Partition),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Partition returns the partition the writer belongs to.
func (w *PartitionWriter) Partition() record.TopicPartition {
	return w.partition
}

// Buffer queues rec for the next Write.
func (w *PartitionWriter) Buffer(rec record.SinkRecord) {
	w.pending.Add(rec)
}

// Write drains the pending records into the open window, rotating whenever
// the policy says the window is complete. The policy is checked before every
// record, so a window whose time ran out between deliveries is closed before
// newer records reach it, and once more after the drain.
//
// A storage failure is returned and leaves the writer failed: the committed
// offset no longer advances and every later call reports the same error.
func (w *PartitionWriter) Write(ctx context.Context) error {
	if w.closed {
		return apperrors.ErrWriterClosed
	}
	if w.err != nil {
		return w.err
	}

	records := w.pending.Drain()
	for _, rec := range records {
		if err := w.rotateIfNeeded(ctx); err != nil {
			return w.fail(err)
		}
		if err := w.append(ctx, rec); err != nil {
			return w.fail(err)
		}
	}
	if w.metrics != nil {
		w.metrics.AddRecordsWritten(len(records))
	}

	return w.fail(w.rotateIfNeeded(ctx))
}

// RecordCount returns the number of records in the open window.
func (w *PartitionWriter) RecordCount() int {
	return w.window.RecordCount
}

// CommittedOffset returns the offset following the last record of the most
// recently committed window. ok is false until the first rotation.
func (w *PartitionWriter) CommittedOffset() (offset int64, ok bool) {
	return w.committed, w.hasCommitted
}

// TotalRecords returns the number of records written over the writer's life.
func (w *PartitionWriter) TotalRecords() int64 {
	return w.total
}

// Close writes the pending records and commits the open window regardless of
// the rotation thresholds. It is idempotent.
func (w *PartitionWriter) Close(ctx context.Context) error {
	if w.closed {
		return nil
	}
	w.closed = true

	if w.err == nil {
		records := w.pending.Drain()
		for _, rec := range records {
			if err := w.append(ctx, rec); err != nil {
				w.err = err
				break
			}
		}
		if w.metrics != nil {
			w.metrics.AddRecordsWritten(len(records))
		}
	}
	if w.err == nil {
		w.err = w.commit(ctx)
	}

	w.abandon()
	w.pending.Reset()

	if w.err != nil {
		return fmt.Errorf("failed to close writer for %s: %w", w.partition, w.err)
	}
	w.logger.Debug("partition writer closed", "total_records", w.total)
	return nil
}

func (w *PartitionWriter) fail(err error) error {
	if err != nil {
		w.err = err
	}
	return err
}

func (w *PartitionWriter) rotateIfNeeded(ctx context.Context) error {
	if w.out == nil || !w.policy.ShouldRotate(w.stats(), w.now()) {
		return nil
	}
	return w.commit(ctx)
}

func (w *PartitionWriter) stats() record.FileStats {
	stats := w.window
	if w.counter != nil {
		stats.SizeBytes = w.counter.n
	}
	return stats
}

func (w *PartitionWriter) append(ctx context.Context, rec record.SinkRecord) error {
	if w.out == nil {
		if err := w.open(ctx, rec.Offset); err != nil {
			return err
		}
	}

	if err := w.out.Write(rec); err != nil {
		return &apperrors.StorageError{Operation: "write", Path: w.tempPath, Err: err}
	}

	now := w.now()
	w.lastOffset = rec.Offset
	w.window.RecordCount++
	w.window.LastWriteTime = now
	w.total++
	return nil
}

// open starts a new window whose first record has offset startOffset.
func (w *PartitionWriter) open(ctx context.Context, startOffset int64) error {
	tempPath := w.router.TempPath(w.partition, w.provider.Extension())

	f, err := w.fs.Create(ctx, tempPath)
	if err != nil {
		return fmt.Errorf("failed to open window file: %w", err)
	}

	counter := &countingWriter{w: f}
	out, err := w.provider.NewRecordWriter(counter)
	if err != nil {
		_ = f.Close()
		_ = w.fs.Delete(ctx, tempPath)
		return fmt.Errorf("failed to create %s writer: %w", w.provider.Format(), err)
	}

	now := w.now()
	w.out = out
	w.counter = counter
	w.tempPath = tempPath
	w.startOffset = startOffset
	w.window = record.FileStats{FirstWriteTime: now, LastWriteTime: now}

	w.logger.Debug("opened window", "start_offset", startOffset, "temp_path", tempPath)
	return nil
}

// commit finalizes the open window: the record writer is closed and the file
// is moved to its offset-encoded name. An empty window is a no-op.
func (w *PartitionWriter) commit(ctx context.Context) error {
	if w.out == nil {
		return nil
	}
	start := w.now()

	out := w.out
	w.out = nil
	if err := out.Close(); err != nil {
		return &apperrors.CommitError{
			Partition:   w.partition,
			StartOffset: w.startOffset,
			Err:         &apperrors.StorageError{Operation: "write", Path: w.tempPath, Err: err},
		}
	}

	dst := path.Join(
		w.router.Directory(w.partition),
		w.router.Filename(w.partition, w.startOffset, w.provider.Extension()),
	)
	if err := w.fs.Move(ctx, w.tempPath, dst); err != nil {
		return &apperrors.CommitError{Partition: w.partition, StartOffset: w.startOffset, Err: err}
	}

	size := w.counter.n
	records := w.window.RecordCount
	w.committed = w.lastOffset + 1
	w.hasCommitted = true
	w.counter = nil
	w.tempPath = ""
	w.window = record.FileStats{}

	duration := w.now().Sub(start)
	if w.metrics != nil {
		w.metrics.ObserveSegmentCommitted(string(w.provider.Format()), size, duration.Seconds())
	}
	w.logger.Info("committed segment",
		"path", dst,
		"records", records,
		"bytes", size,
		"start_offset", w.startOffset,
		"committed_offset", w.committed,
	)
	return nil
}

// abandon releases a window that can no longer be committed. The temporary
// file is left behind; its records are redelivered from the committed offset.
func (w *PartitionWriter) abandon() {
	if w.out == nil {
		return
	}
	if err := w.out.Close(); err != nil {
		w.logger.Warn("failed to release window file", "temp_path", w.tempPath, "error", err)
	}
	w.out = nil
	w.counter = nil
}

// countingWriter counts the bytes written to the window file.
type countingWriter struct {
	w io.WriteCloser
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func (c *countingWriter) Close() error {
	return c.w.Close()
}
