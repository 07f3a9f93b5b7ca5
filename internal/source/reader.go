// Package source implements the CSV source side: reading input files into
// source records with resumable progress and moving finished files away.
package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/jittakal/kafcsvconnect/internal/encoder"
	"github.com/jittakal/kafcsvconnect/pkg/connector"
	"github.com/jittakal/kafcsvconnect/pkg/record"
	"github.com/jittakal/kafcsvconnect/pkg/storage"
)

// maxLineBytes bounds a single input line.
const maxLineBytes = 16 * 1024 * 1024

// File processing statuses reported to the metrics collector.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// MetricsCollector defines metrics operations for the source side.
type MetricsCollector interface {
	IncFilesProcessed(status string)
	AddRecordsRead(count int)
	AddBytesRead(n int64)
	ObserveFileReadDuration(duration float64)
}

// ReaderConfig configures a Reader.
type ReaderConfig struct {
	Topics []string
	Schema []record.Column
	// Encoding is the character encoding of input files. Empty means UTF-8.
	Encoding string
	// CompletedFolder receives fully read files. Empty means delete them.
	CompletedFolder string
	// ErrorFolder receives files that could not be read.
	ErrorFolder string
}

// Reader reads whole CSV files into source records. A file that fails at any
// step yields no records and is moved to the error folder; a file that
// succeeds is moved to the completed folder or deleted.
//
// Reader is driven by one goroutine and is not safe for concurrent use.
type Reader struct {
	fs        storage.FileSystem
	cache     *OffsetCache
	converter connector.RecordConverter
	mover     *Mover
	config    ReaderConfig
	logger    *slog.Logger
	metrics   MetricsCollector
}

// NewReader creates a reader with a fresh offset cache.
func NewReader(
	fs storage.FileSystem,
	offsets connector.OffsetReader,
	converter connector.RecordConverter,
	config ReaderConfig,
	logger *slog.Logger,
	metrics MetricsCollector,
) *Reader {
	return &Reader{
		fs:        fs,
		cache:     NewOffsetCache(offsets),
		converter: converter,
		mover:     NewMover(fs, logger),
		config:    config,
		logger:    logger,
		metrics:   metrics,
	}
}

// Read converts the unconsumed lines of the file at p. It never returns an
// error: failures are logged, the file is moved to the error folder and an
// empty slice is returned.
func (r *Reader) Read(ctx context.Context, p string) []record.SourceRecord {
	start := time.Now()

	counter := &countingReader{}
	records, err := r.read(ctx, p, counter)
	if err == nil {
		err = r.finish(ctx, p)
	}
	if err != nil {
		r.logger.Error("failed to handle file",
			"path", p,
			"error", err,
		)
		r.mover.MoveBestEffort(ctx, p, r.config.ErrorFolder)
		r.observe(StatusFailed, 0, counter.n, start)
		return []record.SourceRecord{}
	}

	r.logger.Info("file handled",
		"path", p,
		"records", len(records),
		"bytes", counter.n,
		"skipped_lines", r.cache.Get(p),
	)
	r.observe(StatusCompleted, len(records), counter.n, start)
	return records
}

func (r *Reader) read(ctx context.Context, p string, counter *countingReader) ([]record.SourceRecord, error) {
	if err := r.cache.LoadIfNeeded(ctx, p); err != nil {
		return nil, err
	}

	f, err := r.fs.Open(ctx, p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	counter.r = f

	decoded, err := encoder.NewDecodingReader(counter, r.config.Encoding)
	if err != nil {
		return nil, err
	}

	return r.converter.Convert(connector.ConvertRequest{
		Path:   p,
		Lines:  lines(decoded),
		Schema: r.config.Schema,
		Topics: r.config.Topics,
		Skip:   r.cache.Get(p),
	})
}

// finish moves a fully read file to the completed folder, or deletes it.
func (r *Reader) finish(ctx context.Context, p string) error {
	if r.config.CompletedFolder == "" {
		if err := r.fs.Delete(ctx, p); err != nil {
			return fmt.Errorf("failed to delete %s: %w", p, err)
		}
		return nil
	}

	result := r.mover.Move(ctx, p, r.config.CompletedFolder)
	if result.Outcome != MoveOK {
		return fmt.Errorf("failed to move %s to %s: %w", p, r.config.CompletedFolder, result.Err)
	}
	return nil
}

func (r *Reader) observe(status string, count int, bytes int64, start time.Time) {
	if r.metrics == nil {
		return
	}
	r.metrics.IncFilesProcessed(status)
	r.metrics.AddRecordsRead(count)
	r.metrics.AddBytesRead(bytes)
	r.metrics.ObserveFileReadDuration(time.Since(start).Seconds())
}

// lines yields the lines of rd without line terminators. A UTF-8 byte order
// mark at the start is dropped.
func lines(rd io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		sc := bufio.NewScanner(rd)
		sc.Buffer(make([]byte, 64*1024), maxLineBytes)

		first := true
		for sc.Scan() {
			line := sc.Text()
			if first {
				line = strings.TrimPrefix(line, "\ufeff")
				first = false
			}
			if !yield(strings.TrimSuffix(line, "\r"), nil) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield("", err)
		}
	}
}

// countingReader counts the raw bytes read from an input file.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
