package source

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"

	apperrors "github.com/jittakal/kafcsvconnect/internal/errors"
	"github.com/jittakal/kafcsvconnect/internal/observability"
	"github.com/jittakal/kafcsvconnect/pkg/connector"
	"github.com/jittakal/kafcsvconnect/pkg/record"
	"github.com/jittakal/kafcsvconnect/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ connector.SourceTask = (*CSVSourceTask)(nil)

// CounterFactory creates the per-task counters a task owns between Start and Stop.
type CounterFactory interface {
	NewTaskCounters(kind, taskID string) *observability.TaskCounters
}

// TaskConfig configures a CSVSourceTask.
type TaskConfig struct {
	TaskID      string
	InputFolder string
	// MaxFilesPerPoll caps the files read by one Poll. Zero means no cap.
	MaxFilesPerPoll int
	Reader          ReaderConfig
}

// CSVSourceTask polls an input folder and reads the files it finds, oldest
// name first.
type CSVSourceTask struct {
	config   TaskConfig
	fs       storage.FileSystem
	offsets  connector.OffsetReader
	factory  CounterFactory
	logger   *slog.Logger
	reader   *Reader
	counters *observability.TaskCounters
}

// NewCSVSourceTask creates a source task. Nothing is allocated before Start.
func NewCSVSourceTask(
	config TaskConfig,
	fs storage.FileSystem,
	offsets connector.OffsetReader,
	factory CounterFactory,
	logger *slog.Logger,
) *CSVSourceTask {
	return &CSVSourceTask{
		config:  config,
		fs:      fs,
		offsets: offsets,
		factory: factory,
		logger:  logger.With("task", config.TaskID),
	}
}

// Start creates the task counters and a reader with an empty offset cache.
func (t *CSVSourceTask) Start(ctx context.Context) error {
	if t.config.InputFolder == "" {
		return fmt.Errorf("input folder is required")
	}
	if t.config.Reader.ErrorFolder == "" {
		return fmt.Errorf("error folder is required")
	}

	var metrics MetricsCollector
	if t.factory != nil {
		t.counters = t.factory.NewTaskCounters(observability.KindSource, t.config.TaskID)
		metrics = t.counters
	}
	t.reader = NewReader(t.fs, t.offsets, NewCSVConverter(), t.config.Reader, t.logger, metrics)

	t.logger.Info("source task started",
		"input_folder", t.config.InputFolder,
		"completed_folder", t.config.Reader.CompletedFolder,
		"error_folder", t.config.Reader.ErrorFolder,
		"topics", t.config.Reader.Topics,
	)
	return nil
}

// Poll reads up to MaxFilesPerPoll input files and returns their records.
func (t *CSVSourceTask) Poll(ctx context.Context) ([]record.SourceRecord, error) {
	if t.reader == nil {
		return nil, apperrors.ErrTaskStopped
	}

	names, err := t.fs.ListFileNames(ctx, t.config.InputFolder)
	if err != nil {
		return nil, fmt.Errorf("failed to list input folder: %w", err)
	}

	names = slices.DeleteFunc(names, func(name string) bool {
		return strings.HasPrefix(name, ".")
	})
	slices.Sort(names)
	if t.config.MaxFilesPerPoll > 0 && len(names) > t.config.MaxFilesPerPoll {
		names = names[:t.config.MaxFilesPerPoll]
	}

	var records []record.SourceRecord
	for _, name := range names {
		// Files already read are gone from the input folder, so their
		// records are returned even when the poll is cut short.
		if ctx.Err() != nil {
			break
		}
		records = append(records, t.reader.Read(ctx, path.Join(t.config.InputFolder, name))...)
	}
	return records, nil
}

// Stop releases the task counters.
func (t *CSVSourceTask) Stop() error {
	if t.counters != nil {
		t.counters.Release()
		t.counters = nil
	}
	t.reader = nil
	t.logger.Info("source task stopped")
	return nil
}
