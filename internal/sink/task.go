package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	apperrors "github.com/jittakal/kafcsvconnect/internal/errors"
	"github.com/jittakal/kafcsvconnect/internal/observability"
	"github.com/jittakal/kafcsvconnect/pkg/connector"
	"github.com/jittakal/kafcsvconnect/pkg/encoder"
	"github.com/jittakal/kafcsvconnect/pkg/record"
	"github.com/jittakal/kafcsvconnect/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ connector.SinkTask = (*CSVSinkTask)(nil)

// CounterFactory creates the per-task counters a task owns between Start and Stop.
type CounterFactory interface {
	NewTaskCounters(kind, taskID string) *observability.TaskCounters
}

// TaskConfig configures a CSVSinkTask.
type TaskConfig struct {
	TaskID string
}

// partitionEntry serializes access to one writer. Different partitions are
// written concurrently by the goroutines that own them.
type partitionEntry struct {
	mu     sync.Mutex
	writer *PartitionWriter
}

// CSVSinkTask keeps one PartitionWriter per assigned partition.
type CSVSinkTask struct {
	config   TaskConfig
	fs       storage.FileSystem
	router   storage.Router
	policy   storage.RotationPolicy
	provider encoder.Provider
	factory  CounterFactory
	logger   *slog.Logger
	opts     []Option

	mu       sync.Mutex
	writers  map[record.TopicPartition]*partitionEntry
	revoked  map[record.TopicPartition]int64
	counters *observability.TaskCounters
	started  bool
}

// NewCSVSinkTask creates a sink task. opts are applied to every writer it creates.
func NewCSVSinkTask(
	config TaskConfig,
	fs storage.FileSystem,
	router storage.Router,
	policy storage.RotationPolicy,
	provider encoder.Provider,
	factory CounterFactory,
	logger *slog.Logger,
	opts ...Option,
) *CSVSinkTask {
	return &CSVSinkTask{
		config:   config,
		fs:       fs,
		router:   router,
		policy:   policy,
		provider: provider,
		factory:  factory,
		logger:   logger.With("task", config.TaskID),
		opts:     opts,
		writers:  make(map[record.TopicPartition]*partitionEntry),
		revoked:  make(map[record.TopicPartition]int64),
	}
}

// Start creates the task counters.
func (t *CSVSinkTask) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.factory != nil {
		t.counters = t.factory.NewTaskCounters(observability.KindSink, t.config.TaskID)
	}
	t.started = true

	t.logger.Info("sink task started", "format", t.provider.Format())
	return nil
}

// Open creates writers for newly assigned partitions. Partitions that already
// have a writer keep it.
func (t *CSVSinkTask) Open(ctx context.Context, partitions []record.TopicPartition) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		return apperrors.ErrTaskStopped
	}
	for _, tp := range partitions {
		t.entryLocked(tp)
	}
	return nil
}

// Put buffers records on their partition writers and writes them. An empty
// batch writes every open window again so that time-based rotation can run
// while a partition is idle.
func (t *CSVSinkTask) Put(ctx context.Context, records []record.SinkRecord) error {
	if len(records) == 0 {
		return t.tick(ctx)
	}

	// Group by partition, keeping arrival order within each.
	var order []record.TopicPartition
	batches := make(map[record.TopicPartition][]record.SinkRecord)
	for _, rec := range records {
		tp := rec.TopicPartition()
		if _, ok := batches[tp]; !ok {
			order = append(order, tp)
		}
		batches[tp] = append(batches[tp], rec)
	}

	for _, tp := range order {
		entry, err := t.entry(tp)
		if err != nil {
			return err
		}

		entry.mu.Lock()
		for _, rec := range batches[tp] {
			entry.writer.Buffer(rec)
		}
		err = entry.writer.Write(ctx)
		entry.mu.Unlock()

		if err != nil {
			return fmt.Errorf("failed to write %s: %w", tp, err)
		}
	}
	return nil
}

// PreCommit returns the committed offset of every partition that has one.
// Offsets of partitions closed since the last call are reported once.
func (t *CSVSinkTask) PreCommit(ctx context.Context) map[record.TopicPartition]int64 {
	offsets := make(map[record.TopicPartition]int64)

	t.mu.Lock()
	for tp, offset := range t.revoked {
		offsets[tp] = offset
	}
	clear(t.revoked)
	t.mu.Unlock()

	for tp, entry := range t.snapshot() {
		entry.mu.Lock()
		offset, ok := entry.writer.CommittedOffset()
		entry.mu.Unlock()
		if ok {
			offsets[tp] = offset
		}
	}
	return offsets
}

// Close flushes and removes the writers of revoked partitions. Their final
// committed offsets stay available to the next PreCommit.
func (t *CSVSinkTask) Close(ctx context.Context, partitions []record.TopicPartition) error {
	var errs []error
	for _, tp := range partitions {
		t.mu.Lock()
		entry, ok := t.writers[tp]
		delete(t.writers, tp)
		t.mu.Unlock()
		if !ok {
			continue
		}

		entry.mu.Lock()
		err := entry.writer.Close(ctx)
		offset, committed := entry.writer.CommittedOffset()
		entry.mu.Unlock()

		if committed {
			t.mu.Lock()
			t.revoked[tp] = offset
			t.mu.Unlock()
		}
		if err != nil {
			t.logger.Error("failed to close partition writer", "topic", tp.Topic, "partition", tp.Partition, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stop closes every remaining writer and releases the task counters.
func (t *CSVSinkTask) Stop() error {
	t.mu.Lock()
	partitions := make([]record.TopicPartition, 0, len(t.writers))
	for tp := range t.writers {
		partitions = append(partitions, tp)
	}
	t.mu.Unlock()

	err := t.Close(context.Background(), partitions)

	t.mu.Lock()
	if t.counters != nil {
		t.counters.Release()
		t.counters = nil
	}
	t.started = false
	t.mu.Unlock()

	t.logger.Info("sink task stopped")
	return err
}

// Partitions returns the partitions that currently have a writer.
func (t *CSVSinkTask) Partitions() []record.TopicPartition {
	t.mu.Lock()
	defer t.mu.Unlock()

	partitions := make([]record.TopicPartition, 0, len(t.writers))
	for tp := range t.writers {
		partitions = append(partitions, tp)
	}
	return partitions
}

func (t *CSVSinkTask) tick(ctx context.Context) error {
	var errs []error
	for tp, entry := range t.snapshot() {
		entry.mu.Lock()
		err := entry.writer.Write(ctx)
		entry.mu.Unlock()
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to write %s: %w", tp, err))
		}
	}
	return errors.Join(errs...)
}

func (t *CSVSinkTask) snapshot() map[record.TopicPartition]*partitionEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := make(map[record.TopicPartition]*partitionEntry, len(t.writers))
	for tp, entry := range t.writers {
		entries[tp] = entry
	}
	return entries
}

// entry returns the writer entry of tp, creating it for records that arrive
// before Open.
func (t *CSVSinkTask) entry(tp record.TopicPartition) (*partitionEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		return nil, apperrors.ErrTaskStopped
	}
	return t.entryLocked(tp), nil
}

func (t *CSVSinkTask) entryLocked(tp record.TopicPartition) *partitionEntry {
	if entry, ok := t.writers[tp]; ok {
		return entry
	}

	opts := t.opts
	if t.counters != nil {
		opts = append([]Option{WithMetrics(t.counters)}, opts...)
	}
	entry := &partitionEntry{
		writer: NewPartitionWriter(tp, t.fs, t.router, t.policy, t.provider, t.logger, opts...),
	}
	t.writers[tp] = entry

	t.logger.Info("partition writer opened", "topic", tp.Topic, "partition", tp.Partition)
	return entry
}
