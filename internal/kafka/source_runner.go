package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/jittakal/kafcsvconnect/internal/errors"
	"github.com/jittakal/kafcsvconnect/pkg/connector"
	"github.com/jittakal/kafcsvconnect/pkg/record"
)

// RecordSender delivers source records to Kafka.
type RecordSender interface {
	Send(ctx context.Context, records []record.SourceRecord) error
}

// SourceRunnerConfig configures a SourceRunner.
type SourceRunnerConfig struct {
	// PollInterval is the pause after a poll that returned no records.
	PollInterval time.Duration
	// MaxBackoff caps the pause between failed deliveries of the same batch.
	MaxBackoff time.Duration
}

// SourceRunner drives a source task: it polls, sends every record to Kafka
// and then stores the source offsets of what was delivered.
type SourceRunner struct {
	task    connector.SourceTask
	sender  RecordSender
	offsets connector.OffsetWriter
	config  SourceRunnerConfig
	logger  *slog.Logger
}

// NewSourceRunner creates a runner for task.
func NewSourceRunner(
	task connector.SourceTask,
	sender RecordSender,
	offsets connector.OffsetWriter,
	config SourceRunnerConfig,
	logger *slog.Logger,
) *SourceRunner {
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	return &SourceRunner{
		task:    task,
		sender:  sender,
		offsets: offsets,
		config:  config,
		logger:  logger,
	}
}

// Run polls until ctx is cancelled. The task is stopped before Run returns.
func (r *SourceRunner) Run(ctx context.Context) error {
	if err := r.task.Start(ctx); err != nil {
		return fmt.Errorf("failed to start source task: %w", err)
	}
	defer func() {
		if err := r.task.Stop(); err != nil {
			r.logger.Error("failed to stop source task", "error", err)
		}
	}()

	r.logger.Info("source runner started", "poll_interval", r.config.PollInterval)
	for {
		records, err := r.task.Poll(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.Error("source poll failed", "error", err)
		}

		if len(records) > 0 {
			if err := r.deliver(ctx, records); err != nil {
				return err
			}
			if ctx.Err() == nil {
				continue
			}
		}

		select {
		case <-ctx.Done():
			r.logger.Info("source runner stopped")
			return nil
		case <-time.After(r.config.PollInterval):
		}
	}
}

// deliver sends records, retrying the whole batch until it is acknowledged
// or ctx ends, and then commits their source offsets.
func (r *SourceRunner) deliver(ctx context.Context, records []record.SourceRecord) error {
	backoff := 100 * time.Millisecond
	for attempt := 1; ; attempt++ {
		// Delivery is not cut short by shutdown once the records were read.
		err := r.sender.Send(context.WithoutCancel(ctx), records)
		if err == nil {
			break
		}
		if errors.Is(err, apperrors.ErrProducerClosed) {
			return fmt.Errorf("cannot deliver %d records: %w", len(records), err)
		}

		r.logger.Error("failed to deliver records",
			"records", len(records),
			"attempt", attempt,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("gave up delivering %d records: %w", len(records), err)
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, r.config.MaxBackoff)
	}

	r.commitOffsets(ctx, records)
	return nil
}

// commitOffsets stores the last offset of every source partition in records.
func (r *SourceRunner) commitOffsets(ctx context.Context, records []record.SourceRecord) {
	type position struct {
		partition map[string]string
		offset    map[string]any
	}

	var order []string
	latest := make(map[string]position)
	for _, rec := range records {
		partition := rec.SourcePartition()
		if len(partition) == 0 {
			continue
		}
		// fmt prints maps with sorted keys.
		key := fmt.Sprint(partition)
		if _, ok := latest[key]; !ok {
			order = append(order, key)
		}
		latest[key] = position{partition: partition, offset: rec.SourceOffset()}
	}

	for _, key := range order {
		pos := latest[key]
		if err := r.offsets.Commit(context.WithoutCancel(ctx), pos.partition, pos.offset); err != nil {
			r.logger.Warn("failed to commit source offset",
				"partition", pos.partition,
				"offset", pos.offset,
				"error", err,
			)
		}
	}
}
