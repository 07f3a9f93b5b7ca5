// Package connector defines the capability interfaces connector tasks expose
// to the host runtime, and the collaborators tasks consume from it.
//
// A task is driven by a single goroutine of the host runtime; implementations
// are not required to be safe for concurrent use unless stated otherwise.
package connector

import (
	"context"
	"iter"

	"github.com/jittakal/kafcsvconnect/pkg/record"
)

// SourceTask produces records from an external system.
type SourceTask interface {
	// Start prepares the task. Per-task resources such as counters are
	// created here.
	Start(ctx context.Context) error

	// Poll returns the next batch of records. An empty batch is not an error.
	Poll(ctx context.Context) ([]record.SourceRecord, error)

	// Stop releases everything Start acquired.
	Stop() error
}

// SinkTask writes records consumed from Kafka into an external system.
type SinkTask interface {
	// Start prepares the task.
	Start(ctx context.Context) error

	// Open is called when partitions are assigned to the task.
	Open(ctx context.Context, partitions []record.TopicPartition) error

	// Put delivers a batch of records.
	Put(ctx context.Context, records []record.SinkRecord) error

	// PreCommit returns, per partition, the offset that is safe to commit.
	// Partitions without a safe offset are absent.
	PreCommit(ctx context.Context) map[record.TopicPartition]int64

	// Close is called when partitions are revoked. Buffered data for those
	// partitions must be flushed before it returns.
	Close(ctx context.Context, partitions []record.TopicPartition) error

	// Stop releases everything Start acquired.
	Stop() error
}

// OffsetReader looks up source offsets persisted by the host runtime.
type OffsetReader interface {
	// Offset returns the last offset stored for sourcePartition.
	// found is false when nothing was stored yet.
	Offset(ctx context.Context, sourcePartition map[string]string) (offset map[string]any, found bool, err error)
}

// OffsetWriter persists source offsets on behalf of the host runtime.
type OffsetWriter interface {
	// Commit stores offset as the latest position of sourcePartition.
	Commit(ctx context.Context, sourcePartition map[string]string, offset map[string]any) error
}

// ConvertRequest is the input of a single conversion.
type ConvertRequest struct {
	// Path identifies the file the lines come from.
	Path string
	// Lines yields raw lines in file order, together with any read error.
	Lines iter.Seq2[string, error]
	// Schema selects and types the columns. Empty means all columns as strings.
	Schema []record.Column
	// Topics receive one record per converted line each.
	Topics []string
	// Skip is the last consumed line index; lines up to and including it are skipped.
	Skip int64
}

// RecordConverter turns raw lines into source records. It is stateless per call.
type RecordConverter interface {
	Convert(req ConvertRequest) ([]record.SourceRecord, error)
}

// DLQPublisher publishes undeliverable messages to a dead letter topic.
type DLQPublisher interface {
	// Publish sends the raw message with failure information.
	Publish(ctx context.Context, tp record.TopicPartition, offset int64, key, value []byte, reason string) error

	// Close closes the publisher and releases resources.
	Close() error
}
