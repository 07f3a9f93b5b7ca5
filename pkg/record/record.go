// Package record defines the row-oriented data carriers exchanged between
// flat files and Kafka topics.
package record

import (
	"errors"
	"fmt"
	"maps"
	"time"
)

// Errors returned when building a SourceRecord.
var (
	ErrMissingTopic = errors.New("source record requires a topic")
	ErrMissingRow   = errors.New("source record requires a row")
)

// TopicPartition uniquely identifies a Kafka partition.
type TopicPartition struct {
	Topic     string
	Partition int32
}

// String returns a string representation in the format "topic-partition".
func (tp TopicPartition) String() string {
	return fmt.Sprintf("%s-%d", tp.Topic, tp.Partition)
}

// TimestampType describes where a Kafka record timestamp came from.
type TimestampType string

const (
	TimestampNone          TimestampType = "NO_TIMESTAMP_TYPE"
	TimestampCreateTime    TimestampType = "CREATE_TIME"
	TimestampLogAppendTime TimestampType = "LOG_APPEND_TIME"
)

// SourceRecord is a row read from a file, ready to be produced to a topic.
// It is immutable once built; use NewSourceRecord or a SourceRecordBuilder.
type SourceRecord struct {
	topic           string
	row             Row
	partition       *int32
	timestamp       *time.Time
	sourcePartition map[string]string
	sourceOffset    map[string]any
}

// Topic returns the destination topic.
func (r SourceRecord) Topic() string { return r.topic }

// Row returns the payload.
func (r SourceRecord) Row() Row { return r.row }

// Partition returns the destination partition, if one was set.
func (r SourceRecord) Partition() (int32, bool) {
	if r.partition == nil {
		return 0, false
	}
	return *r.partition, true
}

// Timestamp returns the record timestamp, if one was set.
func (r SourceRecord) Timestamp() (time.Time, bool) {
	if r.timestamp == nil {
		return time.Time{}, false
	}
	return *r.timestamp, true
}

// SourcePartition returns a copy of the resumption partition coordinates.
func (r SourceRecord) SourcePartition() map[string]string {
	return maps.Clone(r.sourcePartition)
}

// SourceOffset returns a copy of the resumption offset coordinates.
func (r SourceRecord) SourceOffset() map[string]any {
	return maps.Clone(r.sourceOffset)
}

// SourceRecordBuilder assembles a SourceRecord.
type SourceRecordBuilder struct {
	rec SourceRecord
}

// NewSourceRecord starts a builder for a record destined to topic.
func NewSourceRecord(topic string, row Row) *SourceRecordBuilder {
	return &SourceRecordBuilder{rec: SourceRecord{topic: topic, row: row}}
}

// Partition pins the record to a topic partition.
func (b *SourceRecordBuilder) Partition(p int32) *SourceRecordBuilder {
	b.rec.partition = &p
	return b
}

// Timestamp sets the record timestamp.
func (b *SourceRecordBuilder) Timestamp(ts time.Time) *SourceRecordBuilder {
	b.rec.timestamp = &ts
	return b
}

// SourcePartition sets the resumption partition coordinates.
func (b *SourceRecordBuilder) SourcePartition(p map[string]string) *SourceRecordBuilder {
	b.rec.sourcePartition = maps.Clone(p)
	return b
}

// SourceOffset sets the resumption offset coordinates.
func (b *SourceRecordBuilder) SourceOffset(o map[string]any) *SourceRecordBuilder {
	b.rec.sourceOffset = maps.Clone(o)
	return b
}

// Build validates and returns the record.
func (b *SourceRecordBuilder) Build() (SourceRecord, error) {
	if b.rec.topic == "" {
		return SourceRecord{}, ErrMissingTopic
	}
	if b.rec.row == nil {
		return SourceRecord{}, ErrMissingRow
	}
	rec := b.rec
	if rec.sourcePartition == nil {
		rec.sourcePartition = map[string]string{}
	}
	if rec.sourceOffset == nil {
		rec.sourceOffset = map[string]any{}
	}
	return rec, nil
}

// SinkRecord is a snapshot of a message consumed from Kafka.
type SinkRecord struct {
	Topic         string
	Key           []byte
	Row           Row
	Partition     int32
	Offset        int64
	Timestamp     time.Time
	TimestampType TimestampType
}

// TopicPartition returns the partition the record was consumed from.
func (r SinkRecord) TopicPartition() TopicPartition {
	return TopicPartition{Topic: r.Topic, Partition: r.Partition}
}

// FileStats contains statistics about an open rotation window.
type FileStats struct {
	RecordCount    int
	SizeBytes      int64
	FirstWriteTime time.Time
	LastWriteTime  time.Time
}

// FileFormat represents the segment file format.
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatAvro    FileFormat = "avro"
	FormatParquet FileFormat = "parquet"
)
