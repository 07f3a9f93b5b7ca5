package buffer

import (
	"github.com/jittakal/kafcsvconnect/pkg/buffer"
	"github.com/jittakal/kafcsvconnect/pkg/record"
)

// Ensure implementation satisfies interface at compile time.
var _ buffer.Buffer = (*PartitionBuffer)(nil)

// PartitionBuffer queues sink records of a single Kafka partition until the
// owning writer drains them. It is unbounded: Add never fails and never blocks
// on I/O.
//
// PartitionBuffer is not safe for concurrent use. It is filled and drained by
// the goroutine that drives its partition writer.
type PartitionBuffer struct {
	partition record.TopicPartition
	records   []record.SinkRecord
}

// New creates a new partition buffer.
func New(partition record.TopicPartition) *PartitionBuffer {
	return &PartitionBuffer{
		partition: partition,
	}
}

// Partition returns the partition the buffer belongs to.
func (b *PartitionBuffer) Partition() record.TopicPartition {
	return b.partition
}

// Add appends a record to the buffer.
func (b *PartitionBuffer) Add(rec record.SinkRecord) {
	b.records = append(b.records, rec)
}

// Drain removes and returns all records from the buffer in arrival order.
// The returned slice is owned by the caller.
func (b *PartitionBuffer) Drain() []record.SinkRecord {
	records := b.records
	b.records = nil
	return records
}

// Len returns the number of pending records.
func (b *PartitionBuffer) Len() int {
	return len(b.records)
}

// IsEmpty returns true if the buffer is empty.
func (b *PartitionBuffer) IsEmpty() bool {
	return len(b.records) == 0
}

// Reset discards all pending records.
func (b *PartitionBuffer) Reset() {
	b.records = nil
}
