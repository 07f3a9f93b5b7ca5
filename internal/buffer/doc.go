// Package buffer implements the pending-record queue of a partition writer.
//
// A PartitionBuffer holds sink records delivered by the host runtime until
// the partition writer flushes them into its open rotation window:
//
//	buf := buffer.New(record.TopicPartition{Topic: "orders", Partition: 0})
//
//	for _, rec := range delivered {
//	    buf.Add(rec) // O(1), never touches storage
//	}
//
//	for _, rec := range buf.Drain() {
//	    // append to the open window
//	}
//
// # Ordering
//
// Drain returns records in the order they were added and leaves the buffer
// empty. Records added after a Drain are returned by the next one.
//
// # Thread Safety
//
// A buffer has no internal locking. The sink task serializes every call on a
// partition, so the writer that owns the buffer is the only one touching it.
package buffer
