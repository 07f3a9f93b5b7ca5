// Package buffer defines interfaces for record buffering operations.
//
// Buffers hold records delivered by the host runtime until the owning
// partition writer flushes them into its open rotation window.
package buffer

import (
	"github.com/jittakal/kafcsvconnect/pkg/record"
)

// Buffer is an ordered queue of pending sink records.
type Buffer interface {
	// Add appends a record. It never blocks and never touches storage.
	Add(rec record.SinkRecord)

	// Drain removes and returns all records in arrival order.
	Drain() []record.SinkRecord

	// Len returns the number of pending records.
	Len() int

	// IsEmpty returns true if the buffer contains no records.
	IsEmpty() bool

	// Reset discards all pending records.
	Reset()
}
