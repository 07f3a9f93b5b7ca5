// Package encoder defines interfaces for encoding sink records into segment files.
package encoder

import (
	"io"

	"github.com/jittakal/kafcsvconnect/pkg/record"
)

// RecordWriter appends records to one open segment file.
type RecordWriter interface {
	// Write appends a single record.
	Write(rec record.SinkRecord) error

	// Close flushes buffered data, writes any trailer and closes the
	// underlying writer.
	Close() error
}

// Provider creates record writers for one file format.
type Provider interface {
	// NewRecordWriter wraps out. The returned writer owns out and closes it.
	NewRecordWriter(out io.WriteCloser) (RecordWriter, error)

	// Format returns the file format this provider produces.
	Format() record.FileFormat

	// Extension returns the file extension without the leading dot (e.g. "csv").
	Extension() string
}
