package encoder

import (
	"encoding/base64"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/text/encoding"

	"github.com/jittakal/kafcsvconnect/pkg/encoder"
	"github.com/jittakal/kafcsvconnect/pkg/record"
)

// Ensure implementation satisfies interface at compile time.
var (
	_ encoder.Provider     = (*CSVProvider)(nil)
	_ encoder.RecordWriter = (*csvRecordWriter)(nil)
)

// CSVOptions configures CSV segment output.
type CSVOptions struct {
	// Header writes the column names of the first record as the first line.
	Header bool
	// Encoding is the character encoding of the output. Empty means UTF-8.
	Encoding string
}

// CSVProvider writes rows as comma separated lines, one line per record.
type CSVProvider struct {
	header   bool
	encoding encoding.Encoding
}

// NewCSVProvider creates a CSV provider. It fails for unknown encodings.
func NewCSVProvider(opts CSVOptions) (*CSVProvider, error) {
	enc, err := LookupEncoding(opts.Encoding)
	if err != nil {
		return nil, err
	}
	return &CSVProvider{
		header:   opts.Header,
		encoding: enc,
	}, nil
}

// NewRecordWriter creates a record writer over out.
func (p *CSVProvider) NewRecordWriter(out io.WriteCloser) (encoder.RecordWriter, error) {
	enc := encodingWriter(out, p.encoding)
	return &csvRecordWriter{
		out:    out,
		enc:    enc,
		csv:    csv.NewWriter(enc),
		header: p.header,
	}, nil
}

// Format returns the file format.
func (p *CSVProvider) Format() record.FileFormat {
	return record.FormatCSV
}

// Extension returns the file extension.
func (p *CSVProvider) Extension() string {
	return "csv"
}

type csvRecordWriter struct {
	out     io.WriteCloser
	enc     io.WriteCloser
	csv     *csv.Writer
	header  bool
	started bool
}

func (w *csvRecordWriter) Write(rec record.SinkRecord) error {
	if !w.started {
		w.started = true
		if w.header {
			if err := w.csv.Write(rec.Row.Names()); err != nil {
				return fmt.Errorf("failed to write header: %w", err)
			}
		}
	}

	fields := make([]string, len(rec.Row))
	for i, cell := range rec.Row {
		fields[i] = formatValue(cell.Value)
	}
	if err := w.csv.Write(fields); err != nil {
		return fmt.Errorf("failed to write record at offset %d: %w", rec.Offset, err)
	}

	// Flush per record so the byte count seen by the rotation policy is current.
	w.csv.Flush()
	return w.csv.Error()
}

func (w *csvRecordWriter) Close() error {
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		w.out.Close()
		return fmt.Errorf("failed to flush csv writer: %w", err)
	}
	if err := w.enc.Close(); err != nil {
		w.out.Close()
		return fmt.Errorf("failed to flush encoder: %w", err)
	}
	return w.out.Close()
}

// formatValue renders a cell value as CSV text.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return base64.StdEncoding.EncodeToString(val)
	case bool:
		return strconv.FormatBool(val)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}
