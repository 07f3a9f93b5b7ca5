package encoder

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/linkedin/goavro/v2"

	"github.com/jittakal/kafcsvconnect/pkg/encoder"
	"github.com/jittakal/kafcsvconnect/pkg/record"
)

// Ensure implementation satisfies interface at compile time.
var (
	_ encoder.Provider     = (*AvroProvider)(nil)
	_ encoder.RecordWriter = (*avroRecordWriter)(nil)
)

// AvroProvider writes records as Avro Object Container Files. Rows are
// carried as JSON objects inside a fixed envelope schema, so files stay
// readable without knowing the column schema upfront.
type AvroProvider struct {
	codec       *goavro.Codec
	compression string
}

// NewAvroProvider creates a new Avro provider with the given OCF block compression.
func NewAvroProvider(compression string) (*AvroProvider, error) {
	codec, err := goavro.NewCodec(avroSchema())
	if err != nil {
		return nil, fmt.Errorf("failed to create avro codec: %w", err)
	}

	name, err := avroCompression(compression)
	if err != nil {
		return nil, err
	}

	return &AvroProvider{
		codec:       codec,
		compression: name,
	}, nil
}

// avroSchema returns the Avro envelope schema for segment records.
func avroSchema() string {
	return `{
		"type": "record",
		"name": "SegmentRecord",
		"namespace": "com.kafcsvconnect.segment",
		"fields": [
			{"name": "topic", "type": "string"},
			{"name": "partition", "type": "int"},
			{"name": "offset", "type": "long"},
			{"name": "timestamp", "type": ["null", {"type": "long", "logicalType": "timestamp-millis"}], "default": null},
			{"name": "key", "type": ["null", "bytes"], "default": null},
			{"name": "row", "type": "string"}
		]
	}`
}

// avroCompression maps a compression name to an OCF codec label.
func avroCompression(compression string) (string, error) {
	switch strings.ToLower(compression) {
	case "", "none", "null", "uncompressed":
		return goavro.CompressionNullLabel, nil
	case "deflate":
		return goavro.CompressionDeflateLabel, nil
	case "snappy":
		return goavro.CompressionSnappyLabel, nil
	default:
		return "", fmt.Errorf("unsupported avro compression: %s", compression)
	}
}

// NewRecordWriter creates a record writer over out. The OCF header is
// written immediately.
func (p *AvroProvider) NewRecordWriter(out io.WriteCloser) (encoder.RecordWriter, error) {
	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               out,
		Codec:           p.codec,
		CompressionName: p.compression,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create OCF writer: %w", err)
	}
	return &avroRecordWriter{out: out, ocf: ocf}, nil
}

// Format returns the file format.
func (p *AvroProvider) Format() record.FileFormat {
	return record.FormatAvro
}

// Extension returns the file extension.
func (p *AvroProvider) Extension() string {
	return "avro"
}

type avroRecordWriter struct {
	out io.WriteCloser
	ocf *goavro.OCFWriter
}

func (w *avroRecordWriter) Write(rec record.SinkRecord) error {
	datum, err := convertToAvroMap(rec)
	if err != nil {
		return err
	}
	if err := w.ocf.Append([]any{datum}); err != nil {
		return fmt.Errorf("failed to write record at offset %d: %w", rec.Offset, err)
	}
	return nil
}

// Close closes the underlying output. Every Append already wrote a full block.
func (w *avroRecordWriter) Close() error {
	return w.out.Close()
}

// convertToAvroMap converts a sink record to its Avro map representation.
func convertToAvroMap(rec record.SinkRecord) (map[string]any, error) {
	row, err := json.Marshal(rec.Row)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal row: %w", err)
	}

	datum := map[string]any{
		"topic":     rec.Topic,
		"partition": rec.Partition,
		"offset":    rec.Offset,
		"row":       string(row),
		"timestamp": nil,
		"key":       nil,
	}

	if !rec.Timestamp.IsZero() {
		datum["timestamp"] = goavro.Union("long.timestamp-millis", rec.Timestamp)
	}
	if rec.Key != nil {
		datum["key"] = goavro.Union("bytes", rec.Key)
	}

	return datum, nil
}
