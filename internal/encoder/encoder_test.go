package encoder

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/linkedin/goavro/v2"
	"github.com/parquet-go/parquet-go"

	apperrors "github.com/jittakal/kafcsvconnect/internal/errors"
	"github.com/jittakal/kafcsvconnect/pkg/record"
)

// bufferCloser is an in-memory io.WriteCloser.
type bufferCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return nil
}

func testRecords() []record.SinkRecord {
	ts := time.Date(2025, 12, 19, 8, 0, 0, 0, time.UTC)
	return []record.SinkRecord{
		{
			Topic:     "orders",
			Partition: 3,
			Offset:    10,
			Timestamp: ts,
			Key:       []byte("k1"),
			Row: record.NewRow(
				record.Cell{Name: "id", Value: int32(1)},
				record.Cell{Name: "name", Value: "alpha, beta"},
				record.Cell{Name: "price", Value: 9.5},
			),
		},
		{
			Topic:     "orders",
			Partition: 3,
			Offset:    11,
			Row: record.NewRow(
				record.Cell{Name: "id", Value: int32(2)},
				record.Cell{Name: "name", Value: "gamma"},
				record.Cell{Name: "price", Value: true},
			),
		},
	}
}

func TestNewFactory(t *testing.T) {
	factory := NewFactory(record.FormatAvro, Options{Compression: "snappy"})

	if factory.format != record.FormatAvro {
		t.Errorf("format = %v, want %v", factory.format, record.FormatAvro)
	}
	if factory.options.Compression != "snappy" {
		t.Errorf("compression = %v, want snappy", factory.options.Compression)
	}
}

func TestFactory_CreateProvider(t *testing.T) {
	tests := []struct {
		name      string
		format    record.FileFormat
		options   Options
		wantExt   string
		wantError bool
	}{
		{"csv", record.FormatCSV, Options{}, "csv", false},
		{"empty format defaults to csv", "", Options{}, "csv", false},
		{"parquet", record.FormatParquet, Options{Compression: "zstd"}, "parquet", false},
		{"avro", record.FormatAvro, Options{Compression: "deflate"}, "avro", false},
		{"avro bad compression", record.FormatAvro, Options{Compression: "brotli"}, "", true},
		{"csv unknown encoding", record.FormatCSV, Options{Encoding: "no-such-charset"}, "", true},
		{"unknown format", record.FileFormat("orc"), Options{}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewFactory(tt.format, tt.options).CreateProvider()
			if (err != nil) != tt.wantError {
				t.Fatalf("CreateProvider() error = %v, wantError %v", err, tt.wantError)
			}
			if err == nil && provider.Extension() != tt.wantExt {
				t.Errorf("Extension() = %s, want %s", provider.Extension(), tt.wantExt)
			}
		})
	}
}

func TestSupportedFormatsAndCompressions(t *testing.T) {
	formats := SupportedFormats()
	if len(formats) != 3 {
		t.Fatalf("len(SupportedFormats()) = %d, want 3", len(formats))
	}
	for _, f := range formats {
		if len(SupportedCompressions(f)) == 0 {
			t.Errorf("no compressions for %s", f)
		}
	}
	if DefaultCompression(record.FormatParquet) != "snappy" {
		t.Error("parquet should default to snappy")
	}
	if DefaultCompression(record.FormatCSV) != "uncompressed" {
		t.Error("csv should default to uncompressed")
	}
}

func TestCSVProvider_Write(t *testing.T) {
	tests := []struct {
		name   string
		header bool
		want   string
	}{
		{
			name:   "without header",
			header: false,
			want:   "1,\"alpha, beta\",9.5\n2,gamma,true\n",
		},
		{
			name:   "with header",
			header: true,
			want:   "id,name,price\n1,\"alpha, beta\",9.5\n2,gamma,true\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewCSVProvider(CSVOptions{Header: tt.header})
			if err != nil {
				t.Fatalf("NewCSVProvider() error = %v", err)
			}

			out := &bufferCloser{}
			w, err := provider.NewRecordWriter(out)
			if err != nil {
				t.Fatalf("NewRecordWriter() error = %v", err)
			}
			for _, rec := range testRecords() {
				if err := w.Write(rec); err != nil {
					t.Fatalf("Write() error = %v", err)
				}
			}
			if err := w.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}

			if !out.closed {
				t.Error("output should be closed")
			}
			if got := out.String(); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCSVProvider_WritesBytesPerRecord(t *testing.T) {
	provider, _ := NewCSVProvider(CSVOptions{})
	out := &bufferCloser{}
	w, _ := provider.NewRecordWriter(out)

	if err := w.Write(testRecords()[0]); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if out.Len() == 0 {
		t.Error("record should reach the output before Close")
	}
}

func TestCSVProvider_Encoding(t *testing.T) {
	provider, err := NewCSVProvider(CSVOptions{Encoding: "ISO-8859-1"})
	if err != nil {
		t.Fatalf("NewCSVProvider() error = %v", err)
	}

	out := &bufferCloser{}
	w, _ := provider.NewRecordWriter(out)
	rec := record.SinkRecord{Row: record.NewRow(record.Cell{Name: "city", Value: "Zürich"})}
	if err := w.Write(rec); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	want := []byte{'Z', 0xFC, 'r', 'i', 'c', 'h', '\n'}
	if !bytes.Equal(out.Bytes(), want) {
		t.Errorf("output = %v, want %v", out.Bytes(), want)
	}
}

func TestLookupEncoding(t *testing.T) {
	for _, name := range []string{"", "UTF-8", "utf-8", "ISO-8859-1", "Shift_JIS", "windows-1252"} {
		if _, err := LookupEncoding(name); err != nil {
			t.Errorf("LookupEncoding(%q) error = %v", name, err)
		}
	}

	_, err := LookupEncoding("klingon")
	if !errors.Is(err, apperrors.ErrUnknownEncoding) {
		t.Errorf("LookupEncoding(klingon) error = %v, want ErrUnknownEncoding", err)
	}
}

func TestNewDecodingReader(t *testing.T) {
	r, err := NewDecodingReader(bytes.NewReader([]byte{'Z', 0xFC, 'r', 'i', 'c', 'h'}), "ISO-8859-1")
	if err != nil {
		t.Fatalf("NewDecodingReader() error = %v", err)
	}
	var sb strings.Builder
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			break
		}
	}
	if sb.String() != "Zürich" {
		t.Errorf("decoded = %q, want Zürich", sb.String())
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		value any
		want  string
	}{
		{nil, ""},
		{"text", "text"},
		{[]byte("hi"), "aGk="},
		{true, "true"},
		{int8(-3), "-3"},
		{int64(1 << 40), "1099511627776"},
		{float32(1.5), "1.5"},
		{0.1, "0.1"},
	}

	for _, tt := range tests {
		if got := formatValue(tt.value); got != tt.want {
			t.Errorf("formatValue(%v) = %q, want %q", tt.value, got, tt.want)
		}
	}
}

func TestAvroProvider_WriteAndRead(t *testing.T) {
	provider, err := NewAvroProvider("deflate")
	if err != nil {
		t.Fatalf("NewAvroProvider() error = %v", err)
	}
	if provider.Format() != record.FormatAvro {
		t.Errorf("Format() = %v, want avro", provider.Format())
	}

	out := &bufferCloser{}
	w, err := provider.NewRecordWriter(out)
	if err != nil {
		t.Fatalf("NewRecordWriter() error = %v", err)
	}
	for _, rec := range testRecords() {
		if err := w.Write(rec); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reader, err := goavro.NewOCFReader(bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatalf("NewOCFReader() error = %v", err)
	}

	var datums []map[string]any
	for reader.Scan() {
		datum, err := reader.Read()
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		datums = append(datums, datum.(map[string]any))
	}

	if len(datums) != 2 {
		t.Fatalf("read %d records, want 2", len(datums))
	}
	first := datums[0]
	if first["topic"] != "orders" || first["offset"] != int64(10) || first["partition"] != int32(3) {
		t.Errorf("unexpected envelope: %v", first)
	}
	if first["row"] != `{"id":1,"name":"alpha, beta","price":9.5}` {
		t.Errorf("row = %v", first["row"])
	}
	if datums[1]["key"] != nil || datums[1]["timestamp"] != nil {
		t.Errorf("expected null key and timestamp, got %v", datums[1])
	}
}

func TestParquetProvider_WriteAndRead(t *testing.T) {
	for _, compression := range []string{"snappy", "gzip", "zstd", "uncompressed"} {
		t.Run(compression, func(t *testing.T) {
			provider := NewParquetProvider(compression)

			out := &bufferCloser{}
			w, err := provider.NewRecordWriter(out)
			if err != nil {
				t.Fatalf("NewRecordWriter() error = %v", err)
			}
			for _, rec := range testRecords() {
				if err := w.Write(rec); err != nil {
					t.Fatalf("Write() error = %v", err)
				}
			}
			if err := w.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}

			data := out.Bytes()
			rows, err := parquet.Read[SegmentParquet](bytes.NewReader(data), int64(len(data)))
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if len(rows) != 2 {
				t.Fatalf("read %d rows, want 2", len(rows))
			}
			if rows[0].Offset != 10 || rows[0].Topic != "orders" || string(rows[0].Key) != "k1" {
				t.Errorf("unexpected first row: %+v", rows[0])
			}
			if rows[0].Timestamp == nil || !rows[0].Timestamp.Equal(testRecords()[0].Timestamp) {
				t.Errorf("Timestamp = %v", rows[0].Timestamp)
			}
			if rows[1].Timestamp != nil {
				t.Errorf("expected null timestamp, got %v", rows[1].Timestamp)
			}
			if rows[1].Row != `{"id":2,"name":"gamma","price":true}` {
				t.Errorf("Row = %s", rows[1].Row)
			}
		})
	}
}
