package encoder

import (
	"fmt"

	"github.com/jittakal/kafcsvconnect/pkg/encoder"
	"github.com/jittakal/kafcsvconnect/pkg/record"
)

// Options configures the providers created by a Factory.
type Options struct {
	Compression string
	CSVHeader   bool
	Encoding    string
}

// Factory creates providers based on format and configuration.
type Factory struct {
	format  record.FileFormat
	options Options
}

// NewFactory creates a new provider factory.
func NewFactory(format record.FileFormat, options Options) *Factory {
	return &Factory{
		format:  format,
		options: options,
	}
}

// CreateProvider creates a provider for the configured format.
func (f *Factory) CreateProvider() (encoder.Provider, error) {
	switch f.format {
	case record.FormatCSV, "":
		return NewCSVProvider(CSVOptions{
			Header:   f.options.CSVHeader,
			Encoding: f.options.Encoding,
		})
	case record.FormatParquet:
		return NewParquetProvider(f.options.Compression), nil
	case record.FormatAvro:
		return NewAvroProvider(f.options.Compression)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", f.format)
	}
}

// SupportedFormats returns a list of supported file formats.
func SupportedFormats() []record.FileFormat {
	return []record.FileFormat{
		record.FormatCSV,
		record.FormatParquet,
		record.FormatAvro,
	}
}

// SupportedCompressions returns supported compression codecs for a given format.
func SupportedCompressions(format record.FileFormat) []string {
	switch format {
	case record.FormatCSV:
		return []string{"uncompressed"}
	case record.FormatParquet:
		return []string{"uncompressed", "snappy", "gzip", "lz4", "zstd"}
	case record.FormatAvro:
		return []string{"uncompressed", "deflate", "snappy"}
	default:
		return []string{}
	}
}

// DefaultCompression returns the default compression for a format.
func DefaultCompression(format record.FileFormat) string {
	switch format {
	case record.FormatParquet:
		return "snappy"
	case record.FormatAvro:
		return "deflate"
	default:
		return "uncompressed"
	}
}
