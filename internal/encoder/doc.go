// Package encoder provides segment file formats for the sink side.
//
// A Provider turns an output stream into a RecordWriter that appends sink
// records one at a time. Partition writers create one RecordWriter per
// rotation window and close it when the window is committed.
//
// # Supported Formats
//
//   - CSV: one line per record, optional header, configurable character encoding
//   - Avro: Object Container File with a fixed envelope schema
//   - Parquet: columnar file with the same envelope as Avro
//
// Avro and Parquet carry the row as an ordered JSON object next to the
// Kafka coordinates (topic, partition, offset, timestamp, key).
//
// # Provider Factory
//
//	factory := encoder.NewFactory(record.FormatCSV, encoder.Options{
//	    CSVHeader: true,
//	    Encoding:  "UTF-8",
//	})
//	provider, err := factory.CreateProvider()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	w, err := provider.NewRecordWriter(out)
//	// w.Write(rec) ... w.Close()
//
// # Compression Options
//
//	Parquet: "snappy" (default), "gzip", "lz4", "zstd", "uncompressed"
//	Avro:    "deflate" (default), "snappy", "uncompressed"
//
// # Character Encodings
//
// LookupEncoding resolves WHATWG encoding labels through golang.org/x/text.
// The same lookup is used on the source side to decode input files.
//
// # Thread Safety
//
// Providers are safe for concurrent use. A RecordWriter belongs to a single
// partition writer and must not be shared.
package encoder
