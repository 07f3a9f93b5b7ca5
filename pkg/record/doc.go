// Package record defines the row-oriented data carriers exchanged between
// flat files and Kafka topics.
//
// # Rows
//
// Row is an ordered list of named cells. It encodes to a JSON object that
// keeps the cell order, which is the value format used on Kafka topics:
//
//	row := record.NewRow(
//	    record.Cell{Name: "hostname", Value: "node-1"},
//	    record.Cell{Name: "port", Value: int32(22)},
//	)
//	payload, _ := json.Marshal(row) // {"hostname":"node-1","port":22}
//
// # Source Records
//
// SourceRecord is built from a file line and carries the resumption
// coordinates the host runtime persists:
//
//	rec, err := record.NewSourceRecord("sensors", row).
//	    SourcePartition(map[string]string{"path": "/input/a.csv"}).
//	    SourceOffset(map[string]any{"offset": 12}).
//	    Build()
//
// Build fails with ErrMissingTopic or ErrMissingRow when either is absent.
// The coordinate maps are copied on the way in and on the way out, so a
// built record cannot be mutated.
//
// # Sink Records
//
// SinkRecord is a plain snapshot of a consumed Kafka message:
//
//	rec := record.SinkRecord{
//	    Topic:     "sensors",
//	    Partition: 3,
//	    Offset:    1200,
//	    Row:       row,
//	}
//	tp := rec.TopicPartition() // "sensors-3"
//
// # Schema
//
// Column describes how a CSV header column is converted: it may be renamed
// (NewName), typed (DataType) and ordered (Order).
package record
