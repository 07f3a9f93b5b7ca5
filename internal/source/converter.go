package source

import (
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	apperrors "github.com/jittakal/kafcsvconnect/internal/errors"
	"github.com/jittakal/kafcsvconnect/pkg/connector"
	"github.com/jittakal/kafcsvconnect/pkg/record"
)

// Ensure implementation satisfies interface at compile time.
var _ connector.RecordConverter = (*CSVConverter)(nil)

// CSVConverter turns CSV lines into source records. Line 0 is the header;
// data lines are numbered from 1 and a line is emitted only when its index
// is greater than the request's Skip.
type CSVConverter struct{}

// NewCSVConverter creates a CSV converter.
func NewCSVConverter() *CSVConverter {
	return &CSVConverter{}
}

// Convert converts every unconsumed line of the request. It is all or nothing:
// on error no records are returned.
func (c *CSVConverter) Convert(req connector.ConvertRequest) ([]record.SourceRecord, error) {
	if err := checkTypes(req.Schema); err != nil {
		return nil, err
	}

	var (
		records []record.SourceRecord
		columns []boundColumn
		index   int64 = -1
	)

	for line, err := range req.Lines {
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", req.Path, err)
		}
		index++

		if index == 0 {
			header, err := parseLine(line)
			if err != nil || len(header) == 0 {
				return nil, &apperrors.ConversionError{Path: req.Path, Line: 0, Err: apperrors.ErrMissingHeader}
			}
			columns, err = bindColumns(header, req.Schema)
			if err != nil {
				return nil, err
			}
			continue
		}

		if index <= req.Skip || strings.TrimSpace(line) == "" {
			continue
		}

		fields, err := parseLine(line)
		if err != nil {
			return nil, &apperrors.ConversionError{Path: req.Path, Line: index, Err: err}
		}
		row, err := buildRow(fields, columns)
		if err != nil {
			return nil, &apperrors.ConversionError{Path: req.Path, Line: index, Err: err}
		}

		for _, topic := range req.Topics {
			rec, err := record.NewSourceRecord(topic, row).
				SourcePartition(SourcePartition(req.Path)).
				SourceOffset(map[string]any{SourceOffsetKey: index}).
				Build()
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
	}

	return records, nil
}

// boundColumn is a schema column resolved against the header.
type boundColumn struct {
	column record.Column
	field  int
	width  int
}

func checkTypes(schema []record.Column) error {
	for _, col := range schema {
		if !convertible(col.DataType) {
			return fmt.Errorf("column %s: %w: %s", col.Name, apperrors.ErrUnsupportedType, col.DataType)
		}
	}
	return nil
}

// bindColumns resolves schema columns to header positions, ordered by Order.
// An empty schema maps every header column to a STRING of the same name.
func bindColumns(header []string, schema []record.Column) ([]boundColumn, error) {
	if len(schema) == 0 {
		columns := make([]boundColumn, len(header))
		for i, name := range header {
			columns[i] = boundColumn{
				column: record.Column{Name: name, DataType: record.TypeString, Order: i},
				field:  i,
				width:  len(header),
			}
		}
		return columns, nil
	}

	columns := make([]boundColumn, 0, len(schema))
	for _, col := range schema {
		field := slices.Index(header, col.Name)
		if field < 0 {
			return nil, &apperrors.ValidationError{Column: col.Name, Field: "name", Reason: "not found in header"}
		}
		columns = append(columns, boundColumn{column: col, field: field, width: len(header)})
	}
	slices.SortStableFunc(columns, func(a, b boundColumn) int {
		return a.column.Order - b.column.Order
	})
	return columns, nil
}

func buildRow(fields []string, columns []boundColumn) (record.Row, error) {
	if len(columns) > 0 && len(fields) != columns[0].width {
		return nil, fmt.Errorf("%w: expected %d fields, got %d",
			apperrors.ErrMalformedLine, columns[0].width, len(fields))
	}

	row := make(record.Row, 0, len(columns))
	for _, col := range columns {
		value, err := convertValue(fields[col.field], col.column.DataType)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.column.Name, err)
		}
		row = append(row, record.Cell{Name: col.column.OutputName(), Value: value})
	}
	return row, nil
}

// parseLine splits one CSV line into fields, honoring quotes.
func parseLine(line string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	fields, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedLine, err)
	}
	return fields, nil
}

func convertible(t record.DataType) bool {
	switch t {
	case record.TypeString, record.TypeBoolean, record.TypeByte, record.TypeShort,
		record.TypeInt, record.TypeLong, record.TypeFloat, record.TypeDouble:
		return true
	}
	return false
}

// convertValue parses raw into the Go value of t.
func convertValue(raw string, t record.DataType) (any, error) {
	switch t {
	case record.TypeString:
		return raw, nil
	case record.TypeBoolean:
		return strconv.ParseBool(strings.TrimSpace(raw))
	case record.TypeByte:
		v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 8)
		return int8(v), err
	case record.TypeShort:
		v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 16)
		return int16(v), err
	case record.TypeInt:
		v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 32)
		return int32(v), err
	case record.TypeLong:
		return strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	case record.TypeFloat:
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 32)
		return float32(v), err
	case record.TypeDouble:
		return strconv.ParseFloat(strings.TrimSpace(raw), 64)
	default:
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedType, t)
	}
}
