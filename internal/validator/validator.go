// Package validator validates column schemas and decoded rows.
package validator

import (
	"fmt"

	"github.com/jittakal/kafcsvconnect/internal/errors"
	"github.com/jittakal/kafcsvconnect/pkg/record"
)

// supportedTypes are the column types a CSV field can be converted to.
var supportedTypes = map[record.DataType]bool{
	record.TypeString:  true,
	record.TypeBoolean: true,
	record.TypeByte:    true,
	record.TypeShort:   true,
	record.TypeInt:     true,
	record.TypeLong:    true,
	record.TypeFloat:   true,
	record.TypeDouble:  true,
}

// SchemaValidator validates the column schema of a source connector.
type SchemaValidator struct{}

// NewSchemaValidator creates a new schema validator.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{}
}

// Validate checks that every column has a name and a supported type, and
// that names, output names and orders are unique. An empty schema is valid.
func (v *SchemaValidator) Validate(columns []record.Column) error {
	names := make(map[string]bool, len(columns))
	outputs := make(map[string]bool, len(columns))
	orders := make(map[int]string, len(columns))

	for i, col := range columns {
		if col.Name == "" {
			return &errors.ValidationError{
				Column: fmt.Sprintf("#%d", i),
				Field:  "name",
				Reason: "required field is missing",
			}
		}

		if !supportedTypes[col.DataType] {
			return &errors.ValidationError{
				Column: col.Name,
				Field:  "data_type",
				Reason: fmt.Sprintf("%v: %q", errors.ErrUnsupportedType, col.DataType),
			}
		}

		if names[col.Name] {
			return &errors.ValidationError{
				Column: col.Name,
				Field:  "name",
				Reason: "duplicate column name",
			}
		}
		names[col.Name] = true

		if outputs[col.OutputName()] {
			return &errors.ValidationError{
				Column: col.Name,
				Field:  "new_name",
				Reason: fmt.Sprintf("duplicate output name %q", col.OutputName()),
			}
		}
		outputs[col.OutputName()] = true

		if col.Order < 0 {
			return &errors.ValidationError{
				Column: col.Name,
				Field:  "order",
				Reason: "must not be negative",
			}
		}
		if other, ok := orders[col.Order]; ok {
			return &errors.ValidationError{
				Column: col.Name,
				Field:  "order",
				Reason: fmt.Sprintf("order %d already used by %s", col.Order, other),
			}
		}
		orders[col.Order] = col.Name
	}

	return nil
}

// RowValidator validates rows decoded from Kafka message values.
type RowValidator struct{}

// NewRowValidator creates a new row validator.
func NewRowValidator() *RowValidator {
	return &RowValidator{}
}

// Validate checks that row has at least one cell and that cell names are
// present and unique.
func (v *RowValidator) Validate(row record.Row) error {
	if len(row) == 0 {
		return &errors.ValidationError{Field: "row", Reason: "row has no cells"}
	}

	seen := make(map[string]bool, len(row))
	for i, cell := range row {
		if cell.Name == "" {
			return &errors.ValidationError{
				Column: fmt.Sprintf("#%d", i),
				Field:  "name",
				Reason: "required field is missing",
			}
		}
		if seen[cell.Name] {
			return &errors.ValidationError{
				Column: cell.Name,
				Field:  "name",
				Reason: "duplicate cell name",
			}
		}
		seen[cell.Name] = true
	}
	return nil
}
