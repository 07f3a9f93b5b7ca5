package record

import (
	"strings"
)

// DataType names the type a CSV column is converted to.
type DataType string

const (
	TypeString  DataType = "STRING"
	TypeBoolean DataType = "BOOLEAN"
	TypeByte    DataType = "BYTE"
	TypeShort   DataType = "SHORT"
	TypeInt     DataType = "INT"
	TypeLong    DataType = "LONG"
	TypeFloat   DataType = "FLOAT"
	TypeDouble  DataType = "DOUBLE"
	TypeBytes   DataType = "BYTES"
	TypeRow     DataType = "ROW"
	TypeObject  DataType = "OBJECT"
)

// ParseDataType normalizes a type name. Unknown names are returned as-is so
// callers can report them.
func ParseDataType(s string) DataType {
	return DataType(strings.ToUpper(strings.TrimSpace(s)))
}

// Column maps a header column of a CSV file onto a typed, possibly renamed
// cell of a Row.
type Column struct {
	Name     string   `mapstructure:"name"`
	NewName  string   `mapstructure:"new_name"`
	DataType DataType `mapstructure:"data_type"`
	Order    int      `mapstructure:"order"`
}

// OutputName returns the cell name the column is emitted as.
func (c Column) OutputName() string {
	if c.NewName != "" {
		return c.NewName
	}
	return c.Name
}
