package record

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Cell is a single named value in a Row.
type Cell struct {
	Name  string
	Value any
}

// Row is an ordered list of cells.
type Row []Cell

// NewRow builds a row from cells.
func NewRow(cells ...Cell) Row {
	return Row(cells)
}

// Names returns the cell names in order.
func (r Row) Names() []string {
	names := make([]string, len(r))
	for i, c := range r {
		names[i] = c.Name
	}
	return names
}

// Cell returns the cell with the given name.
func (r Row) Cell(name string) (Cell, bool) {
	for _, c := range r {
		if c.Name == name {
			return c, true
		}
	}
	return Cell{}, false
}

// MarshalJSON encodes the row as a JSON object keeping cell order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(c.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(c.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal cell %q: %w", c.Name, err)
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object into a row keeping key order.
// Numbers are decoded as json.Number.
func (r *Row) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("row must be a JSON object")
	}

	row := Row{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected row key %v", tok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("failed to decode cell %q: %w", name, err)
		}
		row = append(row, Cell{Name: name, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*r = row
	return nil
}
