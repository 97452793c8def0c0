package core

import "fmt"

// DataType identifies the storage type of a column.
type DataType string

const (
	TypeInt64   DataType = "BIGINT"
	TypeFloat64 DataType = "DOUBLE"
	TypeString  DataType = "VARCHAR"
	TypeBool    DataType = "BOOLEAN"
)

// Column describes a single column in a schema.
type Column struct {
	Name string
	Type DataType
}

// Schema is an ordered list of columns. Rows are positional against their
// schema, which keeps encoded output deterministic across runs.
type Schema []Column

// ColumnIndex returns the position of the named column, or -1 if absent.
// When duplicate names exist (e.g. after a self-join), the first match wins.
func (s Schema) ColumnIndex(name string) int {
	for i, c := range s {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// ColumnNames returns the column names in schema order.
func (s Schema) ColumnNames() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// Concat returns a new schema with other's columns appended.
func (s Schema) Concat(other Schema) Schema {
	out := make(Schema, 0, len(s)+len(other))
	out = append(out, s...)
	out = append(out, other...)
	return out
}

// Project returns the schema restricted to the named columns, in the
// requested order.
func (s Schema) Project(names []string) (Schema, error) {
	out := make(Schema, 0, len(names))
	for _, name := range names {
		idx := s.ColumnIndex(name)
		if idx < 0 {
			return nil, fmt.Errorf("column %q not found in schema %v", name, s.ColumnNames())
		}
		out = append(out, s[idx])
	}
	return out, nil
}

// Equal reports whether two schemas have identical columns.
func (s Schema) Equal(other Schema) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Row is a positional tuple of values. Supported value types are int64,
// float64, string, bool and nil.
type Row []interface{}

// Batch is a group of rows produced or consumed as a unit.
type Batch struct {
	Rows []Row
}

// NumRows returns the number of rows in the batch.
func (b Batch) NumRows() int { return len(b.Rows) }
