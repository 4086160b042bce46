package feed

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Column is one named value inside a Row.
type Column struct {
	Name  string
	Value Value
}

// Row is an ordered, immutable mapping from column name to Value.
type Row struct {
	cols []Column
}

// NewRow copies cols into a new Row.
func NewRow(cols ...Column) Row {
	out := make([]Column, len(cols))
	copy(out, cols)
	return Row{cols: out}
}

// Len returns the number of columns.
func (r Row) Len() int { return len(r.cols) }

// Columns returns a copy of the row's columns in order.
func (r Row) Columns() []Column {
	out := make([]Column, len(r.cols))
	copy(out, r.cols)
	return out
}

// Get looks a column up by name.
func (r Row) Get(name string) (Value, bool) {
	for _, c := range r.cols {
		if c.Name == name {
			return c.Value, true
		}
	}
	return Value{}, false
}

// Equal reports whether both rows carry the same column names, in the same
// order, with equal values.
func (r Row) Equal(o Row) bool {
	if len(r.cols) != len(o.cols) {
		return false
	}
	for i := range r.cols {
		if r.cols[i].Name != o.cols[i].Name || !r.cols[i].Value.Equal(o.cols[i].Value) {
			return false
		}
	}
	return true
}

func (r Row) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, c := range r.cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c.Name)
		b.WriteByte('=')
		b.WriteString(c.Value.String())
	}
	b.WriteByte('}')
	return b.String()
}

// Int reads an integer column.
func (r Row) Int(source, name string) (int64, error) {
	v, ok := r.Get(name)
	if !ok {
		return 0, decodeErr(source, name, "column missing")
	}
	i, ok := v.AsInt()
	if !ok {
		return 0, decodeErr(source, name, "expected int, got %s", v.Kind())
	}
	return i, nil
}

// Text reads a text column.
func (r Row) Text(source, name string) (string, error) {
	v, ok := r.Get(name)
	if !ok {
		return "", decodeErr(source, name, "column missing")
	}
	s, ok := v.AsText()
	if !ok {
		return "", decodeErr(source, name, "expected text, got %s", v.Kind())
	}
	return s, nil
}

// Decimal reads a numeric column. Integer columns are accepted.
func (r Row) Decimal(source, name string) (decimal.Decimal, error) {
	v, ok := r.Get(name)
	if !ok {
		return decimal.Decimal{}, decodeErr(source, name, "column missing")
	}
	d, ok := v.AsDecimal()
	if !ok {
		return decimal.Decimal{}, decodeErr(source, name, "expected decimal, got %s", v.Kind())
	}
	return d, nil
}
