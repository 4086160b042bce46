package feed

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// ValueKind tags the payload carried by a Value.
type ValueKind uint8

const (
	// KindInt marks an integer column.
	KindInt ValueKind = iota + 1
	// KindText marks a text column.
	KindText
	// KindDecimal marks an arbitrary-precision numeric column.
	KindDecimal
)

func (k ValueKind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindText:
		return "text"
	case KindDecimal:
		return "decimal"
	default:
		return "invalid"
	}
}

// Value is a single typed column value. The zero Value is invalid.
type Value struct {
	kind ValueKind
	i    int64
	s    string
	d    decimal.Decimal
}

// Int wraps an integer.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Text wraps a string.
func Text(v string) Value { return Value{kind: KindText, s: v} }

// Decimal wraps a decimal.
func Decimal(v decimal.Decimal) Value { return Value{kind: KindDecimal, d: v} }

// Kind reports the tag of v.
func (v Value) Kind() ValueKind { return v.kind }

// Valid reports whether v was built by one of the constructors.
func (v Value) Valid() bool { return v.kind != 0 }

// AsInt returns the integer payload.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsText returns the text payload.
func (v Value) AsText() (string, bool) { return v.s, v.kind == KindText }

// AsDecimal returns the decimal payload. Integers widen to decimals.
func (v Value) AsDecimal() (decimal.Decimal, bool) {
	switch v.kind {
	case KindDecimal:
		return v.d, true
	case KindInt:
		return decimal.NewFromInt(v.i), true
	default:
		return decimal.Decimal{}, false
	}
}

// Equal reports whether both values carry the same tag and an equal payload.
// Decimals compare numerically.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInt:
		return v.i == o.i
	case KindText:
		return v.s == o.s
	case KindDecimal:
		return v.d.Equal(o.d)
	default:
		return true
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindText:
		return v.s
	case KindDecimal:
		return v.d.String()
	default:
		return fmt.Sprintf("<%s>", v.kind)
	}
}
