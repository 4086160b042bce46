package storage

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/perchlabs-io/balance-bot/internal/feed"
)

// Column is one raw column value as returned by pgx.
type Column struct {
	Name  string
	OID   uint32
	Value any
}

// DecodeRow maps raw column values to a feed.Row by column type. Columns of
// unsupported types are left out; NULLs are a decode error.
func DecodeRow(source string, cols []Column) (feed.Row, error) {
	out := make([]feed.Column, 0, len(cols))
	for _, c := range cols {
		v, ok, err := decodeValue(c)
		if err != nil {
			return feed.Row{}, &feed.DecodeError{Source: source, Column: c.Name, Reason: err.Error()}
		}
		if !ok {
			continue
		}
		out = append(out, feed.Column{Name: c.Name, Value: v})
	}
	return feed.NewRow(out...), nil
}

func decodeValue(c Column) (feed.Value, bool, error) {
	switch c.OID {
	case pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID:
		if c.Value == nil {
			return feed.Value{}, false, fmt.Errorf("null integer")
		}
		switch v := c.Value.(type) {
		case int16:
			return feed.Int(int64(v)), true, nil
		case int32:
			return feed.Int(int64(v)), true, nil
		case int64:
			return feed.Int(v), true, nil
		default:
			return feed.Value{}, false, fmt.Errorf("unexpected integer value %T", c.Value)
		}
	case pgtype.TextOID, pgtype.VarcharOID, pgtype.BPCharOID, pgtype.NameOID:
		if c.Value == nil {
			return feed.Value{}, false, fmt.Errorf("null text")
		}
		s, ok := c.Value.(string)
		if !ok {
			return feed.Value{}, false, fmt.Errorf("unexpected text value %T", c.Value)
		}
		return feed.Text(s), true, nil
	case pgtype.NumericOID:
		d, err := numericToDecimal(c.Value)
		if err != nil {
			return feed.Value{}, false, err
		}
		return feed.Decimal(d), true, nil
	default:
		return feed.Value{}, false, nil
	}
}

func numericToDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case nil:
		return decimal.Decimal{}, fmt.Errorf("null numeric")
	case pgtype.Numeric:
		if !n.Valid {
			return decimal.Decimal{}, fmt.Errorf("null numeric")
		}
		if n.NaN || n.InfinityModifier != pgtype.Finite {
			return decimal.Decimal{}, fmt.Errorf("non-finite numeric")
		}
		if n.Int == nil {
			return decimal.Zero, nil
		}
		return decimal.NewFromBigInt(n.Int, n.Exp), nil
	case string:
		return decimal.NewFromString(n)
	default:
		return decimal.Decimal{}, fmt.Errorf("unexpected numeric value %T", v)
	}
}
