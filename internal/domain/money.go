package domain

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a fixed-point decimal amount of currency. All cash and price
// arithmetic in the system goes through this type; binary floats are never
// used for money math. Amounts are rounded to 2 decimal places at every
// persistence and serialization boundary.
type Money struct {
	value decimal.Decimal
}

// ZeroMoney returns a zero amount.
func ZeroMoney() Money {
	return Money{value: decimal.Zero}
}

// MoneyFromString parses a decimal string like "1234.56".
func MoneyFromString(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Money{}, fmt.Errorf("invalid money amount %q: %w", s, err)
	}
	return Money{value: d}, nil
}

// MoneyFromFloat converts a float input (e.g. a parsed JSON number) to Money.
// The float is only a transport representation; it is converted to decimal
// immediately and never used for arithmetic.
func MoneyFromFloat(f float64) Money {
	return Money{value: decimal.NewFromFloat(f)}
}

// MoneyFromDecimal wraps an existing decimal value.
func MoneyFromDecimal(d decimal.Decimal) Money {
	return Money{value: d}
}

func (m Money) Add(o Money) Money { return Money{value: m.value.Add(o.value)} }
func (m Money) Sub(o Money) Money { return Money{value: m.value.Sub(o.value)} }
func (m Money) Neg() Money        { return Money{value: m.value.Neg()} }

// MulInt multiplies by a share count: price * shares = transaction value.
func (m Money) MulInt(n int64) Money {
	return Money{value: m.value.Mul(decimal.NewFromInt(n))}
}

// DivInt divides by a share count, used for per-share cost basis.
// Division by zero returns zero rather than panicking.
func (m Money) DivInt(n int64) Money {
	if n == 0 {
		return ZeroMoney()
	}
	return Money{value: m.value.Div(decimal.NewFromInt(n))}
}

// Round2 rounds to 2 decimal places, the precision every stored amount has.
func (m Money) Round2() Money {
	return Money{value: m.value.Round(2)}
}

func (m Money) IsZero() bool     { return m.value.IsZero() }
func (m Money) IsPositive() bool { return m.value.IsPositive() }
func (m Money) IsNegative() bool { return m.value.IsNegative() }

func (m Money) Equal(o Money) bool       { return m.value.Equal(o.value) }
func (m Money) GreaterThan(o Money) bool { return m.value.GreaterThan(o.value) }
func (m Money) LessThan(o Money) bool    { return m.value.LessThan(o.value) }

// Decimal exposes the underlying decimal for ratio math (percentages).
func (m Money) Decimal() decimal.Decimal { return m.value }

// Float64 returns an approximate float, for presentation only.
func (m Money) Float64() float64 {
	f, _ := m.value.Float64()
	return f
}

// String renders the amount with exactly 2 decimal places.
func (m Money) String() string {
	return m.value.StringFixed(2)
}

// MarshalJSON encodes Money as a plain JSON number with 2 decimal places,
// matching what API clients expect for price and cash fields.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.value.StringFixed(2)), nil
}

// UnmarshalJSON accepts both a JSON number and a quoted decimal string.
func (m *Money) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid money amount %q: %w", s, err)
	}
	m.value = d
	return nil
}

// Value implements driver.Valuer; amounts are stored as TEXT.
func (m Money) Value() (driver.Value, error) {
	return m.value.StringFixed(2), nil
}

// Scan implements sql.Scanner for TEXT money columns.
func (m *Money) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		m.value = decimal.Zero
		return nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("failed to scan money value %q: %w", v, err)
		}
		m.value = d
		return nil
	case []byte:
		return m.Scan(string(v))
	case float64:
		m.value = decimal.NewFromFloat(v)
		return nil
	default:
		return fmt.Errorf("unsupported money source type %T", src)
	}
}
