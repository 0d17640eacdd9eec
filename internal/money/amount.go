package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrNegative is returned when an amount below zero is constructed
var ErrNegative = errors.New("amount must not be negative")

// places is the number of fractional digits kept for every amount
const places = 2

// Amount is a non-negative monetary value rounded to two decimal places
type Amount struct {
	d decimal.Decimal
}

// Zero is the zero amount
var Zero = Amount{d: decimal.Zero}

// New rounds d to two decimal places and rejects negative values
func New(d decimal.Decimal) (Amount, error) {
	if d.IsNegative() {
		return Amount{}, ErrNegative
	}
	return Amount{d: d.Round(places)}, nil
}

// Parse parses a plain decimal string such as "12.50"
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	return New(d)
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Decimal returns the underlying decimal value
func (a Amount) Decimal() decimal.Decimal {
	return a.d
}

// Add returns a + b
func (a Amount) Add(b Amount) Amount {
	return Amount{d: a.d.Add(b.d)}
}

// Mul returns the amount multiplied by a non-negative quantity
func (a Amount) Mul(quantity int) Amount {
	if quantity <= 0 {
		return Zero
	}
	return Amount{d: a.d.Mul(decimal.NewFromInt(int64(quantity)))}
}

// IsZero reports whether the amount is exactly zero
func (a Amount) IsZero() bool {
	return a.d.IsZero()
}

// String formats the amount with exactly two decimals
func (a Amount) String() string {
	return a.d.StringFixed(places)
}

// MarshalJSON encodes the amount as a JSON number with two decimals
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON accepts both JSON numbers and quoted decimal strings
func (a *Amount) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("decoding amount: %w", err)
	}
	parsed, err := New(d)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
