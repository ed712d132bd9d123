// Package amount holds the decimal value types used for every monetary figure
// in the engine. Values are kept in arbitrary-precision decimal and rendered
// as plain fixed-point strings, never in exponent form.
package amount

import (
	"bytes"
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrNegativeAmount = errors.New("amount must not be negative")
)

// MaxDigits bounds the length of accepted input, sign and point included.
const MaxDigits = 64

var (
	signedPattern   = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
	unsignedPattern = regexp.MustCompile(`^\d+(\.\d+)?$`)
)

// Amount is a signed decimal. The zero value is 0.
type Amount struct {
	value decimal.Decimal
}

// Zero is the canonical "0".
var Zero = Amount{}

// Parse accepts a signed decimal string such as "-12.50" and returns its
// canonical form. Exponents, spaces, thousands separators and inputs longer
// than MaxDigits are rejected.
func Parse(s string) (Amount, error) {
	if len(s) > MaxDigits {
		return Amount{}, fmt.Errorf("%w: longer than %d characters", ErrInvalidAmount, MaxDigits)
	}
	if !signedPattern.MatchString(s) {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	return Amount{value: d}, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FromInt converts an integer.
func FromInt(i int64) Amount {
	return Amount{value: decimal.NewFromInt(i)}
}

// FromFloat converts a native float using the shortest decimal that
// round-trips it, so that later arithmetic happens in decimal.
func FromFloat(f float64) Amount {
	return Amount{value: decimal.NewFromFloat(f)}
}

// FromDecimal wraps an existing decimal value.
func FromDecimal(d decimal.Decimal) Amount {
	return Amount{value: d}
}

// Decimal exposes the underlying value for callers that need richer math.
func (a Amount) Decimal() decimal.Decimal {
	return a.value
}

func (a Amount) Add(other Amount) Amount {
	return Amount{value: a.value.Add(other.value)}
}

func (a Amount) Sub(other Amount) Amount {
	return Amount{value: a.value.Sub(other.value)}
}

func (a Amount) Abs() Amount {
	return Amount{value: a.value.Abs()}
}

func (a Amount) Neg() Amount {
	return Amount{value: a.value.Neg()}
}

// Cmp returns -1, 0 or +1.
func (a Amount) Cmp(other Amount) int {
	return a.value.Cmp(other.value)
}

func (a Amount) Equal(other Amount) bool {
	return a.value.Equal(other.value)
}

func (a Amount) GreaterThanOrEqual(other Amount) bool {
	return a.value.GreaterThanOrEqual(other.value)
}

func (a Amount) GreaterThan(other Amount) bool {
	return a.value.GreaterThan(other.value)
}

func (a Amount) IsZero() bool {
	return a.value.IsZero()
}

func (a Amount) IsNegative() bool {
	return a.value.IsNegative()
}

// String renders the canonical fixed-point form: no exponent, no leading
// zeros, no trailing fractional zeros.
func (a Amount) String() string {
	return a.value.String()
}

// MarshalJSON always emits a JSON string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts either a JSON string or a JSON number, both held to
// the same rules as Parse. Numbers are parsed from their literal text and
// never pass through float64; exponent literals such as 1e3 are rejected.
func (a *Amount) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	literal := string(data)
	if len(data) >= 2 && data[0] == '"' && data[len(data)-1] == '"' {
		literal = string(data[1 : len(data)-1])
	}
	parsed, err := Parse(literal)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Value stores the canonical string; NUMERIC columns accept it as-is.
func (a Amount) Value() (driver.Value, error) {
	return a.String(), nil
}

// Scan reads NUMERIC/TEXT columns.
func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case string:
		parsed, err := Parse(v)
		if err != nil {
			return err
		}
		*a = parsed
	case []byte:
		return a.Scan(string(v))
	case int64:
		a.value = decimal.NewFromInt(v)
	case float64:
		a.value = decimal.NewFromFloat(v)
	case nil:
		a.value = decimal.Decimal{}
	default:
		return fmt.Errorf("%w: cannot scan %T", ErrInvalidAmount, src)
	}
	return nil
}

// MapAmount is the single conversion point between signed ledger entries and
// unsigned usage figures. A nil input maps to zero; otherwise the absolute
// value is taken and negated when negative is set.
func MapAmount(a *Amount, negative bool) Amount {
	if a == nil {
		return Zero
	}
	abs := a.Abs()
	if negative && !abs.IsZero() {
		return abs.Neg()
	}
	return abs
}
