package amount

import (
	"bytes"
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// PositiveAmount is an Amount that is never below zero.
type PositiveAmount struct {
	a Amount
}

// ParsePositive accepts an unsigned decimal string.
func ParsePositive(s string) (PositiveAmount, error) {
	if !unsignedPattern.MatchString(s) {
		if signedPattern.MatchString(s) {
			return PositiveAmount{}, fmt.Errorf("%w: %q", ErrNegativeAmount, s)
		}
		return PositiveAmount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	a, err := Parse(s)
	if err != nil {
		return PositiveAmount{}, err
	}
	return PositiveAmount{a: a}, nil
}

// MustParsePositive is ParsePositive for literals known to be valid.
func MustParsePositive(s string) PositiveAmount {
	p, err := ParsePositive(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Positive narrows a signed amount, rejecting negatives.
func Positive(a Amount) (PositiveAmount, error) {
	if a.IsNegative() {
		return PositiveAmount{}, fmt.Errorf("%w: %s", ErrNegativeAmount, a)
	}
	return PositiveAmount{a: a}, nil
}

// MapPositive is MapAmount(a, false) typed as unsigned.
func MapPositive(a *Amount) PositiveAmount {
	return PositiveAmount{a: MapAmount(a, false)}
}

func (p PositiveAmount) Amount() Amount {
	return p.a
}

func (p PositiveAmount) Add(other PositiveAmount) PositiveAmount {
	return PositiveAmount{a: p.a.Add(other.a)}
}

func (p PositiveAmount) Cmp(other PositiveAmount) int {
	return p.a.Cmp(other.a)
}

func (p PositiveAmount) Equal(other PositiveAmount) bool {
	return p.a.Equal(other.a)
}

func (p PositiveAmount) GreaterThanOrEqual(other PositiveAmount) bool {
	return p.a.GreaterThanOrEqual(other.a)
}

func (p PositiveAmount) IsZero() bool {
	return p.a.IsZero()
}

func (p PositiveAmount) String() string {
	return p.a.String()
}

func (p PositiveAmount) MarshalJSON() ([]byte, error) {
	return p.a.MarshalJSON()
}

func (p *PositiveAmount) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var a Amount
	if err := a.UnmarshalJSON(data); err != nil {
		return err
	}
	pos, err := Positive(a)
	if err != nil {
		return err
	}
	*p = pos
	return nil
}

func (p PositiveAmount) Value() (driver.Value, error) {
	return p.a.Value()
}

func (p *PositiveAmount) Scan(src any) error {
	var a Amount
	if err := a.Scan(src); err != nil {
		return err
	}
	pos, err := Positive(a)
	if err != nil {
		return err
	}
	*p = pos
	return nil
}

// Decimal exposes the underlying value.
func (p PositiveAmount) Decimal() decimal.Decimal {
	return p.a.value
}
