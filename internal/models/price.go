package models

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// PriceScale is the number of decimal places a Price carries.
const PriceScale = 2

// Price is a fixed-point amount in minor units (cents).
type Price int64

// MaxPrice is the largest representable price, in minor units.
const MaxPrice Price = math.MaxInt64

// ErrPriceOutOfRange is returned for amounts that do not fit a Price.
var ErrPriceOutOfRange = errors.New("price out of range")

var (
	maxMinorUnits = decimal.NewFromInt(int64(MaxPrice))
	minMinorUnits = decimal.NewFromInt(math.MinInt64)
)

// ParsePrice parses a decimal string and rounds it to two places.
func ParsePrice(s string) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q: %w", s, err)
	}
	p, err := priceFromDecimal(d)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q: %w", s, err)
	}
	return p, nil
}

// PriceFromFloat converts a float amount, rounding to two places.
func PriceFromFloat(f float64) (Price, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, ErrPriceOutOfRange
	}
	return priceFromDecimal(decimal.NewFromFloat(f))
}

func priceFromDecimal(d decimal.Decimal) (Price, error) {
	minor := d.Round(PriceScale).Shift(PriceScale)
	if minor.GreaterThan(maxMinorUnits) || minor.LessThan(minMinorUnits) {
		return 0, ErrPriceOutOfRange
	}
	return Price(minor.IntPart()), nil
}

// Decimal returns the price in major units.
func (p Price) Decimal() decimal.Decimal {
	return decimal.New(int64(p), -PriceScale)
}

func (p Price) String() string {
	return p.Decimal().StringFixed(PriceScale)
}

// MarshalJSON encodes the price as a plain JSON number with two decimals.
func (p Price) MarshalJSON() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalJSON accepts both numbers and quoted numbers.
func (p *Price) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	v, err := priceFromDecimal(d)
	if err != nil {
		return fmt.Errorf("%s: %w", data, err)
	}
	*p = v
	return nil
}
