package domain

import (
	"errors"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount parsing errors.
var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrNegativeAmount  = errors.New("amount must not be negative")
	ErrTooManyDecimals = errors.New("amount has more decimals than the token supports")
)

// FormatUnits renders an integer amount of the smallest unit as a decimal
// string with trailing zeros removed: 5e18 with 18 decimals is "5",
// 1.5e18 is "1.5". A nil amount renders as "0".
func FormatUnits(v *big.Int, decimals int32) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -decimals).String()
}

// FormatFixed renders an amount with exactly places fractional digits.
func FormatFixed(v *big.Int, decimals int32, places int32) string {
	if v == nil {
		v = new(big.Int)
	}
	return decimal.NewFromBigInt(v, -decimals).StringFixed(places)
}

// ParseUnits converts a human decimal string ("1.25") into the smallest
// unit. Negative values and values with more fractional digits than
// decimals are rejected rather than rounded.
func ParseUnits(s string, decimals int32) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, ErrInvalidAmount
	}
	if d.IsNegative() {
		return nil, ErrNegativeAmount
	}
	if -d.Exponent() > decimals {
		// "1.50" has exponent -2 but only one significant fractional digit
		if !d.Equal(d.Truncate(decimals)) {
			return nil, ErrTooManyDecimals
		}
	}
	return d.Shift(decimals).BigInt(), nil
}
