package quote

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatUnits renders a raw amount with the given decimals, trimming
// trailing zeros.
func FormatUnits(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, -int32(decimals)).String()
}

// FormatFixed renders a raw amount rounded to places fractional digits.
func FormatFixed(value *big.Int, decimals uint8, places int32) string {
	if value == nil {
		value = new(big.Int)
	}
	return decimal.NewFromBigInt(value, -int32(decimals)).StringFixed(places)
}

// FormatPercent renders a WAD percentage with two fractional digits.
func FormatPercent(wad *big.Int) string {
	return FormatFixed(wad, 18, 2) + "%"
}

// ParseUnits converts a decimal string into a raw amount. More fractional
// digits than decimals is an error rather than a silent truncation.
func ParseUnits(text string, decimals uint8) (*big.Int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("amount is required")
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", text, err)
	}
	if d.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q: %w", text, ErrNegativeAmount)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("invalid amount %q: more than %d decimals", text, decimals)
	}
	return scaled.BigInt(), nil
}
