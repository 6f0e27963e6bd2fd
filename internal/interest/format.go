package interest

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// FormatWad renders a WAD scaled value (rate, ltv or wei amount) as a decimal
// string with the given number of places.
func FormatWad(value *big.Int, places int32) string {
	if value == nil {
		return decimal.Zero.StringFixed(places)
	}
	return decimal.NewFromBigInt(value, -18).StringFixed(places)
}

// ParseWad converts a human decimal such as "0.5" into its WAD scaled integer.
func ParseWad(text string) (*big.Int, error) {
	d, err := decimal.NewFromString(text)
	if err != nil {
		return nil, err
	}
	return d.Shift(18).Truncate(0).BigInt(), nil
}
