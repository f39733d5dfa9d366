package pricing

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// PricePlaces is the precision DerivePrice rounds to.
	PricePlaces = 10
	// DisplayPlaces is the precision prices are rendered with.
	DisplayPlaces = 8

	divisionPlaces = 40
)

// ErrDecode reports a raw square-root price that cannot be turned into a price.
var ErrDecode = errors.New("decode sqrt price")

// q128 is 2^128, the square of the Q64 fixed-point scale.
var q128 = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 128), 0)

// DerivePrice converts a Q64.64 square-root price into a token1-per-token0 price
// adjusted for token decimals, optionally reciprocated.
func DerivePrice(raw string, decimals0, decimals1 int32, invert bool) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: empty input", ErrDecode)
	}

	sqrt, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q: %v", ErrDecode, trimmed, err)
	}
	if sqrt.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%w: negative value %s", ErrDecode, trimmed)
	}

	// (sqrt / 2^64)^2 == sqrt^2 / 2^128; squaring first keeps the numerator exact.
	price := sqrt.Mul(sqrt).DivRound(q128, divisionPlaces)
	price = price.Shift(decimals0 - decimals1)

	if invert {
		if price.IsZero() {
			return decimal.Decimal{}, fmt.Errorf("%w: zero price cannot be inverted", ErrDecode)
		}
		price = decimal.NewFromInt(1).DivRound(price, divisionPlaces)
	}

	return price.Round(PricePlaces), nil
}

// FormatPrice renders a price with display precision.
func FormatPrice(price decimal.Decimal) string {
	return price.StringFixed(DisplayPlaces)
}
