package calc

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/leafsii/leafsii-lending/internal/fixedpoint"
)

// MaxDecimals is the largest token precision the ledger's 1e18 price scale
// can represent exactly.
const MaxDecimals = 18

var errNegative = errors.New("negative value")

// ErrExcessPrecision reports an amount finer than the asset's smallest unit.
var ErrExcessPrecision = errors.New("amount has more decimal places than the asset")

// ToDecimal converts an integer amount in smallest units to whole tokens.
func ToDecimal(v *uint256.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v.ToBig(), -decimals)
}

// FromDecimal converts whole tokens to smallest units, truncating any
// precision beyond decimals.
func FromDecimal(d decimal.Decimal, decimals int32) (*uint256.Int, error) {
	if d.IsNegative() {
		return nil, errNegative
	}
	scaled := d.Shift(decimals).Truncate(0)
	out, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("amount %s overflows 256 bits", d)
	}
	return out, nil
}

// FromDecimalExact is FromDecimal but rejects precision beyond decimals.
func FromDecimalExact(d decimal.Decimal, decimals int32) (*uint256.Int, error) {
	if !d.Equal(d.Truncate(decimals)) {
		return nil, fmt.Errorf("%s at %d decimals: %w", d, decimals, ErrExcessPrecision)
	}
	return FromDecimal(d, decimals)
}

// ParseAmount parses a human amount such as "0.39" into smallest units.
func ParseAmount(s string, decimals int32) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("amount %q: %w", s, err)
	}
	return FromDecimal(d, decimals)
}

// ScalePrice converts a USD price per whole token into the ledger's price
// unit: 1e18-scaled USD per smallest unit, i.e. usd * 10^(18-decimals),
// truncated.
func ScalePrice(usd decimal.Decimal, decimals int32) (*uint256.Int, error) {
	if decimals < 0 || decimals > MaxDecimals {
		return nil, fmt.Errorf("decimals %d outside 0..%d", decimals, MaxDecimals)
	}
	return FromDecimal(usd, MaxDecimals-decimals)
}

// PriceToUSD is the inverse of ScalePrice.
func PriceToUSD(price *uint256.Int, decimals int32) decimal.Decimal {
	return ToDecimal(price, MaxDecimals-decimals)
}

// IndexToDecimal renders a 1e18-scaled index as a ratio, e.g. 1.07.
func IndexToDecimal(idx *uint256.Int) decimal.Decimal {
	return ToDecimal(idx, MaxDecimals)
}

// BpsToRatio renders basis points as a fraction, e.g. 700 -> 0.07.
func BpsToRatio(bps *uint256.Int) decimal.Decimal {
	return ToDecimal(bps, 4)
}

// HealthRatio renders a health factor in basis points as a ratio. The
// no-debt sentinel is reported as ok=false.
func HealthRatio(bps *uint256.Int) (ratio decimal.Decimal, ok bool) {
	if bps == nil || bps.Eq(fixedpoint.Max()) {
		return decimal.Zero, false
	}
	return BpsToRatio(bps), true
}
