package calc

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScalePrice(t *testing.T) {
	tests := []struct {
		name     string
		usd      string
		decimals int32
		expected string
	}{
		{name: "18 decimals", usd: "2000", decimals: 18, expected: "2000"},
		{name: "6 decimals", usd: "1", decimals: 6, expected: "1000000000000"},
		{name: "8 decimals fractional", usd: "43250.12", decimals: 8, expected: "432501200000000"},
		{name: "truncates", usd: "0.35", decimals: 18, expected: "0"},
		{name: "zero decimals", usd: "1.5", decimals: 0, expected: "1500000000000000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ScalePrice(decimal.RequireFromString(tt.usd), tt.decimals)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got.Dec())

			if tt.expected != "0" && tt.name != "truncates" {
				back := PriceToUSD(got, tt.decimals)
				assert.True(t, decimal.RequireFromString(tt.usd).Equal(back), "got %s", back)
			}
		})
	}

	_, err := ScalePrice(decimal.NewFromInt(1), 19)
	assert.Error(t, err)
	_, err = ScalePrice(decimal.NewFromInt(-1), 18)
	assert.Error(t, err)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		decimals int32
		expected string
		wantErr  bool
	}{
		{name: "whole", in: "10", decimals: 18, expected: "10000000000000000000"},
		{name: "fraction", in: "0.39", decimals: 18, expected: "390000000000000000"},
		{name: "usdc", in: "12.5", decimals: 6, expected: "12500000"},
		{name: "excess precision truncated", in: "1.0000009", decimals: 6, expected: "1000000"},
		{name: "negative", in: "-1", decimals: 6, wantErr: true},
		{name: "garbage", in: "ten", decimals: 6, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.in, tt.decimals)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got.Dec())
		})
	}
}

func TestFromDecimalExact(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		decimals int32
		expected string
		wantErr  error
	}{
		{name: "exact", in: "1.5", decimals: 18, expected: "1500000000000000000"},
		{name: "trailing zeros", in: "12.500000000", decimals: 6, expected: "12500000"},
		{name: "smallest unit", in: "0.000001", decimals: 6, expected: "1"},
		{name: "one digit too many", in: "1.0000000000000000009", decimals: 18, wantErr: ErrExcessPrecision},
		{name: "below smallest unit", in: "0.0000001", decimals: 6, wantErr: ErrExcessPrecision},
		{name: "zero decimals", in: "3.1", decimals: 0, wantErr: ErrExcessPrecision},
		{name: "negative", in: "-1", decimals: 6, wantErr: errNegative},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromDecimalExact(decimal.RequireFromString(tt.in), tt.decimals)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got.Dec())
		})
	}
}

func TestRatios(t *testing.T) {
	assert.Equal(t, "1.07", IndexToDecimal(uint256.NewInt(1_070_000_000_000_000_000)).String())
	assert.Equal(t, "0.07", BpsToRatio(uint256.NewInt(700)).String())
	assert.Equal(t, "0.21", ToDecimal(uint256.NewInt(210_000_000_000_000_000), 18).String())

	ratio, ok := HealthRatio(uint256.NewInt(7800))
	assert.True(t, ok)
	assert.Equal(t, "0.78", ratio.String())

	_, ok = HealthRatio(new(uint256.Int).SetAllOne())
	assert.False(t, ok)
	_, ok = HealthRatio(nil)
	assert.False(t, ok)

	// One below the sentinel is still a real ratio.
	ratio, ok = HealthRatio(new(uint256.Int).SubUint64(new(uint256.Int).SetAllOne(), 1))
	assert.True(t, ok)
	assert.True(t, ratio.IsPositive())
}

func TestValidateAmount(t *testing.T) {
	assert.NoError(t, ValidateAmount(decimal.NewFromInt(5), "deposit"))
	assert.Error(t, ValidateAmount(decimal.Zero, "deposit"))
	assert.Error(t, ValidateAmount(decimal.New(1, 61), "deposit"))
}
