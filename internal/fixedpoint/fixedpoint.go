// Package fixedpoint holds the scaled-integer helpers used for every ledger
// amount, price and index. Values are unsigned 256-bit integers; every
// operation is checked and every division truncates toward zero.
package fixedpoint

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

const (
	// ScaleDecimals is the number of decimals carried by indices and prices.
	ScaleDecimals = 18
	// BasisPointsUnit is the basis-point denominator (100%).
	BasisPointsUnit = 10_000
)

var (
	// ErrOverflow is returned when an intermediate or final result does not fit in 256 bits.
	ErrOverflow = errors.New("fixed-point overflow")
	// ErrUnderflow is returned when a subtraction would go below zero.
	ErrUnderflow = errors.New("fixed-point underflow")
	// ErrDivisionByZero is returned for any division by a zero denominator.
	ErrDivisionByZero = errors.New("fixed-point division by zero")
)

// Scale returns 1e18, the fixed-point unit for indices and prices.
func Scale() *uint256.Int {
	return uint256.NewInt(1_000_000_000_000_000_000)
}

// BasisPoints returns 10000.
func BasisPoints() *uint256.Int {
	return uint256.NewInt(BasisPointsUnit)
}

// Max returns the largest representable value.
func Max() *uint256.Int {
	return new(uint256.Int).SetAllOne()
}

// Zero returns a fresh zero value.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// New returns v as a fresh 256-bit value.
func New(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

// Clone copies x; a nil x yields zero.
func Clone(x *uint256.Int) *uint256.Int {
	if x == nil {
		return Zero()
	}
	return x.Clone()
}

// Units returns whole * 10^decimals, e.g. Units(10, 18) is ten 18-decimal tokens.
func Units(whole uint64, decimals uint8) *uint256.Int {
	exp := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
	out, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(whole), exp)
	if overflow {
		return Max()
	}
	return out
}

// Parse reads a base-10 integer string.
func Parse(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("parse %q: empty value", s)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", s, err)
	}
	return v, nil
}

// Add returns x + y.
func Add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Sub returns x - y, failing instead of wrapping.
func Sub(x, y *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return nil, ErrUnderflow
	}
	return z, nil
}

// SaturatingSub returns max(x - y, 0).
func SaturatingSub(x, y *uint256.Int) *uint256.Int {
	if x.Lt(y) {
		return Zero()
	}
	return new(uint256.Int).Sub(x, y)
}

// Mul returns x * y.
func Mul(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Div returns floor(x / d).
func Div(x, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}
	return new(uint256.Int).Div(x, d), nil
}

// MulDiv returns floor(x * y / d). The product is held in 512 bits, so only
// the final quotient has to fit.
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// MulBps returns floor(x * bps / 10000).
func MulBps(x *uint256.Int, bps uint64) (*uint256.Int, error) {
	return MulDiv(x, uint256.NewInt(bps), BasisPoints())
}

// Min returns the smaller of x and y (x on ties).
func Min(x, y *uint256.Int) *uint256.Int {
	if y.Lt(x) {
		return y.Clone()
	}
	return x.Clone()
}
