package math

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int    // Number of decimal places
	Scale            uint64 // 10^DecimalPrecision
}

// FeedConfig is the precision of oracle answers.
var FeedConfig = DecimalConfig{DecimalPrecision: 8, Scale: 100_000_000}

const (
	// Precision is the 18-decimal fixed-point one.
	Precision uint64 = 1_000_000_000_000_000_000

	// AdditionalFeedPrecision lifts an 8-decimal oracle answer to 18 decimals.
	AdditionalFeedPrecision uint64 = 10_000_000_000

	// LiquidationThreshold is the share of collateral value (in percent) that
	// counts toward solvency.
	LiquidationThreshold uint64 = 50
	LiquidationPrecision uint64 = 100

	// LiquidationBonus is the percent of seized collateral awarded on top.
	LiquidationBonus uint64 = 10
)

var (
	ErrOverflow       = errors.New("fixed point: arithmetic overflow")
	ErrDivideByZero   = errors.New("fixed point: division by zero")
	ErrInvalidDecimal = errors.New("fixed point: invalid decimal amount")
)

// MinHealthFactor returns 1.0 in 18-decimal fixed point.
func MinHealthFactor() *uint256.Int {
	return uint256.NewInt(Precision)
}

// MaxHealthFactor is reported for accounts without debt.
func MaxHealthFactor() *uint256.Int {
	return new(uint256.Int).SetAllOne()
}

// MulDiv computes x * y / d with a 512-bit intermediate, truncating toward zero.
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivideByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Mul computes x * y and fails on 256-bit overflow.
func Mul(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Add computes x + y and fails on 256-bit overflow.
func Add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Sub computes x - y. ok is false when y > x; the ledger maps that to an
// insufficient-balance error rather than wrapping.
func Sub(x, y *uint256.Int) (z *uint256.Int, ok bool) {
	z, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return nil, false
	}
	return z, true
}

// ParseAmount parses a base-10 integer string (already in the smallest unit).
func ParseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidDecimal, s, err)
	}
	return v, nil
}

// FromBig converts a non-negative big.Int, failing if it does not fit.
func FromBig(b *big.Int) (*uint256.Int, error) {
	if b == nil || b.Sign() < 0 {
		return nil, ErrInvalidDecimal
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return nil, ErrOverflow
	}
	return v, nil
}

// Clone returns a copy, treating nil as zero.
func Clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
