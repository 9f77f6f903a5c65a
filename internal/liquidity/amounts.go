package liquidity

import (
	"fmt"

	"github.com/holiman/uint256"

	"liquidityEngine/internal/fixedpoint"
	"liquidityEngine/internal/tickmath"
)

// AmountADeltaWide returns L * (upper - lower) * 2^64 / (upper * lower) without
// narrowing, so callers can tell "more than any uint64 amount" apart from a hard failure.
func AmountADeltaWide(sqrtPriceA, sqrtPriceB, liquidity *uint256.Int, rounding fixedpoint.Rounding) (*uint256.Int, error) {
	lower, upper := ordered(sqrtPriceA, sqrtPriceB)
	if lower.IsZero() {
		return nil, fixedpoint.ErrDivisionByZero
	}

	numerator, err := fixedpoint.ShiftLeft(liquidity)
	if err != nil {
		return nil, err
	}
	diff := new(uint256.Int).Sub(upper, lower)
	denominator := new(uint256.Int).Mul(lower, upper)
	return fixedpoint.MulDiv(numerator, diff, denominator, rounding)
}

// AmountBDeltaWide returns L * (upper - lower) / 2^64.
func AmountBDeltaWide(sqrtPriceA, sqrtPriceB, liquidity *uint256.Int, rounding fixedpoint.Rounding) (*uint256.Int, error) {
	lower, upper := ordered(sqrtPriceA, sqrtPriceB)
	diff := new(uint256.Int).Sub(upper, lower)
	return fixedpoint.MulShiftRight(liquidity, diff, rounding)
}

// AmountADelta is AmountADeltaWide narrowed to a token amount.
func AmountADelta(sqrtPriceA, sqrtPriceB, liquidity *uint256.Int, rounding fixedpoint.Rounding) (uint64, error) {
	wide, err := AmountADeltaWide(sqrtPriceA, sqrtPriceB, liquidity, rounding)
	if err != nil {
		return 0, fmt.Errorf("amount a delta: %w", err)
	}
	amount, err := fixedpoint.ToUint64(wide)
	if err != nil {
		return 0, fmt.Errorf("amount a delta: %w", err)
	}
	return amount, nil
}

// AmountBDelta is AmountBDeltaWide narrowed to a token amount.
func AmountBDelta(sqrtPriceA, sqrtPriceB, liquidity *uint256.Int, rounding fixedpoint.Rounding) (uint64, error) {
	wide, err := AmountBDeltaWide(sqrtPriceA, sqrtPriceB, liquidity, rounding)
	if err != nil {
		return 0, fmt.Errorf("amount b delta: %w", err)
	}
	amount, err := fixedpoint.ToUint64(wide)
	if err != nil {
		return 0, fmt.Errorf("amount b delta: %w", err)
	}
	return amount, nil
}

// Amounts returns the token amounts spanned by liquidity over [tickLower, tickUpper)
// with the pool at (tickCurrent, sqrtPrice). The current price replaces one bound when
// it lies inside the range.
func Amounts(
	tickCurrent int32,
	sqrtPrice *uint256.Int,
	tickLower int32,
	tickUpper int32,
	liquidity *uint256.Int,
	rounding fixedpoint.Rounding,
) (uint64, uint64, error) {
	sqrtLower, err := tickmath.SqrtPriceAtTick(tickLower)
	if err != nil {
		return 0, 0, err
	}
	sqrtUpper, err := tickmath.SqrtPriceAtTick(tickUpper)
	if err != nil {
		return 0, 0, err
	}

	var amountA, amountB uint64
	switch {
	case tickCurrent < tickLower:
		amountA, err = AmountADelta(sqrtLower, sqrtUpper, liquidity, rounding)
	case tickCurrent < tickUpper:
		amountA, err = AmountADelta(sqrtPrice, sqrtUpper, liquidity, rounding)
		if err == nil {
			amountB, err = AmountBDelta(sqrtLower, sqrtPrice, liquidity, rounding)
		}
	default:
		amountB, err = AmountBDelta(sqrtLower, sqrtUpper, liquidity, rounding)
	}
	if err != nil {
		return 0, 0, err
	}
	return amountA, amountB, nil
}

func ordered(a, b *uint256.Int) (*uint256.Int, *uint256.Int) {
	if a.Gt(b) {
		return b, a
	}
	return a, b
}
