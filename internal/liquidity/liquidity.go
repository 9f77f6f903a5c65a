package liquidity

import (
	"errors"

	"github.com/holiman/uint256"

	"liquidityEngine/internal/fixedpoint"
	"liquidityEngine/internal/tickmath"
)

var (
	ErrLiquidityOverflow  = errors.New("liquidity overflow")
	ErrLiquidityUnderflow = errors.New("liquidity underflow")
)

// AddDelta applies a signed delta to an unsigned liquidity value.
func AddDelta(liquidity, delta *uint256.Int) (*uint256.Int, error) {
	if delta.Sign() < 0 {
		abs := fixedpoint.Abs(delta)
		if liquidity.Lt(abs) {
			return nil, ErrLiquidityUnderflow
		}
		return new(uint256.Int).Sub(liquidity, abs), nil
	}

	next := new(uint256.Int).Add(liquidity, delta)
	if next.BitLen() > 128 {
		return nil, ErrLiquidityOverflow
	}
	return next, nil
}

// FromAmountA returns the liquidity that amount of token A buys over the price range,
// amount * lower * upper / ((upper - lower) * 2^64), rounded down.
func FromAmountA(sqrtPriceA, sqrtPriceB *uint256.Int, amount uint64) (*uint256.Int, error) {
	lower, upper := ordered(sqrtPriceA, sqrtPriceB)
	diff := new(uint256.Int).Sub(upper, lower)
	if diff.IsZero() {
		return nil, fixedpoint.ErrDivisionByZero
	}
	denominator, err := fixedpoint.ShiftLeft(diff)
	if err != nil {
		return nil, err
	}
	scaled := new(uint256.Int).Mul(uint256.NewInt(amount), lower)
	out, err := fixedpoint.MulDiv(scaled, upper, denominator, fixedpoint.RoundDown)
	if err != nil {
		return nil, err
	}
	if out.BitLen() > 128 {
		return nil, ErrLiquidityOverflow
	}
	return out, nil
}

// FromAmountB returns amount * 2^64 / (upper - lower), rounded down.
func FromAmountB(sqrtPriceA, sqrtPriceB *uint256.Int, amount uint64) (*uint256.Int, error) {
	lower, upper := ordered(sqrtPriceA, sqrtPriceB)
	diff := new(uint256.Int).Sub(upper, lower)
	amountX64 := new(uint256.Int).Lsh(uint256.NewInt(amount), fixedpoint.Resolution)
	out, err := fixedpoint.Div(amountX64, diff, fixedpoint.RoundDown)
	if err != nil {
		return nil, err
	}
	if out.BitLen() > 128 {
		return nil, ErrLiquidityOverflow
	}
	return out, nil
}

// FromAmounts returns the largest liquidity that both token budgets cover for a
// position over [tickLower, tickUpper) at the current price.
func FromAmounts(
	tickCurrent int32,
	sqrtPrice *uint256.Int,
	tickLower int32,
	tickUpper int32,
	amountA uint64,
	amountB uint64,
) (*uint256.Int, error) {
	sqrtLower, err := tickmath.SqrtPriceAtTick(tickLower)
	if err != nil {
		return nil, err
	}
	sqrtUpper, err := tickmath.SqrtPriceAtTick(tickUpper)
	if err != nil {
		return nil, err
	}

	switch {
	case tickCurrent < tickLower:
		return FromAmountA(sqrtLower, sqrtUpper, amountA)
	case tickCurrent < tickUpper:
		fromA, err := FromAmountA(sqrtPrice, sqrtUpper, amountA)
		if err != nil {
			return nil, err
		}
		if sqrtPrice.Eq(sqrtLower) {
			return fromA, nil
		}
		fromB, err := FromAmountB(sqrtLower, sqrtPrice, amountB)
		if err != nil {
			return nil, err
		}
		if fromA.Lt(fromB) {
			return fromA, nil
		}
		return fromB, nil
	default:
		return FromAmountB(sqrtLower, sqrtUpper, amountB)
	}
}
