package liquidity

import (
	"github.com/holiman/uint256"

	"liquidityEngine/internal/fixedpoint"
	"liquidityEngine/internal/tickmath"
)

// NextSqrtPrice moves sqrtPrice by amount of the token the swap fixes. Exact-input a->b
// and exact-output b->a move along token A; the other two cases move along token B.
func NextSqrtPrice(sqrtPrice, liquidity *uint256.Int, amount uint64, amountSpecifiedIsInput, aToB bool) (*uint256.Int, error) {
	if amountSpecifiedIsInput == aToB {
		return NextSqrtPriceFromAmountA(sqrtPrice, liquidity, amount, amountSpecifiedIsInput)
	}
	return NextSqrtPriceFromAmountB(sqrtPrice, liquidity, amount, amountSpecifiedIsInput)
}

// NextSqrtPriceFromAmountA returns L*P / (L ± amount*P) in Q64.64, rounded up so the
// price never moves further than the amount pays for.
func NextSqrtPriceFromAmountA(sqrtPrice, liquidity *uint256.Int, amount uint64, add bool) (*uint256.Int, error) {
	if amount == 0 {
		return new(uint256.Int).Set(sqrtPrice), nil
	}

	product := new(uint256.Int).Mul(sqrtPrice, uint256.NewInt(amount))
	numerator, err := fixedpoint.ShiftLeft(liquidity)
	if err != nil {
		return nil, err
	}

	var denominator *uint256.Int
	if add {
		denominator, err = fixedpoint.CheckedAdd(numerator, product)
		if err != nil {
			return nil, err
		}
	} else {
		if !numerator.Gt(product) {
			return nil, tickmath.ErrSqrtPriceOutOfRange
		}
		denominator = new(uint256.Int).Sub(numerator, product)
	}

	next, err := fixedpoint.MulDiv(numerator, sqrtPrice, denominator, fixedpoint.RoundUp)
	if err != nil {
		return nil, err
	}
	if err := fixedpoint.CheckU128(next); err != nil {
		return nil, err
	}
	return next, nil
}

// NextSqrtPriceFromAmountB returns P ± amount/L in Q64.64. The quotient rounds down
// when the price rises and up when it falls.
func NextSqrtPriceFromAmountB(sqrtPrice, liquidity *uint256.Int, amount uint64, add bool) (*uint256.Int, error) {
	amountX64 := new(uint256.Int).Lsh(uint256.NewInt(amount), fixedpoint.Resolution)

	if add {
		delta, err := fixedpoint.Div(amountX64, liquidity, fixedpoint.RoundDown)
		if err != nil {
			return nil, err
		}
		next, err := fixedpoint.CheckedAdd(sqrtPrice, delta)
		if err != nil {
			return nil, err
		}
		if err := fixedpoint.CheckU128(next); err != nil {
			return nil, err
		}
		return next, nil
	}

	delta, err := fixedpoint.Div(amountX64, liquidity, fixedpoint.RoundUp)
	if err != nil {
		return nil, err
	}
	if !sqrtPrice.Gt(delta) {
		return nil, tickmath.ErrSqrtPriceOutOfRange
	}
	return new(uint256.Int).Sub(sqrtPrice, delta), nil
}
