package swap

import (
	"github.com/holiman/uint256"

	"liquidityEngine/internal/fixedpoint"
	"liquidityEngine/internal/liquidity"
	"liquidityEngine/internal/pool"
)

// Step is the outcome of swapping within a single price interval.
type Step struct {
	AmountIn      uint64
	AmountOut     uint64
	FeeAmount     uint64
	NextSqrtPrice *uint256.Int
}

// ComputeStep swaps as much of amountRemaining as fits between the current and target
// prices at constant liquidity. In exact-input mode the fee is taken from the budget
// before the price moves; in exact-output mode it is added on top of the input.
func ComputeStep(
	amountRemaining uint64,
	feeRate uint16,
	liq *uint256.Int,
	sqrtPriceCurrent *uint256.Int,
	sqrtPriceTarget *uint256.Int,
	amountSpecifiedIsInput bool,
	aToB bool,
) (Step, error) {
	fixedDelta, err := fixedAmountDelta(sqrtPriceCurrent, sqrtPriceTarget, liq, amountSpecifiedIsInput, aToB)
	if err != nil {
		return Step{}, err
	}

	amountCalc := amountRemaining
	if amountSpecifiedIsInput {
		amountCalc, err = fixedpoint.MulDivUint64(
			amountRemaining, pool.FeeRateDenominator-uint64(feeRate), pool.FeeRateDenominator, fixedpoint.RoundDown)
		if err != nil {
			return Step{}, err
		}
	}

	var nextSqrtPrice *uint256.Int
	if !fixedDelta.Gt(uint256.NewInt(amountCalc)) {
		nextSqrtPrice = new(uint256.Int).Set(sqrtPriceTarget)
	} else {
		nextSqrtPrice, err = liquidity.NextSqrtPrice(sqrtPriceCurrent, liq, amountCalc, amountSpecifiedIsInput, aToB)
		if err != nil {
			return Step{}, err
		}
	}
	isMaxSwap := nextSqrtPrice.Eq(sqrtPriceTarget)

	unfixedDelta, err := unfixedAmountDelta(sqrtPriceCurrent, nextSqrtPrice, liq, amountSpecifiedIsInput, aToB)
	if err != nil {
		return Step{}, err
	}
	if !isMaxSwap {
		fixedDelta, err = fixedAmountDelta(sqrtPriceCurrent, nextSqrtPrice, liq, amountSpecifiedIsInput, aToB)
		if err != nil {
			return Step{}, err
		}
	}
	fixed, err := fixedpoint.ToUint64(fixedDelta)
	if err != nil {
		return Step{}, err
	}

	step := Step{NextSqrtPrice: nextSqrtPrice}
	if amountSpecifiedIsInput {
		step.AmountIn, step.AmountOut = fixed, unfixedDelta
	} else {
		step.AmountIn, step.AmountOut = unfixedDelta, fixed
		step.AmountOut = min(step.AmountOut, amountRemaining)
	}

	if amountSpecifiedIsInput && !isMaxSwap {
		step.FeeAmount = amountRemaining - step.AmountIn
	} else {
		step.FeeAmount, err = fixedpoint.MulDivUint64(
			step.AmountIn, uint64(feeRate), pool.FeeRateDenominator-uint64(feeRate), fixedpoint.RoundUp)
		if err != nil {
			return Step{}, err
		}
	}
	return step, nil
}

// fixedAmountDelta is the delta of the token whose amount the caller specified:
// the input rounded up, or the output rounded down. It may exceed uint64.
func fixedAmountDelta(from, to, liq *uint256.Int, amountSpecifiedIsInput, aToB bool) (*uint256.Int, error) {
	if aToB == amountSpecifiedIsInput {
		return liquidity.AmountADeltaWide(from, to, liq, roundingFor(amountSpecifiedIsInput))
	}
	return liquidity.AmountBDeltaWide(from, to, liq, roundingFor(amountSpecifiedIsInput))
}

// unfixedAmountDelta is the delta of the other token, rounded against the trader.
func unfixedAmountDelta(from, to, liq *uint256.Int, amountSpecifiedIsInput, aToB bool) (uint64, error) {
	if aToB == amountSpecifiedIsInput {
		return liquidity.AmountBDelta(from, to, liq, roundingFor(!amountSpecifiedIsInput))
	}
	return liquidity.AmountADelta(from, to, liq, roundingFor(!amountSpecifiedIsInput))
}

func roundingFor(isInputSide bool) fixedpoint.Rounding {
	if isInputSide {
		return fixedpoint.RoundUp
	}
	return fixedpoint.RoundDown
}
