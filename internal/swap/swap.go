// Package swap walks a pool's initialized ticks in the trade direction, computing
// each constant-liquidity step and the fee and liquidity changes at every crossing.
package swap

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"liquidityEngine/internal/fixedpoint"
	"liquidityEngine/internal/liquidity"
	"liquidityEngine/internal/pool"
	"liquidityEngine/internal/reward"
	"liquidityEngine/internal/tick"
	"liquidityEngine/internal/tickmath"
)

var (
	ErrZeroTradableAmount        = errors.New("zero tradable amount")
	ErrSqrtPriceLimitOutOfBounds = errors.New("sqrt price limit out of bounds")
	ErrInvalidSqrtPriceLimit     = errors.New("sqrt price limit on wrong side of current price")
	ErrInsufficientLiquidity     = errors.New("insufficient liquidity")
	ErrAmountCalcOverflow        = errors.New("swap amount overflow")
	ErrAmountRemainingOverflow   = errors.New("swap amount remaining overflow")
)

// Params describes one swap against one pool.
type Params struct {
	Amount                 uint64
	AmountSpecifiedIsInput bool
	AToB                   bool
	// SqrtPriceLimit stops the swap at this price. Nil or zero means the global
	// bound in the swap direction.
	SqrtPriceLimit *uint256.Int
	Timestamp      uint64
	// ReferralFeeRate is the referrer's cut of every step fee, taken before the
	// protocol share, in pool.ProtocolFeeRateDenominator units.
	ReferralFeeRate uint16
}

// Crossing is the updated state of a tick crossed during the swap.
type Crossing struct {
	Index int32
	Tick  tick.Tick
}

// Result is the outcome of a swap. It is applied to the pool and pages only once the
// enclosing operation succeeds.
type Result struct {
	AmountA uint64
	AmountB uint64
	// FeeAmount is the total trading fee, protocol share included.
	FeeAmount   uint64
	ProtocolFee uint64
	// ReferralFee is the part of FeeAmount owed to the referrer. It stays out of fee
	// growth and the protocol bucket.
	ReferralFee uint64
	// PartialFill is set when the price limit stopped the swap before the amount
	// was consumed.
	PartialFill bool

	Liquidity       *uint256.Int
	TickIndex       int32
	SqrtPrice       *uint256.Int
	FeeGrowthGlobal *uint256.Int
	RewardInfos     [pool.NumRewards]pool.RewardInfo
	Crossings       []Crossing
	AToB            bool
}

// AmountIn returns the amount the trader pays.
func (r Result) AmountIn() uint64 {
	if r.AToB {
		return r.AmountA
	}
	return r.AmountB
}

// AmountOut returns the amount the trader receives.
func (r Result) AmountOut() uint64 {
	if r.AToB {
		return r.AmountB
	}
	return r.AmountA
}

// Update converts the result into the pool update it implies.
func (r Result) Update(ts uint64) pool.SwapUpdate {
	return pool.SwapUpdate{
		Liquidity:       r.Liquidity,
		TickIndex:       r.TickIndex,
		SqrtPrice:       r.SqrtPrice,
		FeeGrowthGlobal: r.FeeGrowthGlobal,
		RewardInfos:     r.RewardInfos,
		ProtocolFee:     r.ProtocolFee,
		AToB:            r.AToB,
		Timestamp:       ts,
	}
}

// Swap runs params against p, reading ticks from seq. Neither p nor seq is modified.
func Swap(p *pool.Pool, seq *tick.Sequence, params Params) (Result, error) {
	limit, explicitLimit, err := resolveLimit(&p.SqrtPrice, params.SqrtPriceLimit, params.AToB)
	if err != nil {
		return Result{}, err
	}
	if params.Amount == 0 {
		return Result{}, ErrZeroTradableAmount
	}
	if params.ReferralFeeRate > pool.MaxReferralFeeRate {
		return Result{}, pool.ErrReferralFeeRateTooHigh
	}

	rewardInfos, err := reward.NextRewardInfos(p, params.Timestamp)
	if err != nil {
		return Result{}, err
	}

	aToB := params.AToB
	isInput := params.AmountSpecifiedIsInput
	remaining := params.Amount
	var calculated, protocolFee, referralFee, totalFee uint64

	currPrice := new(uint256.Int).Set(&p.SqrtPrice)
	currTick := p.TickCurrentIndex
	currLiquidity := new(uint256.Int).Set(&p.Liquidity)
	feeGrowth := new(uint256.Int).Set(&p.FeeGrowthGlobalB)
	if aToB {
		feeGrowth.Set(&p.FeeGrowthGlobalA)
	}
	var crossings []Crossing
	pageIndex := 0

	for remaining > 0 && !currPrice.Eq(limit) {
		nextPage, nextTick, initialized, err := seq.NextInitializedTick(pageIndex, currTick)
		if err != nil {
			return Result{}, err
		}
		nextTickPrice, err := tickmath.SqrtPriceAtTick(nextTick)
		if err != nil {
			return Result{}, err
		}

		target := nextTickPrice
		if (aToB && limit.Gt(nextTickPrice)) || (!aToB && limit.Lt(nextTickPrice)) {
			target = limit
		}

		step, err := ComputeStep(remaining, p.FeeRate, currLiquidity, currPrice, target, isInput, aToB)
		if err != nil {
			return Result{}, fmt.Errorf("swap step at tick %d: %w", currTick, err)
		}

		if isInput {
			spent, ok := addUint64(step.AmountIn, step.FeeAmount)
			if !ok || spent > remaining {
				return Result{}, ErrAmountRemainingOverflow
			}
			remaining -= spent
			if calculated, ok = addUint64(calculated, step.AmountOut); !ok {
				return Result{}, ErrAmountCalcOverflow
			}
		} else {
			if step.AmountOut > remaining {
				return Result{}, ErrAmountRemainingOverflow
			}
			remaining -= step.AmountOut
			spent, ok := addUint64(step.AmountIn, step.FeeAmount)
			if !ok {
				return Result{}, ErrAmountCalcOverflow
			}
			if calculated, ok = addUint64(calculated, spent); !ok {
				return Result{}, ErrAmountCalcOverflow
			}
		}

		if totalFee, err = checkedAdd(totalFee, step.FeeAmount); err != nil {
			return Result{}, err
		}
		stepReferral, err := fixedpoint.MulDivUint64(
			step.FeeAmount, uint64(params.ReferralFeeRate), pool.ProtocolFeeRateDenominator, fixedpoint.RoundDown)
		if err != nil {
			return Result{}, err
		}
		if referralFee, err = checkedAdd(referralFee, stepReferral); err != nil {
			return Result{}, err
		}
		protocolFee, feeGrowth, err = splitFee(step.FeeAmount-stepReferral, p.ProtocolFeeRate, currLiquidity, protocolFee, feeGrowth)
		if err != nil {
			return Result{}, err
		}

		if step.NextSqrtPrice.Eq(nextTickPrice) {
			if initialized {
				crossed, err := seq.Tick(nextPage, nextTick)
				if err != nil {
					return Result{}, err
				}
				globals := tick.Globals{RewardInfos: rewardInfos}
				if aToB {
					globals.FeeGrowthA, globals.FeeGrowthB = *feeGrowth, p.FeeGrowthGlobalB
				} else {
					globals.FeeGrowthA, globals.FeeGrowthB = p.FeeGrowthGlobalA, *feeGrowth
				}
				crossings = append(crossings, Crossing{Index: nextTick, Tick: tick.NextCrossUpdate(*crossed, globals)})

				net := &crossed.LiquidityNet
				if aToB {
					net = fixedpoint.Negate(net)
				}
				if currLiquidity, err = liquidity.AddDelta(currLiquidity, net); err != nil {
					return Result{}, fmt.Errorf("cross tick %d: %w", nextTick, err)
				}
			}
			// Below a crossed tick the pool sits one tick lower, so the tick counts as above.
			currTick = nextTick
			if aToB {
				currTick = nextTick - 1
			}
		} else if !step.NextSqrtPrice.Eq(currPrice) {
			if currTick, err = tickmath.TickAtSqrtPrice(step.NextSqrtPrice); err != nil {
				return Result{}, err
			}
		}
		currPrice = step.NextSqrtPrice
		pageIndex = nextPage
	}

	if remaining > 0 && !explicitLimit && currPrice.Eq(limit) {
		return Result{}, fmt.Errorf("%w: %d of %d unfilled", ErrInsufficientLiquidity, remaining, params.Amount)
	}

	res := Result{
		FeeAmount:       totalFee,
		ProtocolFee:     protocolFee,
		ReferralFee:     referralFee,
		PartialFill:     remaining > 0,
		Liquidity:       currLiquidity,
		TickIndex:       currTick,
		SqrtPrice:       currPrice,
		FeeGrowthGlobal: feeGrowth,
		RewardInfos:     rewardInfos,
		Crossings:       crossings,
		AToB:            aToB,
	}
	if aToB == isInput {
		res.AmountA, res.AmountB = params.Amount-remaining, calculated
	} else {
		res.AmountA, res.AmountB = calculated, params.Amount-remaining
	}
	return res, nil
}

// resolveLimit defaults a missing limit to the global bound and checks it lies
// strictly beyond the current price in the swap direction.
func resolveLimit(current, limit *uint256.Int, aToB bool) (*uint256.Int, bool, error) {
	if limit == nil || limit.IsZero() {
		if aToB {
			limit = tickmath.MinSqrtPrice
		} else {
			limit = tickmath.MaxSqrtPrice
		}
		if limit.Eq(current) {
			return nil, false, fmt.Errorf("%w: price already at bound", ErrInvalidSqrtPriceLimit)
		}
		return limit, false, nil
	}

	if err := tickmath.CheckSqrtPrice(limit); err != nil {
		return nil, true, ErrSqrtPriceLimitOutOfBounds
	}
	if (aToB && !limit.Lt(current)) || (!aToB && !limit.Gt(current)) {
		return nil, true, ErrInvalidSqrtPriceLimit
	}
	return limit, true, nil
}

// splitFee takes the protocol share of a step fee and grows the per-unit fee
// accumulator with the rest. With no active liquidity the whole fee goes to the
// protocol.
func splitFee(
	fee uint64,
	protocolFeeRate uint16,
	liq *uint256.Int,
	protocolFee uint64,
	feeGrowth *uint256.Int,
) (uint64, *uint256.Int, error) {
	if fee == 0 {
		return protocolFee, feeGrowth, nil
	}
	protocolShare, err := fixedpoint.MulDivUint64(fee, uint64(protocolFeeRate), pool.ProtocolFeeRateDenominator, fixedpoint.RoundDown)
	if err != nil {
		return 0, nil, err
	}
	lpFee := fee - protocolShare

	if liq.IsZero() {
		protocolShare, lpFee = fee, 0
	}
	next, err := checkedAdd(protocolFee, protocolShare)
	if err != nil {
		return 0, nil, err
	}
	if lpFee == 0 {
		return next, feeGrowth, nil
	}

	growth := new(uint256.Int).Lsh(uint256.NewInt(lpFee), fixedpoint.Resolution)
	growth.Div(growth, liq)
	return next, fixedpoint.WrappingAdd(feeGrowth, growth), nil
}

func addUint64(a, b uint64) (uint64, bool) {
	sum := a + b
	return sum, sum >= a
}

func checkedAdd(a, b uint64) (uint64, error) {
	sum, ok := addUint64(a, b)
	if !ok {
		return 0, ErrAmountCalcOverflow
	}
	return sum, nil
}
