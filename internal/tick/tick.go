package tick

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"liquidityEngine/internal/fixedpoint"
	"liquidityEngine/internal/liquidity"
	"liquidityEngine/internal/pool"
	"liquidityEngine/internal/tickmath"
)

var (
	ErrLiquidityNet = errors.New("tick liquidity net out of range")
	// ErrLiquidityCapExceeded matches liquidity.ErrLiquidityOverflow under errors.Is.
	ErrLiquidityCapExceeded = fmt.Errorf("%w: tick gross liquidity cap exceeded", liquidity.ErrLiquidityOverflow)
)

// Tick is one slot of a page. LiquidityNet is signed (two's complement).
type Tick struct {
	Initialized          bool
	LiquidityNet         uint256.Int
	LiquidityGross       uint256.Int
	FeeGrowthOutsideA    uint256.Int
	FeeGrowthOutsideB    uint256.Int
	RewardGrowthsOutside [pool.NumRewards]uint256.Int
}

// Globals is the pool-wide growth state that tick updates read.
type Globals struct {
	FeeGrowthA  uint256.Int
	FeeGrowthB  uint256.Int
	RewardInfos [pool.NumRewards]pool.RewardInfo
}

// GlobalsOf snapshots the growth state of p.
func GlobalsOf(p *pool.Pool) Globals {
	return Globals{
		FeeGrowthA:  p.FeeGrowthGlobalA,
		FeeGrowthB:  p.FeeGrowthGlobalB,
		RewardInfos: p.RewardInfos,
	}
}

// MaxLiquidityPerTick caps liquidityGross so that every usable tick at full gross
// still sums below 2^128.
func MaxLiquidityPerTick(spacing uint16) *uint256.Int {
	lower, upper := tickmath.FullRangeTicks(spacing)
	numTicks := uint64((upper-lower)/int32(spacing)) + 1
	return new(uint256.Int).Div(fixedpoint.MaxU128(), uint256.NewInt(numTicks))
}

// NextCrossUpdate flips every "outside" accumulator against the current globals.
// It must run on every crossing in either direction.
func NextCrossUpdate(t Tick, g Globals) Tick {
	next := t
	next.FeeGrowthOutsideA = *fixedpoint.WrappingSub(&g.FeeGrowthA, &t.FeeGrowthOutsideA)
	next.FeeGrowthOutsideB = *fixedpoint.WrappingSub(&g.FeeGrowthB, &t.FeeGrowthOutsideB)
	for i, info := range g.RewardInfos {
		if !info.Initialized() {
			continue
		}
		next.RewardGrowthsOutside[i] = *fixedpoint.WrappingSub(&info.GrowthGlobalX64, &t.RewardGrowthsOutside[i])
	}
	return next
}

// NextModifyUpdate applies a signed liquidity delta to the tick at tickIndex, which
// bounds a position on its lower or upper side.
func NextModifyUpdate(
	t Tick,
	tickIndex int32,
	tickCurrent int32,
	g Globals,
	delta *uint256.Int,
	isUpper bool,
	maxGross *uint256.Int,
) (Tick, error) {
	if delta.IsZero() {
		return t, nil
	}

	gross, err := liquidity.AddDelta(&t.LiquidityGross, delta)
	if err != nil {
		return Tick{}, err
	}
	if gross.IsZero() {
		return Tick{}, nil
	}
	if maxGross != nil && gross.Gt(maxGross) {
		return Tick{}, ErrLiquidityCapExceeded
	}

	next := t
	if t.LiquidityGross.IsZero() {
		// By convention all growth so far happened below the tick.
		if tickCurrent >= tickIndex {
			next.FeeGrowthOutsideA = g.FeeGrowthA
			next.FeeGrowthOutsideB = g.FeeGrowthB
			for i, info := range g.RewardInfos {
				if info.Initialized() {
					next.RewardGrowthsOutside[i] = info.GrowthGlobalX64
				} else {
					next.RewardGrowthsOutside[i].Clear()
				}
			}
		} else {
			next.FeeGrowthOutsideA.Clear()
			next.FeeGrowthOutsideB.Clear()
			next.RewardGrowthsOutside = [pool.NumRewards]uint256.Int{}
		}
	}

	var net *uint256.Int
	if isUpper {
		net, err = fixedpoint.SignedSub(&t.LiquidityNet, delta)
	} else {
		net, err = fixedpoint.SignedAdd(&t.LiquidityNet, delta)
	}
	if err != nil {
		return Tick{}, fmt.Errorf("%w: %v", ErrLiquidityNet, err)
	}

	next.Initialized = true
	next.LiquidityGross = *gross
	next.LiquidityNet = *net
	return next, nil
}

// FeeGrowthsInside returns global fee growth minus the growth below the lower tick and
// above the upper tick, modulo 2^128.
func FeeGrowthsInside(
	tickCurrent int32,
	lower Tick,
	lowerIndex int32,
	upper Tick,
	upperIndex int32,
	feeGrowthGlobalA *uint256.Int,
	feeGrowthGlobalB *uint256.Int,
) (*uint256.Int, *uint256.Int) {
	belowA, belowB := growthBelow(tickCurrent, lower, lowerIndex, &lower.FeeGrowthOutsideA, feeGrowthGlobalA),
		growthBelow(tickCurrent, lower, lowerIndex, &lower.FeeGrowthOutsideB, feeGrowthGlobalB)
	aboveA, aboveB := growthAbove(tickCurrent, upper, upperIndex, &upper.FeeGrowthOutsideA, feeGrowthGlobalA),
		growthAbove(tickCurrent, upper, upperIndex, &upper.FeeGrowthOutsideB, feeGrowthGlobalB)

	insideA := fixedpoint.WrappingSub(fixedpoint.WrappingSub(feeGrowthGlobalA, belowA), aboveA)
	insideB := fixedpoint.WrappingSub(fixedpoint.WrappingSub(feeGrowthGlobalB, belowB), aboveB)
	return insideA, insideB
}

// RewardGrowthsInside is FeeGrowthsInside for each initialized reward stream;
// uninitialized streams report zero.
func RewardGrowthsInside(
	tickCurrent int32,
	lower Tick,
	lowerIndex int32,
	upper Tick,
	upperIndex int32,
	infos [pool.NumRewards]pool.RewardInfo,
) [pool.NumRewards]uint256.Int {
	var out [pool.NumRewards]uint256.Int
	for i, info := range infos {
		if !info.Initialized() {
			continue
		}
		global := &info.GrowthGlobalX64
		below := growthBelow(tickCurrent, lower, lowerIndex, &lower.RewardGrowthsOutside[i], global)
		above := growthAbove(tickCurrent, upper, upperIndex, &upper.RewardGrowthsOutside[i], global)
		out[i] = *fixedpoint.WrappingSub(fixedpoint.WrappingSub(global, below), above)
	}
	return out
}

func growthBelow(tickCurrent int32, lower Tick, lowerIndex int32, outside, global *uint256.Int) *uint256.Int {
	switch {
	case !lower.Initialized:
		return global
	case tickCurrent < lowerIndex:
		return fixedpoint.WrappingSub(global, outside)
	default:
		return outside
	}
}

func growthAbove(tickCurrent int32, upper Tick, upperIndex int32, outside, global *uint256.Int) *uint256.Int {
	switch {
	case !upper.Initialized:
		return new(uint256.Int)
	case tickCurrent < upperIndex:
		return outside
	default:
		return fixedpoint.WrappingSub(global, outside)
	}
}
