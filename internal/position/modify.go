package position

import (
	"fmt"

	"github.com/holiman/uint256"

	"liquidityEngine/internal/fixedpoint"
	"liquidityEngine/internal/liquidity"
	"liquidityEngine/internal/pool"
	"liquidityEngine/internal/reward"
	"liquidityEngine/internal/tick"
)

// Settle credits the fees and rewards earned since the last checkpoint at the
// current liquidity and moves every checkpoint to the given growth-inside values.
func Settle(
	pos Position,
	feeGrowthInsideA *uint256.Int,
	feeGrowthInsideB *uint256.Int,
	rewardGrowthsInside [pool.NumRewards]uint256.Int,
) (Position, error) {
	next := pos

	owedA, err := reward.OwedDelta(feeGrowthInsideA, &pos.FeeGrowthCheckpointA, &pos.Liquidity)
	if err != nil {
		return Position{}, fmt.Errorf("settle fee a: %w", err)
	}
	owedB, err := reward.OwedDelta(feeGrowthInsideB, &pos.FeeGrowthCheckpointB, &pos.Liquidity)
	if err != nil {
		return Position{}, fmt.Errorf("settle fee b: %w", err)
	}
	if next.FeeOwedA, err = reward.AddOwed(pos.FeeOwedA, owedA); err != nil {
		return Position{}, fmt.Errorf("settle fee a: %w", err)
	}
	if next.FeeOwedB, err = reward.AddOwed(pos.FeeOwedB, owedB); err != nil {
		return Position{}, fmt.Errorf("settle fee b: %w", err)
	}
	next.FeeGrowthCheckpointA = *feeGrowthInsideA
	next.FeeGrowthCheckpointB = *feeGrowthInsideB

	for i := range next.RewardInfos {
		inside := &rewardGrowthsInside[i]
		owed, err := reward.OwedDelta(inside, &pos.RewardInfos[i].GrowthInsideCheckpoint, &pos.Liquidity)
		if err != nil {
			return Position{}, fmt.Errorf("settle reward %d: %w", i, err)
		}
		if next.RewardInfos[i].AmountOwed, err = reward.AddOwed(pos.RewardInfos[i].AmountOwed, owed); err != nil {
			return Position{}, fmt.Errorf("settle reward %d: %w", i, err)
		}
		next.RewardInfos[i].GrowthInsideCheckpoint = *inside
	}
	return next, nil
}

// Bounds are the two ticks that bound a position, as currently stored.
type Bounds struct {
	Lower tick.Tick
	Upper tick.Tick
}

// ModifyResult is the full outcome of a liquidity change. Nothing is written back
// until the caller commits it.
type ModifyResult struct {
	Position      Position
	Bounds        Bounds
	PoolLiquidity *uint256.Int
	RewardInfos   [pool.NumRewards]pool.RewardInfo
	AmountA       uint64
	AmountB       uint64
}

// ModifyLiquidity accrues rewards, settles the position at its old liquidity, and
// then applies the signed delta to the position, its bounding ticks and the pool.
// Deposits round token amounts up and withdrawals round them down.
func ModifyLiquidity(p *pool.Pool, pos Position, bounds Bounds, delta *uint256.Int, ts uint64) (ModifyResult, error) {
	if pos.PoolID != p.ID {
		return ModifyResult{}, ErrPoolMismatch
	}
	if delta.IsZero() {
		return ModifyResult{}, ErrLiquidityZero
	}
	if err := p.CheckLPWindow(ts); err != nil {
		return ModifyResult{}, err
	}

	rewardInfos, err := reward.NextRewardInfos(p, ts)
	if err != nil {
		return ModifyResult{}, err
	}

	// Growth inside is read from the ticks before this change touches them.
	lower, upper := pos.TickLowerIndex, pos.TickUpperIndex
	feeInsideA, feeInsideB := tick.FeeGrowthsInside(
		p.TickCurrentIndex, bounds.Lower, lower, bounds.Upper, upper, &p.FeeGrowthGlobalA, &p.FeeGrowthGlobalB)
	rewardsInside := tick.RewardGrowthsInside(p.TickCurrentIndex, bounds.Lower, lower, bounds.Upper, upper, rewardInfos)

	settled, err := Settle(pos, feeInsideA, feeInsideB, rewardsInside)
	if err != nil {
		return ModifyResult{}, err
	}
	if delta.Sign() < 0 && settled.Liquidity.Lt(fixedpoint.Abs(delta)) {
		return ModifyResult{}, fmt.Errorf("%w: have %s, remove %s",
			ErrInsufficientLiquidity, settled.Liquidity.Dec(), fixedpoint.Abs(delta).Dec())
	}
	nextLiquidity, err := liquidity.AddDelta(&settled.Liquidity, delta)
	if err != nil {
		return ModifyResult{}, err
	}
	settled.Liquidity = *nextLiquidity

	globals := tick.Globals{FeeGrowthA: p.FeeGrowthGlobalA, FeeGrowthB: p.FeeGrowthGlobalB, RewardInfos: rewardInfos}
	maxGross := tick.MaxLiquidityPerTick(p.TickSpacing)
	nextLower, err := tick.NextModifyUpdate(bounds.Lower, lower, p.TickCurrentIndex, globals, delta, false, maxGross)
	if err != nil {
		return ModifyResult{}, fmt.Errorf("update lower tick %d: %w", lower, err)
	}
	nextUpper, err := tick.NextModifyUpdate(bounds.Upper, upper, p.TickCurrentIndex, globals, delta, true, maxGross)
	if err != nil {
		return ModifyResult{}, fmt.Errorf("update upper tick %d: %w", upper, err)
	}

	poolLiquidity, err := p.NextLiquidity(lower, upper, delta)
	if err != nil {
		return ModifyResult{}, fmt.Errorf("update pool liquidity: %w", err)
	}

	rounding := fixedpoint.RoundUp
	if delta.Sign() < 0 {
		rounding = fixedpoint.RoundDown
	}
	amountA, amountB, err := liquidity.Amounts(
		p.TickCurrentIndex, &p.SqrtPrice, lower, upper, fixedpoint.Abs(delta), rounding)
	if err != nil {
		return ModifyResult{}, err
	}

	return ModifyResult{
		Position:      settled,
		Bounds:        Bounds{Lower: nextLower, Upper: nextUpper},
		PoolLiquidity: poolLiquidity,
		RewardInfos:   rewardInfos,
		AmountA:       amountA,
		AmountB:       amountB,
	}, nil
}

// Increase adds liquidity and fails if the deposit exceeds either maximum.
func Increase(p *pool.Pool, pos Position, bounds Bounds, amount *uint256.Int, maxA, maxB uint64, ts uint64) (ModifyResult, error) {
	delta, err := fixedpoint.NewSigned(amount, false)
	if err != nil {
		return ModifyResult{}, fmt.Errorf("liquidity delta: %w", err)
	}
	res, err := ModifyLiquidity(p, pos, bounds, delta, ts)
	if err != nil {
		return ModifyResult{}, err
	}
	if res.AmountA > maxA || res.AmountB > maxB {
		return ModifyResult{}, fmt.Errorf("%w: need (%d, %d), max (%d, %d)",
			ErrTokenMaxExceeded, res.AmountA, res.AmountB, maxA, maxB)
	}
	return res, nil
}

// Decrease removes liquidity and fails if the withdrawal falls below either minimum.
func Decrease(p *pool.Pool, pos Position, bounds Bounds, amount *uint256.Int, minA, minB uint64, ts uint64) (ModifyResult, error) {
	delta, err := fixedpoint.NewSigned(amount, true)
	if err != nil {
		return ModifyResult{}, fmt.Errorf("liquidity delta: %w", err)
	}
	res, err := ModifyLiquidity(p, pos, bounds, delta, ts)
	if err != nil {
		return ModifyResult{}, err
	}
	if res.AmountA < minA || res.AmountB < minB {
		return ModifyResult{}, fmt.Errorf("%w: got (%d, %d), min (%d, %d)",
			ErrTokenMinSubceeded, res.AmountA, res.AmountB, minA, minB)
	}
	return res, nil
}

// UpdateFeesAndRewards settles a position without changing its liquidity and
// returns the accrued pool reward infos alongside it.
func UpdateFeesAndRewards(p *pool.Pool, pos Position, bounds Bounds, ts uint64) (Position, [pool.NumRewards]pool.RewardInfo, error) {
	if pos.PoolID != p.ID {
		return Position{}, p.RewardInfos, ErrPoolMismatch
	}
	if pos.Liquidity.IsZero() {
		return Position{}, p.RewardInfos, ErrLiquidityZero
	}
	rewardInfos, err := reward.NextRewardInfos(p, ts)
	if err != nil {
		return Position{}, p.RewardInfos, err
	}

	lower, upper := pos.TickLowerIndex, pos.TickUpperIndex
	feeInsideA, feeInsideB := tick.FeeGrowthsInside(
		p.TickCurrentIndex, bounds.Lower, lower, bounds.Upper, upper, &p.FeeGrowthGlobalA, &p.FeeGrowthGlobalB)
	rewardsInside := tick.RewardGrowthsInside(p.TickCurrentIndex, bounds.Lower, lower, bounds.Upper, upper, rewardInfos)

	settled, err := Settle(pos, feeInsideA, feeInsideB, rewardsInside)
	if err != nil {
		return Position{}, p.RewardInfos, err
	}
	return settled, rewardInfos, nil
}
