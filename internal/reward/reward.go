// Package reward accrues emission streams into per-unit-liquidity growth and settles
// fees and rewards owed to positions.
package reward

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"liquidityEngine/internal/fixedpoint"
	"liquidityEngine/internal/pool"
)

// SecondsPerDay is the horizon a reward vault must cover at the configured rate.
const SecondsPerDay = 60 * 60 * 24

var (
	ErrInvalidTimestamp      = errors.New("timestamp earlier than last reward update")
	ErrInsufficientVault     = errors.New("reward vault cannot cover one day of emissions")
	ErrOwedAmountOverflow    = errors.New("owed amount overflow")
	ErrEmissionsRateOverflow = errors.New("emissions rate overflow")
)

// NextRewardInfos returns the reward infos of p accrued up to ts. Growth is unchanged
// while the pool has no active liquidity, so emissions in that interval are forfeited.
func NextRewardInfos(p *pool.Pool, ts uint64) ([pool.NumRewards]pool.RewardInfo, error) {
	last := p.RewardLastUpdatedTimestamp
	if ts < last {
		return p.RewardInfos, fmt.Errorf("%w: %d < %d", ErrInvalidTimestamp, ts, last)
	}
	if p.Liquidity.IsZero() || ts == last {
		return p.RewardInfos, nil
	}

	next := p.RewardInfos
	elapsed := uint256.NewInt(ts - last)
	for i := range next {
		if !next[i].Initialized() {
			continue
		}
		// An overflowing delta halts the stream rather than failing every caller.
		delta, err := fixedpoint.MulDiv(elapsed, &next[i].EmissionsPerSecondX64, &p.Liquidity, fixedpoint.RoundDown)
		if err != nil || fixedpoint.CheckU128(delta) != nil {
			delta = new(uint256.Int)
		}
		next[i].GrowthGlobalX64 = *fixedpoint.WrappingAdd(&next[i].GrowthGlobalX64, delta)
	}
	return next, nil
}

// EmissionsPerDay converts a Q64.64 per-second rate into whole tokens per day.
func EmissionsPerDay(emissionsPerSecondX64 *uint256.Int) (uint64, error) {
	perDay, err := fixedpoint.MulShiftRight(uint256.NewInt(SecondsPerDay), emissionsPerSecondX64, fixedpoint.RoundDown)
	if err != nil {
		return 0, ErrEmissionsRateOverflow
	}
	out, err := fixedpoint.ToUint64(perDay)
	if err != nil {
		return 0, ErrEmissionsRateOverflow
	}
	return out, nil
}

// ValidateEmissions checks that the reward vault balance covers a day at the new rate.
func ValidateEmissions(emissionsPerSecondX64 *uint256.Int, vaultBalance uint64) error {
	if err := fixedpoint.CheckU128(emissionsPerSecondX64); err != nil {
		return ErrEmissionsRateOverflow
	}
	perDay, err := EmissionsPerDay(emissionsPerSecondX64)
	if err != nil {
		return err
	}
	if vaultBalance < perDay {
		return fmt.Errorf("%w: balance %d, need %d", ErrInsufficientVault, vaultBalance, perDay)
	}
	return nil
}

// OwedDelta returns (inside - checkpoint) * liquidity >> 64, the amount a position
// earned since its last checkpoint. The growth difference wraps modulo 2^128.
func OwedDelta(inside, checkpoint, liquidity *uint256.Int) (uint64, error) {
	growth := fixedpoint.WrappingSub(inside, checkpoint)
	owed, err := fixedpoint.MulShiftRight(growth, liquidity, fixedpoint.RoundDown)
	if err != nil {
		return 0, ErrOwedAmountOverflow
	}
	out, err := fixedpoint.ToUint64(owed)
	if err != nil {
		return 0, ErrOwedAmountOverflow
	}
	return out, nil
}

// AddOwed adds delta to an owed balance, failing on overflow.
func AddOwed(owed, delta uint64) (uint64, error) {
	sum := owed + delta
	if sum < owed {
		return 0, ErrOwedAmountOverflow
	}
	return sum, nil
}
