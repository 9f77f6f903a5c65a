package position

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"liquidityEngine/internal/fixedpoint"
	"liquidityEngine/internal/liquidity"
	"liquidityEngine/internal/pool"
)

var ErrNothingToReinvest = errors.New("owed fees too small to reinvest")

// ReinvestResult is a liquidity increase paid for out of the position's own owed fees.
// AmountA and AmountB of the embedded ModifyResult are the fees turned into liquidity;
// the protocol fees are charged on top of them.
type ReinvestResult struct {
	ModifyResult
	Liquidity    *uint256.Int
	ProtocolFeeA uint64
	ProtocolFeeB uint64
}

// Reinvest compounds the fees pos is owed into liquidity over its own range at the
// current price. feeRate is the protocol's cut of every reinvested amount, in
// pool.ProtocolFeeRateDenominator units. Fees the current price does not need, such
// as token B while the position is above the price, stay owed. pos must already be
// settled.
func Reinvest(p *pool.Pool, pos Position, bounds Bounds, feeRate uint16, ts uint64) (ReinvestResult, error) {
	if feeRate > pool.MaxProtocolFeeRate {
		return ReinvestResult{}, pool.ErrProtocolFeeRateTooHigh
	}
	netA, err := afterCut(pos.FeeOwedA, feeRate)
	if err != nil {
		return ReinvestResult{}, err
	}
	netB, err := afterCut(pos.FeeOwedB, feeRate)
	if err != nil {
		return ReinvestResult{}, err
	}

	amount, err := liquidity.FromAmounts(p.TickCurrentIndex, &p.SqrtPrice, pos.TickLowerIndex, pos.TickUpperIndex, netA, netB)
	if err != nil {
		return ReinvestResult{}, err
	}
	if amount.IsZero() {
		return ReinvestResult{}, fmt.Errorf("%w: owed (%d, %d)", ErrNothingToReinvest, pos.FeeOwedA, pos.FeeOwedB)
	}

	res, err := Increase(p, pos, bounds, amount, netA, netB, ts)
	if err != nil {
		return ReinvestResult{}, err
	}

	out := ReinvestResult{ModifyResult: res, Liquidity: amount}
	if out.ProtocolFeeA, err = cut(res.AmountA, feeRate); err != nil {
		return ReinvestResult{}, err
	}
	if out.ProtocolFeeB, err = cut(res.AmountB, feeRate); err != nil {
		return ReinvestResult{}, err
	}
	// used + cut(used) never exceeds owed because used <= owed - cut(owed).
	out.Position.FeeOwedA -= res.AmountA + out.ProtocolFeeA
	out.Position.FeeOwedB -= res.AmountB + out.ProtocolFeeB
	return out, nil
}

func cut(amount uint64, feeRate uint16) (uint64, error) {
	return fixedpoint.MulDivUint64(amount, uint64(feeRate), pool.ProtocolFeeRateDenominator, fixedpoint.RoundDown)
}

func afterCut(amount uint64, feeRate uint16) (uint64, error) {
	c, err := cut(amount, feeRate)
	if err != nil {
		return 0, err
	}
	return amount - c, nil
}
