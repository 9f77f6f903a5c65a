// Package oracle supplies externally attested prices to oracle pools and to swaps that
// opt into a price sanity check.
package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"liquidityEngine/internal/fixedpoint"
	"liquidityEngine/internal/tickmath"
)

var (
	ErrStalePrice     = errors.New("oracle price is stale")
	ErrInvalidPrice   = errors.New("oracle price is not positive")
	ErrPriceDeviation = errors.New("price deviates from oracle")
	ErrOracleRequired = errors.New("oracle required")
)

// Price is mantissa * 10^Exponent units of token B per token A, published at PublishTime.
type Price struct {
	Mantissa    int64
	Exponent    int32
	PublishTime uint64
}

// Oracle returns the latest attested price.
type Oracle interface {
	LatestPrice(ctx context.Context) (Price, error)
}

// Static always returns the same price.
type Static Price

func (s Static) LatestPrice(context.Context) (Price, error) {
	return Price(s), nil
}

// Guard holds the checks a caller opted into. Zero values disable a check.
type Guard struct {
	MaxAge          uint64
	MaxDeviationBps uint64
}

// CheckFresh rejects a price published more than MaxAge seconds before now.
func (g Guard) CheckFresh(p Price, now uint64) error {
	if p.Mantissa <= 0 {
		return ErrInvalidPrice
	}
	if g.MaxAge == 0 {
		return nil
	}
	if now > p.PublishTime && now-p.PublishTime > g.MaxAge {
		return fmt.Errorf("%w: published %d, now %d, max age %d", ErrStalePrice, p.PublishTime, now, g.MaxAge)
	}
	return nil
}

// CheckDeviation rejects a pool sqrt price whose squared value differs from the oracle's
// by more than MaxDeviationBps.
func (g Guard) CheckDeviation(poolSqrtPrice, oracleSqrtPrice *uint256.Int) error {
	if g.MaxDeviationBps == 0 {
		return nil
	}
	poolPrice := new(uint256.Int).Mul(poolSqrtPrice, poolSqrtPrice)
	oraclePrice := new(uint256.Int).Mul(oracleSqrtPrice, oracleSqrtPrice)
	diff := new(uint256.Int)
	if poolPrice.Gt(oraclePrice) {
		diff.Sub(poolPrice, oraclePrice)
	} else {
		diff.Sub(oraclePrice, poolPrice)
	}
	bps, err := fixedpoint.MulDiv(diff, uint256.NewInt(10_000), oraclePrice, fixedpoint.RoundUp)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPriceDeviation, err)
	}
	if bps.GtUint64(g.MaxDeviationBps) {
		return fmt.Errorf("%w: %s bps > %d bps", ErrPriceDeviation, bps.Dec(), g.MaxDeviationBps)
	}
	return nil
}

// SqrtPriceFromPrice converts an oracle price into a Q64.64 sqrt price in raw token
// units, given the decimals of both tokens.
func SqrtPriceFromPrice(p Price, decimalsA, decimalsB uint8) (*uint256.Int, error) {
	if p.Mantissa <= 0 {
		return nil, ErrInvalidPrice
	}
	adjust := int(p.Exponent) + int(decimalsB) - int(decimalsA)
	numerator := uint256.NewInt(uint64(p.Mantissa))
	denominator := uint256.NewInt(1)
	scale := pow10(abs(adjust))
	if scale == nil {
		return nil, fixedpoint.ErrOverflow
	}
	if adjust >= 0 {
		if _, overflow := numerator.MulOverflow(numerator, scale); overflow {
			return nil, fixedpoint.ErrOverflow
		}
	} else {
		denominator = scale
	}

	if numerator.BitLen() > 256-128 {
		return nil, fixedpoint.ErrOverflow
	}
	// sqrt(n / d) * 2^64 == sqrt((n << 128) / d)
	ratio := new(uint256.Int).Lsh(numerator, 128)
	ratio.Div(ratio, denominator)
	sqrtPrice := new(uint256.Int).Sqrt(ratio)
	if err := tickmath.CheckSqrtPrice(sqrtPrice); err != nil {
		return nil, err
	}
	return sqrtPrice, nil
}

func pow10(n int) *uint256.Int {
	if n > 77 {
		return nil
	}
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(n)))
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
