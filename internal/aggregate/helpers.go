package aggregate

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

const ratioScale = 18

var (
	q128        = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 128), 0)
	yearSeconds = decimal.NewFromInt(int64(365 * 24 * time.Hour / time.Second))
)

func formatTokenAmount(value decimal.Decimal, decimals uint8) string {
	if decimals == 0 {
		return value.String()
	}
	return value.Shift(-int32(decimals)).StringFixed(int32(decimals))
}

func computeFeeRates(feeA, feeB decimal.Decimal, tvl *Reserves) (*string, *string) {
	if tvl == nil {
		return nil, nil
	}
	var feeRateA, feeRateB *string
	if rate := computeRate(feeA, tvl.A); rate != "" {
		feeRateA = &rate
	}
	if rate := computeRate(feeB, tvl.B); rate != "" {
		feeRateB = &rate
	}
	return feeRateA, feeRateB
}

func computeRate(fee, tvl decimal.Decimal) string {
	if fee.IsZero() || tvl.Sign() <= 0 {
		return ""
	}
	return fee.DivRound(tvl, ratioScale).StringFixed(ratioScale)
}

// priceBPerA converts a Q64.64 sqrt price into raw token B per raw token A.
func priceBPerA(sqrtPrice string) (decimal.Decimal, bool) {
	sqrt, ok := new(big.Int).SetString(sqrtPrice, 10)
	if !ok || sqrt.Sign() <= 0 {
		return decimal.Decimal{}, false
	}
	squared := decimal.NewFromBigInt(new(big.Int).Mul(sqrt, sqrt), 0)
	return squared.DivRound(q128, 2*ratioScale), true
}

// computeAPR annualizes the window's fee yield. Both sides are valued in token A at
// the pool price.
func computeAPR(feeA, feeB decimal.Decimal, tvl *Reserves, sqrtPrice string, windowSeconds uint64) *string {
	if windowSeconds == 0 || tvl == nil {
		return nil
	}
	price, ok := priceBPerA(sqrtPrice)
	if !ok || price.IsZero() {
		return nil
	}
	feeValue := feeA.Add(feeB.DivRound(price, 2*ratioScale))
	tvlValue := tvl.A.Add(tvl.B.DivRound(price, 2*ratioScale))
	if tvlValue.Sign() <= 0 {
		return nil
	}

	apr := feeValue.Mul(yearSeconds).DivRound(tvlValue.Mul(decimal.NewFromInt(int64(windowSeconds))), ratioScale)
	val := apr.StringFixed(ratioScale)
	return &val
}
