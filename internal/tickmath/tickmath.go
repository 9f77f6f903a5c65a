package tickmath

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

const (
	// MinTick and MaxTick bound the supported price range, 1.0001^tick.
	MinTick int32 = -443636
	MaxTick int32 = 443636
)

var (
	ErrTickOutOfRange      = errors.New("tick out of range")
	ErrSqrtPriceOutOfRange = errors.New("sqrt price out of range")
)

// MinSqrtPrice and MaxSqrtPrice are the Q64.64 sqrt prices at MinTick and MaxTick.
var (
	MinSqrtPrice = mustSqrtPriceAtTick(MinTick)
	MaxSqrtPrice = mustSqrtPriceAtTick(MaxTick)
)

// Q128 factors of 1/sqrt(1.0001)^(2^i).
var ratioFactors = [...]*uint256.Int{
	uint256.MustFromHex("0xfffcb933bd6fad37aa2d162d1a594001"),
	uint256.MustFromHex("0xfff97272373d413259a46990580e213a"),
	uint256.MustFromHex("0xfff2e50f5f656932ef12357cf3c7fdcc"),
	uint256.MustFromHex("0xffe5caca7e10e4e61c3624eaa0941cd0"),
	uint256.MustFromHex("0xffcb9843d60f6159c9db58835c926644"),
	uint256.MustFromHex("0xff973b41fa98c081472e6896dfb254c0"),
	uint256.MustFromHex("0xff2ea16466c96a3843ec78b326b52861"),
	uint256.MustFromHex("0xfe5dee046a99a2a811c461f1969c3053"),
	uint256.MustFromHex("0xfcbe86c7900a88aedcffc83b479aa3a4"),
	uint256.MustFromHex("0xf987a7253ac413176f2b074cf7815e54"),
	uint256.MustFromHex("0xf3392b0822b70005940c7a398e4b70f3"),
	uint256.MustFromHex("0xe7159475a2c29b7443b29c7fa6e889d9"),
	uint256.MustFromHex("0xd097f3bdfd2022b8845ad8f792aa5825"),
	uint256.MustFromHex("0xa9f746462d870fdf8a65dc1f90e061e5"),
	uint256.MustFromHex("0x70d869a156d2a1b890bb3df62baf32f7"),
	uint256.MustFromHex("0x31be135f97d08fd981231505542fcfa6"),
	uint256.MustFromHex("0x9aa508b5b7a84e1c677de54f3e99bc9"),
	uint256.MustFromHex("0x5d6af8dedb81196699c329225ee604"),
	uint256.MustFromHex("0x2216e584f5fa1ea926041bedfe98"),
	uint256.MustFromHex("0x48a170391f7dc42444e8fa2"),
}

var (
	q128       = new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	maxUint256 = new(uint256.Int).SetAllOne()
	lowMask64  = new(uint256.Int).SetUint64(^uint64(0))
)

// SqrtPriceAtTick returns sqrt(1.0001^tick) as Q64.64, rounded up.
func SqrtPriceAtTick(tick int32) (*uint256.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, fmt.Errorf("tick %d: %w", tick, ErrTickOutOfRange)
	}

	abs := uint32(tick)
	if tick < 0 {
		abs = uint32(-tick)
	}

	ratio := new(uint256.Int).Set(q128)
	if abs&1 != 0 {
		ratio.Set(ratioFactors[0])
	}
	for i := 1; i < len(ratioFactors); i++ {
		if abs&(1<<uint(i)) != 0 {
			ratio.Mul(ratio, ratioFactors[i])
			ratio.Rsh(ratio, 128)
		}
	}
	if tick > 0 {
		ratio.Div(maxUint256, ratio)
	}

	roundUp := !new(uint256.Int).And(ratio, lowMask64).IsZero()
	ratio.Rsh(ratio, 64)
	if roundUp {
		ratio.AddUint64(ratio, 1)
	}
	return ratio, nil
}

// TickAtSqrtPrice returns the greatest tick whose sqrt price is <= sqrtPrice.
func TickAtSqrtPrice(sqrtPrice *uint256.Int) (int32, error) {
	if sqrtPrice.Lt(MinSqrtPrice) || sqrtPrice.Gt(MaxSqrtPrice) {
		return 0, fmt.Errorf("sqrt price %s: %w", sqrtPrice.Dec(), ErrSqrtPriceOutOfRange)
	}

	lo, hi := MinTick, MaxTick
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		price, err := SqrtPriceAtTick(mid)
		if err != nil {
			return 0, err
		}
		if price.Gt(sqrtPrice) {
			hi = mid - 1
		} else {
			lo = mid
		}
	}
	return lo, nil
}

// CheckSqrtPrice fails when sqrtPrice is outside [MinSqrtPrice, MaxSqrtPrice].
func CheckSqrtPrice(sqrtPrice *uint256.Int) error {
	if sqrtPrice.Lt(MinSqrtPrice) || sqrtPrice.Gt(MaxSqrtPrice) {
		return ErrSqrtPriceOutOfRange
	}
	return nil
}

// IsUsableTick reports whether tick is inside the supported range and aligned to spacing.
func IsUsableTick(tick int32, spacing uint16) bool {
	if spacing == 0 || tick < MinTick || tick > MaxTick {
		return false
	}
	return tick%int32(spacing) == 0
}

// FullRangeTicks returns the widest usable [lower, upper] for a spacing.
func FullRangeTicks(spacing uint16) (int32, int32) {
	s := int32(spacing)
	return (MinTick / s) * s, (MaxTick / s) * s
}

func mustSqrtPriceAtTick(tick int32) *uint256.Int {
	price, err := SqrtPriceAtTick(tick)
	if err != nil {
		panic(err)
	}
	return price
}
