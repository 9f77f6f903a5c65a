package fixedpoint

import (
	"errors"

	"github.com/holiman/uint256"
)

// Resolution is the number of fractional bits in a Q64.64 value.
const Resolution = 64

// Rounding selects which side of an inexact division a result lands on.
type Rounding int

const (
	RoundDown Rounding = iota
	RoundUp
)

func (r Rounding) String() string {
	if r == RoundUp {
		return "up"
	}
	return "down"
}

var (
	ErrOverflow       = errors.New("fixed point overflow")
	ErrUnderflow      = errors.New("fixed point underflow")
	ErrDivisionByZero = errors.New("division by zero")
)

var (
	one     = uint256.NewInt(1)
	q64     = new(uint256.Int).Lsh(uint256.NewInt(1), Resolution)
	maxU128 = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1))
	maxI128 = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 127), uint256.NewInt(1))
	minI128 = new(uint256.Int).Neg(new(uint256.Int).Lsh(uint256.NewInt(1), 127))
)

// Q64 returns 2^64, the Q64.64 representation of one.
func Q64() *uint256.Int {
	return new(uint256.Int).Set(q64)
}

// MaxU128 returns 2^128-1.
func MaxU128() *uint256.Int {
	return new(uint256.Int).Set(maxU128)
}

// MulDiv computes x*y/d with a 512-bit intermediate product.
func MulDiv(x, y, d *uint256.Int, rounding Rounding) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}
	if rounding == RoundUp && !new(uint256.Int).MulMod(x, y, d).IsZero() {
		if _, overflow = z.AddOverflow(z, one); overflow {
			return nil, ErrOverflow
		}
	}
	return z, nil
}

// Div computes x/d.
func Div(x, d *uint256.Int, rounding Rounding) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}
	z := new(uint256.Int).Div(x, d)
	if rounding == RoundUp && !new(uint256.Int).Mod(x, d).IsZero() {
		z.AddUint64(z, 1)
	}
	return z, nil
}

// MulShiftRight computes (x*y) >> 64, the product of a value and a Q64.64 factor.
func MulShiftRight(x, y *uint256.Int, rounding Rounding) (*uint256.Int, error) {
	return MulDiv(x, y, q64, rounding)
}

// ShiftLeft returns x << 64, failing if the result leaves 256 bits.
func ShiftLeft(x *uint256.Int) (*uint256.Int, error) {
	if x.BitLen() > 256-Resolution {
		return nil, ErrOverflow
	}
	return new(uint256.Int).Lsh(x, Resolution), nil
}

// CheckedAdd returns x+y, failing on 256-bit overflow.
func CheckedAdd(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// CheckedSub returns x-y, failing when y > x.
func CheckedSub(x, y *uint256.Int) (*uint256.Int, error) {
	if x.Lt(y) {
		return nil, ErrUnderflow
	}
	return new(uint256.Int).Sub(x, y), nil
}

// CheckU128 fails when x does not fit in 128 bits.
func CheckU128(x *uint256.Int) error {
	if x.BitLen() > 128 {
		return ErrOverflow
	}
	return nil
}

// ToUint64 narrows x to a token amount.
func ToUint64(x *uint256.Int) (uint64, error) {
	if !x.IsUint64() {
		return 0, ErrOverflow
	}
	return x.Uint64(), nil
}

// MulDivUint64 computes a*b/d on token amounts.
func MulDivUint64(a, b, d uint64, rounding Rounding) (uint64, error) {
	z, err := MulDiv(uint256.NewInt(a), uint256.NewInt(b), uint256.NewInt(d), rounding)
	if err != nil {
		return 0, err
	}
	return ToUint64(z)
}

// WrappingAdd returns (x+y) mod 2^128. Growth accumulators are allowed to wrap.
func WrappingAdd(x, y *uint256.Int) *uint256.Int {
	z := new(uint256.Int).Add(x, y)
	return z.And(z, maxU128)
}

// WrappingSub returns (x-y) mod 2^128.
func WrappingSub(x, y *uint256.Int) *uint256.Int {
	z := new(uint256.Int).Sub(x, y)
	return z.And(z, maxU128)
}
