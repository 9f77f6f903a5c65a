package fixedpoint

import "github.com/holiman/uint256"

// Signed 128-bit values (tick liquidityNet, liquidity deltas) are carried as two's
// complement in a 256-bit word so they share storage and arithmetic with the unsigned
// quantities.

// NewSigned returns magnitude as a signed value, negated when negative is set.
func NewSigned(magnitude *uint256.Int, negative bool) (*uint256.Int, error) {
	if magnitude.BitLen() > 127 {
		return nil, ErrOverflow
	}
	z := new(uint256.Int).Set(magnitude)
	if negative {
		z.Neg(z)
	}
	return z, nil
}

// SignedAdd adds two signed values and fails if the sum leaves the int128 range.
func SignedAdd(x, y *uint256.Int) (*uint256.Int, error) {
	if !InSignedRange(x) || !InSignedRange(y) {
		return nil, ErrOverflow
	}
	z := new(uint256.Int).Add(x, y)
	if !InSignedRange(z) {
		if y.Sign() < 0 {
			return nil, ErrUnderflow
		}
		return nil, ErrOverflow
	}
	return z, nil
}

// SignedSub subtracts y from x with the same range checks as SignedAdd.
func SignedSub(x, y *uint256.Int) (*uint256.Int, error) {
	if !InSignedRange(y) {
		return nil, ErrOverflow
	}
	return SignedAdd(x, new(uint256.Int).Neg(y))
}

// InSignedRange reports whether x, read as two's complement, lies in [-2^127, 2^127-1].
func InSignedRange(x *uint256.Int) bool {
	if x.Sign() >= 0 {
		return !x.Gt(maxI128)
	}
	return !x.Slt(minI128)
}

// Abs returns the magnitude of a signed value.
func Abs(x *uint256.Int) *uint256.Int {
	return new(uint256.Int).Abs(x)
}

// Negate returns -x.
func Negate(x *uint256.Int) *uint256.Int {
	return new(uint256.Int).Neg(x)
}
