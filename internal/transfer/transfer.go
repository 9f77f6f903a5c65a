// Package transfer moves token balances for the engine. Amounts requested and amounts
// received can differ for tokens that charge a fee on transfer.
package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"liquidityEngine/internal/fixedpoint"
)

// MaxFeeBasisPoints is a 100% transfer fee.
const MaxFeeBasisPoints = 10_000

var (
	ErrShortfall           = errors.New("vault received less than required")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidFee          = errors.New("invalid transfer fee")
)

// Transferer executes balance movements between owners and pool vaults.
type Transferer interface {
	// Deposit moves amount of mint from owner into vault and returns what the vault received.
	Deposit(ctx context.Context, mint, owner, vault common.Address, amount uint64) (uint64, error)
	// Withdraw moves amount of mint from vault to owner and returns what the owner received.
	Withdraw(ctx context.Context, mint, vault, owner common.Address, amount uint64) (uint64, error)
	// TransferFee reports the fee schedule of mint.
	TransferFee(mint common.Address) Fee
	// Balance reports what owner holds of mint.
	Balance(mint, owner common.Address) uint64
}

// Fee is a per-token transfer fee: basis points of the amount, capped at MaximumFee.
type Fee struct {
	BasisPoints uint16
	MaximumFee  uint64
}

func (f Fee) Validate() error {
	if f.BasisPoints > MaxFeeBasisPoints {
		return fmt.Errorf("%w: %d bps", ErrInvalidFee, f.BasisPoints)
	}
	return nil
}

// On returns the fee charged when amount is sent, rounded up.
func (f Fee) On(amount uint64) uint64 {
	if f.BasisPoints == 0 || amount == 0 {
		return 0
	}
	fee, err := fixedpoint.MulDivUint64(amount, uint64(f.BasisPoints), MaxFeeBasisPoints, fixedpoint.RoundUp)
	if err != nil {
		return f.MaximumFee
	}
	return min(fee, f.MaximumFee)
}

// Excluded returns what arrives when amount is sent.
func (f Fee) Excluded(amount uint64) uint64 {
	return amount - f.On(amount)
}

// Included returns the smallest amount to send so that at least amount arrives.
func (f Fee) Included(amount uint64) (uint64, error) {
	if amount == 0 || f.BasisPoints == 0 {
		return amount, nil
	}
	if f.BasisPoints == MaxFeeBasisPoints {
		return addFee(amount, f.MaximumFee)
	}

	gross, err := fixedpoint.MulDivUint64(amount, MaxFeeBasisPoints, MaxFeeBasisPoints-uint64(f.BasisPoints), fixedpoint.RoundUp)
	if err != nil {
		return 0, fmt.Errorf("transfer fee included amount: %w", err)
	}
	if gross-amount >= f.MaximumFee {
		return addFee(amount, f.MaximumFee)
	}
	// Rounding the fee up can leave the estimate one unit high.
	for gross > amount && f.Excluded(gross-1) >= amount {
		gross--
	}
	return gross, nil
}

func addFee(amount, fee uint64) (uint64, error) {
	sum := amount + fee
	if sum < amount {
		return 0, fmt.Errorf("transfer fee included amount: %w", fixedpoint.ErrOverflow)
	}
	return sum, nil
}
