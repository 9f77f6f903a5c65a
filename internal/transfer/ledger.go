package transfer

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

type account struct {
	mint  common.Address
	owner common.Address
}

// Ledger is an in-memory Transferer. Fees charged on transfer are burned.
type Ledger struct {
	mu       sync.Mutex
	balances map[account]uint64
	fees     map[common.Address]Fee
	logger   *zap.Logger
}

func NewLedger(logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		balances: make(map[account]uint64),
		fees:     make(map[common.Address]Fee),
		logger:   logger,
	}
}

// SetFee configures the transfer fee of mint.
func (l *Ledger) SetFee(mint common.Address, fee Fee) error {
	if err := fee.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fees[mint] = fee
	return nil
}

// Mint credits amount of mint to owner.
func (l *Ledger) Mint(mint, owner common.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := account{mint: mint, owner: owner}
	next := l.balances[key] + amount
	if next < amount {
		return fmt.Errorf("mint %s: balance overflow", mint.Hex())
	}
	l.balances[key] = next
	return nil
}

func (l *Ledger) Balance(mint, owner common.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account{mint: mint, owner: owner}]
}

func (l *Ledger) TransferFee(mint common.Address) Fee {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fees[mint]
}

func (l *Ledger) Deposit(ctx context.Context, mint, owner, vault common.Address, amount uint64) (uint64, error) {
	return l.move(ctx, mint, owner, vault, amount)
}

func (l *Ledger) Withdraw(ctx context.Context, mint, vault, owner common.Address, amount uint64) (uint64, error) {
	return l.move(ctx, mint, vault, owner, amount)
}

func (l *Ledger) move(ctx context.Context, mint, from, to common.Address, amount uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	src := account{mint: mint, owner: from}
	if l.balances[src] < amount {
		return 0, fmt.Errorf("%w: %s has %d of %s, needs %d",
			ErrInsufficientBalance, from.Hex(), l.balances[src], mint.Hex(), amount)
	}
	received := l.fees[mint].Excluded(amount)
	dst := account{mint: mint, owner: to}
	if l.balances[dst]+received < received {
		return 0, fmt.Errorf("transfer to %s: balance overflow", to.Hex())
	}
	l.balances[src] -= amount
	l.balances[dst] += received

	l.logger.Debug("transfer",
		zap.String("mint", mint.Hex()),
		zap.String("from", from.Hex()),
		zap.String("to", to.Hex()),
		zap.Uint64("amount", amount),
		zap.Uint64("received", received),
	)
	return received, nil
}
