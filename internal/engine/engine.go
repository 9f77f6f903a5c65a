// Package engine is the operation surface over pool state. Each operation runs its math
// against a clone of the caller's State, executes token transfers once the math has
// succeeded, and only then replaces the caller's State with the clone.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"liquidityEngine/internal/model"
	"liquidityEngine/internal/oracle"
	"liquidityEngine/internal/storage"
	"liquidityEngine/internal/transfer"
)

var (
	ErrPoolMismatch               = errors.New("record belongs to another pool")
	ErrPositionNotFound           = errors.New("position not found")
	ErrPositionExists             = errors.New("position already exists")
	ErrPageExists                 = errors.New("tick page already initialized")
	ErrAmountOutBelowMinimum      = errors.New("amount out below minimum")
	ErrAmountInAboveMaximum       = errors.New("amount in above maximum")
	ErrDuplicateTwoHopPool        = errors.New("two hop swap through the same pool")
	ErrInvalidIntermediaryMint    = errors.New("hops do not share the intermediate token")
	ErrIntermediateAmountMismatch = errors.New("intermediate token amounts do not match")
	ErrMissingReferralAccount     = errors.New("referral fee without referral account")
)

// OracleSource attaches a price oracle to a pool. Guard is applied to every reading.
type OracleSource struct {
	Oracle    oracle.Oracle
	DecimalsA uint8
	DecimalsB uint8
	Guard     oracle.Guard
}

// Engine executes operations against pool states.
type Engine struct {
	transfer transfer.Transferer
	sink     storage.EventSink
	logger   *zap.Logger

	mu      sync.RWMutex
	oracles map[common.Hash]OracleSource
}

func New(t transfer.Transferer, sink storage.EventSink, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = storage.Discard{}
	}
	return &Engine{
		transfer: t,
		sink:     sink,
		logger:   logger,
		oracles:  make(map[common.Hash]OracleSource),
	}
}

// SetOracle registers the oracle for a pool.
func (e *Engine) SetOracle(poolID common.Hash, src OracleSource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.oracles[poolID] = src
}

func (e *Engine) oracleFor(poolID common.Hash) (OracleSource, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	src, ok := e.oracles[poolID]
	return src, ok
}

// commit replaces st with next and emits events. A sink failure does not undo a
// committed operation; it is logged.
func (e *Engine) commit(ctx context.Context, st, next *State, events ...model.EngineEvent) {
	*st = *next
	if len(events) == 0 {
		return
	}
	if err := e.sink.PutEvents(ctx, events); err != nil {
		e.logger.Warn("emit events", zap.String("kind", events[0].Kind), zap.Error(err))
	}
}

func (e *Engine) fail(op string, st *State, err error) error {
	fields := []zap.Field{zap.String("op", op), zap.Error(err)}
	if st != nil {
		fields = append(fields, zap.String("pool", st.Pool.ID.Hex()))
	}
	e.logger.Warn("operation failed", fields...)
	return err
}

func (e *Engine) event(kind string, st *State, ts uint64) model.EngineEvent {
	p := &st.Pool
	return model.EngineEvent{
		ID:        uuid.NewString(),
		Kind:      kind,
		PoolID:    p.ID.Hex(),
		Timestamp: ts,
		PoolMeta: model.PoolMeta{
			TokenMintA:       p.TokenMintA.Hex(),
			TokenMintB:       p.TokenMintB.Hex(),
			TickSpacing:      p.TickSpacing,
			FeeRate:          p.FeeRate,
			ProtocolFeeRate:  p.ProtocolFeeRate,
			Liquidity:        p.Liquidity.Dec(),
			SqrtPrice:        p.SqrtPrice.Dec(),
			TickCurrentIndex: p.TickCurrentIndex,
		},
	}
}

// transfers runs the token movements of one operation and undoes the completed ones
// if a later movement fails.
type transfers struct {
	t      transfer.Transferer
	logger *zap.Logger
	undo   []func(context.Context) error
}

func (e *Engine) newTransfers() *transfers {
	return &transfers{t: e.transfer, logger: e.logger}
}

// deposit sends gross from owner to vault and requires the vault to receive at least
// required.
func (x *transfers) deposit(ctx context.Context, mint, owner, vault common.Address, gross, required uint64) (uint64, error) {
	if gross == 0 {
		return 0, nil
	}
	received, err := x.t.Deposit(ctx, mint, owner, vault, gross)
	if err != nil {
		return 0, fmt.Errorf("deposit %s: %w", mint.Hex(), err)
	}
	x.undo = append(x.undo, func(ctx context.Context) error {
		_, err := x.t.Withdraw(ctx, mint, vault, owner, received)
		return err
	})
	if received < required {
		return 0, fmt.Errorf("%w: %s vault got %d, needs %d", transfer.ErrShortfall, mint.Hex(), received, required)
	}
	return received, nil
}

// withdraw sends amount from vault to owner and requires owner to receive at least
// required.
func (x *transfers) withdraw(ctx context.Context, mint, vault, owner common.Address, amount, required uint64) (uint64, error) {
	if amount == 0 {
		return 0, nil
	}
	received, err := x.t.Withdraw(ctx, mint, vault, owner, amount)
	if err != nil {
		return 0, fmt.Errorf("withdraw %s: %w", mint.Hex(), err)
	}
	x.undo = append(x.undo, func(ctx context.Context) error {
		_, err := x.t.Deposit(ctx, mint, owner, vault, received)
		return err
	})
	if received < required {
		return 0, fmt.Errorf("%w: %s got %d, needs %d", transfer.ErrShortfall, owner.Hex(), received, required)
	}
	return received, nil
}

// rollback reverses completed movements, newest first. Transfer fees already charged
// are not recovered.
func (x *transfers) rollback(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for i := len(x.undo) - 1; i >= 0; i-- {
		if err := x.undo[i](ctx); err != nil {
			x.logger.Warn("rollback transfer", zap.Int("step", i), zap.Error(err))
		}
	}
	x.undo = nil
}

func (e *Engine) fee(mint common.Address) transfer.Fee {
	return e.transfer.TransferFee(mint)
}
