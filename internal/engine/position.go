package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"liquidityEngine/internal/liquidity"
	"liquidityEngine/internal/model"
	"liquidityEngine/internal/pool"
	"liquidityEngine/internal/position"
)

// Receipt reports the outcome of an operation that moves tokens. AmountA and AmountB
// are what the pool accounted; TransferredA and TransferredB are what actually left
// the sender, transfer fees included, for deposits, or arrived at the recipient for
// withdrawals.
type Receipt struct {
	Liquidity    *uint256.Int
	AmountA      uint64
	AmountB      uint64
	TransferredA uint64
	TransferredB uint64
}

// IncreaseLiquidityParams adds liquidity to a position. A nil Liquidity adds the most
// liquidity the token maximums cover after transfer fees.
type IncreaseLiquidityParams struct {
	PositionID common.Hash
	Liquidity  *uint256.Int
	TokenMaxA  uint64
	TokenMaxB  uint64
	Timestamp  uint64
}

// DecreaseLiquidityParams removes liquidity from a position. The minimums apply to
// what the owner receives after transfer fees.
type DecreaseLiquidityParams struct {
	PositionID common.Hash
	Liquidity  *uint256.Int
	TokenMinA  uint64
	TokenMinB  uint64
	Timestamp  uint64
}

// OpenPosition creates an empty position for owner over [tickLower, tickUpper).
func (e *Engine) OpenPosition(ctx context.Context, st *State, owner common.Address, tickLower, tickUpper int32, salt, ts uint64) (common.Hash, error) {
	pos, err := position.Open(&st.Pool, owner, tickLower, tickUpper, salt)
	if err != nil {
		return common.Hash{}, e.fail("open_position", st, err)
	}
	if _, ok := st.Positions[pos.ID]; ok {
		return common.Hash{}, e.fail("open_position", st, fmt.Errorf("%w: %s", ErrPositionExists, pos.ID.Hex()))
	}

	next := st.Clone()
	next.Positions[pos.ID] = &pos
	ev := e.event(model.EventOpenPosition, next, ts)
	ev.PositionID = pos.ID.Hex()
	ev.Account = owner.Hex()
	e.commit(ctx, st, next, ev)
	return pos.ID, nil
}

func (e *Engine) IncreaseLiquidity(ctx context.Context, st *State, req IncreaseLiquidityParams) (Receipt, error) {
	const op = "increase_liquidity"
	next := st.Clone()
	pos, err := next.position(req.PositionID)
	if err != nil {
		return Receipt{}, e.fail(op, st, err)
	}
	bounds, err := next.bounds(pos)
	if err != nil {
		return Receipt{}, e.fail(op, st, err)
	}

	p := &next.Pool
	feeA, feeB := e.fee(p.TokenMintA), e.fee(p.TokenMintB)
	// The pool may take at most what still arrives after the transfer fee.
	maxA, maxB := feeA.Excluded(req.TokenMaxA), feeB.Excluded(req.TokenMaxB)

	amount := req.Liquidity
	if amount == nil {
		if amount, err = liquidity.FromAmounts(
			p.TickCurrentIndex, &p.SqrtPrice, pos.TickLowerIndex, pos.TickUpperIndex, maxA, maxB); err != nil {
			return Receipt{}, e.fail(op, st, err)
		}
	}

	res, err := position.Increase(p, *pos, bounds, amount, maxA, maxB, req.Timestamp)
	if err != nil {
		return Receipt{}, e.fail(op, st, err)
	}
	if err := e.applyModify(next, pos, res, req.Timestamp); err != nil {
		return Receipt{}, e.fail(op, st, err)
	}

	grossA, err := feeA.Included(res.AmountA)
	if err != nil {
		return Receipt{}, e.fail(op, st, err)
	}
	grossB, err := feeB.Included(res.AmountB)
	if err != nil {
		return Receipt{}, e.fail(op, st, err)
	}

	x := e.newTransfers()
	if _, err := x.deposit(ctx, p.TokenMintA, pos.Owner, p.TokenVaultA, grossA, res.AmountA); err != nil {
		x.rollback(ctx)
		return Receipt{}, e.fail(op, st, err)
	}
	if _, err := x.deposit(ctx, p.TokenMintB, pos.Owner, p.TokenVaultB, grossB, res.AmountB); err != nil {
		x.rollback(ctx)
		return Receipt{}, e.fail(op, st, err)
	}

	ev := e.event(model.EventIncreaseLiquidity, next, req.Timestamp)
	ev.PositionID = pos.ID.Hex()
	ev.Account = pos.Owner.Hex()
	ev.AmountA, ev.AmountB = res.AmountA, res.AmountB
	ev.Liquidity = amount.Dec()
	e.commit(ctx, st, next, ev)

	e.logger.Debug("liquidity increased",
		zap.String("position", pos.ID.Hex()),
		zap.String("liquidity", amount.Dec()),
		zap.Uint64("amount_a", res.AmountA),
		zap.Uint64("amount_b", res.AmountB),
	)
	return Receipt{Liquidity: amount, AmountA: res.AmountA, AmountB: res.AmountB, TransferredA: grossA, TransferredB: grossB}, nil
}

func (e *Engine) DecreaseLiquidity(ctx context.Context, st *State, req DecreaseLiquidityParams) (Receipt, error) {
	const op = "decrease_liquidity"
	next := st.Clone()
	pos, err := next.position(req.PositionID)
	if err != nil {
		return Receipt{}, e.fail(op, st, err)
	}
	bounds, err := next.bounds(pos)
	if err != nil {
		return Receipt{}, e.fail(op, st, err)
	}
	if req.Liquidity == nil {
		return Receipt{}, e.fail(op, st, position.ErrLiquidityZero)
	}

	p := &next.Pool
	feeA, feeB := e.fee(p.TokenMintA), e.fee(p.TokenMintB)
	// The owner must receive the minimum after the transfer fee.
	minA, err := feeA.Included(req.TokenMinA)
	if err != nil {
		return Receipt{}, e.fail(op, st, err)
	}
	minB, err := feeB.Included(req.TokenMinB)
	if err != nil {
		return Receipt{}, e.fail(op, st, err)
	}

	res, err := position.Decrease(p, *pos, bounds, req.Liquidity, minA, minB, req.Timestamp)
	if err != nil {
		return Receipt{}, e.fail(op, st, err)
	}
	if err := e.applyModify(next, pos, res, req.Timestamp); err != nil {
		return Receipt{}, e.fail(op, st, err)
	}

	x := e.newTransfers()
	gotA, err := x.withdraw(ctx, p.TokenMintA, p.TokenVaultA, pos.Owner, res.AmountA, req.TokenMinA)
	if err != nil {
		x.rollback(ctx)
		return Receipt{}, e.fail(op, st, err)
	}
	gotB, err := x.withdraw(ctx, p.TokenMintB, p.TokenVaultB, pos.Owner, res.AmountB, req.TokenMinB)
	if err != nil {
		x.rollback(ctx)
		return Receipt{}, e.fail(op, st, err)
	}

	ev := e.event(model.EventDecreaseLiquidity, next, req.Timestamp)
	ev.PositionID = pos.ID.Hex()
	ev.Account = pos.Owner.Hex()
	ev.AmountA, ev.AmountB = res.AmountA, res.AmountB
	ev.Liquidity = req.Liquidity.Dec()
	e.commit(ctx, st, next, ev)
	return Receipt{Liquidity: req.Liquidity, AmountA: res.AmountA, AmountB: res.AmountB, TransferredA: gotA, TransferredB: gotB}, nil
}

// applyModify writes a liquidity change into next.
func (e *Engine) applyModify(next *State, pos *position.Position, res position.ModifyResult, ts uint64) error {
	if err := next.Pool.UpdateRewardsAndLiquidity(res.RewardInfos, res.PoolLiquidity, ts); err != nil {
		return err
	}
	*pos = res.Position
	return next.setBounds(pos, res.Bounds)
}

// settle accrues rewards and credits pos with what it earned since its checkpoints.
// A position without liquidity has nothing to accrue.
func (e *Engine) settle(next *State, pos *position.Position, ts uint64) error {
	if pos.Liquidity.IsZero() {
		return nil
	}
	bounds, err := next.bounds(pos)
	if err != nil {
		return err
	}
	settled, infos, err := position.UpdateFeesAndRewards(&next.Pool, *pos, bounds, ts)
	if err != nil {
		return err
	}
	next.Pool.UpdateRewards(infos, ts)
	*pos = settled
	return nil
}

// UpdateFeesAndRewards settles the fees and rewards a position has earned so far.
func (e *Engine) UpdateFeesAndRewards(ctx context.Context, st *State, id common.Hash, ts uint64) (position.Position, error) {
	const op = "update_fees_and_rewards"
	next := st.Clone()
	pos, err := next.position(id)
	if err != nil {
		return position.Position{}, e.fail(op, st, err)
	}
	bounds, err := next.bounds(pos)
	if err != nil {
		return position.Position{}, e.fail(op, st, err)
	}
	settled, infos, err := position.UpdateFeesAndRewards(&next.Pool, *pos, bounds, ts)
	if err != nil {
		return position.Position{}, e.fail(op, st, err)
	}
	next.Pool.UpdateRewards(infos, ts)
	*pos = settled

	ev := e.event(model.EventUpdateFeesRewards, next, ts)
	ev.PositionID = id.Hex()
	ev.Account = pos.Owner.Hex()
	ev.AmountA, ev.AmountB = pos.FeeOwedA, pos.FeeOwedB
	e.commit(ctx, st, next, ev)
	return settled, nil
}

// CollectFees settles a position and pays out every fee it is owed.
func (e *Engine) CollectFees(ctx context.Context, st *State, id common.Hash, ts uint64) (Receipt, error) {
	const op = "collect_fees"
	next := st.Clone()
	pos, err := next.position(id)
	if err != nil {
		return Receipt{}, e.fail(op, st, err)
	}
	if err := e.settle(next, pos, ts); err != nil {
		return Receipt{}, e.fail(op, st, err)
	}
	owedA, owedB := pos.CollectFees()

	p := &next.Pool
	x := e.newTransfers()
	gotA, err := x.withdraw(ctx, p.TokenMintA, p.TokenVaultA, pos.Owner, owedA, 0)
	if err != nil {
		x.rollback(ctx)
		return Receipt{}, e.fail(op, st, err)
	}
	gotB, err := x.withdraw(ctx, p.TokenMintB, p.TokenVaultB, pos.Owner, owedB, 0)
	if err != nil {
		x.rollback(ctx)
		return Receipt{}, e.fail(op, st, err)
	}

	ev := e.event(model.EventCollectFees, next, ts)
	ev.PositionID = id.Hex()
	ev.Account = pos.Owner.Hex()
	ev.AmountA, ev.AmountB = owedA, owedB
	e.commit(ctx, st, next, ev)
	return Receipt{AmountA: owedA, AmountB: owedB, TransferredA: gotA, TransferredB: gotB}, nil
}

// CollectReward settles a position, pays out what it is owed by reward stream index
// and returns the amount the owner received.
func (e *Engine) CollectReward(ctx context.Context, st *State, id common.Hash, index int, ts uint64) (uint64, error) {
	const op = "collect_reward"
	next := st.Clone()
	pos, err := next.position(id)
	if err != nil {
		return 0, e.fail(op, st, err)
	}
	if err := e.settle(next, pos, ts); err != nil {
		return 0, e.fail(op, st, err)
	}
	owed, err := pos.CollectReward(index)
	if err != nil {
		return 0, e.fail(op, st, err)
	}
	info := next.Pool.RewardInfos[index]
	if !info.Initialized() {
		return 0, e.fail(op, st, fmt.Errorf("reward %d: %w", index, pool.ErrRewardNotInitialized))
	}

	x := e.newTransfers()
	got, err := x.withdraw(ctx, info.Mint, info.Vault, pos.Owner, owed, 0)
	if err != nil {
		x.rollback(ctx)
		return 0, e.fail(op, st, err)
	}

	ev := e.event(model.EventCollectReward, next, ts)
	ev.PositionID = id.Hex()
	ev.Account = pos.Owner.Hex()
	ev.Reward = &model.Reward{Index: index, Mint: info.Mint.Hex(), Amount: owed}
	e.commit(ctx, st, next, ev)
	return got, nil
}

// ReinvestFeesParams compounds a position's owed fees back into its liquidity.
// FeeRate is the protocol's cut of the reinvested amounts.
type ReinvestFeesParams struct {
	PositionID common.Hash
	FeeRate    uint16
	Timestamp  uint64
}

// ReinvestFees settles a position and turns as much of its owed fees as the current
// price allows into new liquidity. No tokens move: the fees already sit in the vaults.
func (e *Engine) ReinvestFees(ctx context.Context, st *State, req ReinvestFeesParams) (Receipt, error) {
	const op = "reinvest_fees"
	next := st.Clone()
	pos, err := next.position(req.PositionID)
	if err != nil {
		return Receipt{}, e.fail(op, st, err)
	}
	if err := e.settle(next, pos, req.Timestamp); err != nil {
		return Receipt{}, e.fail(op, st, err)
	}
	bounds, err := next.bounds(pos)
	if err != nil {
		return Receipt{}, e.fail(op, st, err)
	}

	res, err := position.Reinvest(&next.Pool, *pos, bounds, req.FeeRate, req.Timestamp)
	if err != nil {
		return Receipt{}, e.fail(op, st, err)
	}
	if err := e.applyModify(next, pos, res.ModifyResult, req.Timestamp); err != nil {
		return Receipt{}, e.fail(op, st, err)
	}
	if err := next.Pool.AddProtocolFees(res.ProtocolFeeA, res.ProtocolFeeB); err != nil {
		return Receipt{}, e.fail(op, st, err)
	}

	ev := e.event(model.EventReinvestFees, next, req.Timestamp)
	ev.PositionID = pos.ID.Hex()
	ev.Account = pos.Owner.Hex()
	ev.AmountA, ev.AmountB = res.AmountA, res.AmountB
	ev.Liquidity = res.Liquidity.Dec()
	e.commit(ctx, st, next, ev)

	e.logger.Debug("fees reinvested",
		zap.String("position", pos.ID.Hex()),
		zap.String("liquidity", res.Liquidity.Dec()),
		zap.Uint64("protocol_fee_a", res.ProtocolFeeA),
		zap.Uint64("protocol_fee_b", res.ProtocolFeeB),
	)
	return Receipt{Liquidity: res.Liquidity, AmountA: res.AmountA, AmountB: res.AmountB}, nil
}

// ClosePosition removes an empty position.
func (e *Engine) ClosePosition(ctx context.Context, st *State, id common.Hash, ts uint64) error {
	next := st.Clone()
	pos, err := next.position(id)
	if err != nil {
		return e.fail("close_position", st, err)
	}
	if err := pos.Close(); err != nil {
		return e.fail("close_position", st, err)
	}
	delete(next.Positions, id)

	ev := e.event(model.EventClosePosition, next, ts)
	ev.PositionID = id.Hex()
	ev.Account = pos.Owner.Hex()
	e.commit(ctx, st, next, ev)
	return nil
}
