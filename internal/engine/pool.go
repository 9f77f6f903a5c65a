package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"liquidityEngine/internal/model"
	"liquidityEngine/internal/pool"
	"liquidityEngine/internal/reward"
	"liquidityEngine/internal/tick"
)

// InitializePool creates the state of a new pool.
func (e *Engine) InitializePool(ctx context.Context, params pool.InitParams) (*State, error) {
	p, err := pool.New(params)
	if err != nil {
		return nil, e.fail("initialize_pool", nil, err)
	}
	st := NewState(p)
	e.commit(ctx, st, st, e.event(model.EventInitializePool, st, params.Timestamp))
	e.logger.Debug("pool initialized",
		zap.String("pool", p.ID.Hex()),
		zap.Uint16("tick_spacing", p.TickSpacing),
		zap.Int32("tick", p.TickCurrentIndex),
	)
	return st, nil
}

// InitializeTickPage adds the empty page starting at start.
func (e *Engine) InitializeTickPage(ctx context.Context, st *State, start int32, ts uint64) error {
	if _, ok := st.Pages[start]; ok {
		return e.fail("initialize_tick_page", st, fmt.Errorf("%w: %d", ErrPageExists, start))
	}
	page, err := tick.NewPage(st.Pool.ID, start, st.Pool.TickSpacing)
	if err != nil {
		return e.fail("initialize_tick_page", st, err)
	}

	next := st.Clone()
	next.Pages[start] = page
	e.commit(ctx, st, next, e.event(model.EventInitializeTickPage, next, ts))
	return nil
}

// InitializeReward configures reward stream index to pay out mint from vault.
func (e *Engine) InitializeReward(ctx context.Context, st *State, index int, mint, vault common.Address, ts uint64) error {
	next := st.Clone()
	if err := next.Pool.InitializeReward(index, mint, vault); err != nil {
		return e.fail("initialize_reward", st, err)
	}
	ev := e.event(model.EventInitializeReward, next, ts)
	ev.Reward = &model.Reward{Index: index, Mint: mint.Hex()}
	e.commit(ctx, st, next, ev)
	return nil
}

// SetRewardEmissions accrues rewards up to ts and then changes the emission rate of
// stream index. The reward vault must hold at least one day of the new emissions.
func (e *Engine) SetRewardEmissions(ctx context.Context, st *State, index int, emissionsPerSecondX64 *uint256.Int, ts uint64) error {
	next := st.Clone()
	infos, err := reward.NextRewardInfos(&next.Pool, ts)
	if err != nil {
		return e.fail("set_reward_emissions", st, err)
	}
	next.Pool.UpdateRewards(infos, ts)
	if err := next.Pool.SetRewardEmissions(index, emissionsPerSecondX64); err != nil {
		return e.fail("set_reward_emissions", st, err)
	}
	info := next.Pool.RewardInfos[index]
	if err := reward.ValidateEmissions(emissionsPerSecondX64, e.transfer.Balance(info.Mint, info.Vault)); err != nil {
		return e.fail("set_reward_emissions", st, err)
	}

	ev := e.event(model.EventSetRewardEmissions, next, ts)
	ev.Reward = &model.Reward{Index: index, Mint: info.Mint.Hex(), EmissionsPerSecondX64: emissionsPerSecondX64.Dec()}
	e.commit(ctx, st, next, ev)
	return nil
}

// CollectProtocolFees drains both protocol fee buckets to recipient.
func (e *Engine) CollectProtocolFees(ctx context.Context, st *State, recipient common.Address, ts uint64) (Receipt, error) {
	next := st.Clone()
	owedA, owedB := next.Pool.CollectProtocolFees()

	x := e.newTransfers()
	gotA, err := x.withdraw(ctx, next.Pool.TokenMintA, next.Pool.TokenVaultA, recipient, owedA, 0)
	if err != nil {
		x.rollback(ctx)
		return Receipt{}, e.fail("collect_protocol_fees", st, err)
	}
	gotB, err := x.withdraw(ctx, next.Pool.TokenMintB, next.Pool.TokenVaultB, recipient, owedB, 0)
	if err != nil {
		x.rollback(ctx)
		return Receipt{}, e.fail("collect_protocol_fees", st, err)
	}

	ev := e.event(model.EventCollectProtocolFees, next, ts)
	ev.Account = recipient.Hex()
	ev.AmountA, ev.AmountB = owedA, owedB
	e.commit(ctx, st, next, ev)
	return Receipt{AmountA: owedA, AmountB: owedB, TransferredA: gotA, TransferredB: gotB}, nil
}
