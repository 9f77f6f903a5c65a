package engine

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liquidityEngine/internal/fixedpoint"
	"liquidityEngine/internal/model"
	"liquidityEngine/internal/oracle"
	"liquidityEngine/internal/pool"
	"liquidityEngine/internal/position"
	"liquidityEngine/internal/reward"
	"liquidityEngine/internal/tick"
	"liquidityEngine/internal/tickmath"
	"liquidityEngine/internal/transfer"
)

var (
	mintA    = common.HexToAddress("0x1000000000000000000000000000000000000001")
	mintB    = common.HexToAddress("0x2000000000000000000000000000000000000002")
	mintC    = common.HexToAddress("0x3000000000000000000000000000000000000003")
	mintR    = common.HexToAddress("0x4000000000000000000000000000000000000004")
	vaultA   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	vaultB   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	vaultB2  = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	vaultC   = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	vaultR   = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	lp       = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	trader   = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	treasury = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	referrer = common.HexToAddress("0x00000000000000000000000000000000000000dd")
)

const funding = 1_000_000_000_000

type recordingSink struct {
	mu     sync.Mutex
	events []model.EngineEvent
}

func (s *recordingSink) PutEvents(_ context.Context, events []model.EngineEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *recordingSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Kind)
	}
	return out
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	ledger *transfer.Ledger
	sink   *recordingSink
	eng    *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ledger := transfer.NewLedger(nil)
	for _, mint := range []common.Address{mintA, mintB, mintC} {
		require.NoError(t, ledger.Mint(mint, lp, funding))
		require.NoError(t, ledger.Mint(mint, trader, funding))
	}
	sink := &recordingSink{}
	return &harness{t: t, ctx: context.Background(), ledger: ledger, sink: sink, eng: New(ledger, sink, nil)}
}

type poolOpts struct {
	spacing         uint16
	protocolFeeRate uint16
	mintA, mintB    common.Address
	vaultA, vaultB  common.Address
	sqrtPrice       *uint256.Int
	oracle          bool
	temporary       *pool.TimeWindows
}

func (h *harness) pool(o poolOpts, pages ...int32) *State {
	h.t.Helper()
	if o.spacing == 0 {
		o.spacing = 64
	}
	if o.mintA == (common.Address{}) {
		o.mintA, o.mintB, o.vaultA, o.vaultB = mintA, mintB, vaultA, vaultB
	}
	if o.sqrtPrice == nil {
		o.sqrtPrice = fixedpoint.Q64()
	}
	st, err := h.eng.InitializePool(h.ctx, pool.InitParams{
		Key:              pool.Key{TokenMintA: o.mintA, TokenMintB: o.mintB, TickSpacing: o.spacing},
		VaultA:           o.vaultA,
		VaultB:           o.vaultB,
		FeeRate:          3000,
		ProtocolFeeRate:  o.protocolFeeRate,
		InitialSqrtPrice: o.sqrtPrice,
		Temporary:        o.temporary,
		Oracle:           o.oracle,
	})
	require.NoError(h.t, err)
	for _, start := range pages {
		require.NoError(h.t, h.eng.InitializeTickPage(h.ctx, st, start, 0))
	}
	return st
}

// deposit opens a position over [lower, upper) and adds liquidity to it.
func (h *harness) deposit(st *State, lower, upper int32, liq uint64, ts uint64) (common.Hash, Receipt) {
	h.t.Helper()
	id, err := h.eng.OpenPosition(h.ctx, st, lp, lower, upper, 0, ts)
	require.NoError(h.t, err)
	rec, err := h.eng.IncreaseLiquidity(h.ctx, st, IncreaseLiquidityParams{
		PositionID: id,
		Liquidity:  uint256.NewInt(liq),
		TokenMaxA:  funding,
		TokenMaxB:  funding,
		Timestamp:  ts,
	})
	require.NoError(h.t, err)
	return id, rec
}

func TestSwapScenario(t *testing.T) {
	h := newHarness(t)
	st := h.pool(poolOpts{}, 0, -5632)
	id, rec := h.deposit(st, -128, 128, 1_000_000_000, 0)
	assert.Equal(t, rec.AmountA, h.ledger.Balance(mintA, vaultA))
	assert.Equal(t, rec.AmountB, h.ledger.Balance(mintB, vaultB))

	out, err := h.eng.Swap(h.ctx, st, SwapParams{
		Trader:                 trader,
		Amount:                 10_000,
		OtherAmountThreshold:   9969,
		AmountSpecifiedIsInput: true,
		AToB:                   true,
		Timestamp:              1,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000), out.AmountIn)
	assert.Equal(t, uint64(9969), out.AmountOut)
	assert.Equal(t, uint64(30), out.Result.FeeAmount)
	assert.Equal(t, "18446560161504741414", st.Pool.SqrtPrice.Dec())
	assert.Equal(t, int32(-1), st.Pool.TickCurrentIndex)
	assert.Equal(t, "553402322211", st.Pool.FeeGrowthGlobalA.Dec())
	assert.Equal(t, uint64(funding-10_000), h.ledger.Balance(mintA, trader))
	assert.Equal(t, uint64(funding+9969), h.ledger.Balance(mintB, trader))

	settled, err := h.eng.UpdateFeesAndRewards(h.ctx, st, id, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(29), settled.FeeOwedA)
	assert.Zero(t, settled.FeeOwedB)

	fees, err := h.eng.CollectFees(h.ctx, st, id, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(29), fees.TransferredA)
	assert.Zero(t, st.Positions[id].FeeOwedA)

	assert.Equal(t, []string{
		model.EventInitializePool,
		model.EventInitializeTickPage,
		model.EventInitializeTickPage,
		model.EventOpenPosition,
		model.EventIncreaseLiquidity,
		model.EventSwap,
		model.EventUpdateFeesRewards,
		model.EventCollectFees,
	}, h.sink.kinds())
	swapEvent := h.sink.events[5]
	assert.NotEmpty(t, swapEvent.ID)
	require.NotNil(t, swapEvent.Swap)
	assert.Equal(t, uint64(30), swapEvent.Swap.FeeAmount)
	assert.Equal(t, int32(-1), swapEvent.PoolMeta.TickCurrentIndex)
}

func TestCollectSettlesBeforePaying(t *testing.T) {
	h := newHarness(t)
	st := h.pool(poolOpts{}, 0, -5632)
	id, _ := h.deposit(st, -128, 128, 1_000_000_000, 0)

	_, err := h.eng.Swap(h.ctx, st, SwapParams{
		Trader: trader, Amount: 10_000, AmountSpecifiedIsInput: true, AToB: true, Timestamp: 1,
	})
	require.NoError(t, err)

	fees, err := h.eng.CollectFees(h.ctx, st, id, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(29), fees.AmountA)
	assert.Equal(t, uint64(29), fees.TransferredA)
	assert.Equal(t, st.Pool.FeeGrowthGlobalA, st.Positions[id].FeeGrowthCheckpointA)
	assert.Zero(t, st.Positions[id].FeeOwedA)

	// A second collection has nothing new to pay.
	fees, err = h.eng.CollectFees(h.ctx, st, id, 3)
	require.NoError(t, err)
	assert.Zero(t, fees.AmountA)
}

func TestCollectRewardAccruesFirst(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ledger.Mint(mintR, vaultR, reward.SecondsPerDay))
	st := h.pool(poolOpts{}, 0, -5632)
	require.NoError(t, h.eng.InitializeReward(h.ctx, st, 0, mintR, vaultR, 0))
	require.NoError(t, h.eng.SetRewardEmissions(h.ctx, st, 0, fixedpoint.Q64(), 0))
	id, _ := h.deposit(st, -128, 128, 1_000_000_000, 100)

	got, err := h.eng.CollectReward(h.ctx, st, id, 0, 200)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), got)
	assert.Equal(t, uint64(200), st.Pool.RewardLastUpdatedTimestamp)
	assert.Zero(t, st.Positions[id].RewardInfos[0].AmountOwed)
}

func TestSwapPaysReferral(t *testing.T) {
	h := newHarness(t)
	st := h.pool(poolOpts{}, 0, -5632)
	id, rec := h.deposit(st, -128, 128, 1_000_000_000, 0)
	before := st.Clone()

	req := SwapParams{
		Trader: trader, Amount: 10_000, OtherAmountThreshold: 9969, AmountSpecifiedIsInput: true, AToB: true, Timestamp: 1,
		Referral: &Referral{FeeRate: 1000},
	}
	_, err := h.eng.Swap(h.ctx, st, req)
	assert.ErrorIs(t, err, ErrMissingReferralAccount)
	req.Referral = &Referral{Account: referrer, FeeRate: pool.MaxReferralFeeRate + 1}
	_, err = h.eng.Swap(h.ctx, st, req)
	assert.ErrorIs(t, err, pool.ErrReferralFeeRateTooHigh)
	assert.Equal(t, before, st)

	req.Referral = &Referral{Account: referrer, FeeRate: 1000}
	out, err := h.eng.Swap(h.ctx, st, req)
	require.NoError(t, err)
	assert.Equal(t, uint64(9969), out.AmountOut)
	assert.Equal(t, uint64(3), out.Result.ReferralFee)
	assert.Equal(t, uint64(3), h.ledger.Balance(mintA, referrer))
	assert.Equal(t, rec.AmountA+10_000-3, h.ledger.Balance(mintA, vaultA))

	swapEvent := h.sink.events[len(h.sink.events)-1]
	require.NotNil(t, swapEvent.Swap)
	assert.Equal(t, uint64(3), swapEvent.Swap.ReferralFee)

	// Providers earn on the 27 left after the referral cut.
	fees, err := h.eng.CollectFees(h.ctx, st, id, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(26), fees.AmountA)
}

func TestTwoHopSwapPaysReferralPerHop(t *testing.T) {
	h := newHarness(t)
	one, two := h.route(1_000_000_000, 1_000_000_000)

	out, err := h.eng.TwoHopSwap(h.ctx, one, two, TwoHopSwapParams{
		Trader: trader, Amount: 10_000, AmountSpecifiedIsInput: true, AToBOne: true, AToBTwo: true,
		Referral: &Referral{Account: referrer, FeeRate: 1000},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), out.One.ReferralFee)
	assert.NotZero(t, out.Two.ReferralFee)
	assert.Equal(t, out.One.ReferralFee, h.ledger.Balance(mintA, referrer))
	assert.Equal(t, out.Two.ReferralFee, h.ledger.Balance(mintB, referrer))
}

func TestReinvestFeesCompoundsIntoLiquidity(t *testing.T) {
	h := newHarness(t)
	st := h.pool(poolOpts{}, 0, -5632)
	id, _ := h.deposit(st, -128, 128, 1_000_000_000, 0)

	_, err := h.eng.ReinvestFees(h.ctx, st, ReinvestFeesParams{PositionID: id, Timestamp: 0})
	assert.ErrorIs(t, err, position.ErrNothingToReinvest)

	for i, aToB := range []bool{true, false} {
		_, err := h.eng.Swap(h.ctx, st, SwapParams{
			Trader: trader, Amount: 10_000, AmountSpecifiedIsInput: true, AToB: aToB, Timestamp: uint64(i + 1),
		})
		require.NoError(t, err)
	}
	vaultBalanceA, vaultBalanceB := h.ledger.Balance(mintA, vaultA), h.ledger.Balance(mintB, vaultB)

	rec, err := h.eng.ReinvestFees(h.ctx, st, ReinvestFeesParams{PositionID: id, FeeRate: 1000, Timestamp: 3})
	require.NoError(t, err)
	assert.False(t, rec.Liquidity.IsZero())
	assert.NotZero(t, rec.AmountA)
	assert.NotZero(t, rec.AmountB)
	want := new(uint256.Int).AddUint64(rec.Liquidity, 1_000_000_000)
	assert.Equal(t, want, &st.Positions[id].Liquidity)
	assert.Equal(t, want, &st.Pool.Liquidity)
	assert.Equal(t, rec.AmountA/10, st.Pool.ProtocolFeeOwedA)
	assert.Equal(t, rec.AmountB/10, st.Pool.ProtocolFeeOwedB)
	assert.Equal(t, vaultBalanceA, h.ledger.Balance(mintA, vaultA), "reinvesting moves no tokens")
	assert.Equal(t, vaultBalanceB, h.ledger.Balance(mintB, vaultB))
	assert.Equal(t, model.EventReinvestFees, h.sink.kinds()[len(h.sink.kinds())-1])

	// The compounded position still unwinds in full against the vaults.
	_, err = h.eng.DecreaseLiquidity(h.ctx, st, DecreaseLiquidityParams{PositionID: id, Liquidity: want, Timestamp: 4})
	require.NoError(t, err)
	_, err = h.eng.CollectFees(h.ctx, st, id, 4)
	require.NoError(t, err)
	require.NoError(t, h.eng.ClosePosition(h.ctx, st, id, 4))
	_, err = h.eng.CollectProtocolFees(h.ctx, st, treasury, 4)
	require.NoError(t, err)
}

func TestFailedOperationsLeaveStateUntouched(t *testing.T) {
	h := newHarness(t)
	st := h.pool(poolOpts{}, 0, -5632)
	h.deposit(st, -128, 128, 1_000_000, 0)
	before := st.Clone()
	events := len(h.sink.kinds())

	// Slippage.
	_, err := h.eng.Swap(h.ctx, st, SwapParams{
		Trader: trader, Amount: 100, OtherAmountThreshold: 100, AmountSpecifiedIsInput: true, AToB: true,
	})
	assert.ErrorIs(t, err, ErrAmountOutBelowMinimum)

	// A 10,000 input drains [-128, 128) and needs pages beyond what is loaded.
	_, err = h.eng.Swap(h.ctx, st, SwapParams{
		Trader: trader, Amount: 10_000, AmountSpecifiedIsInput: true, AToB: true,
	})
	assert.ErrorIs(t, err, tick.ErrPageNotLoaded)

	assert.Equal(t, before, st)
	assert.Equal(t, uint64(funding), h.ledger.Balance(mintA, trader))
	assert.Equal(t, uint64(funding), h.ledger.Balance(mintB, trader))
	assert.Len(t, h.sink.kinds(), events)
}

func TestExactOutputSwap(t *testing.T) {
	h := newHarness(t)
	st := h.pool(poolOpts{}, -5632, 0, 5632)
	h.deposit(st, -128, 128, 1_000_000_000, 0)

	_, err := h.eng.Swap(h.ctx, st, SwapParams{
		Trader: trader, Amount: 5000, OtherAmountThreshold: 5000, AToB: false,
	})
	assert.ErrorIs(t, err, ErrAmountInAboveMaximum)

	out, err := h.eng.Swap(h.ctx, st, SwapParams{
		Trader: trader, Amount: 5000, OtherAmountThreshold: 5100, AToB: false,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), out.AmountOut)
	assert.Equal(t, out.Result.AmountB, out.AmountIn)
	assert.Greater(t, out.AmountIn, uint64(5000))
	assert.Equal(t, uint64(funding+5000), h.ledger.Balance(mintA, trader))
	assert.Equal(t, funding-out.AmountIn, h.ledger.Balance(mintB, trader))
	assert.GreaterOrEqual(t, st.Pool.TickCurrentIndex, int32(0))
}

func TestTransferFeeGrossesUpDeposits(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ledger.SetFee(mintB, transfer.Fee{BasisPoints: 100, MaximumFee: 1_000_000_000}))
	st := h.pool(poolOpts{}, 0, -5632)
	id, rec := h.deposit(st, -128, 128, 1_000_000, 0)

	assert.Equal(t, uint64(6380), rec.AmountB)
	assert.Equal(t, uint64(6445), rec.TransferredB)
	assert.Equal(t, uint64(6380), h.ledger.Balance(mintB, vaultB))
	assert.Equal(t, uint64(funding-6445), h.ledger.Balance(mintB, lp))

	// The owner must net the minimum after the fee on the way out.
	_, err := h.eng.DecreaseLiquidity(h.ctx, st, DecreaseLiquidityParams{
		PositionID: id, Liquidity: uint256.NewInt(1_000_000), TokenMinB: 6370,
	})
	assert.ErrorIs(t, err, position.ErrTokenMinSubceeded)

	out, err := h.eng.DecreaseLiquidity(h.ctx, st, DecreaseLiquidityParams{
		PositionID: id, Liquidity: uint256.NewInt(1_000_000), TokenMinB: 6300,
	})
	require.NoError(t, err)
	assert.Equal(t, transfer.Fee{BasisPoints: 100, MaximumFee: 1_000_000_000}.Excluded(out.AmountB), out.TransferredB)
	assert.True(t, st.Positions[id].Liquidity.IsZero())
}

// shortLedger reports one unit less than arrived for deposits of one mint.
type shortLedger struct {
	*transfer.Ledger
	mint common.Address
}

func (s shortLedger) Deposit(ctx context.Context, mint, owner, vault common.Address, amount uint64) (uint64, error) {
	got, err := s.Ledger.Deposit(ctx, mint, owner, vault, amount)
	if err != nil || mint != s.mint {
		return got, err
	}
	return got - 1, nil
}

func TestShortfallRollsBackEarlierDeposits(t *testing.T) {
	h := newHarness(t)
	h.eng = New(shortLedger{Ledger: h.ledger, mint: mintB}, h.sink, nil)
	st := h.pool(poolOpts{}, 0, -5632)
	id, err := h.eng.OpenPosition(h.ctx, st, lp, -128, 128, 0, 0)
	require.NoError(t, err)

	_, err = h.eng.IncreaseLiquidity(h.ctx, st, IncreaseLiquidityParams{
		PositionID: id, Liquidity: uint256.NewInt(1_000_000), TokenMaxA: funding, TokenMaxB: funding,
	})
	assert.ErrorIs(t, err, transfer.ErrShortfall)
	assert.True(t, st.Pool.Liquidity.IsZero())
	assert.True(t, st.Positions[id].Liquidity.IsZero())
	assert.Zero(t, h.ledger.Balance(mintA, vaultA))
	assert.Equal(t, uint64(funding), h.ledger.Balance(mintA, lp))
}

func TestIncreaseFromTokenAmounts(t *testing.T) {
	h := newHarness(t)
	st := h.pool(poolOpts{}, 0, -5632)
	id, err := h.eng.OpenPosition(h.ctx, st, lp, -128, 128, 0, 0)
	require.NoError(t, err)

	rec, err := h.eng.IncreaseLiquidity(h.ctx, st, IncreaseLiquidityParams{
		PositionID: id, TokenMaxA: 6380, TokenMaxB: 6380,
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, rec.AmountA, uint64(6380))
	assert.LessOrEqual(t, rec.AmountB, uint64(6380))
	assert.True(t, rec.Liquidity.GtUint64(990_000))
	assert.Equal(t, rec.Liquidity, &st.Positions[id].Liquidity)
}

func TestRewardsSkipZeroLiquidityInterval(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ledger.Mint(mintR, vaultR, reward.SecondsPerDay))
	st := h.pool(poolOpts{}, 0, -5632)

	assert.ErrorIs(t, h.eng.InitializeReward(h.ctx, st, 1, mintR, vaultR, 0), pool.ErrInvalidRewardIndex)
	require.NoError(t, h.eng.InitializeReward(h.ctx, st, 0, mintR, vaultR, 0))

	twoPerSecond := new(uint256.Int).Lsh(uint256.NewInt(2), 64)
	assert.ErrorIs(t, h.eng.SetRewardEmissions(h.ctx, st, 0, twoPerSecond, 0), reward.ErrInsufficientVault)
	onePerSecond := fixedpoint.Q64()
	require.NoError(t, h.eng.SetRewardEmissions(h.ctx, st, 0, onePerSecond, 0))

	// Nothing is active for the first 100 seconds, so those emissions are forfeited.
	id, _ := h.deposit(st, -128, 128, 1_000_000_000, 100)
	settled, err := h.eng.UpdateFeesAndRewards(h.ctx, st, id, 200)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), settled.RewardInfos[0].AmountOwed)

	got, err := h.eng.CollectReward(h.ctx, st, id, 0, 201)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), got)
	assert.Equal(t, uint64(99), h.ledger.Balance(mintR, lp))

	_, err = h.eng.UpdateFeesAndRewards(h.ctx, st, id, 150)
	assert.ErrorIs(t, err, reward.ErrInvalidTimestamp)
}

func TestCloseRequiresEmptyPosition(t *testing.T) {
	h := newHarness(t)
	st := h.pool(poolOpts{protocolFeeRate: 2500}, 0, -5632)
	id, _ := h.deposit(st, -128, 128, 1_000_000_000, 0)

	_, err := h.eng.Swap(h.ctx, st, SwapParams{Trader: trader, Amount: 10_000, AmountSpecifiedIsInput: true, AToB: true})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), st.Pool.ProtocolFeeOwedA)

	assert.ErrorIs(t, h.eng.ClosePosition(h.ctx, st, id, 1), position.ErrPositionNotEmpty)

	_, err = h.eng.DecreaseLiquidity(h.ctx, st, DecreaseLiquidityParams{PositionID: id, Liquidity: uint256.NewInt(1_000_000_000)})
	require.NoError(t, err)
	assert.True(t, st.Pool.Liquidity.IsZero())
	assert.ErrorIs(t, h.eng.ClosePosition(h.ctx, st, id, 1), position.ErrPositionNotEmpty, "fees still owed")

	fees, err := h.eng.CollectFees(h.ctx, st, id, 1)
	require.NoError(t, err)
	assert.NotZero(t, fees.AmountA)
	require.NoError(t, h.eng.ClosePosition(h.ctx, st, id, 1))
	assert.NotContains(t, st.Positions, id)

	protocol, err := h.eng.CollectProtocolFees(h.ctx, st, treasury, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), protocol.TransferredA)
	assert.Equal(t, uint64(7), h.ledger.Balance(mintA, treasury))
	assert.Zero(t, st.Pool.ProtocolFeeOwedA)

	_, err = h.eng.CollectFees(h.ctx, st, id, 3)
	assert.ErrorIs(t, err, ErrPositionNotFound)
}

func TestOpenPositionRejectsDuplicates(t *testing.T) {
	h := newHarness(t)
	st := h.pool(poolOpts{}, 0)
	_, err := h.eng.OpenPosition(h.ctx, st, lp, -128, 128, 7, 0)
	require.NoError(t, err)
	_, err = h.eng.OpenPosition(h.ctx, st, lp, -128, 128, 7, 0)
	assert.ErrorIs(t, err, ErrPositionExists)
	assert.ErrorIs(t, h.eng.InitializeTickPage(h.ctx, st, 0, 0), ErrPageExists)
	assert.ErrorIs(t, h.eng.InitializeTickPage(h.ctx, st, 100, 0), tick.ErrInvalidStartIndex)
}

func TestTemporaryPoolWindows(t *testing.T) {
	h := newHarness(t)
	st := h.pool(poolOpts{temporary: &pool.TimeWindows{StartLP: 0, EndLP: 10, StartSwap: 5, EndSwap: 20}}, 0, -5632)
	id, _ := h.deposit(st, -128, 128, 1_000_000_000, 0)

	_, err := h.eng.Swap(h.ctx, st, SwapParams{Trader: trader, Amount: 100, AmountSpecifiedIsInput: true, AToB: true, Timestamp: 4})
	assert.ErrorIs(t, err, pool.ErrSwapWindowClosed)
	_, err = h.eng.Swap(h.ctx, st, SwapParams{Trader: trader, Amount: 100, AmountSpecifiedIsInput: true, AToB: true, Timestamp: 5})
	require.NoError(t, err)

	_, err = h.eng.DecreaseLiquidity(h.ctx, st, DecreaseLiquidityParams{PositionID: id, Liquidity: uint256.NewInt(1), Timestamp: 11})
	assert.ErrorIs(t, err, pool.ErrLPWindowClosed)
}

func TestOraclePoolRepricesBeforeSwap(t *testing.T) {
	h := newHarness(t)
	st := h.pool(poolOpts{spacing: pool.FullRangeOnlyTickSpacing, oracle: true}, -2883584, 0)
	lower, upper := tickmath.FullRangeTicks(pool.FullRangeOnlyTickSpacing)
	assert.Equal(t, int32(-425984), lower)
	h.deposit(st, lower, upper, 1_000_000_000, 0)

	req := SwapParams{Trader: trader, Amount: 1000, AmountSpecifiedIsInput: true, AToB: true, Timestamp: 10}
	_, err := h.eng.Swap(h.ctx, st, req)
	assert.ErrorIs(t, err, oracle.ErrOracleRequired)

	h.eng.SetOracle(st.Pool.ID, OracleSource{Oracle: oracle.Static{Mantissa: 4, PublishTime: 10}})
	_, err = h.eng.Swap(h.ctx, st, req)
	require.NoError(t, err)

	twice := new(uint256.Int).Lsh(fixedpoint.Q64(), 1)
	assert.True(t, st.Pool.SqrtPrice.Lt(twice))
	floor := new(uint256.Int).Sub(twice, new(uint256.Int).Rsh(fixedpoint.Q64(), 10))
	assert.True(t, st.Pool.SqrtPrice.Gt(floor), st.Pool.SqrtPrice.Dec())
	assert.Greater(t, st.Pool.TickCurrentIndex, int32(6900))
}

func TestSwapGuard(t *testing.T) {
	h := newHarness(t)
	st := h.pool(poolOpts{}, 0, -5632)
	h.deposit(st, -128, 128, 1_000_000_000, 0)
	before := st.Clone()

	swapWith := func(g oracle.Guard, ts uint64) error {
		_, err := h.eng.Swap(h.ctx, st, SwapParams{
			Trader: trader, Amount: 1000, AmountSpecifiedIsInput: true, AToB: true, Timestamp: ts, Guard: &g,
		})
		return err
	}

	assert.ErrorIs(t, swapWith(oracle.Guard{}, 100), oracle.ErrOracleRequired)

	h.eng.SetOracle(st.Pool.ID, OracleSource{Oracle: oracle.Static{Mantissa: 101, Exponent: -2, PublishTime: 100}})
	assert.ErrorIs(t, swapWith(oracle.Guard{MaxAge: 10}, 200), oracle.ErrStalePrice)
	assert.ErrorIs(t, swapWith(oracle.Guard{MaxDeviationBps: 50}, 100), oracle.ErrPriceDeviation)
	assert.Equal(t, before, st)

	require.NoError(t, swapWith(oracle.Guard{MaxAge: 10, MaxDeviationBps: 150}, 105))
	assert.True(t, st.Pool.SqrtPrice.Lt(fixedpoint.Q64()))
}

// route builds pools A/B and B/C, each with liqOne and liqTwo over [-128, 128).
func (h *harness) route(liqOne, liqTwo uint64) (*State, *State) {
	h.t.Helper()
	one := h.pool(poolOpts{}, 0, -5632)
	h.deposit(one, -128, 128, liqOne, 0)
	two := h.pool(poolOpts{mintA: mintB, mintB: mintC, vaultA: vaultB2, vaultB: vaultC}, 0, -5632)
	h.deposit(two, -128, 128, liqTwo, 0)
	return one, two
}

func TestTwoHopSwapExactInput(t *testing.T) {
	h := newHarness(t)
	one, two := h.route(1_000_000_000, 1_000_000_000)
	midOne, midTwo := h.ledger.Balance(mintB, vaultB), h.ledger.Balance(mintB, vaultB2)

	out, err := h.eng.TwoHopSwap(h.ctx, one, two, TwoHopSwapParams{
		Trader: trader, Amount: 10_000, AmountSpecifiedIsInput: true, AToBOne: true, AToBTwo: true,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000), out.AmountIn)
	assert.Equal(t, uint64(9969), out.One.AmountOut())
	assert.Equal(t, out.One.AmountOut(), out.Two.AmountIn())
	assert.Equal(t, out.Two.AmountOut(), out.AmountOut)
	assert.Less(t, out.AmountOut, uint64(9969))

	assert.Equal(t, uint64(funding-10_000), h.ledger.Balance(mintA, trader))
	assert.Equal(t, uint64(funding), h.ledger.Balance(mintB, trader))
	assert.Equal(t, funding+out.AmountOut, h.ledger.Balance(mintC, trader))
	assert.Equal(t, midOne-9969, h.ledger.Balance(mintB, vaultB))
	assert.Equal(t, midTwo+9969, h.ledger.Balance(mintB, vaultB2))
	assert.Equal(t, int32(-1), one.Pool.TickCurrentIndex)
	assert.Equal(t, int32(-1), two.Pool.TickCurrentIndex)

	kinds := h.sink.kinds()
	assert.Equal(t, []string{model.EventSwap, model.EventSwap}, kinds[len(kinds)-2:])
}

func TestTwoHopSwapExactOutput(t *testing.T) {
	h := newHarness(t)
	one, two := h.route(1_000_000_000, 1_000_000_000)

	_, err := h.eng.TwoHopSwap(h.ctx, one, two, TwoHopSwapParams{
		Trader: trader, Amount: 5000, OtherAmountThreshold: 5000, AToBOne: true, AToBTwo: true,
	})
	assert.ErrorIs(t, err, ErrAmountInAboveMaximum)

	out, err := h.eng.TwoHopSwap(h.ctx, one, two, TwoHopSwapParams{
		Trader: trader, Amount: 5000, OtherAmountThreshold: 5100, AToBOne: true, AToBTwo: true,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), out.AmountOut)
	assert.Equal(t, out.Two.AmountIn(), out.One.AmountOut())
	assert.Greater(t, out.One.AmountOut(), uint64(5000))
	assert.Greater(t, out.AmountIn, out.One.AmountOut())
	assert.Equal(t, funding-out.AmountIn, h.ledger.Balance(mintA, trader))
	assert.Equal(t, uint64(funding+5000), h.ledger.Balance(mintC, trader))
}

func TestTwoHopSwapValidation(t *testing.T) {
	h := newHarness(t)
	one, two := h.route(1_000_000_000, 1_000_000)
	beforeOne, beforeTwo := one.Clone(), two.Clone()

	req := TwoHopSwapParams{Trader: trader, Amount: 10_000, AmountSpecifiedIsInput: true, AToBOne: true, AToBTwo: true}
	_, err := h.eng.TwoHopSwap(h.ctx, one, one, req)
	assert.ErrorIs(t, err, ErrDuplicateTwoHopPool)

	mismatched := req
	mismatched.AToBTwo = false
	_, err = h.eng.TwoHopSwap(h.ctx, one, two, mismatched)
	assert.ErrorIs(t, err, ErrInvalidIntermediaryMint)

	// Hop one fills, hop two runs off its loaded pages; neither pool may move.
	_, err = h.eng.TwoHopSwap(h.ctx, one, two, req)
	assert.ErrorIs(t, err, tick.ErrPageNotLoaded)
	assert.Equal(t, beforeOne, one)
	assert.Equal(t, beforeTwo, two)
	assert.Equal(t, uint64(funding), h.ledger.Balance(mintA, trader))
	assert.Equal(t, uint64(funding), h.ledger.Balance(mintC, trader))
}

// activeLiquidity sums the liquidity of positions whose range contains the current tick.
func activeLiquidity(st *State) *uint256.Int {
	sum := new(uint256.Int)
	for _, pos := range st.Positions {
		if pos.TickLowerIndex <= st.Pool.TickCurrentIndex && st.Pool.TickCurrentIndex < pos.TickUpperIndex {
			sum.Add(sum, &pos.Liquidity)
		}
	}
	return sum
}

// requireTicksMatchPositions checks every bounding tick against the positions that
// reference it: gross is the sum of their liquidity, net adds at lower bounds and
// subtracts at upper bounds.
func requireTicksMatchPositions(t *testing.T, st *State, step int) {
	t.Helper()
	gross := map[int32]*uint256.Int{}
	net := map[int32]*uint256.Int{}
	for _, pos := range st.Positions {
		for _, index := range []int32{pos.TickLowerIndex, pos.TickUpperIndex} {
			if gross[index] == nil {
				gross[index], net[index] = new(uint256.Int), new(uint256.Int)
			}
			gross[index].Add(gross[index], &pos.Liquidity)
		}
		net[pos.TickLowerIndex].Add(net[pos.TickLowerIndex], &pos.Liquidity)
		net[pos.TickUpperIndex].Sub(net[pos.TickUpperIndex], &pos.Liquidity)
	}
	for index, want := range gross {
		got, err := st.tick(index)
		require.NoError(t, err)
		require.Equal(t, want, &got.LiquidityGross, "step %d tick %d gross", step, index)
		require.Equal(t, net[index], &got.LiquidityNet, "step %d tick %d net", step, index)
		require.Equal(t, !want.IsZero(), got.Initialized, "step %d tick %d initialized", step, index)
	}
}

func TestRandomizedOperationsKeepPoolConsistent(t *testing.T) {
	h := newHarness(t)
	st := h.pool(poolOpts{protocolFeeRate: 1000}, -11264, -5632, 0, 5632)
	rng := rand.New(rand.NewSource(7))

	// A wide base position keeps the price well inside the loaded pages.
	ids := []common.Hash{}
	id, _ := h.deposit(st, -5632, 5632, 10_000_000_000, 0)
	ids = append(ids, id)
	for i := 0; i < 12; i++ {
		lower := int32(rng.Intn(32)-32) * 64
		upper := lower + int32(rng.Intn(32)+1)*64
		id, err := h.eng.OpenPosition(h.ctx, st, lp, lower, upper, uint64(i+1), 0)
		require.NoError(t, err)
		_, err = h.eng.IncreaseLiquidity(h.ctx, st, IncreaseLiquidityParams{
			PositionID: id, Liquidity: uint256.NewInt(uint64(rng.Int63n(1_000_000_000) + 1)),
			TokenMaxA: funding, TokenMaxB: funding,
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.Equal(t, activeLiquidity(st), &st.Pool.Liquidity)
	requireTicksMatchPositions(t, st, -1)

	for i := 0; i < 300; i++ {
		ts := uint64(i)
		id := ids[rng.Intn(len(ids))]
		pos := st.Positions[id]

		switch action := rng.Intn(10); {
		case action < 6:
			req := SwapParams{
				Trader:                 trader,
				Amount:                 uint64(rng.Int63n(5_000_000) + 1000),
				AmountSpecifiedIsInput: rng.Intn(2) == 0,
				AToB:                   rng.Intn(2) == 0,
				Timestamp:              ts,
			}
			if !req.AmountSpecifiedIsInput {
				req.OtherAmountThreshold = math.MaxUint64
			}
			_, err := h.eng.Swap(h.ctx, st, req)
			require.NoError(t, err, "step %d swap", i)
		case action == 6:
			_, err := h.eng.IncreaseLiquidity(h.ctx, st, IncreaseLiquidityParams{
				PositionID: id, Liquidity: uint256.NewInt(uint64(rng.Int63n(1_000_000_000) + 1)),
				TokenMaxA: funding, TokenMaxB: funding, Timestamp: ts,
			})
			require.NoError(t, err, "step %d increase", i)
		case action == 7:
			if pos.Liquidity.IsZero() {
				continue
			}
			amount := uint64(rng.Int63n(int64(pos.Liquidity.Uint64()))) + 1
			_, err := h.eng.DecreaseLiquidity(h.ctx, st, DecreaseLiquidityParams{
				PositionID: id, Liquidity: uint256.NewInt(amount), Timestamp: ts,
			})
			require.NoError(t, err, "step %d decrease", i)
		case action == 8:
			_, err := h.eng.CollectFees(h.ctx, st, id, ts)
			require.NoError(t, err, "step %d collect", i)
		default:
			if pos.Liquidity.IsZero() {
				continue
			}
			_, err := h.eng.UpdateFeesAndRewards(h.ctx, st, id, ts)
			require.NoError(t, err, "step %d update", i)
		}

		require.Equal(t, activeLiquidity(st), &st.Pool.Liquidity, "step %d at tick %d", i, st.Pool.TickCurrentIndex)
		require.False(t, st.Pool.SqrtPrice.Lt(tickmath.MinSqrtPrice), "step %d price below minimum", i)
		require.False(t, st.Pool.SqrtPrice.Gt(tickmath.MaxSqrtPrice), "step %d price above maximum", i)
		requireTicksMatchPositions(t, st, i)
	}

	// Every position can be unwound and paid out in full.
	for _, id := range ids {
		pos := st.Positions[id]
		if !pos.Liquidity.IsZero() {
			_, err := h.eng.DecreaseLiquidity(h.ctx, st, DecreaseLiquidityParams{
				PositionID: id, Liquidity: new(uint256.Int).Set(&pos.Liquidity), Timestamp: 300,
			})
			require.NoError(t, err)
		}
		_, err := h.eng.CollectFees(h.ctx, st, id, 300)
		require.NoError(t, err)
		require.NoError(t, h.eng.ClosePosition(h.ctx, st, id, 300))
	}
	assert.True(t, st.Pool.Liquidity.IsZero())
	assert.Empty(t, st.Positions)
	_, err := h.eng.CollectProtocolFees(h.ctx, st, treasury, 300)
	require.NoError(t, err)
}
