package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"liquidityEngine/internal/model"
	"liquidityEngine/internal/oracle"
	"liquidityEngine/internal/pool"
	"liquidityEngine/internal/swap"
	"liquidityEngine/internal/transfer"
)

// SwapParams trades against one pool. For exact input Amount is what the trader sends
// and OtherAmountThreshold the minimum they receive; for exact output Amount is what
// they receive and OtherAmountThreshold the maximum they send. Both sides are measured
// after token transfer fees. A non-nil Guard additionally checks the resulting price
// against the pool's oracle. A non-nil Referral pays its account a cut of the swap
// fee.
type SwapParams struct {
	Trader                 common.Address
	Amount                 uint64
	OtherAmountThreshold   uint64
	SqrtPriceLimit         *uint256.Int
	AmountSpecifiedIsInput bool
	AToB                   bool
	Timestamp              uint64
	Guard                  *oracle.Guard
	Referral               *Referral
}

// Referral names who receives the referral cut of a swap fee and how large it is, in
// pool.ProtocolFeeRateDenominator units. The cut is paid in the input token.
type Referral struct {
	Account common.Address
	FeeRate uint16
}

func (r *Referral) validate() error {
	if r == nil {
		return nil
	}
	if r.Account == (common.Address{}) {
		return ErrMissingReferralAccount
	}
	if r.FeeRate > pool.MaxReferralFeeRate {
		return pool.ErrReferralFeeRateTooHigh
	}
	return nil
}

func (r *Referral) rate() uint16 {
	if r == nil {
		return 0
	}
	return r.FeeRate
}

// SwapReceipt is the pool-side swap result plus what the trader actually sent and
// received.
type SwapReceipt struct {
	Result    swap.Result
	AmountIn  uint64
	AmountOut uint64
}

// TwoHopSwapParams routes a trade through two pools sharing an intermediate token.
type TwoHopSwapParams struct {
	Trader                 common.Address
	Amount                 uint64
	OtherAmountThreshold   uint64
	AmountSpecifiedIsInput bool
	AToBOne                bool
	AToBTwo                bool
	SqrtPriceLimitOne      *uint256.Int
	SqrtPriceLimitTwo      *uint256.Int
	Timestamp              uint64
	Guard                  *oracle.Guard
	// Referral applies to both hops; each cut is paid in that hop's input token.
	Referral *Referral
}

type TwoHopSwapReceipt struct {
	One       swap.Result
	Two       swap.Result
	AmountIn  uint64
	AmountOut uint64
}

func (e *Engine) Swap(ctx context.Context, st *State, req SwapParams) (SwapReceipt, error) {
	const op = "swap"
	if err := req.Referral.validate(); err != nil {
		return SwapReceipt{}, e.fail(op, st, err)
	}
	next := st.Clone()
	p := &next.Pool
	feeIn, feeOut := e.fee(p.InputMint(req.AToB)), e.fee(p.OutputMint(req.AToB))

	params := swap.Params{
		AmountSpecifiedIsInput: req.AmountSpecifiedIsInput,
		AToB:                   req.AToB,
		SqrtPriceLimit:         req.SqrtPriceLimit,
		Timestamp:              req.Timestamp,
		ReferralFeeRate:        req.Referral.rate(),
	}
	if req.AmountSpecifiedIsInput {
		params.Amount = feeIn.Excluded(req.Amount)
	} else {
		gross, err := feeOut.Included(req.Amount)
		if err != nil {
			return SwapReceipt{}, e.fail(op, st, err)
		}
		params.Amount = gross
	}

	res, err := e.runSwap(ctx, next, params, req.Guard)
	if err != nil {
		return SwapReceipt{}, e.fail(op, st, err)
	}

	amountIn, err := grossInput(feeIn, req.AmountSpecifiedIsInput, req.Amount, params.Amount, res.AmountIn())
	if err != nil {
		return SwapReceipt{}, e.fail(op, st, err)
	}
	amountOut := feeOut.Excluded(res.AmountOut())
	if err := checkThreshold(req.AmountSpecifiedIsInput, amountIn, amountOut, req.OtherAmountThreshold); err != nil {
		return SwapReceipt{}, e.fail(op, st, err)
	}

	x := e.newTransfers()
	if _, err := x.deposit(ctx, p.InputMint(req.AToB), req.Trader, inputVault(next, req.AToB), amountIn, res.AmountIn()); err != nil {
		x.rollback(ctx)
		return SwapReceipt{}, e.fail(op, st, err)
	}
	if _, err := x.withdraw(ctx, p.OutputMint(req.AToB), outputVault(next, req.AToB), req.Trader, res.AmountOut(), 0); err != nil {
		x.rollback(ctx)
		return SwapReceipt{}, e.fail(op, st, err)
	}
	if err := payReferral(ctx, x, next, req.Referral, res); err != nil {
		x.rollback(ctx)
		return SwapReceipt{}, e.fail(op, st, err)
	}

	e.commit(ctx, st, next, e.swapEvent(next, req.Trader, res, req.Timestamp))
	e.logger.Debug("swap",
		zap.String("pool", p.ID.Hex()),
		zap.Bool("a_to_b", req.AToB),
		zap.Uint64("amount_in", amountIn),
		zap.Uint64("amount_out", amountOut),
		zap.Uint64("fee", res.FeeAmount),
		zap.Uint64("referral_fee", res.ReferralFee),
		zap.Int("ticks_crossed", len(res.Crossings)),
		zap.Bool("partial_fill", res.PartialFill),
	)
	return SwapReceipt{Result: res, AmountIn: amountIn, AmountOut: amountOut}, nil
}

// TwoHopSwap swaps through pool one and then pool two. Either both hops commit or
// neither does. Exact output is resolved from the last hop backwards.
func (e *Engine) TwoHopSwap(ctx context.Context, one, two *State, req TwoHopSwapParams) (TwoHopSwapReceipt, error) {
	const op = "two_hop_swap"
	if one.Pool.ID == two.Pool.ID {
		return TwoHopSwapReceipt{}, e.fail(op, one, ErrDuplicateTwoHopPool)
	}
	if err := req.Referral.validate(); err != nil {
		return TwoHopSwapReceipt{}, e.fail(op, one, err)
	}
	mid := one.Pool.OutputMint(req.AToBOne)
	if mid != two.Pool.InputMint(req.AToBTwo) {
		return TwoHopSwapReceipt{}, e.fail(op, one, ErrInvalidIntermediaryMint)
	}

	nextOne, nextTwo := one.Clone(), two.Clone()
	feeIn := e.fee(one.Pool.InputMint(req.AToBOne))
	feeMid := e.fee(mid)
	feeOut := e.fee(two.Pool.OutputMint(req.AToBTwo))

	hop := func(st *State, amount uint64, aToB bool, limit *uint256.Int) (swap.Result, error) {
		return e.runSwap(ctx, st, swap.Params{
			Amount:                 amount,
			AmountSpecifiedIsInput: req.AmountSpecifiedIsInput,
			AToB:                   aToB,
			SqrtPriceLimit:         limit,
			Timestamp:              req.Timestamp,
			ReferralFeeRate:        req.Referral.rate(),
		}, req.Guard)
	}

	var r1, r2 swap.Result
	var firstAmount uint64
	var err error
	if req.AmountSpecifiedIsInput {
		firstAmount = feeIn.Excluded(req.Amount)
		if r1, err = hop(nextOne, firstAmount, req.AToBOne, req.SqrtPriceLimitOne); err != nil {
			return TwoHopSwapReceipt{}, e.fail(op, one, fmt.Errorf("hop one: %w", err))
		}
		midAmount := feeMid.Excluded(r1.AmountOut())
		if r2, err = hop(nextTwo, midAmount, req.AToBTwo, req.SqrtPriceLimitTwo); err != nil {
			return TwoHopSwapReceipt{}, e.fail(op, two, fmt.Errorf("hop two: %w", err))
		}
		if r2.AmountIn() != midAmount {
			return TwoHopSwapReceipt{}, e.fail(op, two, fmt.Errorf("%w: hop one delivers %d, hop two takes %d",
				ErrIntermediateAmountMismatch, midAmount, r2.AmountIn()))
		}
	} else {
		lastAmount, err := feeOut.Included(req.Amount)
		if err != nil {
			return TwoHopSwapReceipt{}, e.fail(op, two, err)
		}
		if r2, err = hop(nextTwo, lastAmount, req.AToBTwo, req.SqrtPriceLimitTwo); err != nil {
			return TwoHopSwapReceipt{}, e.fail(op, two, fmt.Errorf("hop two: %w", err))
		}
		midAmount, err := feeMid.Included(r2.AmountIn())
		if err != nil {
			return TwoHopSwapReceipt{}, e.fail(op, one, err)
		}
		firstAmount = midAmount
		if r1, err = hop(nextOne, midAmount, req.AToBOne, req.SqrtPriceLimitOne); err != nil {
			return TwoHopSwapReceipt{}, e.fail(op, one, fmt.Errorf("hop one: %w", err))
		}
		if r1.AmountOut() != midAmount {
			return TwoHopSwapReceipt{}, e.fail(op, one, fmt.Errorf("%w: hop two needs %d, hop one delivers %d",
				ErrIntermediateAmountMismatch, midAmount, r1.AmountOut()))
		}
	}

	amountIn, err := grossInput(feeIn, req.AmountSpecifiedIsInput, req.Amount, firstAmount, r1.AmountIn())
	if err != nil {
		return TwoHopSwapReceipt{}, e.fail(op, one, err)
	}
	amountOut := feeOut.Excluded(r2.AmountOut())
	if err := checkThreshold(req.AmountSpecifiedIsInput, amountIn, amountOut, req.OtherAmountThreshold); err != nil {
		return TwoHopSwapReceipt{}, e.fail(op, one, err)
	}

	x := e.newTransfers()
	if _, err := x.deposit(ctx, nextOne.Pool.InputMint(req.AToBOne), req.Trader,
		inputVault(nextOne, req.AToBOne), amountIn, r1.AmountIn()); err != nil {
		x.rollback(ctx)
		return TwoHopSwapReceipt{}, e.fail(op, one, err)
	}
	if _, err := x.withdraw(ctx, mid, outputVault(nextOne, req.AToBOne),
		inputVault(nextTwo, req.AToBTwo), r1.AmountOut(), r2.AmountIn()); err != nil {
		x.rollback(ctx)
		return TwoHopSwapReceipt{}, e.fail(op, one, err)
	}
	if _, err := x.withdraw(ctx, nextTwo.Pool.OutputMint(req.AToBTwo), outputVault(nextTwo, req.AToBTwo),
		req.Trader, r2.AmountOut(), 0); err != nil {
		x.rollback(ctx)
		return TwoHopSwapReceipt{}, e.fail(op, two, err)
	}
	if err := payReferral(ctx, x, nextOne, req.Referral, r1); err != nil {
		x.rollback(ctx)
		return TwoHopSwapReceipt{}, e.fail(op, one, err)
	}
	if err := payReferral(ctx, x, nextTwo, req.Referral, r2); err != nil {
		x.rollback(ctx)
		return TwoHopSwapReceipt{}, e.fail(op, two, err)
	}

	e.commit(ctx, one, nextOne, e.swapEvent(nextOne, req.Trader, r1, req.Timestamp))
	e.commit(ctx, two, nextTwo, e.swapEvent(nextTwo, req.Trader, r2, req.Timestamp))
	return TwoHopSwapReceipt{One: r1, Two: r2, AmountIn: amountIn, AmountOut: amountOut}, nil
}

// runSwap executes one swap against next and writes the result into it. Oracle pools
// are first moved to the oracle price.
func (e *Engine) runSwap(ctx context.Context, next *State, params swap.Params, guard *oracle.Guard) (swap.Result, error) {
	p := &next.Pool
	if err := p.CheckSwapWindow(params.Timestamp); err != nil {
		return swap.Result{}, err
	}

	var oracleSqrtPrice *uint256.Int
	if p.IsOracle || guard != nil {
		src, ok := e.oracleFor(p.ID)
		if !ok {
			return swap.Result{}, fmt.Errorf("pool %s: %w", p.ID.Hex(), oracle.ErrOracleRequired)
		}
		price, err := src.Oracle.LatestPrice(ctx)
		if err != nil {
			return swap.Result{}, fmt.Errorf("oracle price: %w", err)
		}
		if err := src.Guard.CheckFresh(price, params.Timestamp); err != nil {
			return swap.Result{}, err
		}
		if guard != nil {
			if err := guard.CheckFresh(price, params.Timestamp); err != nil {
				return swap.Result{}, err
			}
		}
		if oracleSqrtPrice, err = oracle.SqrtPriceFromPrice(price, src.DecimalsA, src.DecimalsB); err != nil {
			return swap.Result{}, err
		}
		if p.IsOracle {
			if err := p.Reprice(oracleSqrtPrice); err != nil {
				return swap.Result{}, err
			}
		}
	}

	seq, err := next.sequence(params.AToB)
	if err != nil {
		return swap.Result{}, err
	}
	res, err := swap.Swap(p, seq, params)
	if err != nil {
		return swap.Result{}, err
	}
	if guard != nil {
		if err := guard.CheckDeviation(res.SqrtPrice, oracleSqrtPrice); err != nil {
			return swap.Result{}, err
		}
	}

	if err := p.ApplySwap(res.Update(params.Timestamp)); err != nil {
		return swap.Result{}, err
	}
	for _, c := range res.Crossings {
		t, err := next.tick(c.Index)
		if err != nil {
			return swap.Result{}, err
		}
		*t = c.Tick
	}
	return res, nil
}

func (e *Engine) swapEvent(st *State, trader common.Address, res swap.Result, ts uint64) model.EngineEvent {
	ev := e.event(model.EventSwap, st, ts)
	ev.Account = trader.Hex()
	ev.AmountA, ev.AmountB = res.AmountA, res.AmountB
	ev.Swap = &model.Swap{
		AToB:         res.AToB,
		AmountIn:     res.AmountIn(),
		AmountOut:    res.AmountOut(),
		FeeAmount:    res.FeeAmount,
		ProtocolFee:  res.ProtocolFee,
		ReferralFee:  res.ReferralFee,
		PartialFill:  res.PartialFill,
		TicksCrossed: len(res.Crossings),
	}
	return ev
}

// payReferral sends the referral cut of res from the input vault of st.
func payReferral(ctx context.Context, x *transfers, st *State, r *Referral, res swap.Result) error {
	if r == nil || res.ReferralFee == 0 {
		return nil
	}
	_, err := x.withdraw(ctx, st.Pool.InputMint(res.AToB), inputVault(st, res.AToB), r.Account, res.ReferralFee, 0)
	return err
}

// grossInput returns what the trader sends so the pool receives poolIn. An exact input
// swap that consumed its whole budget charges the requested amount.
func grossInput(feeIn transfer.Fee, isInput bool, requested, budget, poolIn uint64) (uint64, error) {
	if isInput && poolIn == budget {
		return requested, nil
	}
	return feeIn.Included(poolIn)
}

func checkThreshold(isInput bool, amountIn, amountOut, threshold uint64) error {
	if isInput && amountOut < threshold {
		return fmt.Errorf("%w: %d < %d", ErrAmountOutBelowMinimum, amountOut, threshold)
	}
	if !isInput && amountIn > threshold {
		return fmt.Errorf("%w: %d > %d", ErrAmountInAboveMaximum, amountIn, threshold)
	}
	return nil
}

func inputVault(st *State, aToB bool) common.Address {
	if aToB {
		return st.Pool.TokenVaultA
	}
	return st.Pool.TokenVaultB
}

func outputVault(st *State, aToB bool) common.Address {
	if aToB {
		return st.Pool.TokenVaultB
	}
	return st.Pool.TokenVaultA
}
