// Package simulate replays a JSONL scenario of operations against the engine, with an
// in-memory token ledger standing in for real token accounts.
package simulate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"liquidityEngine/internal/chain"
	"liquidityEngine/internal/engine"
	"liquidityEngine/internal/fixedpoint"
	"liquidityEngine/internal/oracle"
	"liquidityEngine/internal/pool"
	"liquidityEngine/internal/storage"
	"liquidityEngine/internal/tickmath"
	"liquidityEngine/internal/transfer"
)

// StateStore persists pool states between runs. *postgres.Store implements it.
type StateStore interface {
	LoadPoolState(ctx context.Context, poolID common.Hash) (*engine.State, bool, error)
	SavePoolState(ctx context.Context, st *engine.State) error
}

// PoolCache publishes pool snapshots. *redis.Cache implements it.
type PoolCache interface {
	PutPool(ctx context.Context, p pool.Pool) error
}

// RunConfig holds runtime settings for the simulator.
type RunConfig struct {
	Store        StateStore
	Cache        PoolCache
	Feed         oracle.Oracle
	StopOnError  bool
	MaxRetries   int
	RetryBackoff time.Duration
}

// Summary counts what a run did.
type Summary struct {
	Total   int
	Applied int
	Failed  int
	Pools   int
}

// Runner applies scenario operations and keeps the resulting pool states.
type Runner struct {
	cfg       RunConfig
	engine    *engine.Engine
	ledger    *transfer.Ledger
	logger    *zap.Logger
	states    map[string]*engine.State
	positions map[string]common.Hash
	dirty     map[string]struct{}
}

// NewRunner builds a Runner. eng must have been built over ledger.
func NewRunner(cfg RunConfig, eng *engine.Engine, ledger *transfer.Ledger, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:       cfg,
		engine:    eng,
		ledger:    ledger,
		logger:    logger,
		states:    make(map[string]*engine.State),
		positions: make(map[string]common.Hash),
		dirty:     make(map[string]struct{}),
	}
}

// Run replays the scenario file at path.
func (r *Runner) Run(ctx context.Context, path string) (Summary, error) {
	file, err := os.Open(path)
	if err != nil {
		return Summary{}, fmt.Errorf("open scenario: %w", err)
	}
	defer file.Close()
	return r.RunReader(ctx, file)
}

// RunReader replays scenario lines from in, then persists every pool the run changed.
// A failing operation leaves its pool untouched; the run continues unless StopOnError
// is set.
func (r *Runner) RunReader(ctx context.Context, in io.Reader) (Summary, error) {
	if r.engine == nil || r.ledger == nil {
		return Summary{}, fmt.Errorf("engine and ledger are required")
	}

	var sum Summary
	line := 0
	err := storage.ScanJSONL(in, func(raw []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		line++
		sum.Total++

		var op Op
		if err := json.Unmarshal(raw, &op); err != nil {
			sum.Failed++
			r.logger.Warn("decode operation", zap.Int("line", line), zap.Error(err))
			if r.cfg.StopOnError {
				return fmt.Errorf("line %d: decode operation: %w", line, err)
			}
			return nil
		}

		if err := r.Apply(ctx, op); err != nil {
			sum.Failed++
			r.logger.Warn("operation failed", zap.Int("line", line), zap.String("op", op.Kind), zap.Error(err))
			if r.cfg.StopOnError {
				return fmt.Errorf("line %d: %s: %w", line, op.Kind, err)
			}
			return nil
		}
		sum.Applied++
		return nil
	})
	if err != nil {
		return sum, err
	}

	if err := r.Flush(ctx); err != nil {
		return sum, err
	}
	sum.Pools = len(r.states)

	r.logger.Info("simulation complete",
		zap.Int("total", sum.Total),
		zap.Int("applied", sum.Applied),
		zap.Int("failed", sum.Failed),
		zap.Int("pools", sum.Pools),
	)
	return sum, nil
}

// Flush saves and caches every pool changed since the last flush.
func (r *Runner) Flush(ctx context.Context) error {
	for name := range r.dirty {
		st := r.states[name]
		if r.cfg.Store != nil {
			err := chain.WithRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
				err := r.cfg.Store.SavePoolState(ctx, st)
				if err != nil {
					r.logger.Warn("save pool state failed", zap.String("pool", name), zap.Error(err))
				}
				return err
			})
			if err != nil {
				return fmt.Errorf("save pool %s: %w", name, err)
			}
		}
		if r.cfg.Cache != nil {
			if err := r.cfg.Cache.PutPool(ctx, st.Pool); err != nil {
				r.logger.Warn("cache pool failed", zap.String("pool", name), zap.Error(err))
			}
		}
		delete(r.dirty, name)
	}
	return nil
}

// State returns the pool registered under name.
func (r *Runner) State(name string) (*engine.State, bool) {
	st, ok := r.states[name]
	return st, ok
}

// PositionID returns the position registered under name.
func (r *Runner) PositionID(name string) (common.Hash, bool) {
	id, ok := r.positions[name]
	return id, ok
}

// Apply executes one operation.
func (r *Runner) Apply(ctx context.Context, op Op) error {
	switch op.Kind {
	case OpMint:
		return r.mint(op)
	case OpSetTransferFee:
		mint, err := parseAddress("mint", op.Mint)
		if err != nil {
			return err
		}
		return r.ledger.SetFee(mint, transfer.Fee{BasisPoints: op.BasisPoints, MaximumFee: op.MaximumFee})
	case OpInitializePool:
		return r.initializePool(ctx, op)
	case OpTwoHopSwap:
		return r.twoHopSwap(ctx, op)
	}

	st, err := r.state(op.Pool)
	if err != nil {
		return err
	}
	if err := r.applyToPool(ctx, st, op); err != nil {
		return err
	}
	r.dirty[op.Pool] = struct{}{}
	return nil
}

func (r *Runner) applyToPool(ctx context.Context, st *engine.State, op Op) error {
	ts := op.Timestamp
	switch op.Kind {
	case OpInitializeTickPage:
		return r.engine.InitializeTickPage(ctx, st, op.Start, ts)

	case OpOpenPosition:
		owner, err := parseAddress("owner", op.Owner)
		if err != nil {
			return err
		}
		id, err := r.engine.OpenPosition(ctx, st, owner, op.TickLower, op.TickUpper, op.Salt, ts)
		if err != nil {
			return err
		}
		name := op.Position
		if name == "" {
			name = id.Hex()
		}
		r.positions[name] = id
		return nil

	case OpIncreaseLiquidity:
		id, err := r.position(op.Position)
		if err != nil {
			return err
		}
		liq, err := parseAmount("liquidity", op.Liquidity)
		if err != nil {
			return err
		}
		rec, err := r.engine.IncreaseLiquidity(ctx, st, engine.IncreaseLiquidityParams{
			PositionID: id,
			Liquidity:  liq,
			TokenMaxA:  op.TokenMaxA,
			TokenMaxB:  op.TokenMaxB,
			Timestamp:  ts,
		})
		if err != nil {
			return err
		}
		r.logReceipt(op, rec)
		return nil

	case OpDecreaseLiquidity:
		id, err := r.position(op.Position)
		if err != nil {
			return err
		}
		liq, err := parseAmount("liquidity", op.Liquidity)
		if err != nil {
			return err
		}
		if liq == nil {
			return fmt.Errorf("liquidity is required")
		}
		rec, err := r.engine.DecreaseLiquidity(ctx, st, engine.DecreaseLiquidityParams{
			PositionID: id,
			Liquidity:  liq,
			TokenMinA:  op.TokenMinA,
			TokenMinB:  op.TokenMinB,
			Timestamp:  ts,
		})
		if err != nil {
			return err
		}
		r.logReceipt(op, rec)
		return nil

	case OpUpdateFeesRewards:
		id, err := r.position(op.Position)
		if err != nil {
			return err
		}
		_, err = r.engine.UpdateFeesAndRewards(ctx, st, id, ts)
		return err

	case OpCollectFees:
		id, err := r.position(op.Position)
		if err != nil {
			return err
		}
		rec, err := r.engine.CollectFees(ctx, st, id, ts)
		if err != nil {
			return err
		}
		r.logReceipt(op, rec)
		return nil

	case OpCollectReward:
		id, err := r.position(op.Position)
		if err != nil {
			return err
		}
		amount, err := r.engine.CollectReward(ctx, st, id, op.RewardIndex, ts)
		if err != nil {
			return err
		}
		r.logger.Debug("reward collected", zap.String("position", op.Position), zap.Uint64("amount", amount))
		return nil

	case OpClosePosition:
		id, err := r.position(op.Position)
		if err != nil {
			return err
		}
		if err := r.engine.ClosePosition(ctx, st, id, ts); err != nil {
			return err
		}
		delete(r.positions, op.Position)
		return nil

	case OpSwap:
		trader, err := parseAddress("trader", op.Trader)
		if err != nil {
			return err
		}
		limit, err := parseAmount("sqrt_price_limit", op.SqrtPriceLimit)
		if err != nil {
			return err
		}
		ref, err := referral(op)
		if err != nil {
			return err
		}
		rec, err := r.engine.Swap(ctx, st, engine.SwapParams{
			Trader:                 trader,
			Amount:                 op.Amount,
			OtherAmountThreshold:   op.Threshold,
			SqrtPriceLimit:         limit,
			AmountSpecifiedIsInput: op.ExactIn,
			AToB:                   op.AToB,
			Timestamp:              ts,
			Guard:                  guard(op),
			Referral:               ref,
		})
		if err != nil {
			return err
		}
		r.logger.Debug("swap",
			zap.String("pool", op.Pool),
			zap.Uint64("amount_in", rec.AmountIn),
			zap.Uint64("amount_out", rec.AmountOut),
			zap.Bool("partial_fill", rec.Result.PartialFill),
		)
		return nil

	case OpReinvestFees:
		id, err := r.position(op.Position)
		if err != nil {
			return err
		}
		rec, err := r.engine.ReinvestFees(ctx, st, engine.ReinvestFeesParams{
			PositionID: id,
			FeeRate:    op.ProtocolFeeRate,
			Timestamp:  ts,
		})
		if err != nil {
			return err
		}
		r.logReceipt(op, rec)
		return nil

	case OpInitializeReward:
		mint, err := parseAddress("reward_mint", op.RewardMint)
		if err != nil {
			return err
		}
		vault, err := parseAddress("reward_vault", op.RewardVault)
		if err != nil {
			return err
		}
		return r.engine.InitializeReward(ctx, st, op.RewardIndex, mint, vault, ts)

	case OpSetRewardEmissions:
		emissions, err := parseAmount("emissions_per_second_x64", op.EmissionsX64)
		if err != nil {
			return err
		}
		if emissions == nil {
			emissions = new(uint256.Int)
		}
		return r.engine.SetRewardEmissions(ctx, st, op.RewardIndex, emissions, ts)

	case OpCollectProtocolFees:
		recipient, err := parseAddress("recipient", op.Recipient)
		if err != nil {
			return err
		}
		rec, err := r.engine.CollectProtocolFees(ctx, st, recipient, ts)
		if err != nil {
			return err
		}
		r.logReceipt(op, rec)
		return nil
	}
	return fmt.Errorf("unknown operation %q", op.Kind)
}

func (r *Runner) mint(op Op) error {
	mint, err := parseAddress("mint", op.Mint)
	if err != nil {
		return err
	}
	owner, err := parseAddress("owner", op.Owner)
	if err != nil {
		return err
	}
	return r.ledger.Mint(mint, owner, op.Amount)
}

// initializePool creates the pool named op.Pool, or restores it from the store when a
// pool with the same key was saved before.
func (r *Runner) initializePool(ctx context.Context, op Op) error {
	if op.Pool == "" {
		return fmt.Errorf("pool name is required")
	}
	if _, ok := r.states[op.Pool]; ok {
		return fmt.Errorf("pool %s already defined", op.Pool)
	}

	params, err := poolParams(op)
	if err != nil {
		return err
	}

	var st *engine.State
	if r.cfg.Store != nil {
		id := params.Key.ID()
		restored, ok, err := r.cfg.Store.LoadPoolState(ctx, id)
		if err != nil {
			return fmt.Errorf("load pool %s: %w", op.Pool, err)
		}
		if ok {
			st = restored
			r.logger.Info("pool restored", zap.String("pool", op.Pool), zap.String("id", id.Hex()), zap.Int("pages", len(st.Pages)))
		}
	}
	if st == nil {
		st, err = r.engine.InitializePool(ctx, params)
		if err != nil {
			return err
		}
	}

	if op.Oracle != nil {
		r.registerOracle(st.Pool.ID, op.Oracle)
	}
	r.states[op.Pool] = st
	r.dirty[op.Pool] = struct{}{}
	return nil
}

func (r *Runner) registerOracle(poolID common.Hash, settings *OracleSettings) {
	var src oracle.Oracle
	switch {
	case settings.Mantissa > 0:
		src = oracle.Static{Mantissa: settings.Mantissa, Exponent: settings.Exponent, PublishTime: settings.PublishTime}
	case r.cfg.Feed != nil:
		src = r.cfg.Feed
	default:
		r.logger.Warn("oracle pool without price source", zap.String("pool", poolID.Hex()))
		return
	}
	r.engine.SetOracle(poolID, engine.OracleSource{
		Oracle:    src,
		DecimalsA: settings.DecimalsA,
		DecimalsB: settings.DecimalsB,
		Guard:     oracle.Guard{MaxAge: settings.MaxAge},
	})
}

func (r *Runner) twoHopSwap(ctx context.Context, op Op) error {
	one, err := r.state(op.Pool)
	if err != nil {
		return err
	}
	two, err := r.state(op.PoolTwo)
	if err != nil {
		return err
	}
	trader, err := parseAddress("trader", op.Trader)
	if err != nil {
		return err
	}
	limitOne, err := parseAmount("sqrt_price_limit", op.SqrtPriceLimit)
	if err != nil {
		return err
	}
	limitTwo, err := parseAmount("sqrt_price_limit_two", op.SqrtPriceLimitTwo)
	if err != nil {
		return err
	}
	ref, err := referral(op)
	if err != nil {
		return err
	}

	rec, err := r.engine.TwoHopSwap(ctx, one, two, engine.TwoHopSwapParams{
		Trader:                 trader,
		Amount:                 op.Amount,
		OtherAmountThreshold:   op.Threshold,
		AmountSpecifiedIsInput: op.ExactIn,
		AToBOne:                op.AToB,
		AToBTwo:                op.AToBTwo,
		SqrtPriceLimitOne:      limitOne,
		SqrtPriceLimitTwo:      limitTwo,
		Timestamp:              op.Timestamp,
		Guard:                  guard(op),
		Referral:               ref,
	})
	if err != nil {
		return err
	}
	r.dirty[op.Pool] = struct{}{}
	r.dirty[op.PoolTwo] = struct{}{}
	r.logger.Debug("two hop swap",
		zap.String("pool_one", op.Pool),
		zap.String("pool_two", op.PoolTwo),
		zap.Uint64("amount_in", rec.AmountIn),
		zap.Uint64("amount_out", rec.AmountOut),
	)
	return nil
}

func (r *Runner) state(name string) (*engine.State, error) {
	st, ok := r.states[name]
	if !ok {
		return nil, fmt.Errorf("unknown pool %q", name)
	}
	return st, nil
}

func (r *Runner) position(name string) (common.Hash, error) {
	if id, ok := r.positions[name]; ok {
		return id, nil
	}
	return common.Hash{}, fmt.Errorf("unknown position %q", name)
}

func (r *Runner) logReceipt(op Op, rec engine.Receipt) {
	r.logger.Debug("receipt",
		zap.String("op", op.Kind),
		zap.String("pool", op.Pool),
		zap.Uint64("amount_a", rec.AmountA),
		zap.Uint64("amount_b", rec.AmountB),
		zap.Uint64("transferred_a", rec.TransferredA),
		zap.Uint64("transferred_b", rec.TransferredB),
	)
}

func guard(op Op) *oracle.Guard {
	if op.MaxAge == 0 && op.MaxDeviationBps == 0 {
		return nil
	}
	return &oracle.Guard{MaxAge: op.MaxAge, MaxDeviationBps: op.MaxDeviationBps}
}

// referral reads the optional referrer of a swap. A rate without a referrer is left
// for the engine to reject.
func referral(op Op) (*engine.Referral, error) {
	if op.Referrer == "" && op.ReferralFeeRate == 0 {
		return nil, nil
	}
	ref := &engine.Referral{FeeRate: op.ReferralFeeRate}
	if op.Referrer != "" {
		account, err := parseAddress("referrer", op.Referrer)
		if err != nil {
			return nil, err
		}
		ref.Account = account
	}
	return ref, nil
}

func poolParams(op Op) (pool.InitParams, error) {
	var addrs [4]common.Address
	for i, f := range []struct{ name, value string }{
		{"mint_a", op.MintA}, {"mint_b", op.MintB}, {"vault_a", op.VaultA}, {"vault_b", op.VaultB},
	} {
		addr, err := parseAddress(f.name, f.value)
		if err != nil {
			return pool.InitParams{}, err
		}
		addrs[i] = addr
	}

	sqrtPrice, err := parseAmount("sqrt_price", op.SqrtPrice)
	if err != nil {
		return pool.InitParams{}, err
	}
	if op.InitialTick != nil {
		if sqrtPrice, err = tickmath.SqrtPriceAtTick(*op.InitialTick); err != nil {
			return pool.InitParams{}, err
		}
	}
	if sqrtPrice == nil {
		sqrtPrice = fixedpoint.Q64()
	}

	params := pool.InitParams{
		Key:              pool.Key{TokenMintA: addrs[0], TokenMintB: addrs[1], TickSpacing: op.TickSpacing},
		VaultA:           addrs[2],
		VaultB:           addrs[3],
		FeeRate:          op.FeeRate,
		ProtocolFeeRate:  op.ProtocolFeeRate,
		InitialSqrtPrice: sqrtPrice,
		Oracle:           op.Oracle != nil,
		Timestamp:        op.Timestamp,
	}
	if op.RewardAuthority != "" {
		if params.RewardAuthority, err = parseAddress("reward_authority", op.RewardAuthority); err != nil {
			return pool.InitParams{}, err
		}
	}
	if w := op.Windows; w != nil {
		params.Temporary = &pool.TimeWindows{StartLP: w.StartLP, EndLP: w.EndLP, StartSwap: w.StartSwap, EndSwap: w.EndSwap}
	}
	return params, nil
}
