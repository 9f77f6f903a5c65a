package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"liquidityEngine/internal/model"
	"liquidityEngine/internal/storage"
)

const (
	feeMethodExact = "exact_from_swap_event"
	tvlMethodFlow  = "event_flow"
	tvlMethodNone  = "unavailable"
)

// MetricsStore receives pool catalog entries and window metrics.
type MetricsStore interface {
	UpsertPools(ctx context.Context, pools []model.Pool) error
	UpsertWindowMetrics(ctx context.Context, metrics []model.PoolWindowMetrics) error
}

// Config controls aggregation behavior.
type Config struct {
	WindowSeconds uint64
	BatchSize     int
	RecomputeFrom uint64
	StateStore    StateStore
	Decimals      *TokenDecimalsCache
}

// Aggregator folds engine events into per-pool window metrics.
type Aggregator struct {
	cfg          Config
	store        MetricsStore
	logger       *zap.Logger
	reserves     *ReserveTracker
	accumulators map[string]*Accumulator
	poolSeen     map[string]model.Pool
}

func NewAggregator(cfg Config, store MetricsStore, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Decimals == nil {
		cfg.Decimals = NewTokenDecimalsCache()
	}

	return &Aggregator{
		cfg:          cfg,
		store:        store,
		logger:       logger,
		reserves:     NewReserveTracker(),
		accumulators: make(map[string]*Accumulator),
		poolSeen:     make(map[string]model.Pool),
	}
}

// Run aggregates an engine events JSONL file.
func (a *Aggregator) Run(ctx context.Context, inputPath string) error {
	file, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer file.Close()
	return a.RunReader(ctx, file)
}

// RunReader aggregates engine events read as JSONL from r. Events must be ordered by
// timestamp within each pool.
func (a *Aggregator) RunReader(ctx context.Context, r io.Reader) error {
	if a.store == nil {
		return fmt.Errorf("store is nil")
	}
	if a.cfg.WindowSeconds == 0 {
		return fmt.Errorf("window seconds must be > 0")
	}
	if a.cfg.BatchSize <= 0 {
		a.cfg.BatchSize = 1000
	}

	startTs, err := a.loadStartTimestamp(ctx)
	if err != nil {
		return err
	}

	batch := make([]model.PoolWindowMetrics, 0, a.cfg.BatchSize)
	pools := make([]model.Pool, 0, 256)
	maxTs := startTs
	var total, windows, skipped, failed int

	err = storage.ScanJSONL(r, func(line []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		total++

		var ev model.EngineEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			failed++
			a.logger.Warn("decode engine event", zap.Error(err))
			return nil
		}
		if ev.PoolID == "" {
			failed++
			a.logger.Warn("engine event without pool", zap.String("id", ev.ID))
			return nil
		}

		if pool := a.registerPool(ev); pool != nil {
			pools = append(pools, *pool)
		}

		if ev.Timestamp <= startTs {
			a.reserves.Apply(ev)
			skipped++
			return nil
		}

		windowStart := windowStart(ev.Timestamp, a.cfg.WindowSeconds)
		windowEnd := windowStart + a.cfg.WindowSeconds

		key := poolKey(ev.PoolID)
		acc := a.accumulators[key]
		if acc != nil && acc.WindowStart != windowStart {
			batch = append(batch, a.flushAccumulator(acc))
			windows++
			acc = nil
		}
		if acc == nil {
			acc = NewAccumulator(ev, windowStart, windowEnd)
			a.accumulators[key] = acc
		}
		acc.AddEvent(ev)
		a.reserves.Apply(ev)

		if ev.Timestamp > maxTs {
			maxTs = ev.Timestamp
		}

		if len(batch) >= a.cfg.BatchSize {
			if err := a.flushBatches(ctx, batch, pools); err != nil {
				return err
			}
			batch = batch[:0]
			pools = pools[:0]

			if err := a.saveState(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan input: %w", err)
	}

	for _, acc := range a.accumulators {
		batch = append(batch, a.flushAccumulator(acc))
		windows++
	}
	a.accumulators = make(map[string]*Accumulator)

	if len(batch) > 0 || len(pools) > 0 {
		if err := a.flushBatches(ctx, batch, pools); err != nil {
			return err
		}
	}

	a.cfg.RecomputeFrom = maxTs
	if err := a.saveState(ctx); err != nil {
		return err
	}

	a.logger.Info("aggregate complete",
		zap.Int("total", total),
		zap.Int("windows", windows),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
	)
	return nil
}

func (a *Aggregator) loadStartTimestamp(ctx context.Context) (uint64, error) {
	if a.cfg.RecomputeFrom > 0 {
		return a.cfg.RecomputeFrom - 1, nil
	}
	if a.cfg.StateStore == nil {
		return 0, nil
	}
	last, ok, err := a.cfg.StateStore.Load(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return last, nil
}

// saveState records the last timestamp whose window is fully written: just before the
// oldest window still open.
func (a *Aggregator) saveState(ctx context.Context) error {
	if a.cfg.StateStore == nil {
		return nil
	}

	if len(a.accumulators) == 0 {
		return a.cfg.StateStore.Save(ctx, a.cfg.RecomputeFrom)
	}

	safeTs := minOpenWindowStart(a.accumulators)
	if safeTs > 0 {
		safeTs = safeTs - 1
	}
	if safeTs == 0 {
		safeTs = a.cfg.RecomputeFrom
	}
	return a.cfg.StateStore.Save(ctx, safeTs)
}

func (a *Aggregator) flushBatches(ctx context.Context, batch []model.PoolWindowMetrics, pools []model.Pool) error {
	if len(pools) > 0 {
		if err := a.store.UpsertPools(ctx, pools); err != nil {
			return err
		}
	}
	if len(batch) > 0 {
		if err := a.store.UpsertWindowMetrics(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

// flushAccumulator closes a window. It runs before the first event of the next window
// is applied, so the tracked reserves are those at the window's end.
func (a *Aggregator) flushAccumulator(acc *Accumulator) model.PoolWindowMetrics {
	meta := acc.PoolMeta
	decimalsA, okA := a.cfg.Decimals.lookup(meta.TokenMintA)
	decimalsB, okB := a.cfg.Decimals.lookup(meta.TokenMintB)
	if !okA || !okB {
		a.logger.Debug("token decimals unknown, using raw units", zap.String("pool", acc.PoolID))
	}

	metrics := model.PoolWindowMetrics{
		PoolID:         acc.PoolID,
		WindowSizeSecs: int64(a.cfg.WindowSeconds),
		WindowStart:    time.Unix(int64(acc.WindowStart), 0).UTC(),
		WindowEnd:      time.Unix(int64(acc.WindowEnd), 0).UTC(),
		SwapCount:      acc.SwapCount,
		VolumeA:        formatTokenAmount(acc.VolumeA, decimalsA),
		VolumeB:        formatTokenAmount(acc.VolumeB, decimalsB),
		FeeA:           formatTokenAmount(acc.FeeA, decimalsA),
		FeeB:           formatTokenAmount(acc.FeeB, decimalsB),
		ProtocolFeeA:   formatTokenAmount(acc.ProtocolFeeA, decimalsA),
		ProtocolFeeB:   formatTokenAmount(acc.ProtocolFeeB, decimalsB),
		FeeMethod:      feeMethodExact,
		TVLMethod:      tvlMethodNone,
	}

	reserves, ok := a.reserves.Get(acc.PoolID)
	if !ok || (reserves.A.Sign() <= 0 && reserves.B.Sign() <= 0) {
		return metrics
	}
	tvlA := formatTokenAmount(reserves.A, decimalsA)
	tvlB := formatTokenAmount(reserves.B, decimalsB)
	metrics.TVLA, metrics.TVLB = &tvlA, &tvlB
	metrics.TVLMethod = tvlMethodFlow
	// Rates are ratios of raw amounts of the same token, so decimals cancel out.
	metrics.FeeRateA, metrics.FeeRateB = computeFeeRates(acc.FeeA, acc.FeeB, &reserves)
	metrics.APR = computeAPR(acc.FeeA, acc.FeeB, &reserves, meta.SqrtPrice, a.cfg.WindowSeconds)
	return metrics
}

// registerPool returns a catalog entry the first time a pool is seen, or when an
// earlier first-seen time turns up.
func (a *Aggregator) registerPool(ev model.EngineEvent) *model.Pool {
	key := poolKey(ev.PoolID)
	pool := model.Pool{
		PoolID:      ev.PoolID,
		TokenMintA:  ev.PoolMeta.TokenMintA,
		TokenMintB:  ev.PoolMeta.TokenMintB,
		FeeRate:     ev.PoolMeta.FeeRate,
		TickSpacing: ev.PoolMeta.TickSpacing,
		FirstSeenTS: ev.Timestamp,
	}

	if existing, ok := a.poolSeen[key]; ok && existing.FirstSeenTS <= pool.FirstSeenTS {
		return nil
	}
	a.poolSeen[key] = pool
	return &pool
}

func windowStart(ts uint64, windowSec uint64) uint64 {
	return ts - (ts % windowSec)
}

func poolKey(id string) string {
	return strings.ToLower(id)
}

func minOpenWindowStart(acc map[string]*Accumulator) uint64 {
	var min uint64
	for _, entry := range acc {
		if entry == nil {
			continue
		}
		if min == 0 || entry.WindowStart < min {
			min = entry.WindowStart
		}
	}
	return min
}
