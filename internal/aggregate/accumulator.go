package aggregate

import (
	"math/big"

	"github.com/shopspring/decimal"

	"liquidityEngine/internal/model"
)

// Accumulator holds aggregate values for a pool window. Amounts are raw token units.
type Accumulator struct {
	PoolID       string
	PoolMeta     model.PoolMeta
	WindowStart  uint64
	WindowEnd    uint64
	SwapCount    uint64
	VolumeA      decimal.Decimal
	VolumeB      decimal.Decimal
	FeeA         decimal.Decimal
	FeeB         decimal.Decimal
	ProtocolFeeA decimal.Decimal
	ProtocolFeeB decimal.Decimal
	FirstTS      uint64
	LastTS       uint64
}

func NewAccumulator(ev model.EngineEvent, windowStart, windowEnd uint64) *Accumulator {
	return &Accumulator{
		PoolID:      ev.PoolID,
		PoolMeta:    ev.PoolMeta,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		FirstTS:     ev.Timestamp,
		LastTS:      ev.Timestamp,
	}
}

// AddEvent folds ev into the window. Pool metadata follows the latest event so the
// window closes with the pool's final price.
func (a *Accumulator) AddEvent(ev model.EngineEvent) {
	if ev.Timestamp >= a.LastTS {
		a.LastTS = ev.Timestamp
		a.PoolMeta = ev.PoolMeta
	}
	if ev.Timestamp < a.FirstTS {
		a.FirstTS = ev.Timestamp
	}

	if ev.Kind != model.EventSwap || ev.Swap == nil {
		return
	}
	a.SwapCount++
	a.VolumeA = a.VolumeA.Add(fromUint64(ev.AmountA))
	a.VolumeB = a.VolumeB.Add(fromUint64(ev.AmountB))
	// Fees are charged on the input token.
	if ev.Swap.AToB {
		a.FeeA = a.FeeA.Add(fromUint64(ev.Swap.FeeAmount))
		a.ProtocolFeeA = a.ProtocolFeeA.Add(fromUint64(ev.Swap.ProtocolFee))
	} else {
		a.FeeB = a.FeeB.Add(fromUint64(ev.Swap.FeeAmount))
		a.ProtocolFeeB = a.ProtocolFeeB.Add(fromUint64(ev.Swap.ProtocolFee))
	}
}

func fromUint64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}
