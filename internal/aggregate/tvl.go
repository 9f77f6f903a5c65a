package aggregate

import (
	"github.com/shopspring/decimal"

	"liquidityEngine/internal/model"
)

// Reserves is a pool's token balance derived from the event flow.
type Reserves struct {
	A decimal.Decimal
	B decimal.Decimal
}

// ReserveTracker follows vault balances across windows. It sees every event,
// including the ones before the resume point, so the balances stay complete.
type ReserveTracker struct {
	pools map[string]*Reserves
}

func NewReserveTracker() *ReserveTracker {
	return &ReserveTracker{pools: make(map[string]*Reserves)}
}

func (t *ReserveTracker) Apply(ev model.EngineEvent) {
	r := t.pools[poolKey(ev.PoolID)]
	if r == nil {
		r = &Reserves{}
		t.pools[poolKey(ev.PoolID)] = r
	}
	a, b := fromUint64(ev.AmountA), fromUint64(ev.AmountB)

	switch ev.Kind {
	case model.EventIncreaseLiquidity:
		r.A, r.B = r.A.Add(a), r.B.Add(b)
	case model.EventDecreaseLiquidity, model.EventCollectFees, model.EventCollectProtocolFees:
		r.A, r.B = r.A.Sub(a), r.B.Sub(b)
	case model.EventSwap:
		if ev.Swap == nil {
			return
		}
		if ev.Swap.AToB {
			r.A, r.B = r.A.Add(a), r.B.Sub(b)
		} else {
			r.A, r.B = r.A.Sub(a), r.B.Add(b)
		}
	}
}

// Get returns the tracked balances, or false when the pool has none.
func (t *ReserveTracker) Get(poolID string) (Reserves, bool) {
	r, ok := t.pools[poolKey(poolID)]
	if !ok {
		return Reserves{}, false
	}
	return *r, true
}
