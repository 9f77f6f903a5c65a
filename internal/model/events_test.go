package model

import (
	"encoding/json"
	"testing"
)

func TestEngineEventJSONFields(t *testing.T) {
	event := EngineEvent{
		ID:        "0b5c0c1e-4c61-4ef4-9d7c-0f6e7e7e7e7e",
		Kind:      EventSwap,
		PoolID:    "0xabc",
		Timestamp: 1700000000,
		AmountA:   10000,
		AmountB:   9969,
		Swap: &Swap{
			AToB:        true,
			AmountIn:    10000,
			AmountOut:   9969,
			FeeAmount:   30,
			ProtocolFee: 0,
		},
		PoolMeta: PoolMeta{
			TokenMintA:       "0x01",
			TokenMintB:       "0x02",
			TickSpacing:      64,
			FeeRate:          3000,
			SqrtPrice:        "18446560161504741414",
			TickCurrentIndex: -1,
		},
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if _, ok := decoded["position_id"]; ok {
		t.Fatalf("empty position_id should be omitted")
	}
	if _, ok := decoded["reward"]; ok {
		t.Fatalf("nil reward should be omitted")
	}
	swap, ok := decoded["swap"].(map[string]interface{})
	if !ok {
		t.Fatalf("swap should be an object")
	}
	if swap["a_to_b"] != true {
		t.Fatalf("a_to_b = %v", swap["a_to_b"])
	}
	meta, ok := decoded["pool_meta"].(map[string]interface{})
	if !ok {
		t.Fatalf("pool_meta should be an object")
	}
	if _, ok := meta["sqrt_price"].(string); !ok {
		t.Fatalf("sqrt_price should be string")
	}

	var back EngineEvent
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if back.Swap == nil || *back.Swap != *event.Swap || back.PoolMeta != event.PoolMeta {
		t.Fatalf("round-trip mismatch: %+v != %+v", back, event)
	}
}
