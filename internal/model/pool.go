package model

// Pool represents a pool catalog record for storage.
type Pool struct {
	PoolID      string `json:"pool_id"`
	TokenMintA  string `json:"token_mint_a"`
	TokenMintB  string `json:"token_mint_b"`
	FeeRate     uint16 `json:"fee_rate"`
	TickSpacing uint16 `json:"tick_spacing"`
	FirstSeenTS uint64 `json:"first_seen_ts"`
}
