package model

// PoolMeta captures pool identity plus the live price fields after an operation.
type PoolMeta struct {
	TokenMintA       string `json:"token_mint_a"`
	TokenMintB       string `json:"token_mint_b"`
	TickSpacing      uint16 `json:"tick_spacing"`
	FeeRate          uint16 `json:"fee_rate"`
	ProtocolFeeRate  uint16 `json:"protocol_fee_rate"`
	Liquidity        string `json:"liquidity,omitempty"`
	SqrtPrice        string `json:"sqrt_price,omitempty"`
	TickCurrentIndex int32  `json:"tick_current_index"`
}
