package model

// Event kinds emitted by the engine.
const (
	EventInitializePool      = "initialize_pool"
	EventInitializeTickPage  = "initialize_tick_page"
	EventOpenPosition        = "open_position"
	EventIncreaseLiquidity   = "increase_liquidity"
	EventDecreaseLiquidity   = "decrease_liquidity"
	EventUpdateFeesRewards   = "update_fees_and_rewards"
	EventCollectFees         = "collect_fees"
	EventCollectReward       = "collect_reward"
	EventClosePosition       = "close_position"
	EventSwap                = "swap"
	EventInitializeReward    = "initialize_reward"
	EventSetRewardEmissions  = "set_reward_emissions"
	EventCollectProtocolFees = "collect_protocol_fees"
	EventReinvestFees        = "reinvest_fees"
)

// EngineEvent records one committed engine operation. Amounts are raw token units as
// the pool accounted them, before any token transfer fee.
type EngineEvent struct {
	ID         string   `json:"id"`
	Kind       string   `json:"kind"`
	PoolID     string   `json:"pool_id"`
	Timestamp  uint64   `json:"timestamp"`
	PositionID string   `json:"position_id,omitempty"`
	Account    string   `json:"account,omitempty"`
	AmountA    uint64   `json:"amount_a"`
	AmountB    uint64   `json:"amount_b"`
	Liquidity  string   `json:"liquidity,omitempty"`
	Reward     *Reward  `json:"reward,omitempty"`
	Swap       *Swap    `json:"swap,omitempty"`
	PoolMeta   PoolMeta `json:"pool_meta"`
}

// Swap is the swap-specific part of an EngineEvent. AmountIn is paid in the input
// token, FeeAmount and ProtocolFee are denominated in it too.
type Swap struct {
	AToB         bool   `json:"a_to_b"`
	AmountIn     uint64 `json:"amount_in"`
	AmountOut    uint64 `json:"amount_out"`
	FeeAmount    uint64 `json:"fee_amount"`
	ProtocolFee  uint64 `json:"protocol_fee"`
	ReferralFee  uint64 `json:"referral_fee,omitempty"`
	PartialFill  bool   `json:"partial_fill"`
	TicksCrossed int    `json:"ticks_crossed"`
}

// Reward is the reward-stream part of an EngineEvent.
type Reward struct {
	Index                 int    `json:"index"`
	Mint                  string `json:"mint"`
	Amount                uint64 `json:"amount"`
	EmissionsPerSecondX64 string `json:"emissions_per_second_x64,omitempty"`
}
