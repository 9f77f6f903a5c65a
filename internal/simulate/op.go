package simulate

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Operation kinds accepted in a scenario. Besides the engine operations, mint and
// set_transfer_fee drive the in-memory token ledger.
const (
	OpMint                = "mint"
	OpSetTransferFee      = "set_transfer_fee"
	OpInitializePool      = "initialize_pool"
	OpInitializeTickPage  = "initialize_tick_page"
	OpOpenPosition        = "open_position"
	OpIncreaseLiquidity   = "increase_liquidity"
	OpDecreaseLiquidity   = "decrease_liquidity"
	OpUpdateFeesRewards   = "update_fees_and_rewards"
	OpCollectFees         = "collect_fees"
	OpCollectReward       = "collect_reward"
	OpClosePosition       = "close_position"
	OpSwap                = "swap"
	OpTwoHopSwap          = "two_hop_swap"
	OpInitializeReward    = "initialize_reward"
	OpSetRewardEmissions  = "set_reward_emissions"
	OpCollectProtocolFees = "collect_protocol_fees"
	OpReinvestFees        = "reinvest_fees"
)

// Op is one scenario line. Pools and positions are referred to by the names given when
// they were created; which fields apply depends on Kind. reinvest_fees reads its
// protocol cut from ProtocolFeeRate.
type Op struct {
	Kind      string `json:"op"`
	Timestamp uint64 `json:"ts"`
	Pool      string `json:"pool,omitempty"`
	PoolTwo   string `json:"pool_two,omitempty"`
	Position  string `json:"position,omitempty"`

	Mint        string `json:"mint,omitempty"`
	Owner       string `json:"owner,omitempty"`
	Recipient   string `json:"recipient,omitempty"`
	Amount      uint64 `json:"amount,omitempty"`
	BasisPoints uint16 `json:"basis_points,omitempty"`
	MaximumFee  uint64 `json:"maximum_fee,omitempty"`

	MintA           string          `json:"mint_a,omitempty"`
	MintB           string          `json:"mint_b,omitempty"`
	VaultA          string          `json:"vault_a,omitempty"`
	VaultB          string          `json:"vault_b,omitempty"`
	TickSpacing     uint16          `json:"tick_spacing,omitempty"`
	FeeRate         uint16          `json:"fee_rate,omitempty"`
	ProtocolFeeRate uint16          `json:"protocol_fee_rate,omitempty"`
	SqrtPrice       string          `json:"sqrt_price,omitempty"`
	InitialTick     *int32          `json:"initial_tick,omitempty"`
	RewardAuthority string          `json:"reward_authority,omitempty"`
	Windows         *Windows        `json:"windows,omitempty"`
	Oracle          *OracleSettings `json:"oracle,omitempty"`

	Start int32 `json:"start,omitempty"`

	TickLower int32  `json:"tick_lower,omitempty"`
	TickUpper int32  `json:"tick_upper,omitempty"`
	Salt      uint64 `json:"salt,omitempty"`
	Liquidity string `json:"liquidity,omitempty"`
	TokenMaxA uint64 `json:"token_max_a,omitempty"`
	TokenMaxB uint64 `json:"token_max_b,omitempty"`
	TokenMinA uint64 `json:"token_min_a,omitempty"`
	TokenMinB uint64 `json:"token_min_b,omitempty"`

	Trader            string `json:"trader,omitempty"`
	Threshold         uint64 `json:"other_amount_threshold,omitempty"`
	ExactIn           bool   `json:"exact_in,omitempty"`
	AToB              bool   `json:"a_to_b,omitempty"`
	AToBTwo           bool   `json:"a_to_b_two,omitempty"`
	SqrtPriceLimit    string `json:"sqrt_price_limit,omitempty"`
	SqrtPriceLimitTwo string `json:"sqrt_price_limit_two,omitempty"`
	MaxAge            uint64 `json:"max_age,omitempty"`
	MaxDeviationBps   uint64 `json:"max_deviation_bps,omitempty"`
	Referrer          string `json:"referrer,omitempty"`
	ReferralFeeRate   uint16 `json:"referral_fee_rate,omitempty"`

	RewardIndex  int    `json:"reward_index,omitempty"`
	RewardMint   string `json:"reward_mint,omitempty"`
	RewardVault  string `json:"reward_vault,omitempty"`
	EmissionsX64 string `json:"emissions_per_second_x64,omitempty"`
}

// Windows bounds a temporary pool.
type Windows struct {
	StartLP   uint64 `json:"start_lp"`
	EndLP     uint64 `json:"end_lp"`
	StartSwap uint64 `json:"start_swap"`
	EndSwap   uint64 `json:"end_swap"`
}

// OracleSettings marks a pool as oracle priced. A positive Mantissa pins a fixed price;
// otherwise the runner's configured feed is used.
type OracleSettings struct {
	Mantissa    int64  `json:"mantissa,omitempty"`
	Exponent    int32  `json:"exponent,omitempty"`
	PublishTime uint64 `json:"publish_time,omitempty"`
	DecimalsA   uint8  `json:"decimals_a,omitempty"`
	DecimalsB   uint8  `json:"decimals_b,omitempty"`
	MaxAge      uint64 `json:"max_age,omitempty"`
}

// parseAddress converts a hex string into common.Address.
func parseAddress(field, input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return common.Address{}, fmt.Errorf("%s is required", field)
	}
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid %s: %s", field, input)
	}
	return common.HexToAddress(input), nil
}

// parseAmount reads a decimal or 0x-prefixed hex integer. An empty input yields nil.
func parseAmount(field, input string) (*uint256.Int, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, nil
	}
	var (
		v   *uint256.Int
		err error
	)
	if strings.HasPrefix(input, "0x") {
		v, err = uint256.FromHex(input)
	} else {
		v, err = uint256.FromDecimal(input)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", field, input, err)
	}
	return v, nil
}
