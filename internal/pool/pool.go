package pool

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/zeebo/blake3"

	"liquidityEngine/internal/fixedpoint"
	"liquidityEngine/internal/liquidity"
	"liquidityEngine/internal/tickmath"
)

const (
	// NumRewards is the number of reward emission streams per pool.
	NumRewards = 3

	// FeeRateDenominator scales FeeRate: hundredths of a basis point.
	FeeRateDenominator = 1_000_000
	MaxFeeRate         = 30_000

	// ProtocolFeeRateDenominator scales ProtocolFeeRate: basis points of the swap fee.
	ProtocolFeeRateDenominator = 10_000
	MaxProtocolFeeRate         = 2_500
	// MaxReferralFeeRate caps the referrer's cut of each swap fee, in the same units.
	MaxReferralFeeRate = 2_500

	// FullRangeOnlyTickSpacing and above only accept full range positions.
	FullRangeOnlyTickSpacing = 32768
)

var (
	ErrInvalidMintOrder       = errors.New("token mints out of order")
	ErrInvalidTickSpacing     = errors.New("invalid tick spacing")
	ErrFeeRateTooHigh         = errors.New("fee rate exceeds maximum")
	ErrProtocolFeeRateTooHigh = errors.New("protocol fee rate exceeds maximum")
	ErrReferralFeeRateTooHigh = errors.New("referral fee rate exceeds maximum")
	ErrInvalidRewardIndex     = errors.New("invalid reward index")
	ErrRewardNotInitialized   = errors.New("reward not initialized")
	ErrInvalidRewardMint      = errors.New("invalid reward mint")
	ErrLPWindowClosed         = errors.New("liquidity provision window closed")
	ErrSwapWindowClosed       = errors.New("swap window closed")
	ErrInvalidTimeWindow      = errors.New("invalid time window")
	ErrOracleFullRangeOnly    = errors.New("oracle pools require full range tick spacing")
)

// Key identifies a pool: the ordered token pair and its tick spacing.
type Key struct {
	TokenMintA  common.Address
	TokenMintB  common.Address
	TickSpacing uint16
}

// ID hashes the key into the pool identifier.
func (k Key) ID() common.Hash {
	h := blake3.New()
	h.Write(k.TokenMintA.Bytes())
	h.Write(k.TokenMintB.Bytes())

	var spacing [2]byte
	binary.BigEndian.PutUint16(spacing[:], k.TickSpacing)
	h.Write(spacing[:])

	var id common.Hash
	h.Digest().Read(id[:])
	return id
}

// RewardInfo is one emission stream. A stream is initialized once it has a mint.
type RewardInfo struct {
	Mint                  common.Address
	Vault                 common.Address
	Authority             common.Address
	EmissionsPerSecondX64 uint256.Int
	GrowthGlobalX64       uint256.Int
}

func (r RewardInfo) Initialized() bool {
	return r.Mint != (common.Address{})
}

// Pool is the aggregate state of one pool. Every field is fixed width so the record
// maps directly onto storage.
type Pool struct {
	ID          common.Hash
	TokenMintA  common.Address
	TokenMintB  common.Address
	TokenVaultA common.Address
	TokenVaultB common.Address

	TickSpacing     uint16
	FeeRate         uint16
	ProtocolFeeRate uint16

	Liquidity        uint256.Int
	SqrtPrice        uint256.Int
	TickCurrentIndex int32

	ProtocolFeeOwedA uint64
	ProtocolFeeOwedB uint64
	FeeGrowthGlobalA uint256.Int
	FeeGrowthGlobalB uint256.Int

	RewardLastUpdatedTimestamp uint64
	RewardInfos                [NumRewards]RewardInfo

	IsTemporary        bool
	StartTimestampLP   uint64
	EndTimestampLP     uint64
	StartTimestampSwap uint64
	EndTimestampSwap   uint64

	IsOracle bool
}

// TimeWindows bounds liquidity provision and swapping on a temporary pool.
type TimeWindows struct {
	StartLP   uint64
	EndLP     uint64
	StartSwap uint64
	EndSwap   uint64
}

// InitParams configures a new pool.
type InitParams struct {
	Key              Key
	VaultA           common.Address
	VaultB           common.Address
	FeeRate          uint16
	ProtocolFeeRate  uint16
	InitialSqrtPrice *uint256.Int
	RewardAuthority  common.Address
	Temporary        *TimeWindows
	Oracle           bool
	Timestamp        uint64
}

// New validates params and returns a pool with zero liquidity at the initial price.
func New(params InitParams) (Pool, error) {
	key := params.Key
	if bytes.Compare(key.TokenMintA.Bytes(), key.TokenMintB.Bytes()) >= 0 {
		return Pool{}, ErrInvalidMintOrder
	}
	if key.TickSpacing == 0 {
		return Pool{}, ErrInvalidTickSpacing
	}
	if params.Oracle && key.TickSpacing < FullRangeOnlyTickSpacing {
		return Pool{}, ErrOracleFullRangeOnly
	}
	if params.InitialSqrtPrice == nil {
		return Pool{}, fmt.Errorf("initial sqrt price: %w", tickmath.ErrSqrtPriceOutOfRange)
	}
	tick, err := tickmath.TickAtSqrtPrice(params.InitialSqrtPrice)
	if err != nil {
		return Pool{}, fmt.Errorf("initial sqrt price: %w", err)
	}

	p := Pool{
		ID:                         key.ID(),
		TokenMintA:                 key.TokenMintA,
		TokenMintB:                 key.TokenMintB,
		TokenVaultA:                params.VaultA,
		TokenVaultB:                params.VaultB,
		TickSpacing:                key.TickSpacing,
		TickCurrentIndex:           tick,
		RewardLastUpdatedTimestamp: params.Timestamp,
		IsOracle:                   params.Oracle,
	}
	p.SqrtPrice.Set(params.InitialSqrtPrice)

	if err := p.SetFeeRate(params.FeeRate); err != nil {
		return Pool{}, err
	}
	if err := p.SetProtocolFeeRate(params.ProtocolFeeRate); err != nil {
		return Pool{}, err
	}
	for i := range p.RewardInfos {
		p.RewardInfos[i].Authority = params.RewardAuthority
	}

	if w := params.Temporary; w != nil {
		if w.StartLP > w.EndLP || w.StartSwap > w.EndSwap {
			return Pool{}, ErrInvalidTimeWindow
		}
		p.IsTemporary = true
		p.StartTimestampLP = w.StartLP
		p.EndTimestampLP = w.EndLP
		p.StartTimestampSwap = w.StartSwap
		p.EndTimestampSwap = w.EndSwap
	}

	return p, nil
}

// Key returns the identity tuple of the pool.
func (p *Pool) Key() Key {
	return Key{TokenMintA: p.TokenMintA, TokenMintB: p.TokenMintB, TickSpacing: p.TickSpacing}
}

func (p *Pool) SetFeeRate(rate uint16) error {
	if rate > MaxFeeRate {
		return ErrFeeRateTooHigh
	}
	p.FeeRate = rate
	return nil
}

func (p *Pool) SetProtocolFeeRate(rate uint16) error {
	if rate > MaxProtocolFeeRate {
		return ErrProtocolFeeRateTooHigh
	}
	p.ProtocolFeeRate = rate
	return nil
}

// CheckLPWindow fails on a temporary pool outside its liquidity provision window.
func (p *Pool) CheckLPWindow(ts uint64) error {
	if p.IsTemporary && (ts < p.StartTimestampLP || ts > p.EndTimestampLP) {
		return ErrLPWindowClosed
	}
	return nil
}

// CheckSwapWindow fails on a temporary pool outside its swap window.
func (p *Pool) CheckSwapWindow(ts uint64) error {
	if p.IsTemporary && (ts < p.StartTimestampSwap || ts > p.EndTimestampSwap) {
		return ErrSwapWindowClosed
	}
	return nil
}

// UpdateRewards stores accrued reward infos as of ts.
func (p *Pool) UpdateRewards(infos [NumRewards]RewardInfo, ts uint64) {
	p.RewardInfos = infos
	p.RewardLastUpdatedTimestamp = ts
}

// UpdateRewardsAndLiquidity stores accrued reward infos and the new active liquidity.
func (p *Pool) UpdateRewardsAndLiquidity(infos [NumRewards]RewardInfo, liquidity *uint256.Int, ts uint64) error {
	if err := p.CheckLPWindow(ts); err != nil {
		return err
	}
	p.UpdateRewards(infos, ts)
	p.Liquidity.Set(liquidity)
	return nil
}

// SwapUpdate is the committed outcome of a swap.
type SwapUpdate struct {
	Liquidity       *uint256.Int
	TickIndex       int32
	SqrtPrice       *uint256.Int
	FeeGrowthGlobal *uint256.Int
	RewardInfos     [NumRewards]RewardInfo
	ProtocolFee     uint64
	AToB            bool
	Timestamp       uint64
}

// ApplySwap commits a swap result. Fee growth and protocol fee land on the input side.
func (p *Pool) ApplySwap(u SwapUpdate) error {
	if err := p.CheckSwapWindow(u.Timestamp); err != nil {
		return err
	}
	var feeA, feeB uint64
	if u.AToB {
		feeA = u.ProtocolFee
	} else {
		feeB = u.ProtocolFee
	}
	if err := p.AddProtocolFees(feeA, feeB); err != nil {
		return err
	}
	p.TickCurrentIndex = u.TickIndex
	p.Liquidity.Set(u.Liquidity)
	p.SqrtPrice.Set(u.SqrtPrice)
	p.UpdateRewards(u.RewardInfos, u.Timestamp)
	if u.AToB {
		p.FeeGrowthGlobalA.Set(u.FeeGrowthGlobal)
	} else {
		p.FeeGrowthGlobalB.Set(u.FeeGrowthGlobal)
	}
	return nil
}

// AddProtocolFees credits the protocol fee buckets. Neither bucket changes if either
// would overflow.
func (p *Pool) AddProtocolFees(a, b uint64) error {
	nextA, nextB := p.ProtocolFeeOwedA+a, p.ProtocolFeeOwedB+b
	if nextA < a || nextB < b {
		return fmt.Errorf("protocol fee owed: %w", fixedpoint.ErrOverflow)
	}
	p.ProtocolFeeOwedA, p.ProtocolFeeOwedB = nextA, nextB
	return nil
}

// Reprice moves the pool to an externally attested price without touching liquidity
// accounting. Only oracle pools, which carry full range liquidity exclusively, use it.
func (p *Pool) Reprice(sqrtPrice *uint256.Int) error {
	tick, err := tickmath.TickAtSqrtPrice(sqrtPrice)
	if err != nil {
		return err
	}
	p.SqrtPrice.Set(sqrtPrice)
	p.TickCurrentIndex = tick
	return nil
}

// InitializeReward configures the next free emission stream. Streams fill from index 0.
func (p *Pool) InitializeReward(index int, mint, vault common.Address) error {
	if index < 0 || index >= NumRewards {
		return ErrInvalidRewardIndex
	}
	if mint == (common.Address{}) {
		return ErrInvalidRewardMint
	}
	lowest := NumRewards
	for i, info := range p.RewardInfos {
		if !info.Initialized() {
			lowest = i
			break
		}
	}
	if index != lowest {
		return ErrInvalidRewardIndex
	}
	p.RewardInfos[index].Mint = mint
	p.RewardInfos[index].Vault = vault
	return nil
}

// SetRewardEmissions sets the emission rate of an initialized stream. Callers accrue
// rewards up to now before changing the rate.
func (p *Pool) SetRewardEmissions(index int, emissionsPerSecondX64 *uint256.Int) error {
	if index < 0 || index >= NumRewards {
		return ErrInvalidRewardIndex
	}
	if !p.RewardInfos[index].Initialized() {
		return ErrRewardNotInitialized
	}
	p.RewardInfos[index].EmissionsPerSecondX64.Set(emissionsPerSecondX64)
	return nil
}

// CollectProtocolFees drains the protocol fee buckets.
func (p *Pool) CollectProtocolFees() (uint64, uint64) {
	a, b := p.ProtocolFeeOwedA, p.ProtocolFeeOwedB
	p.ProtocolFeeOwedA = 0
	p.ProtocolFeeOwedB = 0
	return a, b
}

// InputMint returns the mint the trader pays in for the given direction.
func (p *Pool) InputMint(aToB bool) common.Address {
	if aToB {
		return p.TokenMintA
	}
	return p.TokenMintB
}

// OutputMint returns the mint the trader receives for the given direction.
func (p *Pool) OutputMint(aToB bool) common.Address {
	if aToB {
		return p.TokenMintB
	}
	return p.TokenMintA
}

// RecordSize is the encoded length of a Pool.
var RecordSize = binary.Size(Pool{})

func (p Pool) MarshalBinary() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, RecordSize))
	if err := binary.Write(buf, binary.LittleEndian, p); err != nil {
		return nil, fmt.Errorf("encode pool: %w", err)
	}
	return buf.Bytes(), nil
}

func (p *Pool) UnmarshalBinary(data []byte) error {
	if len(data) != RecordSize {
		return fmt.Errorf("decode pool: record is %d bytes, want %d", len(data), RecordSize)
	}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, p); err != nil {
		return fmt.Errorf("decode pool: %w", err)
	}
	return nil
}

// NextLiquidity returns the active liquidity after a position over [lower, upper)
// changes by the signed delta. Only a range holding the current tick is active.
func (p *Pool) NextLiquidity(tickLower, tickUpper int32, delta *uint256.Int) (*uint256.Int, error) {
	if p.TickCurrentIndex < tickLower || p.TickCurrentIndex >= tickUpper {
		return new(uint256.Int).Set(&p.Liquidity), nil
	}
	return liquidity.AddDelta(&p.Liquidity, delta)
}
