package position

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/zeebo/blake3"

	"liquidityEngine/internal/pool"
	"liquidityEngine/internal/tickmath"
)

var (
	ErrInvalidTickRange      = errors.New("invalid position tick range")
	ErrFullRangeOnly         = errors.New("pool only accepts full range positions")
	ErrLiquidityZero         = errors.New("liquidity delta is zero")
	ErrInsufficientLiquidity = errors.New("position liquidity insufficient")
	ErrPositionNotEmpty      = errors.New("position not empty")
	ErrPoolMismatch          = errors.New("position belongs to another pool")
	ErrTokenMaxExceeded      = errors.New("token amount exceeds maximum")
	ErrTokenMinSubceeded     = errors.New("token amount below minimum")
)

// RewardInfo tracks one reward stream for a position.
type RewardInfo struct {
	GrowthInsideCheckpoint uint256.Int
	AmountOwed             uint64
}

// Position is a liquidity commitment over [TickLowerIndex, TickUpperIndex).
type Position struct {
	ID     common.Hash
	PoolID common.Hash
	Owner  common.Address

	Liquidity      uint256.Int
	TickLowerIndex int32
	TickUpperIndex int32

	FeeGrowthCheckpointA uint256.Int
	FeeOwedA             uint64
	FeeGrowthCheckpointB uint256.Int
	FeeOwedB             uint64

	RewardInfos [pool.NumRewards]RewardInfo
}

// ID derives the identifier of a position. The salt lets one owner hold several
// positions over the same range.
func ID(poolID common.Hash, owner common.Address, tickLower, tickUpper int32, salt uint64) common.Hash {
	h := blake3.New()
	h.Write(poolID.Bytes())
	h.Write(owner.Bytes())

	var buf [16]byte
	binary.BigEndian.PutUint32(buf[0:4], uint32(tickLower))
	binary.BigEndian.PutUint32(buf[4:8], uint32(tickUpper))
	binary.BigEndian.PutUint64(buf[8:16], salt)
	h.Write(buf[:])

	var id common.Hash
	h.Digest().Read(id[:])
	return id
}

// Open validates the range against p and returns an empty position.
func Open(p *pool.Pool, owner common.Address, tickLower, tickUpper int32, salt uint64) (Position, error) {
	if err := CheckRange(p.TickSpacing, tickLower, tickUpper); err != nil {
		return Position{}, err
	}
	return Position{
		ID:             ID(p.ID, owner, tickLower, tickUpper, salt),
		PoolID:         p.ID,
		Owner:          owner,
		TickLowerIndex: tickLower,
		TickUpperIndex: tickUpper,
	}, nil
}

// CheckRange validates position bounds for a pool with the given spacing.
func CheckRange(spacing uint16, tickLower, tickUpper int32) error {
	if !tickmath.IsUsableTick(tickLower, spacing) || !tickmath.IsUsableTick(tickUpper, spacing) || tickLower >= tickUpper {
		return fmt.Errorf("%w: [%d, %d) spacing %d", ErrInvalidTickRange, tickLower, tickUpper, spacing)
	}
	if spacing >= pool.FullRangeOnlyTickSpacing {
		lower, upper := tickmath.FullRangeTicks(spacing)
		if tickLower != lower || tickUpper != upper {
			return ErrFullRangeOnly
		}
	}
	return nil
}

// IsEmpty reports whether the position can be closed.
func (pos *Position) IsEmpty() bool {
	if !pos.Liquidity.IsZero() || pos.FeeOwedA != 0 || pos.FeeOwedB != 0 {
		return false
	}
	for _, r := range pos.RewardInfos {
		if r.AmountOwed != 0 {
			return false
		}
	}
	return true
}

// Close fails unless the position is empty.
func (pos *Position) Close() error {
	if !pos.IsEmpty() {
		return ErrPositionNotEmpty
	}
	return nil
}

// CollectFees drains the owed fee balances.
func (pos *Position) CollectFees() (uint64, uint64) {
	a, b := pos.FeeOwedA, pos.FeeOwedB
	pos.FeeOwedA = 0
	pos.FeeOwedB = 0
	return a, b
}

// CollectReward drains the owed balance of one reward stream.
func (pos *Position) CollectReward(index int) (uint64, error) {
	if index < 0 || index >= pool.NumRewards {
		return 0, pool.ErrInvalidRewardIndex
	}
	owed := pos.RewardInfos[index].AmountOwed
	pos.RewardInfos[index].AmountOwed = 0
	return owed, nil
}

// RecordSize is the encoded length of a Position.
var RecordSize = binary.Size(Position{})

func (pos Position) MarshalBinary() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, RecordSize))
	if err := binary.Write(buf, binary.LittleEndian, pos); err != nil {
		return nil, fmt.Errorf("encode position: %w", err)
	}
	return buf.Bytes(), nil
}

func (pos *Position) UnmarshalBinary(data []byte) error {
	if len(data) != RecordSize {
		return fmt.Errorf("decode position: record is %d bytes, want %d", len(data), RecordSize)
	}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, pos); err != nil {
		return fmt.Errorf("decode position: %w", err)
	}
	return nil
}
