package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"liquidityEngine/internal/chain"
)

const aggregatorV3ABIJSON = `[
  {
    "inputs": [],
    "name": "decimals",
    "outputs": [{"internalType": "uint8", "name": "", "type": "uint8"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "latestRoundData",
    "outputs": [
      {"internalType": "uint80", "name": "roundId", "type": "uint80"},
      {"internalType": "int256", "name": "answer", "type": "int256"},
      {"internalType": "uint256", "name": "startedAt", "type": "uint256"},
      {"internalType": "uint256", "name": "updatedAt", "type": "uint256"},
      {"internalType": "uint80", "name": "answeredInRound", "type": "uint80"}
    ],
    "stateMutability": "view",
    "type": "function"
  }
]`

var (
	aggregatorV3ABI     abi.ABI
	aggregatorV3ABIOnce sync.Once
	aggregatorV3ABIErr  error
)

// AggregatorV3ABI returns the parsed price feed ABI.
func AggregatorV3ABI() (abi.ABI, error) {
	aggregatorV3ABIOnce.Do(func() {
		aggregatorV3ABI, aggregatorV3ABIErr = abi.JSON(strings.NewReader(aggregatorV3ABIJSON))
	})
	return aggregatorV3ABI, aggregatorV3ABIErr
}

// Caller executes read-only contract calls. *chain.Client implements it.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ChainlinkFeed reads an AggregatorV3 price feed.
type ChainlinkFeed struct {
	caller     Caller
	feed       common.Address
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger

	mu       sync.Mutex
	decimals *uint8
}

func NewChainlinkFeed(caller Caller, feed common.Address, maxRetries int, retryDelay time.Duration, logger *zap.Logger) *ChainlinkFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChainlinkFeed{
		caller:     caller,
		feed:       feed,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// LatestPrice returns the latest round answer scaled by the feed's decimals.
func (f *ChainlinkFeed) LatestPrice(ctx context.Context) (Price, error) {
	decimals, err := f.feedDecimals(ctx)
	if err != nil {
		return Price{}, err
	}

	var values []interface{}
	err = chain.WithRetry(ctx, f.maxRetries, f.retryDelay, func(ctx context.Context) error {
		var callErr error
		values, callErr = f.call(ctx, "latestRoundData")
		if callErr != nil {
			f.logger.Debug("latestRoundData failed", zap.String("feed", f.feed.Hex()), zap.Error(callErr))
		}
		return callErr
	})
	if err != nil {
		return Price{}, err
	}
	if len(values) < 4 {
		return Price{}, fmt.Errorf("latestRoundData: unexpected %d outputs", len(values))
	}

	answer, ok := values[1].(*big.Int)
	if !ok {
		return Price{}, fmt.Errorf("latestRoundData: answer is %T", values[1])
	}
	updatedAt, ok := values[3].(*big.Int)
	if !ok {
		return Price{}, fmt.Errorf("latestRoundData: updatedAt is %T", values[3])
	}
	if answer.Sign() <= 0 {
		return Price{}, ErrInvalidPrice
	}
	if !answer.IsInt64() || !updatedAt.IsUint64() {
		return Price{}, fmt.Errorf("latestRoundData: answer %s out of range", answer)
	}

	return Price{
		Mantissa:    answer.Int64(),
		Exponent:    -int32(decimals),
		PublishTime: updatedAt.Uint64(),
	}, nil
}

func (f *ChainlinkFeed) feedDecimals(ctx context.Context) (uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.decimals != nil {
		return *f.decimals, nil
	}

	var values []interface{}
	err := chain.WithRetry(ctx, f.maxRetries, f.retryDelay, func(ctx context.Context) error {
		var callErr error
		values, callErr = f.call(ctx, "decimals")
		return callErr
	})
	if err != nil {
		return 0, err
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals: unexpected type %T", values[0])
	}
	f.decimals = &decimals
	return decimals, nil
}

func (f *ChainlinkFeed) call(ctx context.Context, method string) ([]interface{}, error) {
	feedABI, err := AggregatorV3ABI()
	if err != nil {
		return nil, chain.Permanent(fmt.Errorf("parse aggregator abi: %w", err))
	}
	data, err := feedABI.Pack(method)
	if err != nil {
		return nil, chain.Permanent(fmt.Errorf("pack %s: %w", method, err))
	}
	msg := ethereum.CallMsg{To: &f.feed, Data: data}
	resp, err := f.caller.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := feedABI.Unpack(method, resp)
	if err != nil {
		return nil, chain.Permanent(fmt.Errorf("unpack %s: %w", method, err))
	}
	if len(values) == 0 {
		return nil, chain.Permanent(fmt.Errorf("unpack %s: no outputs", method))
	}
	return values, nil
}
