package oracle

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liquidityEngine/internal/fixedpoint"
	"liquidityEngine/internal/tickmath"
)

func TestSqrtPriceFromPrice(t *testing.T) {
	q64 := fixedpoint.Q64()
	tests := []struct {
		name      string
		price     Price
		decimalsA uint8
		decimalsB uint8
		want      *uint256.Int
	}{
		{"one", Price{Mantissa: 1}, 6, 6, q64},
		{"four", Price{Mantissa: 4}, 6, 6, new(uint256.Int).Lsh(q64, 1)},
		{"quarter", Price{Mantissa: 25, Exponent: -2}, 6, 6, new(uint256.Int).Rsh(q64, 1)},
		{"decimals shift", Price{Mantissa: 1}, 6, 8, new(uint256.Int).Mul(q64, uint256.NewInt(10))},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SqrtPriceFromPrice(tc.price, tc.decimalsA, tc.decimalsB)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := SqrtPriceFromPrice(Price{Mantissa: 0}, 6, 6)
	assert.ErrorIs(t, err, ErrInvalidPrice)
	_, err = SqrtPriceFromPrice(Price{Mantissa: 1, Exponent: 60}, 0, 0)
	assert.ErrorIs(t, err, fixedpoint.ErrOverflow)
	_, err = SqrtPriceFromPrice(Price{Mantissa: 1, Exponent: -60}, 0, 0)
	assert.ErrorIs(t, err, tickmath.ErrSqrtPriceOutOfRange)
}

func TestGuardFreshness(t *testing.T) {
	g := Guard{MaxAge: 30}
	p := Price{Mantissa: 1, PublishTime: 1000}
	assert.NoError(t, g.CheckFresh(p, 1030))
	assert.ErrorIs(t, g.CheckFresh(p, 1031), ErrStalePrice)
	assert.NoError(t, g.CheckFresh(p, 900), "clock behind the publisher is not stale")
	assert.NoError(t, Guard{}.CheckFresh(p, 1_000_000))
	assert.ErrorIs(t, g.CheckFresh(Price{Mantissa: -1, PublishTime: 1000}, 1000), ErrInvalidPrice)
}

func TestGuardDeviation(t *testing.T) {
	at100, err := tickmath.SqrtPriceAtTick(100)
	require.NoError(t, err)
	q64 := fixedpoint.Q64()

	// 1.0001^100 is roughly 100.5 bps above parity.
	assert.ErrorIs(t, Guard{MaxDeviationBps: 100}.CheckDeviation(at100, q64), ErrPriceDeviation)
	assert.NoError(t, Guard{MaxDeviationBps: 150}.CheckDeviation(at100, q64))
	assert.NoError(t, Guard{MaxDeviationBps: 1}.CheckDeviation(q64, q64))
	assert.NoError(t, Guard{}.CheckDeviation(at100, q64))
}

type fakeCaller struct {
	decimals uint8
	answer   *big.Int
	updated  uint64
	failures int
	garbage  bool
	calls    int
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("rpc unavailable")
	}
	if f.garbage {
		return []byte{0x01}, nil
	}
	feedABI, err := AggregatorV3ABI()
	if err != nil {
		return nil, err
	}
	switch {
	case bytes.Equal(msg.Data[:4], feedABI.Methods["decimals"].ID):
		return feedABI.Methods["decimals"].Outputs.Pack(f.decimals)
	case bytes.Equal(msg.Data[:4], feedABI.Methods["latestRoundData"].ID):
		return feedABI.Methods["latestRoundData"].Outputs.Pack(
			big.NewInt(7), f.answer, big.NewInt(0), new(big.Int).SetUint64(f.updated), big.NewInt(7))
	}
	return nil, errors.New("unknown method")
}

func TestChainlinkFeed(t *testing.T) {
	caller := &fakeCaller{decimals: 8, answer: big.NewInt(7_160_106_530_699), updated: 1_700_000_000, failures: 1}
	feed := NewChainlinkFeed(caller, common.HexToAddress("0xfeed"), 2, time.Millisecond, nil)

	price, err := feed.LatestPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Price{Mantissa: 7_160_106_530_699, Exponent: -8, PublishTime: 1_700_000_000}, price)

	// Decimals are cached after the first read.
	before := caller.calls
	_, err = feed.LatestPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before+1, caller.calls)

	caller.answer = big.NewInt(-5)
	_, err = feed.LatestPrice(context.Background())
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestChainlinkFeedDoesNotRetryBadResponse(t *testing.T) {
	caller := &fakeCaller{garbage: true}
	feed := NewChainlinkFeed(caller, common.HexToAddress("0xfeed"), 5, time.Millisecond, nil)

	_, err := feed.LatestPrice(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unpack decimals")
	assert.Equal(t, 1, caller.calls)
}

func TestStaticOracle(t *testing.T) {
	p, err := Static{Mantissa: 3, Exponent: -1, PublishTime: 9}.LatestPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Price{Mantissa: 3, Exponent: -1, PublishTime: 9}, p)
}
