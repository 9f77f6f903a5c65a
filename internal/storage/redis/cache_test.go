package redis

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liquidityEngine/internal/fixedpoint"
	"liquidityEngine/internal/pool"
)

type fakeClient struct {
	data map[string]string
	ttl  map[string]time.Duration
}

func newFakeClient() *fakeClient {
	return &fakeClient{data: map[string]string{}, ttl: map[string]time.Duration{}}
}

func (f *fakeClient) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeClient) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	f.ttl[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeClient) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func testPool(t *testing.T) pool.Pool {
	t.Helper()
	p, err := pool.New(pool.InitParams{
		Key: pool.Key{
			TokenMintA:  common.HexToAddress("0x01"),
			TokenMintB:  common.HexToAddress("0x02"),
			TickSpacing: 64,
		},
		FeeRate:          3000,
		InitialSqrtPrice: fixedpoint.Q64(),
	})
	require.NoError(t, err)
	return p
}

func TestCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	fc := newFakeClient()
	c := NewCache(fc, time.Minute, nil)
	p := testPool(t)

	_, ok, err := c.GetPool(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.PutPool(ctx, p))
	assert.Equal(t, time.Minute, fc.ttl[key(p.ID)])

	got, ok, err := c.GetPool(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, p, got)

	require.NoError(t, c.Invalidate(ctx, p.ID))
	_, ok, err = c.GetPool(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheDropsUndecodableRecord(t *testing.T) {
	ctx := context.Background()
	fc := newFakeClient()
	c := NewCache(fc, 0, nil)
	id := testPool(t).ID
	fc.data[key(id)] = "short"

	_, ok, err := c.GetPool(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NotContains(t, fc.data, key(id))
}
