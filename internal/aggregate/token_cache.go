package aggregate

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// TokenDecimalsCache caches token decimals by mint.
type TokenDecimalsCache struct {
	mu   sync.RWMutex
	data map[common.Address]uint8
}

func NewTokenDecimalsCache() *TokenDecimalsCache {
	return &TokenDecimalsCache{data: make(map[common.Address]uint8)}
}

// ParseTokenDecimals builds a cache from mint -> decimals strings as they come from
// configuration.
func ParseTokenDecimals(raw map[string]string) (*TokenDecimalsCache, error) {
	c := NewTokenDecimalsCache()
	for mint, value := range raw {
		if !common.IsHexAddress(mint) {
			return nil, fmt.Errorf("invalid token mint: %s", mint)
		}
		decimals, err := strconv.ParseUint(strings.TrimSpace(value), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("decimals for %s: %w", mint, err)
		}
		c.Set(common.HexToAddress(mint), uint8(decimals))
	}
	return c, nil
}

func (c *TokenDecimalsCache) Get(mint common.Address) (uint8, bool) {
	c.mu.RLock()
	decimals, ok := c.data[mint]
	c.mu.RUnlock()
	return decimals, ok
}

func (c *TokenDecimalsCache) Set(mint common.Address, decimals uint8) {
	c.mu.Lock()
	c.data[mint] = decimals
	c.mu.Unlock()
}

// lookup returns the decimals of a hex mint, zero when unknown.
func (c *TokenDecimalsCache) lookup(mint string) (uint8, bool) {
	if c == nil || !common.IsHexAddress(mint) {
		return 0, false
	}
	return c.Get(common.HexToAddress(mint))
}
