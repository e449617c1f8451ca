// Package slippage implements per-market slippage tolerance lookups with a
// short-lived in-process cache, guarded by a sync.RWMutex.
package slippage

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"
)

// defaultBips is returned whenever the upstream endpoint cannot be reached
// or its response cannot be parsed.
const defaultBips = 50

// cacheTTL bounds how long a looked-up tolerance is reused before refetching.
const cacheTTL = 30 * time.Second

// Oracle looks up and caches slippage tolerances for a (chain, sell, buy) market.
type Oracle struct {
	baseURL string
	client  *http.Client

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	bips      int64
	expiresAt time.Time
}

// New builds an Oracle querying baseURL for per-market slippage tolerances.
func New(baseURL string) *Oracle {
	return &Oracle{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
		cache:   make(map[string]cacheEntry),
	}
}

func cacheKey(chainID uint64, sellToken, buyToken string) string {
	return fmt.Sprintf("%d:%s:%s", chainID, strings.ToLower(sellToken), strings.ToLower(buyToken))
}

type slippageWire struct {
	Bips int64 `json:"bips"`
}

// BipsFor returns the slippage tolerance in basis points for the given
// market, serving a cached value when one is still fresh.
func (o *Oracle) BipsFor(ctx context.Context, chainID uint64, sellToken, buyToken string) int64 {
	key := cacheKey(chainID, sellToken, buyToken)

	o.mu.RLock()
	entry, ok := o.cache[key]
	o.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.bips
	}

	bips, err := o.fetch(ctx, chainID, sellToken, buyToken)
	if err != nil {
		bips = defaultBips
	}

	o.mu.Lock()
	o.cache[key] = cacheEntry{bips: bips, expiresAt: time.Now().Add(cacheTTL)}
	o.mu.Unlock()

	return bips
}

func (o *Oracle) fetch(ctx context.Context, chainID uint64, sellToken, buyToken string) (int64, error) {
	url := fmt.Sprintf("%s/slippage?chainId=%d&sellToken=%s&buyToken=%s", o.baseURL, chainID, sellToken, buyToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("slippage endpoint returned status %d", resp.StatusCode)
	}
	var wire slippageWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return 0, err
	}
	return wire.Bips, nil
}

// ApplyToBuyAmount discounts buyAmount by bips basis points, using exact
// integer arithmetic: buyAmount * (10000 - bips) / 10000.
func ApplyToBuyAmount(buyAmount *big.Int, bips int64) *big.Int {
	numerator := new(big.Int).Mul(buyAmount, big.NewInt(10000-bips))
	return numerator.Div(numerator, big.NewInt(10000))
}
