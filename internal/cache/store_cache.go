package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marketpulse/indicatorengine/internal/store"
)

// CachingStore decorates a store.Store, fronting GetLatestIndicators with
// a TTL cache: the read served by the HTTP /indicators/{symbol} route,
// and the one store.Store call the teacher's cache.go doc comment names
// directly ("reads of the latest indicator values"). Every other method
// passes through untouched.
type CachingStore struct {
	store.Store
	cache Cache
	ttl   time.Duration
}

// NewCachingStore wraps s with c, caching GetLatestIndicators results
// for ttl.
func NewCachingStore(s store.Store, c Cache, ttl time.Duration) *CachingStore {
	return &CachingStore{Store: s, cache: c, ttl: ttl}
}

func (c *CachingStore) GetLatestIndicators(ctx context.Context, symbol string, indicatorIDs []string) (map[string]float64, error) {
	key := cacheKey(symbol, indicatorIDs)
	if raw, ok := c.cache.Get(key); ok {
		var cached map[string]float64
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
	}

	values, err := c.Store.GetLatestIndicators(ctx, symbol, indicatorIDs)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(values); err == nil {
		c.cache.Set(key, raw, c.ttl)
	}
	return values, nil
}

func cacheKey(symbol string, indicatorIDs []string) string {
	return fmt.Sprintf("latest_indicators:%s:%v", symbol, indicatorIDs)
}
