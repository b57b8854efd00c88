package cache

import (
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/dgraph-io/ristretto/v2"
)

// InMemoryCache is the in-process C9 backend (spec §6 cache.type: "inmem"):
// a TinyLFU-admission, cost-bounded, concurrent, lock-free-read cache with
// native TTL — the same library and justification as the model-scope
// eligible-predicate-set cache (services/engine/model), just keyed on the
// base-filter Key instead of a bitmap content hash.
type InMemoryCache struct {
	store *ristretto.Cache[Key, *roaring.Bitmap]
}

// NewInMemoryCache returns an InMemoryCache admitting up to maxEntries
// distinct base-filter keys (spec §6 cache.maxSize).
func NewInMemoryCache(maxEntries int64) (*InMemoryCache, error) {
	if maxEntries <= 0 {
		maxEntries = 10_000
	}
	store, err := ristretto.NewCache(&ristretto.Config[Key, *roaring.Bitmap]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
		Metrics:     true,
		// Each entry costs 1, so MaxCost counts entries, not bytes.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &InMemoryCache{store: store}, nil
}

func (c *InMemoryCache) Get(key Key) (*roaring.Bitmap, bool) {
	return c.store.Get(key)
}

// Put stores eligible under key with ttl, or no expiry when ttl <= 0 (spec
// §4.9 "TTL governs eviction; LRU secondary eviction when size limit is
// reached" — ristretto's own admission policy supplies the secondary
// eviction). The write is asynchronous: SetWithTTL enqueues onto
// ristretto's internal buffer and returns immediately, matching the "writes
// may be deferred but must not block the caller" requirement.
func (c *InMemoryCache) Put(key Key, eligible *roaring.Bitmap, ttl time.Duration) {
	if ttl <= 0 {
		c.store.Set(key, eligible, 1)
		return
	}
	c.store.SetWithTTL(key, eligible, 1, ttl)
}

func (c *InMemoryCache) Invalidate(key Key) {
	c.store.Del(key)
}

func (c *InMemoryCache) Metrics() Metrics {
	m := c.store.Metrics
	if m == nil {
		return Metrics{}
	}
	return Metrics{
		Hits:    m.Hits(),
		Misses:  m.Misses(),
		Evicted: m.KeysEvicted(),
	}
}
