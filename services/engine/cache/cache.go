// Package cache implements the base-condition cache (spec §4.9, C9): a
// keyed store from a BaseFilter lookup to the eligible-combinations bitmap
// it would otherwise have to recompute by evaluating every BaseConditionSet's
// static predicates against the event.
package cache

import (
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
)

// Cache is the C9 interface (spec §4.9): get/put/invalidate plus metrics.
// Implementations must be concurrent and lock-free for reads; writes may be
// asynchronous (fire-and-forget or deferred) but must never block the
// caller on completion. A CacheBackendError from any implementation is
// never returned to Get's caller as an error — it degrades to a miss (spec
// §7 "Treated as miss; evaluation proceeds").
type Cache interface {
	Get(key Key) (*roaring.Bitmap, bool)
	Put(key Key, eligible *roaring.Bitmap, ttl time.Duration)
	Invalidate(key Key)
	Metrics() Metrics
}

// Metrics reports cumulative cache outcomes (spec §4.9 getMetrics()).
type Metrics struct {
	Hits    uint64
	Misses  uint64
	Errors  uint64
	Evicted uint64
}

// NoopCache implements Cache as an unconditional miss — used when
// cache.type is "noop" or enableBaseConditionCache is false (spec §6). Its
// presence means every Evaluate call always exercises the full
// BaseConditionSet evaluation path, which is the same work the cache exists
// to amortize, not a behavior change (testable property 7: cache
// transparency).
type NoopCache struct {
	misses uint64
}

// NewNoopCache returns a Cache that never stores anything.
func NewNoopCache() *NoopCache { return &NoopCache{} }

func (c *NoopCache) Get(Key) (*roaring.Bitmap, bool) {
	atomic.AddUint64(&c.misses, 1)
	return nil, false
}

func (c *NoopCache) Put(Key, *roaring.Bitmap, time.Duration) {}

func (c *NoopCache) Invalidate(Key) {}

func (c *NoopCache) Metrics() Metrics {
	return Metrics{Misses: atomic.LoadUint64(&c.misses)}
}
