package cache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	badger "github.com/dgraph-io/badger/v4"
)

// externalKeyPrefix versions the on-disk key layout (mirrors the teacher's
// router_cache.go "routing/emb/v1/" convention), so a future format change
// never collides with entries written by an older binary.
const externalKeyPrefix = "helios/basecond/v1/"

// ExternalCache is the "external" C9 backend (spec §6 cache.type:
// "external"): an embedded BadgerDB instance standing in for a real
// distributed cache back-end, the same role BadgerRouterCacheStore plays
// for tool embeddings in the teacher's routing package. Every method
// degrades to a miss on a storage failure (spec §7 CacheBackendError:
// "Treated as miss; evaluation proceeds") rather than propagating the
// error to the evaluator.
type ExternalCache struct {
	db  *badger.DB
	ttl time.Duration

	hits, misses, errs uint64
}

// NewExternalCache wraps an already-opened BadgerDB. The caller owns the
// DB's lifecycle (open before, close after) — ExternalCache does not open
// or close it, matching BadgerRouterCacheStore's own division of
// responsibility.
func NewExternalCache(db *badger.DB, ttl time.Duration) *ExternalCache {
	return &ExternalCache{db: db, ttl: ttl}
}

func (c *ExternalCache) Get(key Key) (*roaring.Bitmap, bool) {
	raw, err := c.load(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			atomic.AddUint64(&c.misses, 1)
			return nil, false
		}
		atomic.AddUint64(&c.errs, 1)
		return nil, false
	}
	if raw == nil {
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	bm := roaring.New()
	if _, err := bm.ReadFrom(bytes.NewReader(raw)); err != nil {
		atomic.AddUint64(&c.errs, 1)
		return nil, false
	}
	atomic.AddUint64(&c.hits, 1)
	return bm, true
}

func (c *ExternalCache) load(key Key) ([]byte, error) {
	var raw []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(encodeKey(key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	return raw, err
}

// Put persists eligible under key, fire-and-forget: a write failure is
// folded into the error metric, never returned, since the evaluator must
// never block or fail on a cache write (spec §4.9).
func (c *ExternalCache) Put(key Key, eligible *roaring.Bitmap, ttl time.Duration) {
	var buf bytes.Buffer
	if _, err := eligible.WriteTo(&buf); err != nil {
		atomic.AddUint64(&c.errs, 1)
		return
	}
	if ttl <= 0 {
		ttl = c.ttl
	}

	err := c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(encodeKey(key), buf.Bytes())
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		atomic.AddUint64(&c.errs, 1)
	}
}

func (c *ExternalCache) Invalidate(key Key) {
	_ = c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(encodeKey(key))
	})
}

func (c *ExternalCache) Metrics() Metrics {
	return Metrics{
		Hits:   atomic.LoadUint64(&c.hits),
		Misses: atomic.LoadUint64(&c.misses),
		Errors: atomic.LoadUint64(&c.errs),
	}
}

func encodeKey(key Key) []byte {
	buf := make([]byte, len(externalKeyPrefix)+16)
	n := copy(buf, externalKeyPrefix)
	binary.BigEndian.PutUint64(buf[n:], key.Hi)
	binary.BigEndian.PutUint64(buf[n+8:], key.Lo)
	return buf
}
