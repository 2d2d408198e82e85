package build

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/conneroisu/weft/internal/metrics"
	"github.com/conneroisu/weft/internal/transform"
	"github.com/conneroisu/weft/internal/types"
)

// TransformCache caches transform results of cacheable rules across build
// generations. Entries are content addressed over the asset, its chain and
// the digest of the rule's declared inputs, so a change to any of them
// simply misses. Chains running external commands are only cached when their
// rule declares inputs; the graph builder enforces that.
type TransformCache struct {
	entries *lru.Cache[string, transform.Result]
	metrics metrics.Recorder
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewTransformCache creates a cache holding at most size results.
func NewTransformCache(size int, rec metrics.Recorder) (*TransformCache, error) {
	entries, err := lru.New[string, transform.Result](size)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &TransformCache{entries: entries, metrics: rec}, nil
}

// CacheKey derives the cache key of one transform run from the asset ID, its
// raw content, the chain including every option value and the digest of the
// rule's declared inputs.
func CacheKey(id types.AssetID, raw []byte, chain []types.TransformRef, inputs []byte) string {
	h := sha256.New()
	h.Write([]byte(id))
	h.Write([]byte{0})
	h.Write(raw)
	h.Write([]byte{0})
	// encoding/json sorts map keys, so equal chains encode identically.
	fingerprint, err := json.Marshal(chain)
	if err != nil {
		fingerprint = []byte(err.Error())
	}
	h.Write(fingerprint)
	h.Write([]byte{0})
	h.Write(inputs)
	return hex.EncodeToString(h.Sum(nil))
}

// Lookup returns the cached result for the given input.
func (c *TransformCache) Lookup(id types.AssetID, raw []byte, chain []types.TransformRef, inputs []byte) (transform.Result, bool) {
	result, ok := c.entries.Get(CacheKey(id, raw, chain, inputs))
	if ok {
		c.hits.Add(1)
		c.metrics.IncCacheHit()
	} else {
		c.misses.Add(1)
		c.metrics.IncCacheMiss()
	}
	return result, ok
}

// Store caches result for the given input.
func (c *TransformCache) Store(id types.AssetID, raw []byte, chain []types.TransformRef, inputs []byte, result transform.Result) {
	c.entries.Add(CacheKey(id, raw, chain, inputs), result)
}

// Len returns the number of cached results.
func (c *TransformCache) Len() int {
	return c.entries.Len()
}

// Purge drops every cached result.
func (c *TransformCache) Purge() {
	c.entries.Purge()
}

// GetHits returns the number of cache hits.
func (c *TransformCache) GetHits() int64 {
	return c.hits.Load()
}

// GetMisses returns the number of cache misses.
func (c *TransformCache) GetMisses() int64 {
	return c.misses.Load()
}

// GetHitRate returns the hit rate as a percentage.
func (c *TransformCache) GetHitRate() float64 {
	hits, misses := c.GetHits(), c.GetMisses()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses) * 100
}
