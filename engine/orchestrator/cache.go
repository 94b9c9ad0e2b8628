package orchestrator

import (
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/answergrid/answergrid/engine/confidence"
)

// cachedAnswer is what a cached_response hit replays instead of running
// retrieval, generation, and scoring again. The confidence result is the
// one computed when the answer was stored; re-scoring a cached draft
// against empty contexts would misreport it.
type cachedAnswer struct {
	Answer     string
	Citations  []Citation
	Confidence *confidence.Result
}

// ResponseCache serves the cached_response route: answers for recently
// seen queries, keyed by the normalized query text, expiring after a TTL.
type ResponseCache struct {
	cache *ristretto.Cache[string, cachedAnswer]
	ttl   time.Duration
}

// NewResponseCache builds the in-process cache. ttl <= 0 defaults to five
// minutes, maxEntries <= 0 to 4096.
func NewResponseCache(ttl time.Duration, maxEntries int64) (*ResponseCache, error) {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, cachedAnswer]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &ResponseCache{cache: cache, ttl: ttl}, nil
}

func (c *ResponseCache) Get(query string) (cachedAnswer, bool) {
	return c.cache.Get(normalizeQuery(query))
}

func (c *ResponseCache) Put(query string, answer cachedAnswer) {
	// Each entry costs one unit, so MaxCost bounds the entry count.
	c.cache.SetWithTTL(normalizeQuery(query), answer, 1, c.ttl)
	// Admission is async; waiting keeps a put-then-get sequence coherent.
	c.cache.Wait()
}

func (c *ResponseCache) Close() {
	c.cache.Close()
}

// normalizeQuery collapses case and whitespace so trivial rephrasings of
// the same question share a cache entry.
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}
