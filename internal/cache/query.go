package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/example/insight-orchestrator/internal/datasource"
	"github.com/example/insight-orchestrator/internal/metrics"
)

const DefaultQueryCacheSize = 256

// Entry is a cached query result. Rows are shared between readers and must
// not be modified.
type Entry struct {
	Key      string
	Rows     *datasource.Rows
	StoredAt time.Time
}

type QueryStats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// QueryCache keeps successful query results, least recently used first out.
// Entries never expire by time.
type QueryCache struct {
	entries *lru.Cache[string, Entry]
	hits    atomic.Int64
	misses  atomic.Int64
}

func NewQueryCache(size int) (*QueryCache, error) {
	if size <= 0 {
		size = DefaultQueryCacheSize
	}
	c, err := lru.New[string, Entry](size)
	if err != nil {
		return nil, err
	}
	return &QueryCache{entries: c}, nil
}

// Key hashes a query and its parameters.
func Key(query string, params ...string) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(query)))
	for _, p := range params {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *QueryCache) Get(key string) (Entry, bool) {
	e, ok := c.entries.Get(key)
	if ok {
		c.hits.Add(1)
		metrics.CacheRequestsTotal.WithLabelValues("query", "hit").Inc()
	} else {
		c.misses.Add(1)
		metrics.CacheRequestsTotal.WithLabelValues("query", "miss").Inc()
	}
	return e, ok
}

func (c *QueryCache) Put(key string, rows *datasource.Rows) {
	c.entries.Add(key, Entry{Key: key, Rows: rows, StoredAt: time.Now().UTC()})
}

func (c *QueryCache) Reset() {
	c.entries.Purge()
}

func (c *QueryCache) Stats() QueryStats {
	return QueryStats{Hits: c.hits.Load(), Misses: c.misses.Load(), Entries: c.entries.Len()}
}
