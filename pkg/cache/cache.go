// Package cache provides a bounded, expiring in-process key/value store
// 容量制限と有効期限付きのインプロセスkey/valueストアを提供
package cache

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uriage_cache_hits_total",
		Help: "Total number of cache hits",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uriage_cache_misses_total",
		Help: "Total number of cache misses",
	})
	cacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uriage_cache_evictions_total",
		Help: "Total number of cache evictions",
	})
)

// entry is a single cached value with its bookkeeping
// 単一のキャッシュ値とその管理情報
type entry struct {
	value       interface{}
	insertedAt  time.Time
	accessCount int64
}

// Stats holds cache observability counters
// キャッシュの可観測性カウンターを保持
type Stats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Evictions   int64 `json:"evictions"`
	Expirations int64 `json:"expirations"`
	Size        int   `json:"size"`
	MaxSize     int   `json:"max_size"`
}

// Cache is a bounded key/value store with TTL expiry and frequency-based
// eviction: when full, the entry with the lowest access counter is evicted.
// Access counters are never reset, so this is LFU-style, not LRU.
// TTL失効と頻度ベース退避を備えた容量制限付きkey/valueストア。満杯時は
// アクセスカウンターが最小のエントリーを退避する。カウンターはリセット
// されないためLRUではなくLFU方式。
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	maxSize    int
	defaultTTL time.Duration
	logger     *zap.Logger

	hits        int64
	misses      int64
	evictions   int64
	expirations int64
}

// New creates a new bounded cache
// 新しい容量制限付きキャッシュを作成
func New(maxSize int, defaultTTL time.Duration, logger *zap.Logger) *Cache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}

	return &Cache{
		entries:    make(map[string]*entry),
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
		logger:     logger,
	}
}

// Get returns the value for key if present and within the default TTL
// デフォルトTTL内に存在する場合にキーの値を返す
func (c *Cache) Get(key string) (interface{}, bool) {
	return c.GetWithTTL(key, c.defaultTTL)
}

// GetWithTTL returns the value for key if present and younger than ttl.
// An expired entry is deleted and treated as a miss.
// ttlより新しいエントリーが存在する場合に値を返す。失効したエントリーは
// 削除してミスとして扱う。
func (c *Cache) GetWithTTL(key string, ttl time.Duration) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		cacheMisses.Inc()
		return nil, false
	}

	if time.Since(e.insertedAt) >= ttl {
		delete(c.entries, key)
		c.expirations++
		c.misses++
		cacheMisses.Inc()
		return nil, false
	}

	e.accessCount++
	c.hits++
	cacheHits.Inc()
	return e.value, true
}

// Set stores a value under key, replacing any prior entry. If the store is
// at capacity, the least-frequently-accessed entry is evicted first.
// キーの下に値を保存し、既存エントリーを置き換える。容量上限の場合は
// 最もアクセス頻度の低いエントリーを先に退避する。
func (c *Cache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictLeastFrequent()
	}

	c.entries[key] = &entry{
		value:      value,
		insertedAt: time.Now(),
	}
}

// evictLeastFrequent removes the entry with the lowest access counter.
// Caller must hold the lock.
// アクセスカウンターが最小のエントリーを削除する。呼び出し側がロックを
// 保持していること。
func (c *Cache) evictLeastFrequent() {
	var victimKey string
	var victimCount int64 = -1

	for key, e := range c.entries {
		if victimCount < 0 || e.accessCount < victimCount {
			victimKey = key
			victimCount = e.accessCount
		}
	}

	if victimCount >= 0 {
		delete(c.entries, victimKey)
		c.evictions++
		cacheEvictions.Inc()
		c.logger.Debug("キャッシュエントリーを退避しました",
			zap.String("key", victimKey),
			zap.Int64("access_count", victimCount),
		)
	}
}

// GetOrFetch returns a cache hit or, on miss, invokes supplier, stores the
// result, and returns it. Concurrent misses for the same key may each invoke
// the supplier; the duplication is tolerated because fills are idempotent.
// キャッシュヒットを返すか、ミス時にsupplierを呼び出して結果を保存して
// 返す。同一キーへの同時ミスはそれぞれsupplierを呼び出す可能性があるが、
// 補充は冪等なので重複は許容される。
func (c *Cache) GetOrFetch(key string, supplier func() (interface{}, error), ttl time.Duration) (interface{}, error) {
	if value, ok := c.GetWithTTL(key, ttl); ok {
		return value, nil
	}

	value, err := supplier()
	if err != nil {
		return nil, err
	}

	c.Set(key, value)
	return value, nil
}

// Delete removes an entry by key
// キーでエントリーを削除
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Has reports whether key is present and within the default TTL without
// touching the access counter
// アクセスカウンターに影響を与えずに、キーがデフォルトTTL内に存在するか
// を報告
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	return time.Since(e.insertedAt) < c.defaultTTL
}

// Clear removes all entries
// すべてのエントリーを削除
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

// Sweep removes all entries whose default TTL has elapsed, independent of
// Get calls, and returns the number removed
// Get呼び出しとは独立に、デフォルトTTLが経過したすべてのエントリーを
// 削除し、削除数を返す
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if time.Since(e.insertedAt) >= c.defaultTTL {
			delete(c.entries, key)
			c.expirations++
			removed++
		}
	}

	if removed > 0 {
		c.logger.Debug("キャッシュ掃除完了", zap.Int("removed", removed))
	}

	return removed
}

// Stats returns a snapshot of hit/miss counters for observability
// 可観測性のためヒット/ミスカウンターのスナップショットを返す
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		Size:        len(c.entries),
		MaxSize:     c.maxSize,
	}
}
