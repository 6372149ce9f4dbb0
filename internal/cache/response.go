package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/miradorstack/agentic-reviewer/internal/models"
)

const (
	defaultMaxEntries = 10000
	defaultTTL        = time.Hour
	entryOverhead     = 256
)

// ResponseConfig tunes a ResponseCache.
type ResponseConfig struct {
	DefaultTTL time.Duration
	MaxEntries int
	// MaxBytes bounds the estimated memory of stored results. Zero disables the bound.
	MaxBytes int64
	// Remote is an optional shared tier consulted on local misses.
	Remote Provider
	// RemoteTimeout bounds each remote call.
	RemoteTimeout time.Duration
	Now           func() time.Time
	Logger        *slog.Logger
}

type entry struct {
	value     models.ReviewResult
	createdAt time.Time
	ttl       time.Duration
	hitCount  int
	size      int64
}

func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) > e.ttl
}

// ResponseCache stores review results keyed by request fingerprint. Entries
// expire lazily after their TTL; when full, expired entries are dropped before
// least-recently-used ones. All state is guarded by a single mutex.
type ResponseCache struct {
	mu     sync.Mutex
	lru    *simplelru.LRU[string, *entry]
	bytes  int64
	hits   uint64
	misses uint64
	// writes counts local mutations so a remote fetch can tell whether it raced one.
	writes uint64

	defaultTTL    time.Duration
	maxEntries    int
	maxBytes      int64
	remote        Provider
	remoteTimeout time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

// NewResponseCache builds a cache from cfg, filling unset fields with defaults.
func NewResponseCache(cfg ResponseConfig) (*ResponseCache, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultMaxEntries
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = defaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = time.Second
	}

	c := &ResponseCache{
		defaultTTL:    cfg.DefaultTTL,
		maxEntries:    cfg.MaxEntries,
		maxBytes:      cfg.MaxBytes,
		remote:        cfg.Remote,
		remoteTimeout: cfg.RemoteTimeout,
		now:           cfg.Now,
		logger:        cfg.Logger,
	}
	lru, err := simplelru.NewLRU[string, *entry](cfg.MaxEntries, func(_ string, e *entry) {
		c.bytes -= e.size
	})
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	c.lru = lru
	return c, nil
}

// Get returns the cached result for key. A remote tier failure is reported as
// a *models.CacheError together with a miss.
func (c *ResponseCache) Get(ctx context.Context, key string) (models.ReviewResult, bool, error) {
	c.mu.Lock()
	if e, ok := c.lru.Get(key); ok {
		if !e.expired(c.now()) {
			e.hitCount++
			c.hits++
			value := e.value
			c.mu.Unlock()
			return value, true, nil
		}
		c.lru.Remove(key)
	}
	if c.remote == nil {
		c.misses++
		c.mu.Unlock()
		return models.ReviewResult{}, false, nil
	}
	seen := c.writes
	c.mu.Unlock()

	value, ttl, err := c.remoteGet(ctx, key)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.misses++
		if errors.Is(err, ErrCacheMiss) {
			return models.ReviewResult{}, false, nil
		}
		return models.ReviewResult{}, false, &models.CacheError{Op: "get", Err: err}
	}
	c.hits++
	if c.writes != seen {
		// A local write landed during the fetch; it is newer than the remote copy.
		if e, ok := c.lru.Get(key); ok && !e.expired(c.now()) {
			e.hitCount++
			return e.value, true, nil
		}
		return value, true, nil
	}
	c.storeLocked(key, value, ttl)
	return value, true, nil
}

// Set stores value under key, replacing any previous entry and resetting its
// age. A non-positive ttl uses the cache default.
func (c *ResponseCache) Set(ctx context.Context, key string, value models.ReviewResult, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	c.storeLocked(key, value, ttl)
	c.mu.Unlock()

	if c.remote == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return &models.CacheError{Op: "encode", Err: err}
	}
	rctx, cancel := context.WithTimeout(ctx, c.remoteTimeout)
	defer cancel()
	if err := c.remote.Set(rctx, key, payload, ttl); err != nil {
		return &models.CacheError{Op: "set", Err: err}
	}
	return nil
}

// Delete drops key from both tiers.
func (c *ResponseCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	c.lru.Remove(key)
	c.writes++
	c.mu.Unlock()

	if c.remote == nil {
		return nil
	}
	rctx, cancel := context.WithTimeout(ctx, c.remoteTimeout)
	defer cancel()
	if err := c.remote.Del(rctx, key); err != nil {
		return &models.CacheError{Op: "delete", Err: err}
	}
	return nil
}

// Stats reports the current entry count, estimated memory and hit rate.
// Expired entries are swept before counting.
func (c *ResponseCache) Stats() models.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeExpiredLocked(c.now())
	stats := models.CacheStats{
		Entries:          c.lru.Len(),
		MemoryUsageBytes: c.bytes,
		Hits:             c.hits,
		Misses:           c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// Purge removes every local entry. Counters are kept.
func (c *ResponseCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.bytes = 0
	c.writes++
}

func (c *ResponseCache) storeLocked(key string, value models.ReviewResult, ttl time.Duration) {
	now := c.now()
	c.writes++
	c.lru.Remove(key)
	if c.lru.Len() >= c.maxEntries {
		c.purgeExpiredLocked(now)
	}

	e := &entry{value: value, createdAt: now, ttl: ttl, size: estimateSize(key, value)}
	c.lru.Add(key, e)
	c.bytes += e.size

	if c.maxBytes <= 0 || c.bytes <= c.maxBytes {
		return
	}
	c.purgeExpiredLocked(now)
	for c.bytes > c.maxBytes && c.lru.Len() > 1 {
		c.lru.RemoveOldest()
	}
}

func (c *ResponseCache) purgeExpiredLocked(now time.Time) {
	for _, key := range c.lru.Keys() {
		if e, ok := c.lru.Peek(key); ok && e.expired(now) {
			c.lru.Remove(key)
		}
	}
}

// remoteGet fetches key from the remote tier along with the TTL the local
// copy should keep, which is the remote entry's remaining lifetime.
func (c *ResponseCache) remoteGet(ctx context.Context, key string) (models.ReviewResult, time.Duration, error) {
	rctx, cancel := context.WithTimeout(ctx, c.remoteTimeout)
	defer cancel()

	payload, err := c.remote.Get(rctx, key)
	if err != nil {
		return models.ReviewResult{}, 0, err
	}
	var value models.ReviewResult
	if err := json.Unmarshal(payload, &value); err != nil {
		c.logger.Warn("discarding undecodable remote cache entry", slog.String("key", key), slog.Any("error", err))
		return models.ReviewResult{}, 0, ErrCacheMiss
	}

	ttl, err := c.remote.TTL(rctx, key)
	switch {
	case errors.Is(err, ErrCacheMiss):
		// Expired between the two calls; the value is still a valid read.
		ttl = time.Millisecond
	case err != nil:
		c.logger.Debug("remote ttl unavailable, using default", slog.String("key", key), slog.Any("error", err))
		ttl = c.defaultTTL
	case ttl <= 0:
		ttl = c.defaultTTL
	}
	return value, ttl, nil
}

func estimateSize(key string, v models.ReviewResult) int64 {
	size := entryOverhead + len(key) + len(v.SampleID) + len(v.Verdict) +
		len(v.Reasoning) + len(v.Explanation) + len(v.Metadata.Model)
	if v.SuggestedLabel != nil {
		size += len(*v.SuggestedLabel)
	}
	return int64(size)
}
