package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/miradorstack/agentic-reviewer/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T, cfg ResponseConfig) (*ResponseCache, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	cfg.Now = clock.Now
	c, err := NewResponseCache(cfg)
	require.NoError(t, err)
	return c, clock
}

func result(id string) models.ReviewResult {
	return models.ReviewResult{SampleID: id, Verdict: models.VerdictAgree, Reasoning: "fits the label", Success: true}
}

func TestResponseCacheRoundTrip(t *testing.T) {
	c, _ := newTestCache(t, ResponseConfig{DefaultTTL: time.Minute})
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", result("a"), 0))
	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, result("a"), got)

	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
	assert.Positive(t, stats.MemoryUsageBytes)
}

func TestResponseCacheExpiresAfterTTL(t *testing.T) {
	c, clock := newTestCache(t, ResponseConfig{})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", result("a"), 10*time.Second))
	clock.Advance(9 * time.Second)
	_, ok, _ := c.Get(ctx, "k")
	assert.True(t, ok)

	// An entry exactly ttl old is still live.
	clock.Advance(time.Second)
	_, ok, _ = c.Get(ctx, "k")
	assert.True(t, ok)

	clock.Advance(time.Nanosecond)
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Entries)
	assert.Zero(t, c.Stats().MemoryUsageBytes)
}

func TestResponseCacheSetResetsAge(t *testing.T) {
	c, clock := newTestCache(t, ResponseConfig{})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", result("a"), 10*time.Second))
	clock.Advance(8 * time.Second)
	require.NoError(t, c.Set(ctx, "k", result("b"), 10*time.Second))
	clock.Advance(8 * time.Second)

	got, ok, _ := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "b", got.SampleID)
	assert.Equal(t, 1, c.Stats().Entries)
}

func TestResponseCacheEvictsExpiredBeforeLRU(t *testing.T) {
	c, clock := newTestCache(t, ResponseConfig{MaxEntries: 2})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "old", result("old"), time.Hour))
	require.NoError(t, c.Set(ctx, "short", result("short"), time.Second))
	clock.Advance(2 * time.Second)

	// "old" is least recently used but still live; "short" has expired.
	require.NoError(t, c.Set(ctx, "new", result("new"), time.Hour))

	_, ok, _ := c.Get(ctx, "old")
	assert.True(t, ok, "live entry should survive")
	_, ok, _ = c.Get(ctx, "new")
	assert.True(t, ok)
}

func TestResponseCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestCache(t, ResponseConfig{MaxEntries: 2})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", result("a"), 0))
	require.NoError(t, c.Set(ctx, "b", result("b"), 0))
	_, _, _ = c.Get(ctx, "a")
	require.NoError(t, c.Set(ctx, "c", result("c"), 0))

	_, ok, _ := c.Get(ctx, "b")
	assert.False(t, ok, "b was least recently used")
	_, ok, _ = c.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Stats().Entries)
}

func TestResponseCacheMaxBytes(t *testing.T) {
	one := estimateSize("a", result("a"))
	c, _ := newTestCache(t, ResponseConfig{MaxBytes: one*2 + one/2})
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, c.Set(ctx, k, result(k), 0))
	}
	stats := c.Stats()
	assert.Equal(t, 2, stats.Entries)
	assert.LessOrEqual(t, stats.MemoryUsageBytes, one*2+one/2)
	_, ok, _ := c.Get(ctx, "a")
	assert.False(t, ok)
}

func TestResponseCachePurgeKeepsCounters(t *testing.T) {
	c, _ := newTestCache(t, ResponseConfig{})
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", result("a"), 0))
	_, _, _ = c.Get(ctx, "k")

	c.Purge()
	stats := c.Stats()
	assert.Zero(t, stats.Entries)
	assert.Zero(t, stats.MemoryUsageBytes)
	assert.EqualValues(t, 1, stats.Hits)
}

func TestResponseCacheHitRateZeroWithoutLookups(t *testing.T) {
	c, _ := newTestCache(t, ResponseConfig{})
	assert.Zero(t, c.Stats().HitRate)
}

func TestResponseCacheHitRateProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c, err := NewResponseCache(ResponseConfig{MaxEntries: 8})
		if err != nil {
			t.Fatalf("new cache: %v", err)
		}
		ctx := context.Background()
		var hits, misses uint64

		ops := rapid.IntRange(1, 60).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			key := fmt.Sprintf("k%d", rapid.IntRange(0, 12).Draw(t, "key"))
			if rapid.Bool().Draw(t, "set") {
				if err := c.Set(ctx, key, result(key), 0); err != nil {
					t.Fatalf("set: %v", err)
				}
				continue
			}
			if _, ok, _ := c.Get(ctx, key); ok {
				hits++
			} else {
				misses++
			}
		}

		stats := c.Stats()
		if stats.Hits != hits || stats.Misses != misses {
			t.Fatalf("counters %d/%d, observed %d/%d", stats.Hits, stats.Misses, hits, misses)
		}
		want := 0.0
		if hits+misses > 0 {
			want = float64(hits) / float64(hits+misses)
		}
		if stats.HitRate != want {
			t.Fatalf("hit rate %v, want %v", stats.HitRate, want)
		}
		if stats.Entries > 8 {
			t.Fatalf("entries %d exceed capacity", stats.Entries)
		}
	})
}

func TestResponseCacheConcurrentAccess(t *testing.T) {
	c, _ := newTestCache(t, ResponseConfig{MaxEntries: 16})
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (w+i)%24)
				if i%3 == 0 {
					_ = c.Set(ctx, key, result(key), 0)
				} else {
					_, _, _ = c.Get(ctx, key)
				}
			}
		}(w)
	}
	wg.Wait()

	stats := c.Stats()
	assert.LessOrEqual(t, stats.Entries, 16)
	assert.EqualValues(t, 8*200-8*67, stats.Hits+stats.Misses)
}

type failingProvider struct{ NoopProvider }

func (failingProvider) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func (failingProvider) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}

func TestResponseCacheRemoteFailureIsCacheError(t *testing.T) {
	c, _ := newTestCache(t, ResponseConfig{Remote: failingProvider{}})
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "k")
	assert.False(t, ok)
	var cacheErr *models.CacheError
	require.ErrorAs(t, err, &cacheErr)
	assert.Equal(t, "get", cacheErr.Op)
	assert.EqualValues(t, 1, c.Stats().Misses)

	err = c.Set(ctx, "k", result("a"), 0)
	require.ErrorAs(t, err, &cacheErr)

	// The local tier still holds the value.
	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", got.SampleID)
}

// gatedProvider serves a fixed payload once release is closed.
type gatedProvider struct {
	NoopProvider
	payload []byte
	ttl     time.Duration
	entered chan struct{}
	release chan struct{}
}

func (p *gatedProvider) Get(ctx context.Context, _ string) ([]byte, error) {
	close(p.entered)
	select {
	case <-p.release:
		return p.payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *gatedProvider) TTL(context.Context, string) (time.Duration, error) { return p.ttl, nil }

func TestResponseCacheRemoteFetchDoesNotOverwriteNewerSet(t *testing.T) {
	payload, err := json.Marshal(result("old"))
	require.NoError(t, err)
	remote := &gatedProvider{payload: payload, ttl: time.Minute, entered: make(chan struct{}), release: make(chan struct{})}
	c, _ := newTestCache(t, ResponseConfig{Remote: remote, RemoteTimeout: 5 * time.Second})
	ctx := context.Background()

	type lookup struct {
		value models.ReviewResult
		ok    bool
	}
	done := make(chan lookup, 1)
	go func() {
		v, ok, _ := c.Get(ctx, "k")
		done <- lookup{v, ok}
	}()

	<-remote.entered
	require.NoError(t, c.Set(ctx, "k", result("new"), time.Minute))
	close(remote.release)

	got := <-done
	require.True(t, got.ok)
	assert.Equal(t, "new", got.value.SampleID)

	again, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", again.SampleID)
}

func TestResponseCacheBackfillKeepsRemoteTTL(t *testing.T) {
	payload, err := json.Marshal(result("remote"))
	require.NoError(t, err)
	remote := &gatedProvider{payload: payload, ttl: 5 * time.Second, entered: make(chan struct{}), release: make(chan struct{})}
	close(remote.release)
	c, clock := newTestCache(t, ResponseConfig{DefaultTTL: time.Hour, Remote: remote})
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, c.Stats().Entries)

	clock.Advance(6 * time.Second)
	assert.Equal(t, 0, c.Stats().Entries, "backfilled copy expires with the remote entry")
}
