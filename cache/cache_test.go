package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheSetGet(t *testing.T) {
	c := New(Options{MaxEntries: 10, TTL: time.Minute})

	c.Set("k1", "v1")
	v, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "v1", v)
}

func TestCacheMissOnUnknownKey(t *testing.T) {
	c := New(DefaultOptions())
	_, ok := c.Get("nope")
	assert.False(t, ok)
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	c := New(Options{MaxEntries: 10, TTL: 10 * time.Millisecond})
	c.Set("k1", "v1")

	time.Sleep(20 * time.Millisecond)
	_, ok := c.Get("k1")
	assert.False(t, ok)
}

func TestCacheSlidingExpirationExtendsTTL(t *testing.T) {
	c := New(Options{MaxEntries: 10, TTL: 30 * time.Millisecond, SlidingExpiration: true})
	c.Set("k1", "v1")

	time.Sleep(20 * time.Millisecond)
	_, ok := c.Get("k1") // refreshes expiry
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("k1") // 40ms since Set, but only 20ms since the refreshing Get, within the 30ms TTL
	assert.True(t, ok)
}

func TestCacheWithoutSlidingExpirationStillExpires(t *testing.T) {
	c := New(Options{MaxEntries: 10, TTL: 20 * time.Millisecond, SlidingExpiration: false})
	c.Set("k1", "v1")

	time.Sleep(10 * time.Millisecond)
	_, ok := c.Get("k1")
	require.True(t, ok)

	time.Sleep(15 * time.Millisecond)
	_, ok = c.Get("k1")
	assert.False(t, ok)
}

func TestCacheEvictsLRUBeyondMaxEntries(t *testing.T) {
	c := New(Options{MaxEntries: 2, TTL: time.Minute})

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3) // evicts "a"

	_, ok := c.Get("a")
	assert.False(t, ok)

	_, ok = c.Get("b")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)

	stats := c.Stats()
	assert.EqualValues(t, 1, stats.Evictions)
	assert.Equal(t, 2, stats.Size)
}

func TestCacheGetPromotesToMRU(t *testing.T) {
	c := New(Options{MaxEntries: 2, TTL: time.Minute})

	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // promote a, making b the LRU entry
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok, "b should have been evicted as LRU")

	_, ok = c.Get("a")
	assert.True(t, ok)
}

func TestCacheSetReplacesExistingValue(t *testing.T) {
	c := New(Options{MaxEntries: 10, TTL: time.Minute})
	c.Set("k1", "v1")
	c.Set("k1", "v2")

	v, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "v2", v)
	assert.Equal(t, 1, c.Stats().Size)
}

func TestCacheStatsHitRate(t *testing.T) {
	c := New(Options{MaxEntries: 10, TTL: time.Minute})
	c.Set("k1", "v1")

	c.Get("k1")
	c.Get("k1")
	c.Get("missing")

	stats := c.Stats()
	assert.EqualValues(t, 2, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 0.0001)
}

func TestTaskKeyDeterministic(t *testing.T) {
	k1 := TaskKey("do the thing", "writer")
	k2 := TaskKey("do the thing", "writer")
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 16)
}

func TestTaskKeyVariesByAgent(t *testing.T) {
	k1 := TaskKey("do the thing", "writer")
	k2 := TaskKey("do the thing", "reviewer")
	k3 := TaskKey("do the thing", "")
	assert.NotEqual(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}
