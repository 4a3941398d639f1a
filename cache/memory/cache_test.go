package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUOrdering(t *testing.T) {
	c := NewLRU[int](2, 0)
	c.Put("k1", 1)
	c.Put("k2", 2)
	_, ok := c.Get("k1")
	require.True(t, ok)
	c.Put("k3", 3)

	_, ok = c.Get("k2")
	assert.False(t, ok, "k2 should have been evicted")
	v1, ok := c.Get("k1")
	assert.True(t, ok)
	assert.Equal(t, 1, v1)
	v3, ok := c.Get("k3")
	assert.True(t, ok)
	assert.Equal(t, 3, v3)
}

func TestFIFOOrdering(t *testing.T) {
	c := NewFIFO[int](2, 0)
	c.Put("k1", 1)
	c.Put("k2", 2)
	_, _ = c.Get("k1") // FIFO order is insertion order regardless of access
	c.Put("k3", 3)

	_, ok := c.Get("k1")
	assert.False(t, ok, "k1 should have been evicted as the oldest insert")
	_, ok = c.Get("k2")
	assert.True(t, ok)
	_, ok = c.Get("k3")
	assert.True(t, ok)
}

func TestLFUEvictsLeastAccessed(t *testing.T) {
	c := NewLFU[int](2, 0)
	c.Put("k1", 1)
	c.Put("k2", 2)
	c.Get("k1")
	c.Get("k1")
	c.Put("k3", 3) // k1 has access count 3 and k2 count 1, so k2 is the victim

	_, ok := c.Get("k2")
	assert.False(t, ok, "k2 has the smallest access count and should be evicted")
}

func TestTTLExpiry(t *testing.T) {
	c := NewLRU[string](10, 0)
	c.PutTTL("k", "v", 20*time.Millisecond)

	v, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", v)

	time.Sleep(30 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestNoExpiryWhenTTLNonPositive(t *testing.T) {
	c := NewLRU[string](10, 0)
	c.PutTTL("k", "v", 0)
	time.Sleep(10 * time.Millisecond)
	_, ok := c.Get("k")
	assert.True(t, ok)
}

func TestRemoveContainsClear(t *testing.T) {
	c := NewLRU[int](10, 0)
	c.Put("a", 1)
	assert.True(t, c.Contains("a"))
	assert.True(t, c.Remove("a"))
	assert.False(t, c.Remove("a"))
	assert.False(t, c.Contains("a"))

	c.Put("b", 2)
	c.Clear()
	assert.Equal(t, 0, c.Size())
}

func TestCleanupExpiredReclaimsMemory(t *testing.T) {
	c := NewLRU[int](10, 0)
	c.PutTTL("a", 1, 5*time.Millisecond)
	c.PutTTL("b", 2, time.Hour)
	time.Sleep(15 * time.Millisecond)

	removed := c.CleanupExpired()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, c.Size())
}

func TestStartCleanupStopsOnClose(t *testing.T) {
	c := NewLRU[int](10, 50*time.Millisecond)
	c.StartCleanup(context.Background(), 10*time.Millisecond)
	c.Put("a", 1)
	time.Sleep(100 * time.Millisecond)
	c.Close()

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestRandomPolicyEventuallyEvictsSomething(t *testing.T) {
	c := NewRandom[int](1, 0)
	c.Put("a", 1)
	c.Put("b", 2)
	assert.Equal(t, 1, c.Size())
}

func TestShardingKeepsPerKeyCorrectness(t *testing.T) {
	c := New[int](Options{MaxSize: 100, Shards: 4, Policy: LRU})
	for i := 0; i < 40; i++ {
		c.Put(string(rune('a'+i%26))+"-"+string(rune('0'+i%10)), i)
	}
	assert.True(t, c.Size() > 0)
}
