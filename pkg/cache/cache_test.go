package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSetAndGet(t *testing.T) {
	c := New(10, time.Minute, zap.NewNop())

	c.Set("key", "value")

	value, ok := c.Get("key")
	require.True(t, ok)
	assert.Equal(t, "value", value)
}

func TestGetMiss(t *testing.T) {
	c := New(10, time.Minute, zap.NewNop())

	_, ok := c.Get("missing")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(0), stats.Hits)
}

func TestTTLExpiry(t *testing.T) {
	c := New(10, 100*time.Millisecond, zap.NewNop())

	c.Set("key", "value")

	_, ok := c.Get("key")
	require.True(t, ok)

	time.Sleep(150 * time.Millisecond)

	_, ok = c.Get("key")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Expirations)
	assert.Equal(t, 0, stats.Size)
}

func TestFrequencyBasedEviction(t *testing.T) {
	c := New(2, time.Minute, zap.NewNop())

	c.Set("frequent", 1)
	c.Set("rare", 2)

	// frequentのアクセスカウンターを上げる
	_, ok := c.Get("frequent")
	require.True(t, ok)
	_, ok = c.Get("frequent")
	require.True(t, ok)

	// 容量上限で新しいキーを追加すると、アクセスの少ないrareが退避される
	c.Set("new", 3)

	assert.True(t, c.Has("frequent"))
	assert.False(t, c.Has("rare"))
	assert.True(t, c.Has("new"))

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Equal(t, 2, stats.Size)
}

func TestSetExistingKeyDoesNotEvict(t *testing.T) {
	c := New(2, time.Minute, zap.NewNop())

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10)

	assert.True(t, c.Has("a"))
	assert.True(t, c.Has("b"))
	assert.Equal(t, int64(0), c.Stats().Evictions)
}

func TestGetOrFetch(t *testing.T) {
	c := New(10, time.Minute, zap.NewNop())

	calls := 0
	supplier := func() (interface{}, error) {
		calls++
		return "fetched", nil
	}

	value, err := c.GetOrFetch("key", supplier, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "fetched", value)
	assert.Equal(t, 1, calls)

	// 2回目はキャッシュヒットでsupplierは呼ばれない
	value, err = c.GetOrFetch("key", supplier, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "fetched", value)
	assert.Equal(t, 1, calls)
}

func TestGetOrFetchSupplierError(t *testing.T) {
	c := New(10, time.Minute, zap.NewNop())

	supplierErr := errors.New("取得失敗")
	_, err := c.GetOrFetch("key", func() (interface{}, error) {
		return nil, supplierErr
	}, time.Minute)
	assert.Equal(t, supplierErr, err)

	// 失敗した結果はキャッシュされない
	assert.False(t, c.Has("key"))
}

func TestSweep(t *testing.T) {
	c := New(10, 100*time.Millisecond, zap.NewNop())

	c.Set("a", 1)
	c.Set("b", 2)

	time.Sleep(150 * time.Millisecond)
	c.Set("fresh", 3)

	removed := c.Sweep()
	assert.Equal(t, 2, removed)
	assert.False(t, c.Has("a"))
	assert.False(t, c.Has("b"))
	assert.True(t, c.Has("fresh"))
}

func TestClear(t *testing.T) {
	c := New(10, time.Minute, zap.NewNop())

	c.Set("a", 1)
	c.Set("b", 2)
	c.Clear()

	assert.Equal(t, 0, c.Stats().Size)
	_, ok := c.Get("a")
	assert.False(t, ok)
}
