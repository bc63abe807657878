package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestTTLExpiresOnRead(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store, err := NewTTL[string, int](4, time.Hour, clk)
	require.NoError(t, err)

	store.Set("a", 1)
	clk.Advance(59 * time.Minute)
	got, ok := store.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, got)

	clk.Advance(time.Minute)
	_, ok = store.Get("a")
	require.False(t, ok)
	require.Equal(t, 0, store.Len())
}

func TestTTLSetRestartsAge(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(0, 0)}
	store, err := NewTTL[string, string](2, time.Minute, clk)
	require.NoError(t, err)

	store.Set("k", "v1")
	clk.Advance(50 * time.Second)
	store.Set("k", "v2")
	clk.Advance(50 * time.Second)
	got, ok := store.Get("k")
	require.True(t, ok)
	require.Equal(t, "v2", got)
}

func TestTTLEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(0, 0)}
	store, err := NewTTL[string, int](2, 0, clk)
	require.NoError(t, err)

	store.Set("a", 1)
	store.Set("b", 2)
	_, _ = store.Get("a")
	store.Set("c", 3)

	_, ok := store.Get("b")
	require.False(t, ok, "b was least recently used")
	_, ok = store.Get("a")
	require.True(t, ok)
	_, ok = store.Get("c")
	require.True(t, ok)
	require.Equal(t, 2, store.Len())

	store.Delete("a")
	_, ok = store.Get("a")
	require.False(t, ok)
}

func TestNewTTLValidates(t *testing.T) {
	t.Parallel()

	_, err := NewTTL[string, int](0, time.Second, &fakeClock{})
	require.Error(t, err)
	_, err = NewTTL[string, int](1, time.Second, nil)
	require.Error(t, err)
}
