package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()

	newWithClock := func() (*Memory, *time.Time) {
		m := NewMemory()
		now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		m.now = func() time.Time { return now }
		return m, &now
	}

	t.Run("Set And Get", func(t *testing.T) {
		m, _ := newWithClock()
		require.NoError(t, m.Set(ctx, "k", "v", time.Minute))

		value, ok, err := m.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v", value)
	})

	t.Run("Missing Key Is A Miss", func(t *testing.T) {
		m, _ := newWithClock()
		_, ok, err := m.Get(ctx, "absent")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Expired Entry Is A Miss", func(t *testing.T) {
		m, now := newWithClock()
		require.NoError(t, m.Set(ctx, "k", "v", time.Minute))

		*now = now.Add(2 * time.Minute)
		_, ok, err := m.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Zero TTL Never Expires", func(t *testing.T) {
		m, now := newWithClock()
		require.NoError(t, m.Set(ctx, "k", "v", 0))

		*now = now.Add(24 * time.Hour)
		_, ok, err := m.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Delete", func(t *testing.T) {
		m, _ := newWithClock()
		require.NoError(t, m.Set(ctx, "k", "v", time.Minute))
		require.NoError(t, m.Delete(ctx, "k"))

		_, ok, err := m.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Cleanup Evicts Only Expired", func(t *testing.T) {
		m, now := newWithClock()
		require.NoError(t, m.Set(ctx, "stale", "v", time.Minute))
		require.NoError(t, m.Set(ctx, "fresh", "v", time.Hour))
		require.NoError(t, m.Set(ctx, "pinned", "v", 0))

		*now = now.Add(30 * time.Minute)
		assert.Equal(t, 1, m.Cleanup())

		_, ok, _ := m.Get(ctx, "fresh")
		assert.True(t, ok)
		_, ok, _ = m.Get(ctx, "pinned")
		assert.True(t, ok)
	})
}
