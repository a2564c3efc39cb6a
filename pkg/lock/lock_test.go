package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()

	t.Run("Acquire, refresh and release", func(t *testing.T) {
		l := NewMemoryLocker()
		ok, err := l.TryAcquire(ctx, "a1", "owner1", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = l.TryAcquire(ctx, "a1", "owner2", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok, "second owner must not acquire a held lease")

		ok, err = l.TryAcquire(ctx, "a1", "owner1", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "same owner refreshes its lease")

		assert.ErrorIs(t, l.Release(ctx, "a1", "owner2"), ErrLocked)
		require.NoError(t, l.Release(ctx, "a1", "owner1"))

		ok, err = l.TryAcquire(ctx, "a1", "owner2", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Expired lease can be taken over", func(t *testing.T) {
		now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
		l := NewMemoryLocker()
		l.now = func() time.Time { return now }

		ok, err := l.TryAcquire(ctx, "a1", "owner1", time.Second)
		require.NoError(t, err)
		assert.True(t, ok)

		now = now.Add(2 * time.Second)
		ok, err = l.TryAcquire(ctx, "a1", "owner2", time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, l.Release(ctx, "a1", "owner2"))
	})

	t.Run("Release of a missing lease succeeds", func(t *testing.T) {
		assert.NoError(t, NewMemoryLocker().Release(ctx, "missing", "owner1"))
	})

	t.Run("Rejects non-positive ttl", func(t *testing.T) {
		_, err := NewMemoryLocker().TryAcquire(ctx, "a1", "owner1", 0)
		assert.Error(t, err)
	})

	t.Run("Only one concurrent owner wins", func(t *testing.T) {
		l := NewMemoryLocker()
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for _, owner := range []string{"o1", "o2", "o3", "o4", "o5"} {
			wg.Add(1)
			go func(owner string) {
				defer wg.Done()
				ok, err := l.TryAcquire(ctx, "shared", owner, time.Minute)
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(owner)
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})
}
