package rewardqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewMemory("a")
	require.NoError(t, q.Enqueue(ctx, "b"))
	require.NoError(t, q.Enqueue(ctx, "c"))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"a", "b", "c"}, q.Pending())

	for _, expected := range []string{"a", "b", "c"} {
		addr, ok, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, expected, addr)
	}

	_, ok, err := q.Dequeue(ctx, 10*time.Millisecond)
	assert.NoError(t, err)
	assert.False(t, ok, "empty queue times out")
}

func TestMemoryDequeueWakesOnEnqueue(t *testing.T) {
	ctx := context.Background()
	q := NewMemory()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Enqueue(ctx, "late")
	}()

	addr, ok, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "late", addr)
}

func TestMemoryDequeueCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok, err := NewMemory().Dequeue(ctx, time.Second)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRedisRequiresAddress(t *testing.T) {
	_, err := NewRedis(context.Background(), RedisConfig{})
	assert.Error(t, err)
}
