package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *keyHolds) held(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.holders[key]
}

func TestKeyHolds_OnlyLastHolderRemoves(t *testing.T) {
	h := newKeyHolds()
	ctx := context.Background()
	key := holdKey("images", "o/task_image/abc.png")

	require.NoError(t, h.acquire(ctx, key))
	require.NoError(t, h.acquire(ctx, key))
	assert.Equal(t, 2, h.held(key))

	assert.Nil(t, h.release(key))
	finish := h.release(key)
	require.NotNil(t, finish)
	assert.Zero(t, h.held(key))
	finish()

	h.drop(key)
	assert.Zero(t, h.held(key))
}

func TestKeyHolds_AcquireWaitsForRemoval(t *testing.T) {
	h := newKeyHolds()
	ctx := context.Background()
	key := holdKey("images", "o/avatar/abc.png")

	require.NoError(t, h.acquire(ctx, key))
	finish := h.release(key)
	require.NotNil(t, finish)

	acquired := make(chan error, 1)
	go func() { acquired <- h.acquire(ctx, key) }()

	select {
	case <-acquired:
		t.Fatal("acquire returned while the object was being removed")
	case <-time.After(20 * time.Millisecond):
	}

	finish()
	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("acquire did not resume after removal")
	}
	assert.Equal(t, 1, h.held(key))

	cctx, cancel := context.WithCancel(ctx)
	finish = h.release(key)
	require.NotNil(t, finish)
	defer finish()
	cancel()
	assert.ErrorIs(t, h.acquire(cctx, key), context.Canceled)
}
