package services

import (
	"context"
	"sync"
)

// keyHolds counts the runs that may still commit a storage key. Identical content maps
// to one key, so a run that gives up must not remove an object another run is about to
// record. The last holder to leave gets an exclusive window for the removal: acquire
// blocks until it is finished.
type keyHolds struct {
	mu       sync.Mutex
	holders  map[string]int
	removing map[string]chan struct{}
}

func newKeyHolds() *keyHolds {
	return &keyHolds{
		holders:  make(map[string]int),
		removing: make(map[string]chan struct{}),
	}
}

func holdKey(bucket, key string) string {
	return bucket + "/" + key
}

func (h *keyHolds) acquire(ctx context.Context, key string) error {
	for {
		h.mu.Lock()
		done, busy := h.removing[key]
		if !busy {
			h.holders[key]++
			h.mu.Unlock()
			return nil
		}
		h.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// release drops one hold. When it was the last one, finish is non-nil and the caller
// owns the key until it calls finish.
func (h *keyHolds) release(key string) (finish func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.holders[key]--
	if h.holders[key] > 0 {
		return nil
	}
	delete(h.holders, key)

	done := make(chan struct{})
	h.removing[key] = done

	return func() {
		h.mu.Lock()
		delete(h.removing, key)
		h.mu.Unlock()
		close(done)
	}
}

// drop releases a hold whose object is kept.
func (h *keyHolds) drop(key string) {
	if finish := h.release(key); finish != nil {
		finish()
	}
}
