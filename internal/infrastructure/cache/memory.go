package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"asset-pipeline/internal/domain/access"
)

// Memory is a per-instance LRU of signed URLs. Entries are evicted after ttl and are
// additionally checked against their own ExpiresAt on read.
type Memory struct {
	lru *expirable.LRU[string, access.SignedURL]
	now func() time.Time
}

func NewMemory(size int, ttl time.Duration) *Memory {
	return &Memory{
		lru: expirable.NewLRU[string, access.SignedURL](size, nil, ttl),
		now: time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) (access.SignedURL, bool) {
	u, ok := m.lru.Get(key)
	if !ok {
		return access.SignedURL{}, false
	}
	if !u.ValidAt(m.now()) {
		m.lru.Remove(key)
		return access.SignedURL{}, false
	}
	return u, true
}

func (m *Memory) Set(_ context.Context, key string, u access.SignedURL) {
	if !u.ValidAt(m.now()) {
		return
	}
	m.lru.Add(key, u)
}

func (m *Memory) Delete(_ context.Context, key string) {
	m.lru.Remove(key)
}

func (m *Memory) Len() int { return m.lru.Len() }
