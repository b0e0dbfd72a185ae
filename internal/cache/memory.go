package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryBackend is a process-local backend.
type MemoryBackend struct {
	cache *gocache.Cache
}

func NewMemoryBackend(defaultTTL, cleanupInterval time.Duration) *MemoryBackend {
	return &MemoryBackend{cache: gocache.New(defaultTTL, cleanupInterval)}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, found := m.cache.Get(key)
	if !found {
		return nil, false, nil
	}
	data, ok := v.([]byte)
	return data, ok, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.cache.Set(key, value, ttl)
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		m.cache.Delete(k)
	}
	return nil
}

func (m *MemoryBackend) ItemCount() int {
	return m.cache.ItemCount()
}

func (m *MemoryBackend) Close() error {
	m.cache.Flush()
	return nil
}
