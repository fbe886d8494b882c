package storage

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/vultisig/vultisig-mediator/contexthelper"
)

var _ KeyedStore[string] = (*MemoryStore[string])(nil)

// MemoryStore keeps its entries in a go-cache instance. The mutex spans every operation so a
// read-modify-write never interleaves with another operation of the same store.
type MemoryStore[V any] struct {
	mu sync.Mutex
	c  *cache.Cache
}

// NewMemoryStore returns an empty store. Entries expire after expiration, 0 means never.
func NewMemoryStore[V any](expiration time.Duration) *MemoryStore[V] {
	if expiration <= 0 {
		return &MemoryStore[V]{c: cache.New(cache.NoExpiration, 0)}
	}
	return &MemoryStore[V]{c: cache.New(expiration, expiration)}
}

func (s *MemoryStore[V]) Get(ctx context.Context, key string) (V, error) {
	var zero V
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return zero, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(key)
}

func (s *MemoryStore[V]) get(key string) (V, error) {
	var zero V
	item, ok := s.c.Get(key)
	if !ok {
		return zero, ErrNotFound
	}
	return item.(V), nil
}

func (s *MemoryStore[V]) Set(ctx context.Context, key string, value V) error {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.SetDefault(key, value)
	return nil
}

func (s *MemoryStore[V]) Update(ctx context.Context, key string, fn func(current V, exists bool) (V, error)) error {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.get(key)
	next, err := fn(current, err == nil)
	if err != nil {
		return err
	}
	s.c.SetDefault(key, next)
	return nil
}

func (s *MemoryStore[V]) Delete(ctx context.Context, key string) error {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.Delete(key)
	return nil
}

func (s *MemoryStore[V]) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.Flush()
	return nil
}
