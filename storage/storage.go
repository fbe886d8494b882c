package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vultisig/vultisig-mediator/config"
)

var ErrNotFound = errors.New("not found")

// KeyedStore is a typed key value store. Every implementation must be safe for concurrent use,
// and Update must be atomic with respect to every other operation on the same key.
type KeyedStore[V any] interface {
	Get(ctx context.Context, key string) (V, error)
	Set(ctx context.Context, key string, value V) error
	// Update replaces the value under key with the result of fn. fn receives the current value
	// and whether it exists; an error from fn aborts the update and is returned as is.
	Update(ctx context.Context, key string, fn func(current V, exists bool) (V, error)) error
	Delete(ctx context.Context, key string) error
	// Clear removes every key of this store, other stores on the same backend are untouched.
	Clear(ctx context.Context) error
}

// Key joins parts into a single store key. Parts are escaped so that ids containing the
// separator cannot collide.
func Key(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return strings.Join(escaped, "/")
}

// Backend decides where the typed stores keep their entries.
type Backend struct {
	client     *redis.Client
	prefix     string
	expiration time.Duration
}

// NewMemoryBackend returns a backend whose stores live in process memory.
func NewMemoryBackend(expiration time.Duration) *Backend {
	return &Backend{expiration: expiration}
}

// NewRedisBackend returns a backend that use redis. The server must answer a ping.
func NewRedisBackend(cfg config.RedisServer, prefix string, expiration time.Duration) (*Backend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.User,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("fail to ping redis %s, err: %w", cfg.Addr, err)
	}
	return &Backend{
		client:     client,
		prefix:     prefix,
		expiration: expiration,
	}, nil
}

// NewBackend builds the backend selected by cfg.
func NewBackend(cfg config.Storage) (*Backend, error) {
	switch cfg.Type {
	case config.StorageRedis:
		return NewRedisBackend(cfg.RedisServer, cfg.Prefix, cfg.Expiration)
	case config.StorageMemory, "":
		return NewMemoryBackend(cfg.Expiration), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// Open returns the store for namespace on backend b. namespace only prefixes redis keys, every
// memory store is a separate cache already.
func Open[V any](b *Backend, namespace string) KeyedStore[V] {
	if b.client != nil {
		return NewRedisStore[V](b.client, b.prefix+":"+namespace, b.expiration)
	}
	return NewMemoryStore[V](b.expiration)
}

func (b *Backend) Close() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}
