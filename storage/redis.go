package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vultisig/vultisig-mediator/contexthelper"
)

const (
	maxUpdateRetries = 16
	clearBatchSize   = 100
)

var _ KeyedStore[string] = (*RedisStore[string])(nil)

// RedisStore keeps JSON encoded values under "<namespace>:<key>".
type RedisStore[V any] struct {
	client     *redis.Client
	namespace  string
	expiration time.Duration
}

// NewRedisStore returns a store on an existing client. Values expire after expiration, 0 means never.
func NewRedisStore[V any](client *redis.Client, namespace string, expiration time.Duration) *RedisStore[V] {
	return &RedisStore[V]{
		client:     client,
		namespace:  namespace,
		expiration: expiration,
	}
}

func (s *RedisStore[V]) key(key string) string {
	return s.namespace + ":" + key
}

func (s *RedisStore[V]) Get(ctx context.Context, key string) (V, error) {
	var value V
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return value, err
	}
	buf, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return value, ErrNotFound
	}
	if err != nil {
		return value, fmt.Errorf("fail to get value %s, err: %w", key, err)
	}
	if err := json.Unmarshal(buf, &value); err != nil {
		return value, fmt.Errorf("fail to unmarshal value %s, err: %w", key, err)
	}
	return value, nil
}

func (s *RedisStore[V]) Set(ctx context.Context, key string, value V) error {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return err
	}
	buf, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("fail to marshal value %s, err: %w", key, err)
	}
	if err := s.client.Set(ctx, s.key(key), buf, s.expiration).Err(); err != nil {
		return fmt.Errorf("fail to set value %s, err: %w", key, err)
	}
	return nil
}

// Update runs fn inside a WATCH/MULTI transaction and retries when another client changed the
// key in between.
func (s *RedisStore[V]) Update(ctx context.Context, key string, fn func(current V, exists bool) (V, error)) error {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return err
	}
	k := s.key(key)
	txf := func(tx *redis.Tx) error {
		var current V
		exists := true
		buf, err := tx.Get(ctx, k).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			exists = false
		case err != nil:
			return fmt.Errorf("fail to get value %s, err: %w", key, err)
		default:
			if err := json.Unmarshal(buf, &current); err != nil {
				return fmt.Errorf("fail to unmarshal value %s, err: %w", key, err)
			}
		}
		next, err := fn(current, exists)
		if err != nil {
			return err
		}
		out, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("fail to marshal value %s, err: %w", key, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, out, s.expiration)
			return nil
		})
		return err
	}
	for i := 0; i < maxUpdateRetries; i++ {
		err := s.client.Watch(ctx, txf, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("fail to update value %s, err: %w", key, redis.TxFailedErr)
}

func (s *RedisStore[V]) Delete(ctx context.Context, key string) error {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("fail to delete value %s, err: %w", key, err)
	}
	return nil
}

func (s *RedisStore[V]) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.namespace+":*", clearBatchSize).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("fail to scan namespace %s, err: %w", s.namespace, err)
	}
	for start := 0; start < len(keys); start += clearBatchSize {
		end := min(start+clearBatchSize, len(keys))
		if err := s.client.Del(ctx, keys[start:end]...).Err(); err != nil {
			return fmt.Errorf("fail to clear namespace %s, err: %w", s.namespace, err)
		}
	}
	return nil
}
