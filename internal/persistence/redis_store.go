package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-sharing/internal/marketplace"
)

// KV is the subset of redis operations the snapshot store needs.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Del(ctx context.Context, keys ...string) error
}

// ErrMissing is returned by KV.Get for an absent key.
var ErrMissing = errors.New("key not found")

// RedisStore stores the four documents as JSON strings under "<prefix>:<doc>".
type RedisStore struct {
	kv     KV
	prefix string
}

func NewRedisStore(kv KV, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ride-sharing"
	}
	return &RedisStore{kv: kv, prefix: prefix}
}

func (r *RedisStore) key(doc string) string { return r.prefix + ":" + doc }

func (r *RedisStore) Save(ctx context.Context, snap marketplace.Snapshot) error {
	docs, err := encode(snap)
	if err != nil {
		return err
	}
	for _, name := range documents {
		if err := r.kv.Set(ctx, r.key(name), docs[name]); err != nil {
			return fmt.Errorf("redis set %s: %w", r.key(name), err)
		}
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context) (marketplace.Snapshot, error) {
	docs := make(map[string][]byte, len(documents))
	for _, name := range documents {
		b, err := r.kv.Get(ctx, r.key(name))
		if errors.Is(err, ErrMissing) {
			continue
		}
		if err != nil {
			return marketplace.Snapshot{}, fmt.Errorf("redis get %s: %w", r.key(name), err)
		}
		docs[name] = b
	}
	return decode(docs)
}

func (r *RedisStore) Clear(ctx context.Context) error {
	keys := make([]string, 0, len(documents))
	for _, name := range documents {
		keys = append(keys, r.key(name))
	}
	return r.kv.Del(ctx, keys...)
}

// RedisClient adapts *redis.Client to KV.
type RedisClient struct{ C *redis.Client }

func NewRedisClient(addr, password string) *RedisClient {
	return &RedisClient{C: redis.NewClient(&redis.Options{Addr: addr, Password: password})}
}

func (c *RedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.C.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMissing
	}
	return b, err
}

func (c *RedisClient) Set(ctx context.Context, key string, value []byte) error {
	return c.C.Set(ctx, key, value, 0).Err()
}

func (c *RedisClient) Del(ctx context.Context, keys ...string) error {
	return c.C.Del(ctx, keys...).Err()
}

func (c *RedisClient) Ping(ctx context.Context) error { return c.C.Ping(ctx).Err() }

func (c *RedisClient) Close() error { return c.C.Close() }
