package fetch

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisStorage is a Storage backed by Redis, letting multiple client
// instances share one response cache.
type redisStorage struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStorage returns a Redis-backed Storage. Keys are namespaced
// with the given prefix; an empty prefix defaults to "fetch:cache:".
//
// Usage:
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	client := fetch.New(fetch.WithCache(fetch.NewRedisStorage(rdb, "")))
func NewRedisStorage(client redis.UniversalClient, prefix string) Storage {
	if prefix == "" {
		prefix = "fetch:cache:"
	}
	return &redisStorage{client: client, prefix: prefix}
}

func (s *redisStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *redisStorage) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+key, value, ttl).Err()
}

func (s *redisStorage) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}
