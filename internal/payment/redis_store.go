package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "x402:payment:"

// RedisStore shares replay state between instances. Entries expire with the
// replay window, so nothing outlives it.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore wraps rdb. The store owns the client and closes it on Close.
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

// DialRedis connects and pings. The client is closed if the ping fails.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}
	return rdb, nil
}

func (s *RedisStore) key(k string) string { return s.prefix + k }

func (s *RedisStore) CheckAndMark(ctx context.Context, key string, rec Record, window time.Duration) (bool, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("redis: encode payment record: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, s.key(key), payload, window).Result()
	if err != nil {
		return false, fmt.Errorf("redis: mark %s: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis: release %s: %w", key, err)
	}
	return nil
}

// Len counts live references under the prefix with SCAN.
func (s *RedisStore) Len(ctx context.Context) (int, error) {
	var (
		cursor uint64
		n      int
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, s.prefix+"*", 500).Result()
		if err != nil {
			return 0, fmt.Errorf("redis: scan: %w", err)
		}
		n += len(keys)
		cursor = next
		if cursor == 0 {
			return n, nil
		}
	}
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

var _ ReplayStore = (*RedisStore)(nil)
