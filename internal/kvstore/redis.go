package kvstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// compareAndDeleteScript atomically deletes KEYS[1] iff its value equals
// ARGV[1]. A read-then-delete sequence would race against a concurrent
// acquirer that re-locked the same key after our TTL expired; EVAL runs the
// compare and the delete as a single round trip on the Redis server.
const compareAndDeleteScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// RedisStore implements Store over a github.com/redis/go-redis/v9 client.
type RedisStore struct {
	client *redis.Client
	script *redis.Script
}

// NewRedisStore dials url (a redis:// URL) and verifies reachability before
// returning, matching the connect-then-ping pattern used across the pack's
// Redis adapters.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("kvstore: parse redis url: %w", err)
	}
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 2 * time.Second
	opt.WriteTimeout = 2 * time.Second

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("kvstore: ping redis: %w", err)
	}

	return &RedisStore{
		client: client,
		script: redis.NewScript(compareAndDeleteScript),
	}, nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Get(ctx context.Context, k string) ([]byte, error) {
	b, err := s.client.Get(ctx, k).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kvstore: get %s: %w", k, err)
	}
	return b, nil
}

func (s *RedisStore) SetWithTTL(ctx context.Context, k string, v []byte, ttlSeconds int64) error {
	ttl := time.Duration(ttlSeconds) * time.Second
	if err := s.client.Set(ctx, k, v, ttl).Err(); err != nil {
		return fmt.Errorf("kvstore: setex %s: %w", k, err)
	}
	return nil
}

func (s *RedisStore) Incr(ctx context.Context, k string) (int64, error) {
	n, err := s.client.Incr(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("kvstore: incr %s: %w", k, err)
	}
	return n, nil
}

func (s *RedisStore) IncrBy(ctx context.Context, k string, delta int64) (int64, error) {
	n, err := s.client.IncrBy(ctx, k, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("kvstore: incrby %s: %w", k, err)
	}
	return n, nil
}

func (s *RedisStore) GetCounter(ctx context.Context, k string) (int64, error) {
	n, err := s.client.Get(ctx, k).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("kvstore: get counter %s: %w", k, err)
	}
	return n, nil
}

func (s *RedisStore) SAdd(ctx context.Context, set string, member string) error {
	if err := s.client.SAdd(ctx, set, member).Err(); err != nil {
		return fmt.Errorf("kvstore: sadd %s: %w", set, err)
	}
	return nil
}

func (s *RedisStore) SMembers(ctx context.Context, set string) ([]string, error) {
	members, err := s.client.SMembers(ctx, set).Result()
	if err != nil {
		return nil, fmt.Errorf("kvstore: smembers %s: %w", set, err)
	}
	if members == nil {
		members = []string{}
	}
	return members, nil
}

func (s *RedisStore) SetIfAbsentWithTTL(ctx context.Context, k string, v string, ttlMillis int64) (bool, error) {
	ok, err := s.client.SetNX(ctx, k, v, time.Duration(ttlMillis)*time.Millisecond).Result()
	if err != nil {
		return false, fmt.Errorf("kvstore: setnx %s: %w", k, err)
	}
	return ok, nil
}

func (s *RedisStore) EvalCompareAndDelete(ctx context.Context, k string, expected string) (bool, error) {
	res, err := s.script.Run(ctx, s.client, []string{k}, expected).Result()
	if err != nil {
		return false, fmt.Errorf("kvstore: compare-and-delete %s: %w", k, err)
	}
	deleted, _ := res.(int64)
	return deleted == 1, nil
}

func (s *RedisStore) Ping(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.client.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Msg("kvstore: ping failed")
		return false
	}
	return true
}
