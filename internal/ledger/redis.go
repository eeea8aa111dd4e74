package ledger

import (
    "context"
    "fmt"

    redis "github.com/redis/go-redis/v9"
)

// RedisLedger keeps the ledger in a Redis set so several machines that
// share a cache directory also share what was already assembled.
type RedisLedger struct {
    client *redis.Client
    key    string
}

func NewRedisLedger(redisURL, key string) (*RedisLedger, error) {
    opt, err := redis.ParseURL(redisURL)
    if err != nil { return nil, fmt.Errorf("parse redis url: %w", err) }
    c := redis.NewClient(opt)
    if err := c.Ping(context.Background()).Err(); err != nil {
        _ = c.Close()
        return nil, fmt.Errorf("ping redis: %w", err)
    }
    if key == "" { key = "pagegrab:ledger" }
    return &RedisLedger{client: c, key: key}, nil
}

func (s *RedisLedger) Close() error { return s.client.Close() }

func (s *RedisLedger) Contains(ctx context.Context, name string) (bool, error) {
    return s.client.SIsMember(ctx, s.key, name).Result()
}

// Append returns once Redis acknowledged the SADD.
func (s *RedisLedger) Append(ctx context.Context, name string) error {
    if name == "" { return fmt.Errorf("ledger: invalid name %q", name) }
    return s.client.SAdd(ctx, s.key, name).Err()
}

// Names returns every recorded name, unordered.
func (s *RedisLedger) Names(ctx context.Context) ([]string, error) {
    return s.client.SMembers(ctx, s.key).Result()
}

func (s *RedisLedger) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }
