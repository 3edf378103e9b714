package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces rate-limit keys in a shared Redis instance.
const keyPrefix = "streamguard:ratelimit:"

// RedisStore is a sliding-window store backed by a Redis sorted set per user.
// Member scores are event timestamps in nanoseconds; expired members are
// trimmed on every check.
type RedisStore struct {
	cfg    Config
	client *redis.Client
}

// NewRedisStore creates a Redis-backed store from a redis:// URL.
func NewRedisStore(url string, cfg Config) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &RedisStore{cfg: cfg, client: redis.NewClient(opts)}, nil
}

// Ping verifies connectivity; called once at startup.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// CheckAndRecord implements Store using ZREMRANGEBYSCORE + ZCARD + ZADD in a
// single pipeline round trip.
func (s *RedisStore) CheckAndRecord(ctx context.Context, userID string, now time.Time) (Result, error) {
	key := keyPrefix + userID
	cutoff := now.Add(-s.cfg.Window).UnixNano()

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff, 10))
	card := pipe.ZCard(ctx, key)
	oldest := pipe.ZRangeWithScores(ctx, key, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limit check for %s: %w", userID, err)
	}

	if card.Val() >= int64(s.cfg.MaxEvents) {
		retryAfter := time.Duration(0)
		if members := oldest.Val(); len(members) > 0 {
			oldestAt := time.Unix(0, int64(members[0].Score))
			retryAfter = oldestAt.Add(s.cfg.Window).Sub(now)
			if retryAfter < 0 {
				retryAfter = 0
			}
		}
		return Result{Allowed: false, RetryAfter: retryAfter}, nil
	}

	pipe = s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, s.cfg.Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limit record for %s: %w", userID, err)
	}
	return Result{Allowed: true}, nil
}

// ActiveUsers implements Store. SCAN-based; intended for the stats endpoint,
// not the hot path.
func (s *RedisStore) ActiveUsers(ctx context.Context) (int, error) {
	var cursor uint64
	total := 0
	for {
		keys, next, err := s.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return 0, fmt.Errorf("rate limit scan: %w", err)
		}
		total += len(keys)
		cursor = next
		if cursor == 0 {
			return total, nil
		}
	}
}
