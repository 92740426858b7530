package limiter

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of *redis.Client used by Redis.
type RedisClient interface {
	TTL(ctx context.Context, key string) *redis.DurationCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Redis is a limiter keeping fixed-window failure counters and block markers in Redis.
type Redis struct {
	rdb    RedisClient
	policy Policy
	prefix string
}

// NewRedis constructs a Redis-backed limiter.
func NewRedis(rdb RedisClient, p Policy) *Redis {
	return &Redis{rdb: rdb, policy: p.normalized(), prefix: "auth:limiter"}
}

func (l *Redis) keys(identifier string, ipHash []byte) (fails, block string) {
	suffix := identifier + ":" + hex.EncodeToString(ipHash)
	return fmt.Sprintf("%s:fail:%s", l.prefix, suffix), fmt.Sprintf("%s:block:%s", l.prefix, suffix)
}

// Allow reports whether login is currently allowed and a retry-after duration.
func (l *Redis) Allow(ctx context.Context, identifier string, ipHash []byte) (bool, time.Duration, error) {
	_, block := l.keys(identifier, ipHash)
	ttl, err := l.rdb.TTL(ctx, block).Result()
	if err != nil {
		return false, 0, err
	}
	// TTL is negative for a missing key or a key without expiry.
	if ttl > 0 {
		return false, ttl, nil
	}
	return true, 0, nil
}

// Success clears counters and any block for (identifier, ip).
func (l *Redis) Success(ctx context.Context, identifier string, ipHash []byte) error {
	fails, block := l.keys(identifier, ipHash)
	return l.rdb.Del(ctx, fails, block).Err()
}

// Failure records a failed attempt and blocks once the threshold is reached.
func (l *Redis) Failure(ctx context.Context, identifier string, ipHash []byte) (bool, time.Duration, error) {
	fails, block := l.keys(identifier, ipHash)
	n, err := l.rdb.Incr(ctx, fails).Result()
	if err != nil {
		return false, 0, err
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, fails, l.policy.Window).Err(); err != nil {
			return false, 0, err
		}
	}
	if n < int64(l.policy.MaxFails) {
		return false, 0, nil
	}
	if err := l.rdb.Set(ctx, block, 1, l.policy.BlockFor).Err(); err != nil {
		return false, 0, err
	}
	if err := l.rdb.Del(ctx, fails).Err(); err != nil {
		return false, 0, err
	}
	return true, l.policy.BlockFor, nil
}
