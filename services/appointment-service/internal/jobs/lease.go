package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Release gives a lease back before its TTL runs out.
type Release func(context.Context) error

// Lease elects a single runner for a job across replicas.
type Lease interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Release, bool, error)
}

// NoLease always grants the lease. Used when only one replica runs jobs.
type NoLease struct{}

func (NoLease) Acquire(context.Context, string, time.Duration) (Release, bool, error) {
	return func(context.Context) error { return nil }, true, nil
}

// LeaseClient is the subset of a redis client used by RedisLease.
type LeaseClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisLease takes the lease with SET NX PX and a random token; release only
// deletes the key while it still holds that token.
type RedisLease struct {
	rdb    LeaseClient
	prefix string
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

func NewRedisLease(rdb LeaseClient, prefix string) *RedisLease {
	if prefix == "" {
		prefix = "jobs:lease"
	}
	return &RedisLease{rdb: rdb, prefix: prefix}
}

func (l *RedisLease) Acquire(ctx context.Context, key string, ttl time.Duration) (Release, bool, error) {
	full := l.prefix + ":" + key
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.rdb, []string{full}, token).Err()
	}
	return release, true, nil
}
