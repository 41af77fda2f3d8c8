package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a single-instance Redis lock (SET NX PX). It serializes
// writers running on different hosts that share one document volume.
type RedisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisLock connects to redisURL and checks the connection.
func NewRedisLock(redisURL, key string, ttl time.Duration) (*RedisLock, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisLockWithClient(client, key, ttl), nil
}

// NewRedisLockWithClient creates a lock from an existing client.
func NewRedisLockWithClient(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLock{client: client, key: key, ttl: ttl}
}

// Close closes the client.
func (l *RedisLock) Close() error { return l.client.Close() }

type redisUnlocker struct {
	lock  *RedisLock
	token string
}

// Lock sets the key to a fresh token if it is absent. The key expires after
// the lock's TTL so a crashed holder cannot block writers forever.
func (l *RedisLock) Lock(ctx context.Context, owner string) (Unlocker, error) {
	token := owner + "/" + uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("redis lock %s: %w", l.key, err)
		}
		if ok {
			return &redisUnlocker{lock: l, token: token}, nil
		}
		select {
		case <-ctx.Done():
			holder, _ := l.client.Get(context.Background(), l.key).Result()
			if holder == "" {
				holder = "unknown"
			}
			return nil, fmt.Errorf("%w (held by %s)", ErrLocked, holder)
		case <-time.After(lockPoll):
		}
	}
}

func (u *redisUnlocker) Unlock(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, u.lock.client, []string{u.lock.key}, u.token).Int()
	if err != nil {
		return fmt.Errorf("redis unlock %s: %w", u.lock.key, err)
	}
	if n == 0 {
		return fmt.Errorf("redis unlock %s: lock expired before release", u.lock.key)
	}
	return nil
}
