package lock

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// RedisLocker implements Locker with SET NX + expiry. The expiry guards
// against a crashed holder; the owner token guards against releasing a lock
// that expired and was re-acquired by someone else.
type RedisLocker struct {
	client        *redis.Client
	prefix        string
	expiration    time.Duration
	retryInterval time.Duration
}

func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{
		client:        client,
		prefix:        prefix,
		expiration:    30 * time.Second,
		retryInterval: 100 * time.Millisecond,
	}
}

// unlockScript checks ownership before delete so an expired holder cannot
// remove a lock that has since been taken by another caller.
const unlockScript = `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	fullKey := l.prefix + key
	owner := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, fullKey, owner, l.expiration).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				// Release uses a fresh context: the caller's ctx may already
				// be done by the time the deferred release runs.
				releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				l.client.Eval(releaseCtx, unlockScript, []string{fullKey}, owner)
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryInterval):
		}
	}
}
