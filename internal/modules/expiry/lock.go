package expiry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker is a cross-process mutual exclusion used to keep a single sweep
// running across instances.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// extendScript resets the TTL only while the key still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// RedisLock is a SET NX PX lock. A held lock is extended every third of its
// TTL until released, so a long sweep keeps it while a crashed holder loses
// it after one TTL.
type RedisLock struct {
	redis *redis.Client
}

func NewRedisLock(redis *redis.Client) *RedisLock {
	return &RedisLock{redis: redis}
}

func (l *RedisLock) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.redis.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return func() {}, false, err
	}

	bg := context.WithoutCancel(ctx)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.keepAlive(bg, key, token, ttl, stop)
	}()

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			<-done
			_ = releaseScript.Run(bg, l.redis, []string{key}, token).Err()
		})
	}
	return release, true, nil
}

func (l *RedisLock) keepAlive(ctx context.Context, key, token string, ttl time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			n, err := extendScript.Run(ctx, l.redis, []string{key}, token, ttl.Milliseconds()).Int()
			if err == nil && n == 0 {
				// Lost the key; nothing left to extend.
				return
			}
		}
	}
}
