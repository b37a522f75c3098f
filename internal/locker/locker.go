package locker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNotAcquired is returned when another worker already holds the lock.
var ErrNotAcquired = errors.New("lock not acquired")

const redisKeyPrefix = "paycore:lock"

// releaseScript deletes the key only when the caller still owns it.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// Locker serializes workers that must not operate concurrently,
// such as batch release across multiple instances.
type Locker interface {
	Acquire(ctx context.Context, name string) (release func(), err error)
}

type RedisLocker struct {
	redis redis.Cmdable
	ttl   time.Duration
}

func NewRedisLocker(rdb redis.Cmdable, ttl time.Duration) *RedisLocker {
	return &RedisLocker{redis: rdb, ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context, name string) (func(), error) {
	key := redisKey(name)
	token := uuid.NewString()
	ok, err := l.redis.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	release := func() {
		if err := l.redis.Eval(context.Background(), releaseScript, []string{key}, token).Err(); err != nil {
			zap.L().Warn("lock release failed", zap.String("lock", name), zap.Error(err))
		}
	}
	return release, nil
}

func redisKey(name string) string {
	return fmt.Sprintf("%s:%s", redisKeyPrefix, name)
}

// LocalLocker is an in-process Locker for tests and single-instance runs.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]bool)}
}

func (l *LocalLocker) Acquire(ctx context.Context, name string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return nil, ErrNotAcquired
	}
	l.held[name] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, name)
	}, nil
}
