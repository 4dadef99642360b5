package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"callpilot/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Limiter bounds how many calls are driven at once. Acquire blocks until a
// slot is free or ctx is done.
type Limiter interface {
	Acquire(ctx context.Context) error
	Release()
}

// LocalLimiter is a process-local counting semaphore.
type LocalLimiter struct {
	slots chan struct{}
}

func NewLocalLimiter(n int) *LocalLimiter {
	if n <= 0 {
		n = DefaultMaxConcurrent
	}
	return &LocalLimiter{slots: make(chan struct{}, n)}
}

func (l *LocalLimiter) Acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *LocalLimiter) Release() {
	select {
	case <-l.slots:
	default:
	}
}

// RedisLimiter shares one concurrency cap across processes through a Redis
// counter. The key TTL reclaims slots leaked by a crashed process.
type RedisLimiter struct {
	rdb   *redis.Client
	key   string
	limit int
	ttl   time.Duration
	retry time.Duration
	log   *slog.Logger
}

const (
	DefaultRedisLimiterKey = "callpilot:calls:inflight"
	defaultRedisSlotTTL    = 30 * time.Minute
	defaultRedisRetry      = 250 * time.Millisecond
	redisReleaseTimeout    = 2 * time.Second
)

func NewRedisLimiter(rdb *redis.Client, key string, limit int, ttl time.Duration, log *slog.Logger) (*RedisLimiter, error) {
	if rdb == nil {
		return nil, errors.New("orchestrator: redis client is nil")
	}
	if limit <= 0 {
		return nil, errors.New("orchestrator: redis limiter limit must be > 0")
	}
	if key == "" {
		key = DefaultRedisLimiterKey
	}
	if ttl <= 0 {
		ttl = defaultRedisSlotTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisLimiter{rdb: rdb, key: key, limit: limit, ttl: ttl, retry: defaultRedisRetry, log: log}, nil
}

func (l *RedisLimiter) Acquire(ctx context.Context) error {
	for {
		ok, err := utils.AcquireSlot(ctx, l.rdb, l.key, l.limit, l.ttl)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		t := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (l *RedisLimiter) Release() {
	ctx, cancel := context.WithTimeout(context.Background(), redisReleaseTimeout)
	defer cancel()
	if err := utils.ReleaseSlot(ctx, l.rdb, l.key); err != nil {
		l.log.Warn("release concurrency slot failed", "key", l.key, "err", err)
	}
}
