package httpapi

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter decides whether the client identified by key may proceed. When it
// may not, retryAfter says how long to wait.
type Limiter interface {
	Allow(ctx context.Context, key string) (ok bool, retryAfter time.Duration)
	Close() error
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// MemoryLimiter is a per-key token bucket kept in process memory. Idle keys
// are swept once a minute until Close.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	ttl     time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryLimiter allows burst requests at once and perSecond afterwards.
// A non-positive burst or rate disables limiting.
func NewMemoryLimiter(burst, perSecond int) *MemoryLimiter {
	l := &MemoryLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		ttl:     5 * time.Minute,
		stop:    make(chan struct{}),
	}
	go l.sweep(time.Minute)
	return l
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration) {
	if l.burst <= 0 || l.limit <= 0 {
		return true, 0
	}
	now := time.Now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now
	l.mu.Unlock()

	r := b.lim.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

func (l *MemoryLimiter) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case now := <-ticker.C:
			l.mu.Lock()
			for k, b := range l.buckets {
				if now.Sub(b.seen) > l.ttl {
					delete(l.buckets, k)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Close stops the sweeper.
func (l *MemoryLimiter) Close() error {
	l.stopOnce.Do(func() { close(l.stop) })
	return nil
}

// RedisLimiter is a fixed-window counter shared by every API replica. Redis
// failures let the request through.
type RedisLimiter struct {
	client  *redis.Client
	logger  *slog.Logger
	prefix  string
	limit   int
	window  time.Duration
	timeout time.Duration
}

// NewRedisLimiter connects to Redis and allows limit requests per window for
// each key.
func NewRedisLimiter(addr, password string, db, limit int, window time.Duration, logger *slog.Logger) (*RedisLimiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return newRedisLimiter(client, limit, window, logger), nil
}

func newRedisLimiter(client *redis.Client, limit int, window time.Duration, logger *slog.Logger) *RedisLimiter {
	if window <= 0 {
		window = time.Second
	}
	return &RedisLimiter{
		client:  client,
		logger:  logger,
		prefix:  "starterkit:ratelimit:",
		limit:   limit,
		window:  window,
		timeout: 250 * time.Millisecond,
	}
}

func (rl *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration) {
	if rl.limit <= 0 {
		return true, 0
	}
	ctx, cancel := context.WithTimeout(ctx, rl.timeout)
	defer cancel()

	redisKey := rl.prefix + key
	counter, err := rl.client.Incr(ctx, redisKey).Result()
	if err != nil {
		rl.logRedisError("incr", err)
		return true, 0
	}
	if counter == 1 {
		if err := rl.client.Expire(ctx, redisKey, rl.window).Err(); err != nil {
			rl.logRedisError("expire", err)
		}
	}
	if int(counter) <= rl.limit {
		return true, 0
	}
	ttl, err := rl.client.TTL(ctx, redisKey).Result()
	if err != nil || ttl <= 0 {
		ttl = rl.window
	}
	return false, ttl
}

func (rl *RedisLimiter) Close() error {
	if rl.client == nil {
		return nil
	}
	return rl.client.Close()
}

func (rl *RedisLimiter) logRedisError(op string, err error) {
	if rl.logger == nil {
		return
	}
	rl.logger.Error("redis rate limiter error", "op", op, "error", err)
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
