package guard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"registry/internal/config"
	"registry/internal/middleware"
	"registry/internal/models"
	"registry/internal/observability"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisRetryMin = 10 * time.Millisecond
	redisRetryMax = 250 * time.Millisecond
)

// releaseScript deletes the lock only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// extendScript renews the lease only while it still carries our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// RedisGuard is a single-instance Redis lock shared by every replica. The
// lease expires after ttl so a crashed holder cannot wedge its scope; a live
// holder renews it every ttl/3 until release.
type RedisGuard struct {
	rdb     *redis.Client
	timeout time.Duration
	ttl     time.Duration
}

// NewRedisGuard creates a RedisGuard.
func NewRedisGuard(rdb *redis.Client, timeout, ttl time.Duration) *RedisGuard {
	return &RedisGuard{rdb: rdb, timeout: timeout, ttl: ttl}
}

func (g *RedisGuard) Backend() string { return config.GuardBackendRedis }

func (g *RedisGuard) Acquire(ctx context.Context, family models.Family, ownerID uint) (Release, error) {
	key := scopeKey(family, ownerID)
	token := uuid.NewString()

	ctx, cancel := withAcquireTimeout(ctx, g.timeout)
	defer cancel()

	wait := redisRetryMin
	for {
		ok, err := g.rdb.SetNX(ctx, key, token, g.ttl).Result()
		switch {
		case err == nil && ok:
			return g.releaser(key, token), nil
		case err != nil && ctx.Err() == nil:
			observability.RedisErrors.WithLabelValues("guard_setnx").Inc()
			middleware.Logger.WarnContext(ctx, "guard lock attempt failed",
				slog.String("key", key), slog.String("error", err.Error()))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ErrAcquireTimeout
		case <-timer.C:
		}
		wait *= 2
		if wait > redisRetryMax {
			wait = redisRetryMax
		}
	}
}

// keepAlive renews the lease until stop is closed or the token is lost.
func (g *RedisGuard) keepAlive(key, token string, stop <-chan struct{}) {
	interval := max(g.ttl/3, time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		held, err := extendScript.Run(ctx, g.rdb, []string{key}, token, g.ttl.Milliseconds()).Int()
		cancel()
		switch {
		case err != nil:
			observability.RedisErrors.WithLabelValues("guard_extend").Inc()
			middleware.Logger.Warn("guard lease renewal failed",
				slog.String("key", key), slog.String("error", err.Error()))
		case held == 0:
			select {
			case <-stop:
			default:
				middleware.Logger.Error("guard lease lost before release", slog.String("key", key))
			}
			return
		}
	}
}

func (g *RedisGuard) releaser(key, token string) Release {
	var once sync.Once
	stop := make(chan struct{})
	go g.keepAlive(key, token, stop)
	return func() {
		once.Do(func() {
			close(stop)
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, g.rdb, []string{key}, token).Err(); err != nil {
				observability.RedisErrors.WithLabelValues("guard_release").Inc()
				middleware.Logger.Error("guard release failed; lock will expire",
					slog.String("key", key), slog.String("error", err.Error()))
			}
		})
	}
}
