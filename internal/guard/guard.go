// Package guard serializes submit and cancel commands per (family, owner).
package guard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"registry/internal/config"
	"registry/internal/models"
	"registry/internal/observability"

	"github.com/redis/go-redis/v9"
)

// ErrAcquireTimeout is returned when the guard could not be taken before the
// acquire deadline or the caller's context ended.
var ErrAcquireTimeout = errors.New("guard: acquire timed out")

// Release gives the guard back. It is safe to call more than once.
type Release func()

// Guard grants exclusive access to one (family, owner) scope at a time.
type Guard interface {
	Acquire(ctx context.Context, family models.Family, ownerID uint) (Release, error)
	Backend() string
}

// New builds the guard selected by cfg.GuardBackend, wrapped with metrics
// and tracing. sqlDB is required for the postgres backend and rdb for redis.
func New(cfg *config.Config, sqlDB *sql.DB, rdb *redis.Client) (Guard, error) {
	var g Guard
	switch cfg.GuardBackend {
	case config.GuardBackendLocal, "":
		g = NewLocalGuard(cfg.GuardAcquireTimeout)
	case config.GuardBackendRedis:
		if rdb == nil {
			return nil, errors.New("GUARD_BACKEND=redis requires a reachable REDIS_URL")
		}
		g = NewRedisGuard(rdb, cfg.GuardAcquireTimeout, cfg.GuardLockTTL)
	case config.GuardBackendPostgres:
		if sqlDB == nil {
			return nil, errors.New("GUARD_BACKEND=postgres requires a postgres connection")
		}
		g = NewPostgresGuard(sqlDB, cfg.GuardAcquireTimeout)
	default:
		return nil, fmt.Errorf("unsupported GUARD_BACKEND %q", cfg.GuardBackend)
	}
	return Instrument(g), nil
}

// scopeKey names the lock for a family and owner.
func scopeKey(family models.Family, ownerID uint) string {
	return fmt.Sprintf("registry:guard:%s:%d", family, ownerID)
}

// withAcquireTimeout bounds ctx by timeout when timeout is positive.
func withAcquireTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

type instrumented struct {
	inner Guard
}

// Instrument records wait time and a span around every acquisition of g.
func Instrument(g Guard) Guard {
	if _, ok := g.(*instrumented); ok {
		return g
	}
	return &instrumented{inner: g}
}

func (i *instrumented) Backend() string { return i.inner.Backend() }

func (i *instrumented) Acquire(ctx context.Context, family models.Family, ownerID uint) (Release, error) {
	start := time.Now()
	spanCtx, span := observability.StartGuardSpan(ctx, i.inner.Backend(), string(family))
	release, err := i.inner.Acquire(spanCtx, family, ownerID)
	observability.ObserveGuardWait(string(family), i.inner.Backend(), start)
	observability.EndSpan(span, err)
	return release, err
}
