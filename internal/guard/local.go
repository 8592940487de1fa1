package guard

import (
	"context"
	"sync"
	"time"

	"registry/internal/config"
	"registry/internal/models"
)

// LocalGuard is an in-process keyed mutex. It only serializes callers that
// share this process.
type LocalGuard struct {
	timeout time.Duration

	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	sem  chan struct{}
	refs int
}

// NewLocalGuard creates a LocalGuard whose acquisitions give up after timeout.
func NewLocalGuard(timeout time.Duration) *LocalGuard {
	return &LocalGuard{timeout: timeout, locks: make(map[string]*localLock)}
}

func (g *LocalGuard) Backend() string { return config.GuardBackendLocal }

func (g *LocalGuard) ref(key string) *localLock {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[key]
	if !ok {
		l = &localLock{sem: make(chan struct{}, 1)}
		g.locks[key] = l
	}
	l.refs++
	return l
}

func (g *LocalGuard) unref(key string, l *localLock) {
	g.mu.Lock()
	defer g.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(g.locks, key)
	}
}

func (g *LocalGuard) Acquire(ctx context.Context, family models.Family, ownerID uint) (Release, error) {
	key := scopeKey(family, ownerID)
	l := g.ref(key)

	ctx, cancel := withAcquireTimeout(ctx, g.timeout)
	defer cancel()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		g.unref(key, l)
		return nil, ErrAcquireTimeout
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			g.unref(key, l)
		})
	}, nil
}

// held reports how many scopes currently have holders or waiters.
func (g *LocalGuard) held() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.locks)
}
