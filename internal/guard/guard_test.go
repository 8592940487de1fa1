package guard

import (
	"context"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"registry/internal/config"
	"registry/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseMutualExclusion runs n goroutines through the same scope and fails
// if two of them are ever inside at once.
func exerciseMutualExclusion(t *testing.T, g Guard, n int) {
	t.Helper()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := g.Acquire(context.Background(), models.FamilyCopy, 7)
			if !assert.NoError(t, err) {
				return
			}
			cur := atomic.AddInt32(&inside, 1)
			for {
				prev := atomic.LoadInt32(&maxInside)
				if cur <= prev || atomic.CompareAndSwapInt32(&maxInside, prev, cur) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInside))
}

func TestLocalGuard_MutualExclusion(t *testing.T) {
	g := NewLocalGuard(5 * time.Second)
	exerciseMutualExclusion(t, g, 16)
	assert.Zero(t, g.held())
}

func TestLocalGuard_ScopesAreIndependent(t *testing.T) {
	g := NewLocalGuard(50 * time.Millisecond)
	ctx := context.Background()

	r1, err := g.Acquire(ctx, models.FamilyCopy, 1)
	require.NoError(t, err)
	defer r1()

	r2, err := g.Acquire(ctx, models.FamilyCopy, 2)
	require.NoError(t, err)
	r2()

	r3, err := g.Acquire(ctx, models.FamilyDeletion, 1)
	require.NoError(t, err)
	r3()
}

func TestLocalGuard_Timeout(t *testing.T) {
	g := NewLocalGuard(20 * time.Millisecond)
	ctx := context.Background()

	release, err := g.Acquire(ctx, models.FamilyDeletion, 3)
	require.NoError(t, err)

	_, err = g.Acquire(ctx, models.FamilyDeletion, 3)
	assert.ErrorIs(t, err, ErrAcquireTimeout)

	release()
	release()

	again, err := g.Acquire(ctx, models.FamilyDeletion, 3)
	require.NoError(t, err)
	again()
	assert.Zero(t, g.held())
}

func TestLocalGuard_HonoursCallerContext(t *testing.T) {
	g := NewLocalGuard(time.Minute)
	release, err := g.Acquire(context.Background(), models.FamilyCopy, 1)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Acquire(ctx, models.FamilyCopy, 1)
	assert.ErrorIs(t, err, ErrAcquireTimeout)
}

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisGuard_AcquireRelease(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	g := NewRedisGuard(rdb, 100*time.Millisecond, time.Minute)
	ctx := context.Background()

	release, err := g.Acquire(ctx, models.FamilyCopy, 9)
	require.NoError(t, err)
	assert.True(t, mr.Exists(scopeKey(models.FamilyCopy, 9)))

	_, err = g.Acquire(ctx, models.FamilyCopy, 9)
	assert.ErrorIs(t, err, ErrAcquireTimeout)

	release()
	assert.False(t, mr.Exists(scopeKey(models.FamilyCopy, 9)))

	release2, err := g.Acquire(ctx, models.FamilyCopy, 9)
	require.NoError(t, err)
	release2()
}

func TestRedisGuard_ReleaseKeepsForeignToken(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	g := NewRedisGuard(rdb, 100*time.Millisecond, time.Second)
	ctx := context.Background()
	key := scopeKey(models.FamilyDeletion, 4)

	release, err := g.Acquire(ctx, models.FamilyDeletion, 4)
	require.NoError(t, err)

	// The lock expires and someone else takes it before we release.
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set(key, "someone-else"))

	release()
	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisGuard_RenewsLeaseWhileHeld(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	ttl := 150 * time.Millisecond
	g := NewRedisGuard(rdb, 100*time.Millisecond, ttl)
	key := scopeKey(models.FamilyCopy, 5)

	release, err := g.Acquire(context.Background(), models.FamilyCopy, 5)
	require.NoError(t, err)

	// A slow command has used up almost all of the lease.
	mr.SetTTL(key, time.Millisecond)
	require.Eventually(t, func() bool { return mr.TTL(key) == ttl }, time.Second, 10*time.Millisecond)

	release()
	assert.False(t, mr.Exists(key))
}

func TestRedisGuard_StopsRenewingForeignLease(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	g := NewRedisGuard(rdb, 100*time.Millisecond, 60*time.Millisecond)
	key := scopeKey(models.FamilyDeletion, 6)

	release, err := g.Acquire(context.Background(), models.FamilyDeletion, 6)
	require.NoError(t, err)
	defer release()

	require.NoError(t, mr.Set(key, "someone-else"))
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, mr.TTL(key), "another holder's key keeps its own expiry")
}

func TestRedisGuard_MutualExclusion(t *testing.T) {
	_, rdb := newMiniRedis(t)
	g := NewRedisGuard(rdb, 5*time.Second, time.Minute)
	exerciseMutualExclusion(t, g, 8)
}

func TestPostgresGuard(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	g := NewPostgresGuard(db, 2*time.Second)
	key := advisoryKey(models.FamilyCopy, 12)

	mock.ExpectExec(regexp.QuoteMeta("SET lock_timeout = 2000")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_lock($1)")).WithArgs(key).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_unlock($1)")).WithArgs(key).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("RESET lock_timeout")).WillReturnResult(sqlmock.NewResult(0, 0))

	release, err := g.Acquire(context.Background(), models.FamilyCopy, 12)
	require.NoError(t, err)
	release()
	release()

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGuard_LockTimeout(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	g := NewPostgresGuard(db, time.Second)
	key := advisoryKey(models.FamilyDeletion, 3)

	mock.ExpectExec(regexp.QuoteMeta("SET lock_timeout = 1000")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_lock($1)")).WithArgs(key).
		WillReturnError(&pgconn.PgError{Code: pgLockNotAvailable, Message: "canceling statement due to lock timeout"})
	mock.ExpectExec(regexp.QuoteMeta("RESET lock_timeout")).WillReturnResult(sqlmock.NewResult(0, 0))

	_, err = g.Acquire(context.Background(), models.FamilyDeletion, 3)
	assert.ErrorIs(t, err, ErrAcquireTimeout)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvisoryKey(t *testing.T) {
	assert.NotEqual(t, advisoryKey(models.FamilyCopy, 1), advisoryKey(models.FamilyDeletion, 1))
	assert.NotEqual(t, advisoryKey(models.FamilyCopy, 1), advisoryKey(models.FamilyCopy, 2))
	assert.Equal(t, int64(1)<<40|5, advisoryKey(models.FamilyCopy, 5))
}

func TestNew(t *testing.T) {
	_, rdb := newMiniRedis(t)

	g, err := New(&config.Config{GuardBackend: config.GuardBackendLocal, GuardAcquireTimeout: time.Second}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, config.GuardBackendLocal, g.Backend())

	g, err = New(&config.Config{GuardBackend: config.GuardBackendRedis, GuardAcquireTimeout: time.Second, GuardLockTTL: time.Second}, nil, rdb)
	require.NoError(t, err)
	assert.Equal(t, config.GuardBackendRedis, g.Backend())

	_, err = New(&config.Config{GuardBackend: config.GuardBackendRedis}, nil, nil)
	assert.Error(t, err)

	_, err = New(&config.Config{GuardBackend: config.GuardBackendPostgres}, nil, nil)
	assert.Error(t, err)

	_, err = New(&config.Config{GuardBackend: "zookeeper"}, nil, nil)
	assert.Error(t, err)
}
