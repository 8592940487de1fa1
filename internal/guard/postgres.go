package guard

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"registry/internal/config"
	"registry/internal/middleware"
	"registry/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL error codes raised while waiting on a lock.
const (
	pgLockNotAvailable = "55P03"
	pgQueryCanceled    = "57014"
)

// PostgresGuard takes a session-level advisory lock on a pinned connection.
// It serializes every replica sharing the database.
type PostgresGuard struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresGuard creates a PostgresGuard on db.
func NewPostgresGuard(db *sql.DB, timeout time.Duration) *PostgresGuard {
	return &PostgresGuard{db: db, timeout: timeout}
}

func (g *PostgresGuard) Backend() string { return config.GuardBackendPostgres }

// advisoryKey packs the family into the high bits and the owner into the low 40.
func advisoryKey(family models.Family, ownerID uint) int64 {
	var fk int64 = 1
	if family == models.FamilyDeletion {
		fk = 2
	}
	return fk<<40 | int64(ownerID)&(1<<40-1)
}

func isLockTimeout(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgLockNotAvailable || pgErr.Code == pgQueryCanceled
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func (g *PostgresGuard) Acquire(ctx context.Context, family models.Family, ownerID uint) (Release, error) {
	key := advisoryKey(family, ownerID)

	ctx, cancel := withAcquireTimeout(ctx, g.timeout)
	defer cancel()

	conn, err := g.db.Conn(ctx)
	if err != nil {
		if isLockTimeout(err) {
			return nil, ErrAcquireTimeout
		}
		return nil, fmt.Errorf("guard: get connection: %w", err)
	}

	if g.timeout > 0 {
		stmt := fmt.Sprintf("SET lock_timeout = %d", g.timeout.Milliseconds())
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("guard: set lock_timeout: %w", err)
		}
	}

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", key); err != nil {
		g.resetSession(conn)
		if isLockTimeout(err) {
			return nil, ErrAcquireTimeout
		}
		return nil, fmt.Errorf("guard: advisory lock: %w", err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", key); err != nil {
				middleware.Logger.Error("advisory unlock failed; dropping connection",
					slog.Int64("key", key), slog.String("error", err.Error()))
				// Closing the session releases the lock server-side.
				_ = conn.Raw(func(any) error { return driver.ErrBadConn })
				_ = conn.Close()
				return
			}
			g.resetSession(conn)
		})
	}, nil
}

// resetSession restores lock_timeout and returns the connection to the pool.
func (g *PostgresGuard) resetSession(conn *sql.Conn) {
	if g.timeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = conn.ExecContext(ctx, "RESET lock_timeout")
	}
	_ = conn.Close()
}
