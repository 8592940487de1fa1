// Package identity resolves certificate credentials into registry callers.
package identity

import (
	"context"
	"log/slog"
	"time"

	"registry/internal/cache"
	"registry/internal/middleware"
	"registry/internal/models"
	"registry/internal/repository"

	"github.com/redis/go-redis/v9"
)

// Credential is the client certificate presented with a call.
type Credential struct {
	SubjectDN string
	IssuerDN  string
}

// cachedUser is the cached outcome of a user lookup.
type cachedUser struct {
	ID         uint   `json:"id"`
	Name       string `json:"name"`
	Authorized bool   `json:"authorized"`
}

// Resolver maps credentials onto users and opens a session per call.
type Resolver struct {
	users   repository.UserRepository
	rdb     *redis.Client
	service string
	ttl     time.Duration
}

// NewResolver returns a Resolver. A user is authorized when it holds service.
// rdb may be nil, which disables caching.
func NewResolver(users repository.UserRepository, rdb *redis.Client, service string, ttl time.Duration) *Resolver {
	return &Resolver{users: users, rdb: rdb, service: service, ttl: ttl}
}

// Resolve identifies the caller. An unrecognized credential or act-as target
// yields a zero Caller and no error; the dispatcher rejects it as unknown.
// actAs is honoured only for authorized callers.
func (r *Resolver) Resolve(ctx context.Context, cred Credential, actAs, command, remoteAddr string) (models.Caller, error) {
	if cred.SubjectDN == "" {
		return models.Caller{}, nil
	}

	user, err := r.lookup(ctx, cache.IdentityKey(cred.SubjectDN, cred.IssuerDN), func() (*models.User, error) {
		return r.users.GetByDN(ctx, cred.SubjectDN)
	})
	if err != nil || user == nil {
		return models.Caller{}, err
	}

	effective := user
	if actAs != "" && actAs != user.Name && user.Authorized {
		effective, err = r.lookup(ctx, cache.UserNameKey(actAs), func() (*models.User, error) {
			return r.users.GetByName(ctx, actAs)
		})
		if err != nil || effective == nil {
			return models.Caller{}, err
		}
	}

	session := &models.Session{
		UserID:      user.ID,
		EffectiveID: effective.ID,
		Command:     command,
		RemoteAddr:  remoteAddr,
	}
	if err := r.users.CreateSession(ctx, session); err != nil {
		return models.Caller{}, err
	}

	return models.Caller{
		UserID:     effective.ID,
		UserName:   effective.Name,
		SessionID:  session.ID,
		Authorized: effective.Authorized,
		ActingAs:   effective.ID != user.ID,
	}, nil
}

// lookup reads a user through the cache. Misses are not cached so a newly
// registered user is recognized immediately.
func (r *Resolver) lookup(ctx context.Context, key string, load func() (*models.User, error)) (*cachedUser, error) {
	var cu cachedUser
	hit, err := cache.GetJSON(ctx, r.rdb, key, &cu)
	if err != nil {
		middleware.Logger.WarnContext(ctx, "identity cache read failed", slog.String("error", err.Error()))
	}
	if hit {
		return &cu, nil
	}

	user, err := load()
	if err != nil || user == nil {
		return nil, err
	}
	authorized, err := r.users.HasService(ctx, user.ID, r.service)
	if err != nil {
		return nil, err
	}

	cu = cachedUser{ID: user.ID, Name: user.Name, Authorized: authorized}
	if err := cache.SetJSON(ctx, r.rdb, key, cu, r.ttl); err != nil {
		middleware.Logger.WarnContext(ctx, "identity cache write failed", slog.String("error", err.Error()))
	}
	return &cu, nil
}
