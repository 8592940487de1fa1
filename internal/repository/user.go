package repository

import (
	"context"
	"errors"

	"registry/internal/models"
	"registry/internal/observability"

	"gorm.io/gorm"
)

// UserRepository defines the identity tables' data operations.
type UserRepository interface {
	GetByDN(ctx context.Context, dn string) (*models.User, error)
	GetByName(ctx context.Context, name string) (*models.User, error)
	HasService(ctx context.Context, userID uint, service string) (bool, error)
	CreateSession(ctx context.Context, session *models.Session) error
	Create(ctx context.Context, user *models.User) error
	EnsureService(ctx context.Context, name string) (*models.Service, error)
	GrantService(ctx context.Context, userID, serviceID uint) error
}

type userRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db, log: observability.NewRepoLogger("users")}
}

// GetByDN returns nil, nil when no user carries dn.
func (r *userRepository) GetByDN(ctx context.Context, dn string) (*models.User, error) {
	return r.first(ctx, "dn = ?", dn)
}

// GetByName returns nil, nil when no user is called name.
func (r *userRepository) GetByName(ctx context.Context, name string) (*models.User, error) {
	return r.first(ctx, "name = ?", name)
}

func (r *userRepository) first(ctx context.Context, cond string, arg string) (*models.User, error) {
	defer observability.TrackQuery("select", "users")()
	var user models.User
	if err := r.db.WithContext(ctx).Where(cond, arg).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError("Failed to look up user", err)
	}
	return &user, nil
}

func (r *userRepository) HasService(ctx context.Context, userID uint, service string) (bool, error) {
	defer observability.TrackQuery("select", "user_services")()
	var count int64
	err := r.db.WithContext(ctx).
		Table("user_services").
		Joins("JOIN services ON services.id = user_services.service_id").
		Where("user_services.user_id = ? AND services.name = ?", userID, service).
		Count(&count).Error
	if err != nil {
		return false, models.NewInternalError("Failed to look up user services", err)
	}
	return count > 0, nil
}

func (r *userRepository) CreateSession(ctx context.Context, session *models.Session) error {
	defer observability.TrackQuery("create", "sessions")()
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		r.log.LogError(ctx, err, "create_session")
		return models.NewInternalError("Failed to open session", err)
	}
	return nil
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		r.log.LogError(ctx, err, "create")
		return models.NewInternalError("Failed to create user", err)
	}
	r.log.LogCreate(ctx, map[string]interface{}{"user_id": user.ID, "name": user.Name})
	return nil
}

func (r *userRepository) EnsureService(ctx context.Context, name string) (*models.Service, error) {
	svc := models.Service{Name: name}
	if err := r.db.WithContext(ctx).Where(models.Service{Name: name}).FirstOrCreate(&svc).Error; err != nil {
		return nil, models.NewInternalError("Failed to ensure service", err)
	}
	return &svc, nil
}

func (r *userRepository) GrantService(ctx context.Context, userID, serviceID uint) error {
	link := models.UserService{UserID: userID, ServiceID: serviceID}
	if err := r.db.WithContext(ctx).Where(link).FirstOrCreate(&link).Error; err != nil {
		return models.NewInternalError("Failed to grant service", err)
	}
	return nil
}
