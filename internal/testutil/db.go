// Package testutil provides shared test doubles and fixtures for backend tests.
package testutil

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"registry/internal/database"
	"registry/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewSQLiteDB opens a migrated in-memory database private to t. A single
// connection keeps every query on the same in-memory database.
func NewSQLiteDB(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.AutoMigrate(db))
	return db
}

// CreateUser inserts a user with a DN derived from name.
func CreateUser(t testing.TB, db *gorm.DB, name string) *models.User {
	t.Helper()
	u := &models.User{Name: name, DN: "/DC=org/DC=registry/CN=" + name}
	require.NoError(t, db.Create(u).Error)
	return u
}

// GrantService attaches the named service to the user, creating the service if needed.
func GrantService(t testing.TB, db *gorm.DB, userID uint, service string) {
	t.Helper()
	svc := models.Service{Name: service}
	require.NoError(t, db.Where(models.Service{Name: service}).FirstOrCreate(&svc).Error)
	require.NoError(t, db.Create(&models.UserService{UserID: userID, ServiceID: svc.ID}).Error)
}

// Caller builds an authorized caller for user with a synthetic session id.
func Caller(u *models.User) models.Caller {
	return models.Caller{UserID: u.ID, UserName: u.Name, SessionID: 1, Authorized: true}
}

// SetCopyStatus plays the agent: it forces a copy request's status.
func SetCopyStatus(t testing.TB, db *gorm.DB, id uint, status models.RequestStatus) {
	t.Helper()
	require.NoError(t, db.Model(&models.CopyRequest{}).Where("id = ?", id).Update("status", status).Error)
}

// SetDeletionStatus plays the agent: it forces a deletion request's status.
func SetDeletionStatus(t testing.TB, db *gorm.DB, id uint, status models.RequestStatus) {
	t.Helper()
	require.NoError(t, db.Model(&models.DeletionRequest{}).Where("id = ?", id).Update("status", status).Error)
}
