package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"registry/internal/models"
	"registry/internal/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func TestUserRepository_GetByDN(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()
	dn := "/DC=ch/DC=cern/CN=alice"

	tests := []struct {
		name         string
		mockBehavior func()
		wantUser     *models.User
		wantErr      bool
	}{
		{
			name: "Found",
			mockBehavior: func() {
				rows := sqlmock.NewRows([]string{"id", "name", "dn"}).AddRow(3, "alice", dn)
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" WHERE dn = $1 ORDER BY "users"."id" LIMIT $2`)).
					WithArgs(dn, 1).
					WillReturnRows(rows)
			},
			wantUser: &models.User{ID: 3, Name: "alice", DN: dn},
		},
		{
			name: "Not Found",
			mockBehavior: func() {
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" WHERE dn = $1`)).
					WithArgs(dn, 1).
					WillReturnError(gorm.ErrRecordNotFound)
			},
		},
		{
			name: "Database Error",
			mockBehavior: func() {
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" WHERE dn = $1`)).
					WithArgs(dn, 1).
					WillReturnError(errors.New("connection reset"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.mockBehavior()
			user, err := repo.GetByDN(ctx, dn)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantUser == nil {
				assert.Nil(t, user)
				return
			}
			require.NotNil(t, user)
			assert.Equal(t, tt.wantUser.ID, user.ID)
			assert.Equal(t, tt.wantUser.Name, user.Name)
		})
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_Services(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	user := &models.User{Name: "carol", DN: "/CN=carol"}
	require.NoError(t, repo.Create(ctx, user))

	ok, err := repo.HasService(ctx, user.ID, "dynamo")
	require.NoError(t, err)
	assert.False(t, ok)

	svc, err := repo.EnsureService(ctx, "dynamo")
	require.NoError(t, err)
	again, err := repo.EnsureService(ctx, "dynamo")
	require.NoError(t, err)
	assert.Equal(t, svc.ID, again.ID)

	require.NoError(t, repo.GrantService(ctx, user.ID, svc.ID))
	require.NoError(t, repo.GrantService(ctx, user.ID, svc.ID))

	ok, err = repo.HasService(ctx, user.ID, "dynamo")
	require.NoError(t, err)
	assert.True(t, ok)

	byName, err := repo.GetByName(ctx, "carol")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, user.ID, byName.ID)

	session := &models.Session{UserID: user.ID, EffectiveID: user.ID, Command: "copy"}
	require.NoError(t, repo.CreateSession(ctx, session))
	assert.NotZero(t, session.ID)
}
