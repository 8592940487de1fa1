package database

import (
	"context"
	"regexp"
	"testing"
	"testing/fstest"

	"registry/internal/config"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(t, err)
	return gormDB, mock
}

func TestSchemaPolicy(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Config
		wantSQL bool
		wantAut bool
		wantErr bool
	}{
		{"hybrid dev", config.Config{DBDriver: "postgres", Env: "development"}, true, true, false},
		{"hybrid prod", config.Config{DBDriver: "postgres", Env: "production", DBSchemaMode: "hybrid"}, true, false, false},
		{"sql only", config.Config{DBDriver: "postgres", Env: "development", DBSchemaMode: "sql"}, true, false, false},
		{"auto dev", config.Config{DBDriver: "postgres", Env: "development", DBSchemaMode: "auto"}, false, true, false},
		{"auto prod refused", config.Config{DBDriver: "postgres", Env: "production", DBSchemaMode: "auto"}, false, false, true},
		{"sqlite always auto", config.Config{DBDriver: "sqlite", Env: "production", DBSchemaMode: "sql"}, false, true, false},
		{"unknown mode", config.Config{DBDriver: "postgres", DBSchemaMode: "yolo"}, false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runSQL, runAuto, err := schemaPolicy(&tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, runSQL)
			assert.Equal(t, tt.wantAut, runAuto)
		})
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	ms := GetMigrations()
	require.Len(t, ms, 2)
	assert.Equal(t, 1, ms[0].Version)
	assert.Equal(t, "identity", ms[0].Name)
	assert.Equal(t, "000002_requests", ms[1].String())
	assert.Contains(t, ms[1].UpScript, "copy_requests")
	assert.Contains(t, ms[1].DownScript, "DROP TABLE IF EXISTS copy_requests")
	assert.NotNil(t, GetMigrationByVersion(2))
	assert.Nil(t, GetMigrationByVersion(99))
}

func TestLoadMigrations(t *testing.T) {
	t.Run("missing down script", func(t *testing.T) {
		fsys := fstest.MapFS{"migrations/000001_a.up.sql": {Data: []byte("SELECT 1")}}
		_, err := LoadMigrations(fsys)
		assert.ErrorContains(t, err, "down migration")
	})
	t.Run("bad version", func(t *testing.T) {
		fsys := fstest.MapFS{
			"migrations/abc_a.up.sql":   {Data: []byte("SELECT 1")},
			"migrations/abc_a.down.sql": {Data: []byte("SELECT 1")},
		}
		_, err := LoadMigrations(fsys)
		assert.ErrorContains(t, err, "invalid version")
	})
	t.Run("sorted", func(t *testing.T) {
		fsys := fstest.MapFS{
			"migrations/000010_b.up.sql":   {Data: []byte("B")},
			"migrations/000010_b.down.sql": {Data: []byte("b")},
			"migrations/000002_a.up.sql":   {Data: []byte("A")},
			"migrations/000002_a.down.sql": {Data: []byte("a")},
		}
		ms, err := LoadMigrations(fsys)
		require.NoError(t, err)
		require.Len(t, ms, 2)
		assert.Equal(t, 2, ms[0].Version)
		assert.Equal(t, 10, ms[1].Version)
	})
}

func TestValidateAppliedVersions(t *testing.T) {
	registered := []Migration{{Version: 1}, {Version: 2}}
	assert.NoError(t, validateAppliedVersions(nil, registered))
	assert.NoError(t, validateAppliedVersions([]int{1, 2}, registered))
	err := validateAppliedVersions([]int{1, 7, 3}, registered)
	assert.ErrorContains(t, err, "000003, 000007")
}

func TestMigrationStore_GetAppliedMigrations(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewMigrationStore(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "version" FROM "migration_logs" ORDER BY version ASC`)).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1).AddRow(2))

	versions, err := store.GetAppliedMigrations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, versions)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrationStore_GetAppliedMigrations_MissingTable(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewMigrationStore(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "version" FROM "migration_logs"`)).
		WillReturnError(&pgconn.PgError{Code: "42P01", Message: `relation "migration_logs" does not exist`})

	versions, err := store.GetAppliedMigrations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestRollbackMigration_UnknownVersion(t *testing.T) {
	err := RollbackMigration(context.Background(), nil, 42)
	assert.ErrorContains(t, err, "not found")
}

func TestAutoMigrate_SQLite(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))

	for _, table := range []string{
		"users", "services", "user_services", "sessions",
		"copy_requests", "copy_request_items", "active_copies",
		"deletion_requests", "deletion_request_items", "active_deletions",
	} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
	assert.True(t, db.Migrator().HasColumn("copy_requests", "group"))
}

func TestConfigurePool_SQLiteSingleWriter(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, configurePool(db, &config.Config{DBDriver: config.DBDriverSQLite}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
}

func TestDSN(t *testing.T) {
	cfg := &config.Config{DBHost: "db", DBPort: "5432", DBUser: "u", DBPassword: "p", DBName: "reg"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=reg sslmode=disable", DSN(cfg))
}
