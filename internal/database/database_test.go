package database

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"testing/fstest"
	"time"

	"waster/internal/config"
	"waster/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	cfg := GormConfig()
	cfg.Logger = cfg.Logger.LogMode(logger.Silent)
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), cfg)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestConfigurePool(t *testing.T) {
	db := openSQLite(t)

	err := configurePool(db, &config.Config{
		DBMaxOpenConns:           10,
		DBMaxIdleConns:           5,
		DBConnMaxLifetimeMinutes: 15,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 10, sqlDB.Stats().MaxOpenConnections)
}

func TestAutoMigrate_CreatesClaimConstraints(t *testing.T) {
	db := openSQLite(t)
	require.NoError(t, AutoMigrate(db))

	for _, m := range PersistentModels() {
		assert.True(t, db.Migrator().HasTable(m))
	}
	assert.True(t, db.Migrator().HasIndex(&models.Claim{}, "uniq_claims_one_approved_per_post"))

	post := &models.Post{OwnerID: "owner", Title: "Bread", Quantity: "2", Unit: "kg", Status: models.PostAvailable, IsValid: true}
	require.NoError(t, db.Create(post).Error)

	first := &models.Claim{PostID: post.ID, OwnerID: "owner", RecipientID: "r1", Status: models.ClaimApproved}
	require.NoError(t, db.Create(first).Error)

	second := &models.Claim{PostID: post.ID, OwnerID: "owner", RecipientID: "r2", Status: models.ClaimApproved}
	err := db.Create(second).Error
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	dup := &models.Claim{PostID: post.ID, OwnerID: "owner", RecipientID: "r1", Status: models.ClaimPending}
	err = db.Create(dup).Error
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	// terminal claims carry no active key and never collide
	for i := 0; i < 2; i++ {
		rejected := &models.Claim{PostID: post.ID, OwnerID: "owner", RecipientID: "r3", Status: models.ClaimRejected}
		require.NoError(t, db.Create(rejected).Error)
		assert.Nil(t, rejected.ActiveKey)
	}
}

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"m/000002_second.up.sql":   {Data: []byte("SELECT 2;")},
		"m/000002_second.down.sql": {Data: []byte("SELECT -2;")},
		"m/000001_first.up.sql":    {Data: []byte("SELECT 1;")},
		"m/000001_first.down.sql":  {Data: []byte("SELECT -1;")},
		"m/bogus.up.sql":           {Data: []byte("SELECT 0;")},
		"m/README.md":              {Data: []byte("notes")},
	}

	loaded, err := LoadMigrations(fsys, "m")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, 1, loaded[0].Version)
	assert.Equal(t, "first", loaded[0].Name)
	assert.Equal(t, "SELECT -2;", loaded[1].DownScript)
	assert.Equal(t, "000002_second", loaded[1].String())
}

func TestLoadMigrations_MissingDown(t *testing.T) {
	fsys := fstest.MapFS{
		"m/000001_first.up.sql": {Data: []byte("SELECT 1;")},
	}
	_, err := LoadMigrations(fsys, "m")
	assert.Error(t, err)
}

func TestEmbeddedMigrations(t *testing.T) {
	all := GetMigrations()
	require.GreaterOrEqual(t, len(all), 2)
	for i, m := range all {
		assert.NotEmpty(t, m.UpScript, m.String())
		assert.NotEmpty(t, m.DownScript, m.String())
		if i > 0 {
			assert.Greater(t, m.Version, all[i-1].Version)
		}
	}
	assert.NotNil(t, GetMigrationByVersion(1))
	assert.Nil(t, GetMigrationByVersion(999))
}

func TestValidateAppliedVersions(t *testing.T) {
	registered := []Migration{{Version: 1}, {Version: 2}}

	assert.NoError(t, validateAppliedVersions(nil, registered))
	assert.NoError(t, validateAppliedVersions([]int{1, 2}, registered))

	err := validateAppliedVersions([]int{1, 7, 5}, registered)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "000005, 000007")
}

func TestPendingMigrations(t *testing.T) {
	registered := []Migration{{Version: 1}, {Version: 2}, {Version: 3}}
	pending := pendingMigrations(registered, map[int]bool{1: true, 3: true})
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Version)
}

func TestSchemaPolicy(t *testing.T) {
	tests := []struct {
		env, mode       string
		runSQL, runAuto bool
		wantErr         bool
	}{
		{"development", "", true, true, false},
		{"production", "hybrid", true, false, false},
		{"development", "sql", true, false, false},
		{"test", "auto", false, true, false},
		{"staging", "auto", false, false, true},
		{"development", "weird", false, false, true},
	}

	for _, tt := range tests {
		runSQL, runAuto, err := schemaPolicy(&config.Config{Env: tt.env, DBSchemaMode: tt.mode})
		if tt.wantErr {
			assert.Error(t, err, "%s/%s", tt.env, tt.mode)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.runSQL, runSQL, "%s/%s", tt.env, tt.mode)
		assert.Equal(t, tt.runAuto, runAuto, "%s/%s", tt.env, tt.mode)
	}
}

func TestApplySchema_AutoMode(t *testing.T) {
	db := openSQLite(t)
	cfg := &config.Config{Env: "test", DBSchemaMode: SchemaModeAuto}

	require.NoError(t, ApplySchema(context.Background(), db, cfg))
	assert.True(t, db.Migrator().HasTable(&models.DashboardStats{}))

	status, err := GetSchemaStatus(context.Background(), db, cfg)
	require.NoError(t, err)
	assert.False(t, status.WillRunSQL)
	assert.True(t, status.WillRunAutoMigrate)
}

func TestCustomGormLogger_Trace(t *testing.T) {
	var buf bytes.Buffer
	l := NewGormLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	ctx := context.Background()

	l.Trace(ctx, time.Now(), func() (string, int64) { return "SELECT 1", 1 }, nil)
	assert.Empty(t, buf.String())

	l.Trace(ctx, time.Now(), func() (string, int64) { return "SELECT 1", 0 }, gorm.ErrRecordNotFound)
	assert.Empty(t, buf.String())

	l.Trace(ctx, time.Now().Add(-time.Second), func() (string, int64) { return "SELECT pg_sleep(1)", 1 }, nil)
	assert.Contains(t, buf.String(), "GORM slow query")

	buf.Reset()
	l.Trace(ctx, time.Now(), func() (string, int64) { return "SELECT x", 0 }, assert.AnError)
	assert.Contains(t, buf.String(), "GORM query error")

	buf.Reset()
	l.LogMode(logger.Silent).Trace(ctx, time.Now(), func() (string, int64) { return "SELECT x", 0 }, assert.AnError)
	assert.Empty(t, buf.String())
}
