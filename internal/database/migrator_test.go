package database

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrator_LoadMigrationsSorted(t *testing.T) {
	fsys := fstest.MapFS{
		"002_add_index.sql":   {Data: []byte("CREATE INDEX x ON y (z);")},
		"001_init.sql":        {Data: []byte("CREATE TABLE y (z TEXT);")},
		"README.md":           {Data: []byte("docs")},
		"badname.sql":         {Data: []byte("SELECT 1;")},
		"003_nested/file.sql": {Data: []byte("SELECT 1;")},
	}

	migrations, err := NewMigrator(nil, "postgres").LoadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, "001", migrations[0].Version)
	assert.Equal(t, "002_add_index.sql", migrations[1].Name)
}

func TestMigrator_EmbeddedMigrations(t *testing.T) {
	fsys, err := MigrationsFS("")
	require.NoError(t, err)

	migrations, err := NewMigrator(nil, "postgres").LoadMigrations(fsys)
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	assert.Contains(t, migrations[0].SQL, "moderation_results")
}

func TestMigrator_SkipsSQLite(t *testing.T) {
	db, cleanup := setupSQLiteTestDB(t)
	defer cleanup()

	require.NoError(t, db.RunMigrations(context.Background(), ""))
}

func TestMigrator_PostgresIdempotent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, db.RunMigrations(ctx, ""))

	applied, err := NewMigrator(db.Conn(), "postgres").GetAppliedMigrations(ctx)
	require.NoError(t, err)
	assert.True(t, applied["001"])
}
