package database

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "data", "test.db")}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"002_second.sql": {Data: []byte("CREATE TABLE b (id INTEGER);")},
		"001_first.sql":  {Data: []byte("CREATE TABLE a (id INTEGER);")},
		"README.md":      {Data: []byte("ignored")},
	}

	migrations, err := LoadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "first", migrations[0].Name)
	assert.Equal(t, 2, migrations[1].Version)
}

func TestLoadMigrations_Invalid(t *testing.T) {
	_, err := LoadMigrations(fstest.MapFS{"init.sql": {Data: []byte("SELECT 1;")}})
	assert.Error(t, err)

	_, err = LoadMigrations(fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"1_b.sql":   {Data: []byte("SELECT 1;")},
	})
	assert.Error(t, err)
}

func TestMigrator_RunEmbedded(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrator(db, zap.NewNop())

	applied, err := m.Run(context.Background(), EmbeddedMigrations())
	require.NoError(t, err)
	assert.Greater(t, applied, 0)

	// Second run is a no-op
	again, err := m.Run(context.Background(), EmbeddedMigrations())
	require.NoError(t, err)
	assert.Equal(t, 0, again)

	var count int
	require.NoError(t, db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('fingerprints', 'fingerprint_claims', 'processing_results')",
	).Scan(&count))
	assert.Equal(t, 3, count)
}

func TestMigrator_RunRollsBackFailedMigration(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrator(db, zap.NewNop())

	applied, err := m.Run(context.Background(), fstest.MapFS{
		"001_ok.sql":     {Data: []byte("CREATE TABLE ok (id INTEGER);")},
		"002_broken.sql": {Data: []byte("CREATE TABLE broken (;")},
	})
	assert.Error(t, err)
	assert.Equal(t, 1, applied)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 1, count)
}
