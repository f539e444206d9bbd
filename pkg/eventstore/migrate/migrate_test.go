package migrate_test

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusid/eventstore/pkg/eventstore/migrate"
)

func newMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestUpAppliesAllEmbeddedMigrationsInOrder(t *testing.T) {
	db := newMemoryDB(t)
	m := migrate.New(db, "schema_migrations")
	require.NoError(t, m.LoadFromFS(migrate.SQLFiles, migrate.SQLDir))
	require.NoError(t, m.Up())

	version, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, 4, version)

	for _, table := range []string{"events", "unique_constraints", "projection_checkpoints", "processed_commands"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, "table %s should exist after migrating", table)
	}
}

func TestUpIsIdempotent(t *testing.T) {
	db := newMemoryDB(t)
	m := migrate.New(db, "schema_migrations")
	require.NoError(t, m.LoadFromFS(migrate.SQLFiles, migrate.SQLDir))
	require.NoError(t, m.Up())
	require.NoError(t, m.Up())

	version, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, 4, version)
}

func TestVersionIsZeroBeforeAnyMigrationApplied(t *testing.T) {
	db := newMemoryDB(t)
	m := migrate.New(db, "schema_migrations")
	version, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, 0, version)
}
