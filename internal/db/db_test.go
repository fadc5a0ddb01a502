package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_MemoryDefaults(t *testing.T) {
	database, err := Open()
	require.NoError(t, err)
	defer database.Close()

	_, err = database.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)")
	require.NoError(t, err)
	_, err = database.Exec("INSERT INTO t (v) VALUES ('a')")
	require.NoError(t, err)

	var n int
	require.NoError(t, database.Get(&n, "SELECT COUNT(*) FROM t"))
	assert.Equal(t, 1, n)
}

func TestOpen_FileCreatesParent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "catalog.db")

	database, err := Open(WithPath(dbPath))
	require.NoError(t, err)
	defer database.Close()

	assert.DirExists(t, filepath.Dir(dbPath))
	assert.FileExists(t, dbPath)
}

func TestOpen_AppliesSchemaIdempotently(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	schema := WithSchema(
		"CREATE TABLE IF NOT EXISTS items (id TEXT PRIMARY KEY, name TEXT NOT NULL)",
		"CREATE INDEX IF NOT EXISTS idx_items_name ON items(name)",
	)

	first, err := Open(WithPath(dbPath), schema)
	require.NoError(t, err)
	_, err = first.Exec("INSERT INTO items (id, name) VALUES ('1', 'a')")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(WithPath(dbPath), schema)
	require.NoError(t, err)
	defer second.Close()

	var n int
	require.NoError(t, second.Get(&n, "SELECT COUNT(*) FROM items"))
	assert.Equal(t, 1, n)
}

func TestOpen_BadSchemaFails(t *testing.T) {
	_, err := Open(WithSchema("CREATE TABLE ("))
	assert.ErrorContains(t, err, "apply schema statement 0")
}

func TestOpen_CustomPragmas(t *testing.T) {
	database, err := Open(WithPragmas("PRAGMA foreign_keys=ON;"))
	require.NoError(t, err)
	defer database.Close()

	var fk int
	require.NoError(t, database.Get(&fk, "PRAGMA foreign_keys"))
	assert.Equal(t, 1, fk)
}
