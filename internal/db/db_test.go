package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenForTesting(t *testing.T) {
	db, err := OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, db.Close()) })

	assert.NoError(t, db.Ping())
}

func TestMigrationsApply(t *testing.T) {
	db, err := OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, db.Close()) })

	for _, table := range []string{"items", "settings", "shares"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, table)
		assert.Equal(t, table, name)
	}
}

func TestOpenForTestingIsIsolated(t *testing.T) {
	a, err := OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })
	b, err := OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, b.Close()) })

	_, err = a.Exec(`INSERT INTO settings (owner_id, updated_at) VALUES ('alice', 0)`)
	require.NoError(t, err)

	var n int
	require.NoError(t, b.QueryRow(`SELECT COUNT(*) FROM settings`).Scan(&n))
	assert.Zero(t, n)
}

func TestOpenFileIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timelock.db")

	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(path)
	require.NoError(t, err, "re-opening must not re-apply migrations")
	t.Cleanup(func() { assert.NoError(t, second.Close()) })
}
