package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLite_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	b, err := OpenSQLite(path)
	require.NoError(t, err)
	defer b.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpenSQLite_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		b, err := OpenSQLite(path)
		require.NoError(t, err, "open iteration %d", i)
		b.Close()
	}

	b, err := OpenSQLite(path)
	require.NoError(t, err)
	defer b.Close()

	var version int
	require.NoError(t, b.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)

	var name string
	err = b.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='index' AND name='idx_checkpoints_updated_at'",
	).Scan(&name)
	assert.NoError(t, err)
}

func TestOpenSQLite_WALMode(t *testing.T) {
	b := createTestBackend(t)

	var mode string
	require.NoError(t, b.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestSQLiteBackend_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	b1, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, b1.Put(ctx, "k", []byte(`{"a":1}`)))
	require.NoError(t, b1.Close())

	b2, err := OpenSQLite(path)
	require.NoError(t, err)
	defer b2.Close()

	payload, found, err := b2.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"a":1}`, string(payload))
}

func TestSQLiteBackend_UpdatedAt(t *testing.T) {
	b := createTestBackend(t)
	fixed := time.UnixMilli(1_700_000_000_000)
	b.now = func() time.Time { return fixed }
	ctx := context.Background()

	_, found, err := b.UpdatedAt(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, b.Put(ctx, "k", []byte("{}")))
	at, found, err := b.UpdatedAt(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, fixed.Equal(at))
}

func TestSQLiteBackend_GetMissing(t *testing.T) {
	b := createTestBackend(t)

	payload, found, err := b.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, payload)
}

func TestOpenSQLite_UpgradesOlderFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	b, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, b.Put(context.Background(), "acme", []byte(`{}`)))
	_, err = b.db.Exec("DROP INDEX idx_checkpoints_updated_at")
	require.NoError(t, err)
	_, err = b.db.Exec("PRAGMA user_version = 0")
	require.NoError(t, err)
	require.NoError(t, b.Close())

	b, err = OpenSQLite(path)
	require.NoError(t, err)
	defer b.Close()

	var name string
	require.NoError(t, b.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='index' AND name='idx_checkpoints_updated_at'",
	).Scan(&name))
	_, found, err := b.Get(context.Background(), "acme")
	require.NoError(t, err)
	assert.True(t, found, "upgrade must keep existing rows")
}
