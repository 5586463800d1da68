package gormstorage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trailmark/markers/internal/database"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.GetSqliteDB(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	s, err := New(db)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew_MigratesTable(t *testing.T) {
	s := newTestStore(t)
	assert.True(t, s.DB().Migrator().HasTable("kv_entries"))
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t)

	_, found, err := s.Get(context.Background(), "markers")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_PutUpserts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Put(ctx, "markers", []byte(`[]`)))
	require.NoError(t, s.Put(ctx, "markers", []byte(`[{"latitude":1,"longitude":2,"address":"X"}]`)))

	v, found, err := s.Get(ctx, "markers")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `[{"latitude":1,"longitude":2,"address":"X"}]`, string(v))

	var count int64
	require.NoError(t, s.DB().Model(&Entry{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestStore_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Put(ctx, "a", []byte(`1`)))
	require.NoError(t, s.Put(ctx, "b", []byte(`2`)))

	a, _, err := s.Get(ctx, "a")
	require.NoError(t, err)
	b, _, err := s.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "1", string(a))
	assert.Equal(t, "2", string(b))
}

func TestStore_ScalarBlobsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	blobs := map[string]string{
		"int":    `1`,
		"float":  `2.50`,
		"bool":   `true`,
		"null":   `null`,
		"string": `"10"`,
	}
	for key, blob := range blobs {
		require.NoError(t, s.Put(ctx, key, []byte(blob)))
	}

	for key, blob := range blobs {
		v, found, err := s.Get(ctx, key)
		require.NoError(t, err, key)
		assert.True(t, found, key)
		assert.Equal(t, blob, string(v), key)
	}

	var kind string
	require.NoError(t, s.DB().Raw("SELECT typeof(value) FROM kv_entries WHERE key = ?", "int").Scan(&kind).Error)
	assert.Equal(t, "blob", kind)
}
