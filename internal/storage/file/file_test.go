package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trailmark/markers/internal/config"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "nested", "data")
	s, err := New(config.FileStoreConfig{Dir: dir})
	require.NoError(t, err)
	return s, dir
}

func TestNew_CreatesDir(t *testing.T) {
	_, dir := newTestStore(t)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNew_EmptyDir(t *testing.T) {
	_, err := New(config.FileStoreConfig{})
	require.Error(t, err)
}

func TestStore_GetMissing(t *testing.T) {
	s, _ := newTestStore(t)

	_, found, err := s.Get(context.Background(), "markers")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_PutReplaces(t *testing.T) {
	ctx := context.Background()
	s, dir := newTestStore(t)

	require.NoError(t, s.Put(ctx, "markers", []byte(`[1]`)))
	require.NoError(t, s.Put(ctx, "markers", []byte(`[1,2]`)))

	v, found, err := s.Get(ctx, "markers")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `[1,2]`, string(v))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
	assert.Equal(t, "markers.json", entries[0].Name())
}

func TestStore_InvalidKey(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	assert.Error(t, s.Put(ctx, "../escape", []byte(`[]`)))
	_, _, err := s.Get(ctx, "a/b")
	assert.Error(t, err)
}

func TestStore_CanceledContext(t *testing.T) {
	s, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Put(ctx, "markers", []byte(`[]`)), context.Canceled)
}
