package scratch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/clipforge/internal/config"
)

func TestNewScope_CreatesAndCloses(t *testing.T) {
	scope, err := NewScope("test")
	require.NoError(t, err)

	info, err := os.Stat(scope.Dir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Contains(t, filepath.Base(scope.Dir()), "clipforge-test-")

	require.NoError(t, os.WriteFile(scope.Path("chunk.mp4"), []byte("data"), 0o644))

	require.NoError(t, scope.Close())
	_, err = os.Stat(scope.Dir())
	assert.True(t, os.IsNotExist(err))
}

func TestScope_CloseIdempotent(t *testing.T) {
	scope, err := NewScope("test")
	require.NoError(t, err)
	require.NoError(t, scope.Close())
	require.NoError(t, scope.Close())
}

func TestScope_CacheDirsAreDistinct(t *testing.T) {
	scope, err := NewScope("dl")
	require.NoError(t, err)
	defer scope.Close()

	a, err := scope.CacheDir()
	require.NoError(t, err)
	b, err := scope.CacheDir()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	for _, dir := range []string{a, b} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestScope_Subdir(t *testing.T) {
	scope, err := NewScope("seg")
	require.NoError(t, err)
	defer scope.Close()

	dir, err := scope.Subdir("segments")
	require.NoError(t, err)
	assert.Equal(t, scope.Path("segments"), dir)
}

func TestJanitor_SweepRemovesOnlyStaleScratchDirs(t *testing.T) {
	stale, err := NewScope("stale")
	require.NoError(t, err)
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale.Dir(), old, old))

	fresh, err := NewScope("fresh")
	require.NoError(t, err)
	defer fresh.Close()

	unrelated := filepath.Join(os.TempDir(), "not-ours")
	require.NoError(t, os.MkdirAll(unrelated, 0o755))
	require.NoError(t, os.Chtimes(unrelated, old, old))
	defer os.RemoveAll(unrelated)

	j := NewJanitor(config.JanitorConfig{Enabled: true, MaxAge: 6 * time.Hour}, slog.Default())
	removed := j.Sweep(context.Background())

	assert.GreaterOrEqual(t, removed, 1)
	_, err = os.Stat(stale.Dir())
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh.Dir())
	assert.NoError(t, err)
	_, err = os.Stat(unrelated)
	assert.NoError(t, err)
}

func TestJanitor_DisabledStart(t *testing.T) {
	j := NewJanitor(config.JanitorConfig{Enabled: false}, slog.Default())
	require.NoError(t, j.Start())
	j.Stop()
}
