package files

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polarcli/internal/config"
	"polarcli/internal/shared/testutil"
)

func newTestManager(t *testing.T) (*Manager, *config.Paths) {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	paths := &config.Paths{UploadsDir: filepath.Join(t.TempDir(), "uploads")}
	return NewManager(paths, logger), paths
}

func TestManager_SaveUpload(t *testing.T) {
	m, paths := newTestManager(t)

	path, err := m.SaveUpload("run1.txt", strings.NewReader("No\tI\n"), 1024)
	require.NoError(t, err)
	assert.Equal(t, paths.UploadsDir, filepath.Dir(filepath.Dir(path)))
	assert.Equal(t, "run1.txt", filepath.Base(path))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "No\tI\n", string(content))

	other, err := m.SaveUpload("run1.txt", strings.NewReader("x"), 0)
	require.NoError(t, err)
	assert.NotEqual(t, path, other)
	assert.Equal(t, filepath.Base(path), filepath.Base(other))

	unsafe, err := m.SaveUpload("../../escape.txt", strings.NewReader("x"), 0)
	require.NoError(t, err)
	assert.Equal(t, "escape.txt", filepath.Base(unsafe))
	assert.Equal(t, paths.UploadsDir, filepath.Dir(filepath.Dir(unsafe)))
}

func TestManager_SaveUploadTooLarge(t *testing.T) {
	m, paths := newTestManager(t)

	path, err := m.SaveUpload("big.txt", strings.NewReader(strings.Repeat("x", 11)), 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooLarge))
	assert.Empty(t, path)

	entries, err := os.ReadDir(paths.UploadsDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestManager_Remove(t *testing.T) {
	m, paths := newTestManager(t)

	path, err := m.SaveUpload("run1.txt", strings.NewReader("x"), 0)
	require.NoError(t, err)
	require.NoError(t, m.Remove(path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.NoDirExists(t, filepath.Dir(path))
	assert.DirExists(t, paths.UploadsDir)

	// Already gone is fine.
	assert.NoError(t, m.Remove(path))

	outside := filepath.Join(t.TempDir(), "keep.txt")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0644))
	assert.Error(t, m.Remove(outside))
	assert.FileExists(t, outside)
}

func TestManager_PruneUploads(t *testing.T) {
	m, _ := newTestManager(t)

	removed, err := m.PruneUploads(time.Hour, nil)
	require.NoError(t, err)
	assert.Zero(t, removed)

	old, err := m.SaveUpload("old.txt", strings.NewReader("x"), 0)
	require.NoError(t, err)
	owned, err := m.SaveUpload("owned.txt", strings.NewReader("x"), 0)
	require.NoError(t, err)
	fresh, err := m.SaveUpload("fresh.txt", strings.NewReader("x"), 0)
	require.NoError(t, err)
	past := time.Now().Add(-2 * time.Hour)
	for _, p := range []string{old, owned} {
		require.NoError(t, os.Chtimes(filepath.Dir(p), past, past))
	}

	removed, err = m.PruneUploads(time.Hour, func(path string) bool { return path == owned })
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, old)
	assert.NoDirExists(t, filepath.Dir(old))
	assert.FileExists(t, owned)
	assert.FileExists(t, fresh)

	removed, err = m.PruneUploads(time.Hour, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, owned)
}

func TestSanitizeName(t *testing.T) {
	tests := []struct{ in, want string }{
		{in: "run1.txt", want: "run1.txt"},
		{in: "../../etc/passwd", want: "passwd"},
		{in: `C:\data\run 2.txt`, want: "run 2.txt"},
		{in: "bad:name?.txt", want: "bad_name_.txt"},
		{in: "测量数据.txt", want: "测量数据.txt"},
		{in: "..", want: "upload"},
		{in: "", want: "upload"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeName(tt.in), "input %q", tt.in)
	}
}
