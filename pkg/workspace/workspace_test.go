package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureDirCreates(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")

	got, err := EnsureDir(dir)
	require.NoError(t, err)
	require.Equal(t, dir, got)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
	require.Equal(t, os.FileMode(0o700), info.Mode().Perm())
}

func TestEnsureDirDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	got, err := EnsureDir("")
	require.NoError(t, err)

	want, err := DefaultDir()
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.DirExists(t, got)
}
