package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirAndFileExists(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0o644))

	assert.True(t, DirExists(dir))
	assert.False(t, DirExists(f))
	assert.False(t, DirExists(filepath.Join(dir, "missing")))
	assert.False(t, DirExists(filepath.Join(f, "sub")), "stat errors other than not-exist")
	assert.True(t, FileExists(f))
	assert.False(t, FileExists(dir))
}

func TestEnsureDirNested(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureDir(dir))
	require.NoError(t, EnsureDir(dir))
	assert.True(t, DirExists(dir))
}

func TestResolve(t *testing.T) {
	assert.Equal(t, filepath.Join("base", "x.txt"), Resolve("base", "x.txt"))
	assert.Equal(t, "/abs/x.txt", Resolve("base", "/abs/x.txt"))
	assert.Equal(t, "", Resolve("base", ""))
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "WT_vs_STAT3", SafeName("WT vs STAT3"))
	assert.Equal(t, "IL6_ENSG0001.2", SafeName("IL6/ENSG0001.2"))
}
