package tempfiles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommit_RenamesIntoPlace(t *testing.T) {
	dir := t.TempDir()
	tmp, err := Create(dir, ".dl-*")
	require.NoError(t, err)
	_, err = tmp.WriteString("data")
	require.NoError(t, err)
	require.NoError(t, tmp.Close())

	dst := filepath.Join(dir, "final.bin")
	require.NoError(t, Commit(tmp.Name(), dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "data", string(data))
	require.NoFileExists(t, tmp.Name())
}

func TestCommit_FirstWriterWins(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "final.bin")
	require.NoError(t, os.WriteFile(dst, []byte("first"), 0o644))

	tmp, err := Create(dir, ".dl-*")
	require.NoError(t, err)
	_, err = tmp.WriteString("second")
	require.NoError(t, err)
	require.NoError(t, tmp.Close())

	require.NoError(t, Commit(tmp.Name(), dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "first", string(data), "existing file is kept")
	require.NoFileExists(t, tmp.Name(), "loser's temp file is discarded")
}

func TestCreate_MakesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "deeper")
	tmp, err := Create(dir, ".dl-*")
	require.NoError(t, err)
	tmp.Close()
	require.DirExists(t, dir)
}

func TestDiscard_IgnoresMissing(t *testing.T) {
	Discard(filepath.Join(t.TempDir(), "never-existed"))
}
