package filex

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) func() {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	return func() { _ = os.Chdir(old) }
}

func TestEnsureSubdDir(t *testing.T) {
	tmp := t.TempDir()
	defer chdir(t, tmp)()

	got, err := EnsureSubdDir("downloads")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(tmp, "downloads"), got)

	fi, err := os.Stat(got)
	require.NoError(t, err)
	require.True(t, fi.IsDir())
	if runtime.GOOS != "windows" {
		require.Equal(t, os.FileMode(0o700), fi.Mode().Perm()&0o700)
	}

	again, err := EnsureSubdDir("downloads")
	require.NoError(t, err)
	require.Equal(t, got, again)

	require.NoError(t, os.WriteFile("taken", []byte("x"), 0o660))
	_, err = EnsureSubdDir("taken")
	require.Error(t, err)
}

func TestReadLimited(t *testing.T) {
	p := filepath.Join(t.TempDir(), "scan.pdf")
	require.NoError(t, os.WriteFile(p, []byte("0123456789"), 0o600))

	data, err := ReadLimited(p, 10)
	require.NoError(t, err)
	require.Equal(t, "0123456789", string(data))

	_, err = ReadLimited(p, 9)
	require.ErrorIs(t, err, ErrTooLarge)

	_, err = ReadLimited(filepath.Join(t.TempDir(), "missing"), 10)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "out.bin")

	require.NoError(t, WriteFileAtomic(p, []byte("first"), 0o600))
	require.NoError(t, WriteFileAtomic(p, []byte("second"), 0o600))

	got, err := os.ReadFile(p)
	require.NoError(t, err)
	require.Equal(t, "second", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
}
