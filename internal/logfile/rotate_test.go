package logfile

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestOpen_AppendsAndCreatesDirectory(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "dir", "app.log")

	w, err := Open(path, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), w.maxBytes)
	assert.Equal(t, 0, w.maxFiles)
	_, err = w.Write([]byte("one\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w, err = Open(path, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(4), w.size, "size is taken from the existing file")
	_, err = w.Write([]byte("two\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Equal(t, "one\ntwo\n", readFile(t, path))
}

func TestOpen_Error(t *testing.T) {
	t.Parallel()
	parent := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(parent, nil, 0644))

	_, err := Open(filepath.Join(parent, "app.log"), 1, 1)
	assert.ErrorContains(t, err, "logfile:")
}

func TestWriter_Rotates(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "app.log")
	w, err := open(path, 50, 2)
	require.NoError(t, err)
	defer w.Close()

	line := func(c string) []byte { return []byte(strings.Repeat(c, 39) + "\n") }
	for _, c := range []string{"A", "B", "C", "D"} {
		n, err := w.Write(line(c))
		require.NoError(t, err)
		require.Equal(t, 40, n)
	}

	assert.Equal(t, string(line("D")), readFile(t, path))
	assert.Equal(t, string(line("C")), readFile(t, path+".1"))
	assert.Equal(t, string(line("B")), readFile(t, path+".2"))
	assert.NoFileExists(t, path+".3", "backups beyond the limit are removed")
}

func TestWriter_RotatesWithoutBackups(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "app.log")
	w, err := open(path, 10, 0)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte("12345678\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("an oversized write\n"))
	require.NoError(t, err)

	assert.Equal(t, "an oversized write\n", readFile(t, path))
	assert.NoFileExists(t, path+".1")
}

func TestWriter_IgnoresForeignFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	for _, name := range []string{"app.log.old", "app.log.0", "other.log.1"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0644))
	}
	w, err := open(path, 5, 1)
	require.NoError(t, err)
	defer w.Close()

	assert.Empty(t, w.backups())
	_, err = w.Write([]byte("first\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("second\n"))
	require.NoError(t, err)

	assert.Equal(t, []int{1}, w.backups())
	for _, name := range []string{"app.log.old", "app.log.0", "other.log.1"} {
		assert.Equal(t, name, readFile(t, filepath.Join(dir, name)))
	}
}

func TestWriter_Concurrent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "app.log")
	w, err := open(path, 100, 50)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 20 {
				_, err := w.Write([]byte("0123456789\n"))
				assert.NoError(t, err)
			}
		})
	}
	wg.Wait()
	require.NoError(t, w.Close())

	total := len(readFile(t, path))
	for _, n := range w.backups() {
		data := readFile(t, w.backupPath(n))
		assert.LessOrEqual(t, len(data), 100)
		total += len(data)
	}
	assert.Equal(t, 8*20*11, total)
}

func TestWriter_Closed(t *testing.T) {
	t.Parallel()
	w, err := open(filepath.Join(t.TempDir(), "app.log"), 10, 1)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err = w.Write([]byte("x"))
	assert.ErrorIs(t, err, os.ErrClosed)
}
