package logger

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRotatingWriter(t *testing.T) {
	t.Run("creates file and directory", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "balatrollm.log")

		rw, err := NewRotatingWriter(logFile, 10, 7, false)
		require.NoError(t, err)
		defer rw.Close()

		_, err = os.Stat(logFile)
		assert.NoError(t, err)
	})

	t.Run("appends to existing file", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "balatrollm.log")
		require.NoError(t, os.WriteFile(logFile, []byte("before\n"), 0644))

		rw, err := NewRotatingWriter(logFile, 10, 7, false)
		require.NoError(t, err)
		_, err = rw.Write([]byte("after\n"))
		require.NoError(t, err)
		require.NoError(t, rw.Close())

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Equal(t, "before\nafter\n", string(content))
	})
}

func TestRotatingWriterRotation(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "balatrollm.log")

	// 0 MB rotates whenever the file already holds data
	rw, err := NewRotatingWriter(logFile, 0, 0, false)
	require.NoError(t, err)
	tick := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rw.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	for _, line := range []string{"one\n", "two\n", "three\n"} {
		_, err := rw.Write([]byte(line))
		require.NoError(t, err)
	}
	require.NoError(t, rw.Close())

	backups := rw.backups()
	assert.Len(t, backups, 2)

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, "three\n", string(content))

	first, err := os.ReadFile(filepath.Join(dir, "balatrollm-20260102T030406.000.log"))
	require.NoError(t, err)
	assert.Equal(t, "one\n", string(first))
}

func TestRotatingWriterCompressesBackups(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "balatrollm.log")

	rw, err := NewRotatingWriter(logFile, 0, 0, true)
	require.NoError(t, err)
	_, err = rw.Write([]byte("first\n"))
	require.NoError(t, err)
	_, err = rw.Write([]byte("second\n"))
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	backups := rw.backups()
	require.Len(t, backups, 1)
	assert.Equal(t, ".gz", filepath.Ext(backups[0]))

	f, err := os.Open(backups[0])
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, "first\n", string(data))
}

func TestRotatingWriterConcurrentWrites(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "balatrollm.log")
	rw, err := NewRotatingWriter(logFile, 10, 7, false)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = rw.Write([]byte("0123456789\n"))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, rw.Close())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Len(t, content, 8*50*11)
}

func TestRotatingWriterWriteAfterClose(t *testing.T) {
	rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), "balatrollm.log"), 10, 7, false)
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	_, err = rw.Write([]byte("late\n"))
	assert.ErrorIs(t, err, os.ErrClosed)
	assert.NoError(t, rw.Close())
}

func TestCompressFile(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "run.log")
	require.NoError(t, os.WriteFile(testFile, []byte("test content"), 0644))

	require.NoError(t, compressFile(testFile))

	_, err := os.Stat(testFile + ".gz")
	assert.NoError(t, err)
	_, err = os.Stat(testFile)
	assert.True(t, os.IsNotExist(err))
}

func TestPruneOldBackups(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "balatrollm.log")

	old := filepath.Join(dir, "balatrollm-20200101T120000.000.log.gz")
	recent := filepath.Join(dir, "balatrollm-20200102T120000.000.log")
	unrelated := filepath.Join(dir, "other-20200101T120000.000.log")
	for _, p := range []string{old, recent, unrelated} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
	}
	oldTime := time.Now().AddDate(0, 0, -10)
	require.NoError(t, os.Chtimes(old, oldTime, oldTime))
	require.NoError(t, os.Chtimes(unrelated, oldTime, oldTime))

	rw, err := NewRotatingWriter(logFile, 10, 7, false)
	require.NoError(t, err)
	defer rw.Close()

	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(recent)
	assert.NoError(t, err)
	_, err = os.Stat(unrelated)
	assert.NoError(t, err)
}
