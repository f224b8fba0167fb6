package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestSetupWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docquery.log")
	cleanup, err := Setup(Config{Level: "debug", FilePath: path, Quiet: true})
	require.NoError(t, err)

	slog.Info("search completed", slog.String("owner", "alice"), slog.Int("results", 3))
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"search completed"`)
	assert.Contains(t, string(data), `"owner":"alice"`)
	assert.True(t, bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")))
}

func TestRotatingWriterRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docquery.log")

	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	// Force rotation twice by writing past the 1MB limit.
	payload := bytes.Repeat([]byte("x"), 600*1024)
	for i := 0; i < 4; i++ {
		_, err := w.Write(payload)
		require.NoError(t, err)
	}

	_, err = os.Stat(path)
	require.NoError(t, err)
	_, err = os.Stat(path + ".1")
	require.NoError(t, err)

	// Never more than maxBackups rotated files.
	matches, err := filepath.Glob(path + ".*")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(matches), 2)
}

func TestRotatingWriterKeepsNewestContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docquery.log")

	w, err := NewRotatingWriter(path, 1, 1)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	old := append(bytes.Repeat([]byte("a"), 1024*1024), '\n')
	_, err = w.Write(old)
	require.NoError(t, err)

	_, err = w.Write([]byte("newest line\n"))
	require.NoError(t, err)
	require.NoError(t, w.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "newest line\n", string(data))

	rotatedData, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	assert.Equal(t, len(old), len(rotatedData))
}
