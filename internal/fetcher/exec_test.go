package fetcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hunyaochong/ads-cloner/internal/config"
)

// writeScript creates a shell script receiving
// --single-url URL --output-dir DIR --filename NAME as $1..$6.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "download.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func newTestExecFetcher(script string) *ExecFetcher {
	return NewExecFetcher(config.FetcherConfig{Command: "sh", Script: script})
}

func TestExecFetcher_Fetch(t *testing.T) {
	script := writeScript(t, `printf '%s' "$2" > "$4/$6"`)
	dest := filepath.Join(t.TempDir(), "222.mp4")

	err := newTestExecFetcher(script).Fetch(context.Background(), "https://video.example.com/v.mp4", dest)
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "https://video.example.com/v.mp4", string(data))
}

func TestExecFetcher_NonZeroExit(t *testing.T) {
	script := writeScript(t, `echo "video unavailable" >&2; exit 3`)
	dest := filepath.Join(t.TempDir(), "222.mp4")

	err := newTestExecFetcher(script).Fetch(context.Background(), "https://video.example.com/v.mp4", dest)
	require.Error(t, err)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, 3, fetchErr.ExitCode)
	assert.Equal(t, "video unavailable", fetchErr.Stderr)
	assert.Contains(t, err.Error(), "video unavailable")
}

func TestExecFetcher_MissingOutput(t *testing.T) {
	script := writeScript(t, `exit 0`)
	dest := filepath.Join(t.TempDir(), "222.mp4")

	err := newTestExecFetcher(script).Fetch(context.Background(), "https://video.example.com/v.mp4", dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file not found")
}

func TestExecFetcher_EmptyURL(t *testing.T) {
	script := writeScript(t, `touch "$4/called"`)
	dir := t.TempDir()

	err := newTestExecFetcher(script).Fetch(context.Background(), "", filepath.Join(dir, "x.mp4"))
	assert.ErrorIs(t, err, ErrEmptyURL)

	_, statErr := os.Stat(filepath.Join(dir, "called"))
	assert.True(t, os.IsNotExist(statErr))
}
