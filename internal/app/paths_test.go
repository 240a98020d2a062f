package app

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPaths(t *testing.T) {
	p := NewPaths("/project")
	assert.Equal(t, "/project", p.Project)
	assert.Equal(t, filepath.Join("/project", "bakewatch.yaml"), p.Config)
	assert.Equal(t, filepath.Join("/project", ".bakewatch"), p.Root)
	assert.Equal(t, filepath.Join("/project", ".bakewatch", "history.db"), p.DB)
	assert.Equal(t, filepath.Join("/project", ".bakewatch", "log"), p.LogDir)
	assert.Equal(t, filepath.Join("/project", ".bakewatch", "log", "watch.log"), p.WatchLog)
	assert.Equal(t, filepath.Join("/project", ".bakewatch", "run"), p.RunDir)
	assert.Equal(t, filepath.Join("/project", ".bakewatch", "run", "watch.pid"), p.PIDFile)
}

func TestEnsureDirs(t *testing.T) {
	p := NewPaths(t.TempDir())

	require.NoError(t, p.EnsureDirs())
	for _, d := range []string{p.Root, p.LogDir, p.RunDir} {
		info, err := os.Stat(d)
		require.NoError(t, err, "dir %s should exist", d)
		assert.True(t, info.IsDir())
	}
	require.NoError(t, p.EnsureDirs())
}

func TestPIDFileLifecycle(t *testing.T) {
	p := NewPaths(t.TempDir())
	require.NoError(t, p.EnsureDirs())

	require.NoError(t, p.WritePID())
	data, err := os.ReadFile(p.PIDFile)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	p.CleanEphemeral()
	_, err = os.Stat(p.PIDFile)
	assert.True(t, os.IsNotExist(err))
	p.CleanEphemeral()
}
