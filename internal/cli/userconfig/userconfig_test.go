package userconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.APIURL)
}

func TestRemember(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	require.NoError(t, Remember("https://portal.example", "a@b.com"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://portal.example", cfg.APIURL)
	assert.Equal(t, "a@b.com", cfg.Email)

	info, err := os.Stat(filepath.Join(home, ".config", "ngdi", "config.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestLoad_Corrupt(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".config", "ngdi")
	require.NoError(t, os.MkdirAll(dir, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{"), 0600))

	_, err := Load()
	assert.ErrorContains(t, err, "failed to parse user config file")
}
