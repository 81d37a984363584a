package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	configDir := filepath.Join(dir, "vfsxfer")
	require.NoError(t, os.MkdirAll(configDir, 0o755))
	path := filepath.Join(configDir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	assert.Equal(t, "/custom/config/vfsxfer/config.toml", Path())
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Nil(t, cfg.Defaults.Overwrite)
	assert.Nil(t, cfg.Defaults.Verify)
	assert.Empty(t, cfg.StorageNames())
}

func TestLoad_FullConfig(t *testing.T) {
	writeConfig(t, `
[defaults]
overwrite = "skip"
errors = "query"
follow_symlinks = true
verify = false
progress_interval = "250ms"
block_size = "256K"
bwlimit = "10M"

[storage.nas]
protocol = "smb"
host = "nas.local"
port = 445
share = "media"
username = "me"

[storage.scratch]
protocol = "memory"
`)

	cfg, err := Load()
	require.NoError(t, err)

	require.NotNil(t, cfg.Defaults.Overwrite)
	assert.Equal(t, "skip", *cfg.Defaults.Overwrite)
	require.NotNil(t, cfg.Defaults.Errors)
	assert.Equal(t, "query", *cfg.Defaults.Errors)
	require.NotNil(t, cfg.Defaults.FollowSymlinks)
	assert.True(t, *cfg.Defaults.FollowSymlinks)
	require.NotNil(t, cfg.Defaults.Verify)
	assert.False(t, *cfg.Defaults.Verify)
	require.NotNil(t, cfg.Defaults.ProgressInterval)
	assert.Equal(t, "250ms", *cfg.Defaults.ProgressInterval)
	require.NotNil(t, cfg.Defaults.BlockSize)
	assert.Equal(t, "256K", *cfg.Defaults.BlockSize)
	require.NotNil(t, cfg.Defaults.BWLimit)
	assert.Equal(t, "10M", *cfg.Defaults.BWLimit)
	assert.Nil(t, cfg.Defaults.Verbose)

	assert.Equal(t, []string{"nas", "scratch"}, cfg.StorageNames())

	sc, err := cfg.StorageConfig("nas")
	require.NoError(t, err)
	assert.Equal(t, "smb", sc.Protocol)
	assert.Equal(t, "nas", sc.Name)
	assert.True(t, sc.Enabled)
	assert.Equal(t, map[string]interface{}{
		"host":     "nas.local",
		"port":     int64(445),
		"share":    "media",
		"username": "me",
	}, sc.Settings)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte("[defaults]\nverify = true\n"), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Defaults.Verify)
	assert.True(t, *cfg.Defaults.Verify)

	cfg, err = LoadFile(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Nil(t, cfg.Defaults.Verify)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"invalid toml", "invalid [[["},
		{"unknown default", "[defaults]\nworkers = 4\n"},
		{"storage without protocol", "[storage.nas]\nhost = \"nas\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeConfig(t, tt.content)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestResolve(t *testing.T) {
	cfg := Config{Storage: map[string]map[string]interface{}{
		"nas":  {"protocol": "smb", "host": "nas", "share": "media"},
		"temp": {"protocol": "memory"},
	}}

	sc, p, ok, err := cfg.Resolve("nas:/movies/a.mkv")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "smb", sc.Protocol)
	assert.Equal(t, "/movies/a.mkv", p)

	sc, p, ok, err = cfg.Resolve("temp:")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "memory", sc.Protocol)
	assert.Equal(t, "/", p)

	for _, addr := range []string{"other:/x", "/plain/path", "smb://nas/media/x", "relative"} {
		_, _, ok, err := cfg.Resolve(addr)
		require.NoError(t, err)
		assert.False(t, ok, addr)
	}

	_, err = cfg.StorageConfig("missing")
	assert.Error(t, err)
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"0", 0},
		{"512", 512},
		{"100B", 100},
		{"1K", 1024},
		{"1k", 1024},
		{"10M", 10 << 20},
		{"1.5G", 3 << 29},
		{"2T", 2 << 40},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "M", "abc", "-1", "1X"} {
		_, err := ParseSize(bad)
		assert.Error(t, err, bad)
	}
}
