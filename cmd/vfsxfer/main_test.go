package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	code   int
	stdout string
	stderr string
}

func vfsxfer(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, strings.NewReader(stdin), &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

// workspace isolates the config lookup and returns a scratch directory.
func workspace(t *testing.T) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	return t.TempDir()
}

func writeFile(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(name), 0o755))
	require.NoError(t, os.WriteFile(name, []byte(content), 0o644))
}

func readFile(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(name)
	require.NoError(t, err)
	return string(data)
}

func TestCopyFileIntoDirectory(t *testing.T) {
	dir := workspace(t)
	writeFile(t, filepath.Join(dir, "src", "a.txt"), "alpha")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dst"), 0o755))

	res := vfsxfer(t, "", "cp", filepath.Join(dir, "src", "a.txt"), filepath.Join(dir, "dst"))
	require.Equal(t, 0, res.code, res.stderr)

	assert.Equal(t, "alpha", readFile(t, filepath.Join(dir, "dst", "a.txt")))
	assert.Contains(t, res.stdout, "a.txt")
	assert.Contains(t, res.stderr, "1 of 1 files")
}

func TestCopyRenames(t *testing.T) {
	dir := workspace(t)
	writeFile(t, filepath.Join(dir, "a.txt"), "alpha")

	res := vfsxfer(t, "", "cp", "-q", filepath.Join(dir, "a.txt"), filepath.Join(dir, "b.txt"))
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "alpha", readFile(t, filepath.Join(dir, "b.txt")))
	assert.Empty(t, res.stdout)
	assert.Empty(t, res.stderr)
}

func TestCopyRecursive(t *testing.T) {
	dir := workspace(t)
	writeFile(t, filepath.Join(dir, "src", "tree", "a.txt"), "alpha")
	writeFile(t, filepath.Join(dir, "src", "tree", "skip.log"), "log")
	writeFile(t, filepath.Join(dir, "src", "tree", "sub", "b.txt"), "beta")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dst"), 0o755))

	res := vfsxfer(t, "", "cp", "-r", "--verify", "--exclude", "*.log",
		filepath.Join(dir, "src", "tree"), filepath.Join(dir, "dst"))
	require.Equal(t, 0, res.code, res.stderr)

	assert.Equal(t, "beta", readFile(t, filepath.Join(dir, "dst", "tree", "sub", "b.txt")))
	_, err := os.Stat(filepath.Join(dir, "dst", "tree", "skip.log"))
	assert.True(t, os.IsNotExist(err))
}

func TestCopyDirectoryWithoutRecursive(t *testing.T) {
	dir := workspace(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src", "tree"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dst"), 0o755))

	res := vfsxfer(t, "", "cp", "--errors", "abort",
		filepath.Join(dir, "src", "tree"), filepath.Join(dir, "dst"))
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "is a directory")
}

func TestCopyOverwritePrompt(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   string
	}{
		{"replace", "r\n", "new"},
		{"skip", "s\n", "old"},
		{"retry prompt on bad input", "x\nr\n", "new"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := workspace(t)
			writeFile(t, filepath.Join(dir, "src", "a.txt"), "new")
			writeFile(t, filepath.Join(dir, "dst", "a.txt"), "old")

			res := vfsxfer(t, tt.answer, "cp", filepath.Join(dir, "src", "a.txt"), filepath.Join(dir, "dst"))
			require.Equal(t, 0, res.code, res.stderr)
			assert.Contains(t, res.stderr, "already exists")
			assert.Equal(t, tt.want, readFile(t, filepath.Join(dir, "dst", "a.txt")))
		})
	}
}

func TestCopyOverwritePromptEOFAborts(t *testing.T) {
	dir := workspace(t)
	writeFile(t, filepath.Join(dir, "src", "a.txt"), "new")
	writeFile(t, filepath.Join(dir, "dst", "a.txt"), "old")

	res := vfsxfer(t, "", "cp", filepath.Join(dir, "src", "a.txt"), filepath.Join(dir, "dst"))
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "file exists")
	assert.Equal(t, "old", readFile(t, filepath.Join(dir, "dst", "a.txt")))
}

func TestCopyUnique(t *testing.T) {
	dir := workspace(t)
	writeFile(t, filepath.Join(dir, "src", "a.txt"), "new")
	writeFile(t, filepath.Join(dir, "dst", "a.txt"), "old")

	res := vfsxfer(t, "", "cp", "--unique", filepath.Join(dir, "src", "a.txt"), filepath.Join(dir, "dst"))
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "new", readFile(t, filepath.Join(dir, "dst", "a (copy).txt")))
}

func TestMove(t *testing.T) {
	dir := workspace(t)
	writeFile(t, filepath.Join(dir, "src", "a.txt"), "alpha")
	writeFile(t, filepath.Join(dir, "src", "b.txt"), "beta")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dst"), 0o755))

	res := vfsxfer(t, "", "mv", "--same-fs",
		filepath.Join(dir, "src", "a.txt"), filepath.Join(dir, "src", "b.txt"), filepath.Join(dir, "dst"))
	require.Equal(t, 0, res.code, res.stderr)

	assert.Equal(t, "alpha", readFile(t, filepath.Join(dir, "dst", "a.txt")))
	assert.Equal(t, "beta", readFile(t, filepath.Join(dir, "dst", "b.txt")))
	_, err := os.Stat(filepath.Join(dir, "src", "a.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestTransferArgumentErrors(t *testing.T) {
	dir := workspace(t)
	writeFile(t, filepath.Join(dir, "one", "a.txt"), "a")
	writeFile(t, filepath.Join(dir, "two", "b.txt"), "b")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"too few", []string{"cp", "x"}, "requires at least 2 arg"},
		{"sources in two directories",
			[]string{"cp", filepath.Join(dir, "one", "a.txt"), filepath.Join(dir, "two", "b.txt"), filepath.Join(dir, "out")},
			"sources must share one directory"},
		{"many sources into a file",
			[]string{"cp", filepath.Join(dir, "one", "a.txt"), filepath.Join(dir, "one", "a.txt"), filepath.Join(dir, "two", "b.txt")},
			"not a directory"},
		{"bad overwrite mode", []string{"cp", "--overwrite", "merge", "a", "b"}, "unknown overwrite mode"},
		{"bad bwlimit", []string{"cp", "--bwlimit", "fast", "a", "b"}, "invalid --bwlimit"},
		{"unsupported scheme", []string{"cp", "gopher://host/a", dir}, "unsupported protocol"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := vfsxfer(t, "", tt.args...)
			assert.Equal(t, 1, res.code)
			assert.Contains(t, res.stderr, tt.want)
		})
	}
}

func TestList(t *testing.T) {
	dir := workspace(t)
	writeFile(t, filepath.Join(dir, "a.txt"), "alpha")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.Symlink("a.txt", filepath.Join(dir, "link")))

	res := vfsxfer(t, "", "ls", dir)
	require.Equal(t, 0, res.code, res.stderr)

	lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasSuffix(lines[0], "a.txt"))
	assert.Contains(t, lines[0], "5 B")
	assert.True(t, strings.HasSuffix(lines[1], "link -> a.txt"))
	assert.True(t, strings.HasSuffix(lines[2], "sub"))
}

func TestConfigStorage(t *testing.T) {
	dir := workspace(t)
	writeFile(t, filepath.Join(dir, "data", "a.txt"), "alpha")

	configPath := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, configPath, `
[defaults]
overwrite = "replace"

[storage.work]
protocol = "local"
base_path = "`+filepath.ToSlash(filepath.Join(dir, "data"))+`"
`)
	writeFile(t, filepath.Join(dir, "data", "b.txt"), "old")

	res := vfsxfer(t, "", "cp", "--config", configPath, "work:/a.txt", "work:/b.txt")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "alpha", readFile(t, filepath.Join(dir, "data", "b.txt")))

	res = vfsxfer(t, "", "protocols", "--config", configPath)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "sftp\n")
	assert.Contains(t, res.stdout, "work: (local)")
}

func TestInvalidConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, configPath, "invalid [[[")

	res := vfsxfer(t, "", "protocols", "--config", configPath)
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "failed to load config")
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", logLevel(true, false).String())
	assert.Equal(t, "ERROR", logLevel(false, true).String())
	assert.Equal(t, "WARN", logLevel(false, false).String())
}
