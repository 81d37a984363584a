// Package local implements the filesystem client for local filesystem operations.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"digital.vasic.vfs/pkg/client"
)

// blockSize is the preferred transfer block size for local files.
const blockSize = 128 * 1024

// Config contains local filesystem configuration.
type Config struct {
	BasePath string `json:"base_path"`
}

// Client implements client.Client for local filesystem.
type Client struct {
	config    *Config
	basePath  string
	connected bool
}

// NewLocalClient creates a new local filesystem client.
func NewLocalClient(config *Config) *Client {
	basePath := config.BasePath
	if basePath == "" {
		basePath = string(filepath.Separator)
	}
	return &Client{
		config:    config,
		basePath:  basePath,
		connected: false,
	}
}

// Connect establishes the connection (for local filesystem, this just validates the path).
func (c *Client) Connect(ctx context.Context) error {
	info, err := os.Stat(c.basePath)
	if err != nil {
		return fmt.Errorf("failed to access base path %s: %w", c.basePath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("base path %s is not a directory", c.basePath)
	}
	c.connected = true
	return nil
}

// Disconnect closes the connection (no-op for local filesystem).
func (c *Client) Disconnect(ctx context.Context) error {
	c.connected = false
	return nil
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.connected
}

// TestConnection tests the connection.
func (c *Client) TestConnection(ctx context.Context) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	_, err := os.Stat(c.basePath)
	return err
}

// resolvePath resolves a relative path to an absolute path within the base directory.
// Rooting the path before cleaning removes every ".." component.
func (c *Client) resolvePath(path string) string {
	cleanPath := filepath.Clean(string(filepath.Separator) + filepath.FromSlash(path))
	return filepath.Join(c.basePath, cleanPath)
}

// OpenFile opens a file on the local filesystem for reading.
func (c *Client) OpenFile(ctx context.Context, path string) (io.ReadCloser, error) {
	if !c.IsConnected() {
		return nil, client.ErrNotConnected
	}
	fullPath := c.resolvePath(path)
	file, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open local file %s: %w", fullPath, err)
	}
	info, err := file.Stat()
	if err == nil && info.IsDir() {
		file.Close()
		return nil, fmt.Errorf("failed to open local file %s: is a directory", fullPath)
	}
	return file, nil
}

// CreateFile creates a file on the local filesystem for writing.
func (c *Client) CreateFile(ctx context.Context, path string, opts client.CreateOptions) (io.WriteCloser, error) {
	if !c.IsConnected() {
		return nil, client.ErrNotConnected
	}
	fullPath := c.resolvePath(path)

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if opts.Exclusive {
		flags |= os.O_EXCL
	}
	perm := opts.Perm
	if perm == 0 {
		perm = 0644
	}

	file, err := os.OpenFile(fullPath, flags, perm)
	if err != nil {
		return nil, fmt.Errorf("failed to create local file %s: %w", fullPath, err)
	}
	return file, nil
}

// GetFileInfo gets information about a file, following symbolic links.
func (c *Client) GetFileInfo(ctx context.Context, path string) (*client.FileInfo, error) {
	if !c.IsConnected() {
		return nil, client.ErrNotConnected
	}
	fullPath := c.resolvePath(path)
	stat, err := os.Stat(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat local file %s: %w", fullPath, err)
	}

	return toFileInfo(stat, path, fullPath), nil
}

// ListDirectory lists files in a directory. Symbolic links are reported as links.
func (c *Client) ListDirectory(ctx context.Context, path string) ([]*client.FileInfo, error) {
	if !c.IsConnected() {
		return nil, client.ErrNotConnected
	}
	fullPath := c.resolvePath(path)
	entries, err := os.ReadDir(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to list local directory %s: %w", fullPath, err)
	}

	var files []*client.FileInfo
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, toFileInfo(info, client.JoinPath(path, entry.Name()), filepath.Join(fullPath, entry.Name())))
	}

	return files, nil
}

// FileExists checks if a file exists.
func (c *Client) FileExists(ctx context.Context, path string) (bool, error) {
	if !c.IsConnected() {
		return false, client.ErrNotConnected
	}
	fullPath := c.resolvePath(path)
	_, err := os.Lstat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check local file existence %s: %w", fullPath, err)
	}
	return true, nil
}

// CreateDirectory creates a single directory. The parent must exist.
func (c *Client) CreateDirectory(ctx context.Context, path string, perm os.FileMode) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	if perm == 0 {
		perm = 0755
	}
	fullPath := c.resolvePath(path)
	err := os.Mkdir(fullPath, perm)
	if err != nil {
		return fmt.Errorf("failed to create local directory %s: %w", fullPath, err)
	}
	return nil
}

// DeleteDirectory deletes a directory, with its contents when recursive is set.
func (c *Client) DeleteDirectory(ctx context.Context, path string, recursive bool) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	fullPath := c.resolvePath(path)
	var err error
	if recursive {
		err = os.RemoveAll(fullPath)
	} else {
		err = os.Remove(fullPath)
		if isNotEmpty(err) {
			err = fmt.Errorf("%w: %w", client.ErrNotEmpty, err)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to delete local directory %s: %w", fullPath, err)
	}
	return nil
}

// DeleteFile deletes a file.
func (c *Client) DeleteFile(ctx context.Context, path string) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	fullPath := c.resolvePath(path)
	err := os.Remove(fullPath)
	if err != nil {
		return fmt.Errorf("failed to delete local file %s: %w", fullPath, err)
	}
	return nil
}

// Move renames a file or directory within the local filesystem.
func (c *Client) Move(ctx context.Context, srcPath, dstPath string, overwrite bool) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	srcFullPath := c.resolvePath(srcPath)
	dstFullPath := c.resolvePath(dstPath)

	if !overwrite {
		if _, err := os.Lstat(dstFullPath); err == nil {
			return fmt.Errorf("failed to move local file %s to %s: %w", srcFullPath, dstFullPath, client.ErrExist)
		}
	}

	if err := os.Rename(srcFullPath, dstFullPath); err != nil {
		return fmt.Errorf("failed to move local file %s to %s: %w", srcFullPath, dstFullPath, err)
	}
	return nil
}

// SameFilesystem reports whether both paths live on the same device.
func (c *Client) SameFilesystem(ctx context.Context, pathA, pathB string) (bool, error) {
	if !c.IsConnected() {
		return false, client.ErrNotConnected
	}
	devA, err := deviceOf(c.resolvePath(pathA))
	if err != nil {
		return false, fmt.Errorf("failed to stat local path %s: %w", pathA, err)
	}
	devB, err := deviceOf(c.resolvePath(pathB))
	if err != nil {
		return false, fmt.Errorf("failed to stat local path %s: %w", pathB, err)
	}
	return devA == devB, nil
}

// CreateSymlink creates a symbolic link at path pointing to target.
func (c *Client) CreateSymlink(ctx context.Context, target, path string) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	fullPath := c.resolvePath(path)
	if err := os.Symlink(target, fullPath); err != nil {
		return fmt.Errorf("failed to create local symlink %s: %w", fullPath, err)
	}
	return nil
}

// BlockSize returns the preferred transfer block size.
func (c *Client) BlockSize() int {
	return blockSize
}

// GetProtocol returns the protocol name.
func (c *Client) GetProtocol() string {
	return "local"
}

// GetConfig returns the local configuration.
func (c *Client) GetConfig() interface{} {
	return c.config
}

func toFileInfo(stat os.FileInfo, path, fullPath string) *client.FileInfo {
	info := &client.FileInfo{
		Name:    stat.Name(),
		Size:    stat.Size(),
		ModTime: stat.ModTime(),
		IsDir:   stat.IsDir(),
		Mode:    stat.Mode(),
		Path:    path,
		ID:      fileID(stat, fullPath),
	}
	if stat.Mode()&os.ModeSymlink != 0 {
		info.IsSymlink = true
		if target, err := os.Readlink(fullPath); err == nil {
			info.LinkTarget = target
		}
	}
	return info
}
