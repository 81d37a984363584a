// Package sftp implements the filesystem client for SFTP over SSH.
package sftp

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"digital.vasic.vfs/pkg/client"
)

// Config contains SFTP connection configuration.
type Config struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	KeyFile        string `json:"key_file"`
	KnownHostsFile string `json:"known_hosts_file"`
	// StrictHostKey refuses to connect when known_hosts cannot be loaded.
	StrictHostKey bool `json:"strict_host_key"`
	// InsecureHostKey skips host key verification entirely.
	InsecureHostKey bool   `json:"insecure_host_key"`
	Path            string `json:"path"`
}

// Client implements client.Client for SFTP.
type Client struct {
	config    *Config
	ssh       *ssh.Client
	sftp      *sftp.Client
	connected bool
}

// NewSFTPClient creates a new SFTP client.
func NewSFTPClient(config *Config) *Client {
	return &Client{
		config: config,
	}
}

// NewSFTPClientWithSession creates a client over an already established
// SFTP session. The client is connected; Disconnect closes the session.
func NewSFTPClientWithSession(config *Config, session *sftp.Client) *Client {
	return &Client{
		config:    config,
		sftp:      session,
		connected: true,
	}
}

// Connect establishes the SSH connection and opens an SFTP session.
func (c *Client) Connect(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}

	sshClient, err := dialSSH(ctx, c.config)
	if err != nil {
		return err
	}

	sftpClient, err := sftp.NewClient(sshClient, sftp.UseConcurrentWrites(true))
	if err != nil {
		sshClient.Close()
		return fmt.Errorf("failed to open SFTP session: %w", err)
	}

	c.ssh = sshClient
	c.sftp = sftpClient
	c.connected = true
	return nil
}

// Disconnect closes the SFTP session and SSH connection.
func (c *Client) Disconnect(ctx context.Context) error {
	var errs []error

	if c.sftp != nil {
		if err := c.sftp.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close SFTP session: %w", err))
		}
		c.sftp = nil
	}

	if c.ssh != nil {
		if err := c.ssh.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close SSH connection: %w", err))
		}
		c.ssh = nil
	}

	c.connected = false
	if len(errs) > 0 {
		return fmt.Errorf("errors closing SFTP client: %v", errs)
	}
	return nil
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.connected && c.sftp != nil
}

// TestConnection tests the SFTP connection.
func (c *Client) TestConnection(ctx context.Context) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	_, err := c.sftp.Getwd()
	return err
}

// resolvePath resolves a relative path within the configured base path.
// Without a base path, paths are relative to the login directory.
func (c *Client) resolvePath(p string) string {
	clean := strings.TrimPrefix(path.Clean("/"+p), "/")
	if c.config.Path != "" {
		return path.Join(c.config.Path, clean)
	}
	if clean == "" {
		return "."
	}
	return clean
}

// OpenFile opens a remote file for reading.
func (c *Client) OpenFile(ctx context.Context, p string) (io.ReadCloser, error) {
	if !c.IsConnected() {
		return nil, client.ErrNotConnected
	}
	fullPath := c.resolvePath(p)
	file, err := c.sftp.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SFTP file %s: %w", fullPath, err)
	}
	if stat, err := file.Stat(); err == nil && stat.IsDir() {
		file.Close()
		return nil, fmt.Errorf("failed to open SFTP file %s: is a directory", fullPath)
	}
	return file, nil
}

// CreateFile creates a remote file for writing.
func (c *Client) CreateFile(ctx context.Context, p string, opts client.CreateOptions) (io.WriteCloser, error) {
	if !c.IsConnected() {
		return nil, client.ErrNotConnected
	}
	fullPath := c.resolvePath(p)

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if opts.Exclusive {
		flags |= os.O_EXCL
	}

	file, err := c.sftp.OpenFile(fullPath, flags)
	if err != nil {
		// servers report a failed O_EXCL open as a generic failure
		if opts.Exclusive {
			if _, statErr := c.sftp.Lstat(fullPath); statErr == nil {
				return nil, fmt.Errorf("failed to create SFTP file %s: %w", fullPath, client.ErrExist)
			}
		}
		return nil, fmt.Errorf("failed to create SFTP file %s: %w", fullPath, err)
	}
	if opts.Perm != 0 {
		if err := file.Chmod(opts.Perm); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to set mode on SFTP file %s: %w", fullPath, err)
		}
	}
	return file, nil
}

// GetFileInfo gets information about a file, following symbolic links. The
// ID is the server's canonical path so links to one directory compare equal.
func (c *Client) GetFileInfo(ctx context.Context, p string) (*client.FileInfo, error) {
	if !c.IsConnected() {
		return nil, client.ErrNotConnected
	}
	fullPath := c.resolvePath(p)
	stat, err := c.sftp.Stat(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat SFTP file %s: %w", fullPath, err)
	}

	info := c.toFileInfo(stat, p, fullPath)
	info.Name = path.Base(fullPath)
	if canonical, err := c.sftp.RealPath(fullPath); err == nil {
		info.ID = c.objectID(canonical)
	}
	return info, nil
}

// ListDirectory lists files in a directory. Symbolic links are reported as links.
func (c *Client) ListDirectory(ctx context.Context, p string) ([]*client.FileInfo, error) {
	if !c.IsConnected() {
		return nil, client.ErrNotConnected
	}
	fullPath := c.resolvePath(p)
	entries, err := c.sftp.ReadDir(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to list SFTP directory %s: %w", fullPath, err)
	}

	files := make([]*client.FileInfo, 0, len(entries))
	for _, entry := range entries {
		childPath := path.Join(fullPath, entry.Name())
		info := c.toFileInfo(entry, client.JoinPath(p, entry.Name()), childPath)
		if info.IsSymlink {
			if target, err := c.sftp.ReadLink(childPath); err == nil {
				info.LinkTarget = target
			}
		}
		files = append(files, info)
	}
	return files, nil
}

// FileExists checks if a file exists.
func (c *Client) FileExists(ctx context.Context, p string) (bool, error) {
	if !c.IsConnected() {
		return false, client.ErrNotConnected
	}
	fullPath := c.resolvePath(p)
	_, err := c.sftp.Lstat(fullPath)
	if err != nil {
		if client.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check SFTP file existence %s: %w", fullPath, err)
	}
	return true, nil
}

// CreateDirectory creates a single directory.
func (c *Client) CreateDirectory(ctx context.Context, p string, perm os.FileMode) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	fullPath := c.resolvePath(p)
	if err := c.sftp.Mkdir(fullPath); err != nil {
		if _, statErr := c.sftp.Lstat(fullPath); statErr == nil {
			return fmt.Errorf("failed to create SFTP directory %s: %w", fullPath, client.ErrExist)
		}
		return fmt.Errorf("failed to create SFTP directory %s: %w", fullPath, err)
	}
	if perm != 0 {
		if err := c.sftp.Chmod(fullPath, perm); err != nil {
			return fmt.Errorf("failed to set mode on SFTP directory %s: %w", fullPath, err)
		}
	}
	return nil
}

// DeleteDirectory deletes a directory, with its contents when recursive is set.
func (c *Client) DeleteDirectory(ctx context.Context, p string, recursive bool) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	fullPath := c.resolvePath(p)

	if recursive {
		if err := c.removeAll(fullPath); err != nil {
			return fmt.Errorf("failed to delete SFTP directory %s: %w", fullPath, err)
		}
		return nil
	}

	if err := c.sftp.RemoveDirectory(fullPath); err != nil {
		if entries, readErr := c.sftp.ReadDir(fullPath); readErr == nil && len(entries) > 0 {
			return fmt.Errorf("failed to delete SFTP directory %s: %w", fullPath, client.ErrNotEmpty)
		}
		return fmt.Errorf("failed to delete SFTP directory %s: %w", fullPath, err)
	}
	return nil
}

// removeAll recursively removes a directory tree without following links.
func (c *Client) removeAll(fullPath string) error {
	info, err := c.sftp.Lstat(fullPath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return c.sftp.Remove(fullPath)
	}

	entries, err := c.sftp.ReadDir(fullPath)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := c.removeAll(path.Join(fullPath, entry.Name())); err != nil {
			return err
		}
	}
	return c.sftp.RemoveDirectory(fullPath)
}

// DeleteFile deletes a file.
func (c *Client) DeleteFile(ctx context.Context, p string) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	fullPath := c.resolvePath(p)
	if err := c.sftp.Remove(fullPath); err != nil {
		return fmt.Errorf("failed to delete SFTP file %s: %w", fullPath, err)
	}
	return nil
}

// Move renames a file or directory. Plain SFTP rename refuses to replace an
// existing target, so overwriting moves use the posix-rename extension.
func (c *Client) Move(ctx context.Context, srcPath, dstPath string, overwrite bool) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	srcFullPath := c.resolvePath(srcPath)
	dstFullPath := c.resolvePath(dstPath)

	var err error
	if overwrite {
		err = c.sftp.PosixRename(srcFullPath, dstFullPath)
	} else {
		if _, statErr := c.sftp.Lstat(dstFullPath); statErr == nil {
			return fmt.Errorf("failed to move SFTP file %s to %s: %w", srcFullPath, dstFullPath, client.ErrExist)
		}
		err = c.sftp.Rename(srcFullPath, dstFullPath)
	}
	if err != nil {
		return fmt.Errorf("failed to move SFTP file %s to %s: %w", srcFullPath, dstFullPath, err)
	}
	return nil
}

// SameFilesystem reports true: renames are attempted on the server, which
// rejects cross-device moves itself.
func (c *Client) SameFilesystem(ctx context.Context, pathA, pathB string) (bool, error) {
	if !c.IsConnected() {
		return false, client.ErrNotConnected
	}
	return true, nil
}

// CreateSymlink creates a symbolic link at p pointing to target.
func (c *Client) CreateSymlink(ctx context.Context, target, p string) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	fullPath := c.resolvePath(p)
	if err := c.sftp.Symlink(target, fullPath); err != nil {
		return fmt.Errorf("failed to create SFTP symlink %s: %w", fullPath, err)
	}
	return nil
}

// GetProtocol returns the protocol name.
func (c *Client) GetProtocol() string {
	return "sftp"
}

// GetConfig returns the SFTP configuration.
func (c *Client) GetConfig() interface{} {
	return c.config
}

func (c *Client) objectID(fullPath string) string {
	port := c.config.Port
	if port == 0 {
		port = 22
	}
	return "sftp://" + net.JoinHostPort(c.config.Host, strconv.Itoa(port)) + path.Clean("/"+fullPath)
}

func (c *Client) toFileInfo(stat os.FileInfo, p, fullPath string) *client.FileInfo {
	return &client.FileInfo{
		Name:      stat.Name(),
		Size:      stat.Size(),
		ModTime:   stat.ModTime(),
		IsDir:     stat.IsDir(),
		IsSymlink: stat.Mode()&os.ModeSymlink != 0,
		Mode:      stat.Mode(),
		Path:      p,
		ID:        c.objectID(fullPath),
	}
}
