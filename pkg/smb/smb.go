// Package smb implements the filesystem client for SMB protocol.
package smb

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strings"
	"time"

	"github.com/hirochachacha/go-smb2"

	"digital.vasic.vfs/pkg/client"
)

// Config contains SMB connection configuration.
type Config struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Share    string `json:"share"`
	Username string `json:"username"`
	Password string `json:"password"`
	Domain   string `json:"domain"`
}

// Client implements client.Client for SMB protocol.
type Client struct {
	conn    net.Conn
	session *smb2.Session
	share   *smb2.Share
	config  *Config
}

// NewSMBClient creates a new SMB client.
func NewSMBClient(config *Config) *Client {
	return &Client{
		config: config,
	}
}

// Connect establishes the SMB connection.
func (c *Client) Connect(ctx context.Context) error {
	port := c.config.Port
	if port == 0 {
		port = 445
	}
	addr := net.JoinHostPort(c.config.Host, fmt.Sprintf("%d", port))
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMB server: %w", err)
	}

	d := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     c.config.Username,
			Password: c.config.Password,
			Domain:   c.config.Domain,
		},
	}

	session, err := d.DialContext(ctx, conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create SMB session: %w", err)
	}

	share, err := session.Mount(c.config.Share)
	if err != nil {
		session.Logoff()
		conn.Close()
		return fmt.Errorf("failed to mount SMB share: %w", err)
	}

	c.conn = conn
	c.session = session
	c.share = share
	return nil
}

// Disconnect closes the SMB connection.
func (c *Client) Disconnect(ctx context.Context) error {
	var errs []error

	if c.share != nil {
		if err := c.share.Umount(); err != nil {
			errs = append(errs, fmt.Errorf("failed to unmount share: %w", err))
		}
		c.share = nil
	}

	if c.session != nil {
		if err := c.session.Logoff(); err != nil {
			errs = append(errs, fmt.Errorf("failed to logoff session: %w", err))
		}
		c.session = nil
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
		c.conn = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing SMB client: %v", errs)
	}

	return nil
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.share != nil && c.session != nil && c.conn != nil
}

// TestConnection tests the SMB connection.
func (c *Client) TestConnection(ctx context.Context) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	_, err := c.share.WithContext(ctx).ReadDir("")
	return err
}

// sharePath converts a slash separated path to the share-relative form
// go-smb2 expects: no leading separator, no dot components.
func sharePath(p string) string {
	clean := strings.TrimPrefix(path.Clean("/"+p), "/")
	return clean
}

// OpenFile opens a file on the SMB share for reading.
func (c *Client) OpenFile(ctx context.Context, path string) (io.ReadCloser, error) {
	if !c.IsConnected() {
		return nil, client.ErrNotConnected
	}
	file, err := c.share.WithContext(ctx).Open(sharePath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open SMB file %s: %w", path, mapError(err))
	}
	return file, nil
}

// CreateFile creates a file on the SMB share for writing.
func (c *Client) CreateFile(ctx context.Context, path string, opts client.CreateOptions) (io.WriteCloser, error) {
	if !c.IsConnected() {
		return nil, client.ErrNotConnected
	}
	share := c.share.WithContext(ctx)
	name := sharePath(path)

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if opts.Exclusive {
		flags |= os.O_EXCL
	}
	perm := opts.Perm
	if perm == 0 {
		perm = 0644
	}

	file, err := share.OpenFile(name, flags, perm)
	if err != nil {
		if opts.Exclusive {
			if _, statErr := share.Lstat(name); statErr == nil {
				return nil, fmt.Errorf("failed to create SMB file %s: %w", path, client.ErrExist)
			}
		}
		return nil, fmt.Errorf("failed to create SMB file %s: %w", path, mapError(err))
	}
	return file, nil
}

// GetFileInfo gets information about a file.
func (c *Client) GetFileInfo(ctx context.Context, path string) (*client.FileInfo, error) {
	if !c.IsConnected() {
		return nil, client.ErrNotConnected
	}
	stat, err := c.share.WithContext(ctx).Stat(sharePath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to stat SMB file %s: %w", path, mapError(err))
	}

	return c.toFileInfo(stat, path), nil
}

// ListDirectory lists files in a directory.
func (c *Client) ListDirectory(ctx context.Context, path string) ([]*client.FileInfo, error) {
	if !c.IsConnected() {
		return nil, client.ErrNotConnected
	}
	entries, err := c.share.WithContext(ctx).ReadDir(sharePath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to list SMB directory %s: %w", path, mapError(err))
	}

	var files []*client.FileInfo
	for _, entry := range entries {
		files = append(files, c.toFileInfo(entry, client.JoinPath(path, entry.Name())))
	}

	return files, nil
}

// FileExists checks if a file exists.
func (c *Client) FileExists(ctx context.Context, path string) (bool, error) {
	if !c.IsConnected() {
		return false, client.ErrNotConnected
	}
	_, err := c.share.WithContext(ctx).Lstat(sharePath(path))
	if err != nil {
		if client.IsNotExist(mapError(err)) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check SMB file existence %s: %w", path, err)
	}
	return true, nil
}

// CreateDirectory creates a directory.
func (c *Client) CreateDirectory(ctx context.Context, path string, perm os.FileMode) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	if perm == 0 {
		perm = 0755
	}
	share := c.share.WithContext(ctx)
	name := sharePath(path)
	err := share.Mkdir(name, perm)
	if err != nil {
		if _, statErr := share.Lstat(name); statErr == nil {
			return fmt.Errorf("failed to create SMB directory %s: %w", path, client.ErrExist)
		}
		return fmt.Errorf("failed to create SMB directory %s: %w", path, mapError(err))
	}
	return nil
}

// DeleteDirectory deletes a directory.
func (c *Client) DeleteDirectory(ctx context.Context, path string, recursive bool) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	share := c.share.WithContext(ctx)
	name := sharePath(path)

	if recursive {
		if err := share.RemoveAll(name); err != nil {
			return fmt.Errorf("failed to delete SMB directory %s: %w", path, mapError(err))
		}
		return nil
	}

	entries, err := share.ReadDir(name)
	if err != nil {
		return fmt.Errorf("failed to delete SMB directory %s: %w", path, mapError(err))
	}
	if len(entries) > 0 {
		return fmt.Errorf("failed to delete SMB directory %s: %w", path, client.ErrNotEmpty)
	}
	if err := share.Remove(name); err != nil {
		return fmt.Errorf("failed to delete SMB directory %s: %w", path, mapError(err))
	}
	return nil
}

// DeleteFile deletes a file.
func (c *Client) DeleteFile(ctx context.Context, path string) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	err := c.share.WithContext(ctx).Remove(sharePath(path))
	if err != nil {
		return fmt.Errorf("failed to delete SMB file %s: %w", path, mapError(err))
	}
	return nil
}

// Move renames a file or directory within the share. SMB rename never
// replaces, so an overwriting move removes the target first.
func (c *Client) Move(ctx context.Context, srcPath, dstPath string, overwrite bool) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	share := c.share.WithContext(ctx)
	src, dst := sharePath(srcPath), sharePath(dstPath)

	if stat, err := share.Lstat(dst); err == nil {
		if !overwrite {
			return fmt.Errorf("failed to move SMB file %s to %s: %w", srcPath, dstPath, client.ErrExist)
		}
		if stat.IsDir() {
			entries, err := share.ReadDir(dst)
			if err == nil && len(entries) > 0 {
				return fmt.Errorf("failed to move SMB file %s to %s: %w", srcPath, dstPath, client.ErrNotEmpty)
			}
		}
		if err := share.Remove(dst); err != nil {
			return fmt.Errorf("failed to replace SMB file %s: %w", dstPath, mapError(err))
		}
	}

	if err := share.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to move SMB file %s to %s: %w", srcPath, dstPath, mapError(err))
	}
	return nil
}

// SameFilesystem reports true: every path of a client lives on one share.
func (c *Client) SameFilesystem(ctx context.Context, pathA, pathB string) (bool, error) {
	if !c.IsConnected() {
		return false, client.ErrNotConnected
	}
	return true, nil
}

// CreateSymlink creates a symbolic link on the share.
func (c *Client) CreateSymlink(ctx context.Context, target, path string) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	if err := c.share.WithContext(ctx).Symlink(target, sharePath(path)); err != nil {
		return fmt.Errorf("failed to create SMB symlink %s: %w", path, mapError(err))
	}
	return nil
}

// GetProtocol returns the protocol name.
func (c *Client) GetProtocol() string {
	return "smb"
}

// GetConfig returns the SMB configuration.
func (c *Client) GetConfig() interface{} {
	return c.config
}

func (c *Client) toFileInfo(stat os.FileInfo, p string) *client.FileInfo {
	return &client.FileInfo{
		Name:      stat.Name(),
		Size:      stat.Size(),
		ModTime:   stat.ModTime(),
		IsDir:     stat.IsDir(),
		IsSymlink: stat.Mode()&os.ModeSymlink != 0,
		Mode:      stat.Mode(),
		Path:      p,
		ID:        c.objectID(p),
	}
}

// objectID identifies an entry by host, share and case-folded path, since
// SMB shares are normally case insensitive.
func (c *Client) objectID(p string) string {
	return fmt.Sprintf("smb://%s/%s/%s", c.config.Host, c.config.Share, strings.ToLower(sharePath(p)))
}

// mapError translates SMB status errors to the shared sentinel errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if isNotExistError(err) {
		return fmt.Errorf("%w: %v", client.ErrNotExist, err)
	}
	return err
}

// isNotExistError checks if an error indicates that a file does not exist.
func isNotExistError(err error) bool {
	if err == nil {
		return false
	}
	if os.IsNotExist(err) || client.IsNotExist(err) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "object name is not found") || strings.Contains(msg, "path is not found")
}
