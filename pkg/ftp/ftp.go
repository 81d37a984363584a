// Package ftp implements the filesystem client for FTP protocol.
//
// FTP allows a single data transfer per control connection, so reads and
// writes run on their own short-lived connections while metadata operations
// share the connection opened by Connect.
package ftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"os"
	"path"
	"strings"
	"time"

	goftp "github.com/jlaffaye/ftp"

	"digital.vasic.vfs/pkg/client"
)

// Config contains FTP connection configuration.
type Config struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Path     string `json:"path"`
}

// Client implements client.Client for FTP protocol.
type Client struct {
	config    *Config
	client    *goftp.ServerConn
	connected bool
}

// NewFTPClient creates a new FTP client.
func NewFTPClient(config *Config) *Client {
	return &Client{
		config:    config,
		connected: false,
	}
}

func (c *Client) addr() string {
	port := c.config.Port
	if port == 0 {
		port = 21
	}
	return net.JoinHostPort(c.config.Host, fmt.Sprintf("%d", port))
}

// dial opens and authenticates a new control connection.
func (c *Client) dial(ctx context.Context) (*goftp.ServerConn, error) {
	conn, err := goftp.Dial(c.addr(), goftp.DialWithTimeout(30*time.Second), goftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to FTP server: %w", err)
	}

	err = conn.Login(c.config.Username, c.config.Password)
	if err != nil {
		conn.Quit()
		return nil, fmt.Errorf("failed to login to FTP server: %w", err)
	}
	return conn, nil
}

// Connect establishes the FTP connection.
func (c *Client) Connect(ctx context.Context) error {
	ftpClient, err := c.dial(ctx)
	if err != nil {
		return err
	}

	if c.config.Path != "" {
		err = ftpClient.ChangeDir(c.config.Path)
		if err != nil {
			ftpClient.Quit()
			return fmt.Errorf("failed to change to base directory %s: %w", c.config.Path, err)
		}
	}

	c.client = ftpClient
	c.connected = true
	return nil
}

// Disconnect closes the FTP connection.
func (c *Client) Disconnect(ctx context.Context) error {
	if c.client != nil {
		err := c.client.Quit()
		c.client = nil
		c.connected = false
		return err
	}
	c.connected = false
	return nil
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.connected && c.client != nil
}

// TestConnection tests the FTP connection.
func (c *Client) TestConnection(ctx context.Context) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	return c.client.NoOp()
}

// resolvePath resolves a relative path within the FTP base directory.
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

// OpenFile retrieves a file over a dedicated connection.
func (c *Client) OpenFile(ctx context.Context, p string) (io.ReadCloser, error) {
	if !c.IsConnected() {
		return nil, client.ErrNotConnected
	}
	fullPath := c.resolvePath(p)

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := conn.Retr(fullPath)
	if err != nil {
		conn.Quit()
		return nil, fmt.Errorf("failed to retrieve FTP file %s: %w", fullPath, mapError(err))
	}
	return &download{resp: resp, conn: conn}, nil
}

type download struct {
	resp *goftp.Response
	conn *goftp.ServerConn
}

func (d *download) Read(p []byte) (int, error) {
	return d.resp.Read(p)
}

func (d *download) Close() error {
	err := d.resp.Close()
	d.conn.Quit()
	return err
}

// CreateFile stores a file over a dedicated connection. Data written to the
// returned writer is streamed to the server; Close waits for the transfer
// to finish and reports its result. FTP has no exclusive create, so
// Exclusive is checked against a listing first.
func (c *Client) CreateFile(ctx context.Context, p string, opts client.CreateOptions) (io.WriteCloser, error) {
	if !c.IsConnected() {
		return nil, client.ErrNotConnected
	}
	fullPath := c.resolvePath(p)

	if opts.Exclusive {
		exists, err := c.FileExists(ctx, p)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("failed to create FTP file %s: %w", fullPath, client.ErrExist)
		}
	}
	if _, err := c.lookup(path.Dir(fullPath)); err != nil {
		return nil, fmt.Errorf("failed to create FTP file %s: %w", fullPath, err)
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	u := &upload{pw: pw, conn: conn, done: make(chan error, 1)}
	go func() {
		err := conn.Stor(fullPath, pr)
		if err != nil {
			err = fmt.Errorf("failed to store FTP file %s: %w", fullPath, mapError(err))
		}
		pr.CloseWithError(err)
		u.done <- err
	}()
	return u, nil
}

type upload struct {
	pw   *io.PipeWriter
	conn *goftp.ServerConn
	done chan error
}

func (u *upload) Write(p []byte) (int, error) {
	return u.pw.Write(p)
}

func (u *upload) Close() error {
	u.pw.Close()
	err := <-u.done
	u.conn.Quit()
	return err
}

// lookup finds the listing entry for fullPath in its parent directory.
func (c *Client) lookup(fullPath string) (*goftp.Entry, error) {
	if fullPath == "." || fullPath == "/" || fullPath == c.config.Path {
		return &goftp.Entry{Name: path.Base(fullPath), Type: goftp.EntryTypeFolder}, nil
	}
	entries, err := c.client.List(path.Dir(fullPath))
	if err != nil {
		return nil, mapError(err)
	}
	name := path.Base(fullPath)
	for _, entry := range entries {
		if entry.Name == name {
			return entry, nil
		}
	}
	return nil, client.ErrNotExist
}

// GetFileInfo gets information about a file. Symbolic links are followed by
// asking the server for the size of the target; a link whose size cannot be
// read is treated as a directory.
func (c *Client) GetFileInfo(ctx context.Context, p string) (*client.FileInfo, error) {
	if !c.IsConnected() {
		return nil, client.ErrNotConnected
	}
	fullPath := c.resolvePath(p)

	entry, err := c.lookup(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get FTP file info %s: %w", fullPath, err)
	}
	info := c.toFileInfo(entry, p)
	if entry.Type == goftp.EntryTypeLink {
		info.IsSymlink = false
		info.LinkTarget = ""
		size, sizeErr := c.client.FileSize(fullPath)
		if sizeErr == nil {
			info.Size = size
			info.Mode = 0644
		} else {
			info.IsDir = true
			info.Size = 0
			info.Mode = os.ModeDir | 0755
		}
		info.ID = c.objectID(path.Join(path.Dir(fullPath), entry.Target))
	}
	info.Name = path.Base(fullPath)
	return info, nil
}

// ListDirectory lists files in a directory.
func (c *Client) ListDirectory(ctx context.Context, p string) ([]*client.FileInfo, error) {
	if !c.IsConnected() {
		return nil, client.ErrNotConnected
	}
	fullPath := c.resolvePath(p)

	entries, err := c.client.List(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to list FTP directory %s: %w", fullPath, mapError(err))
	}

	var files []*client.FileInfo
	for _, entry := range entries {
		if entry.Name == "." || entry.Name == ".." {
			continue
		}
		files = append(files, c.toFileInfo(entry, client.JoinPath(p, entry.Name)))
	}

	return files, nil
}

// FileExists checks if a file exists.
func (c *Client) FileExists(ctx context.Context, p string) (bool, error) {
	if !c.IsConnected() {
		return false, client.ErrNotConnected
	}
	fullPath := c.resolvePath(p)

	_, err := c.lookup(fullPath)
	if err != nil {
		if client.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check FTP file existence %s: %w", fullPath, err)
	}
	return true, nil
}

// CreateDirectory creates a directory.
func (c *Client) CreateDirectory(ctx context.Context, p string, perm os.FileMode) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	fullPath := c.resolvePath(p)
	err := c.client.MakeDir(fullPath)
	if err != nil {
		if _, lookupErr := c.lookup(fullPath); lookupErr == nil {
			return fmt.Errorf("failed to create FTP directory %s: %w", fullPath, client.ErrExist)
		}
		return fmt.Errorf("failed to create FTP directory %s: %w", fullPath, mapError(err))
	}
	return nil
}

// DeleteDirectory deletes a directory.
func (c *Client) DeleteDirectory(ctx context.Context, p string, recursive bool) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	fullPath := c.resolvePath(p)

	var err error
	if recursive {
		err = c.client.RemoveDirRecur(fullPath)
	} else {
		entries, listErr := c.ListDirectory(ctx, p)
		if listErr != nil {
			return listErr
		}
		if len(entries) > 0 {
			return fmt.Errorf("failed to delete FTP directory %s: %w", fullPath, client.ErrNotEmpty)
		}
		err = c.client.RemoveDir(fullPath)
	}
	if err != nil {
		return fmt.Errorf("failed to delete FTP directory %s: %w", fullPath, mapError(err))
	}
	return nil
}

// DeleteFile deletes a file.
func (c *Client) DeleteFile(ctx context.Context, p string) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	fullPath := c.resolvePath(p)
	err := c.client.Delete(fullPath)
	if err != nil {
		return fmt.Errorf("failed to delete FTP file %s: %w", fullPath, mapError(err))
	}
	return nil
}

// Move renames a file or directory with RNFR/RNTO.
func (c *Client) Move(ctx context.Context, srcPath, dstPath string, overwrite bool) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	srcFullPath := c.resolvePath(srcPath)
	dstFullPath := c.resolvePath(dstPath)

	if entry, err := c.lookup(dstFullPath); err == nil {
		if !overwrite {
			return fmt.Errorf("failed to move FTP file %s to %s: %w", srcFullPath, dstFullPath, client.ErrExist)
		}
		if entry.Type == goftp.EntryTypeFolder {
			err = c.client.RemoveDir(dstFullPath)
		} else {
			err = c.client.Delete(dstFullPath)
		}
		if err != nil {
			return fmt.Errorf("failed to replace FTP file %s: %w", dstFullPath, mapError(err))
		}
	}

	if err := c.client.Rename(srcFullPath, dstFullPath); err != nil {
		return fmt.Errorf("failed to move FTP file %s to %s: %w", srcFullPath, dstFullPath, mapError(err))
	}
	return nil
}

// SameFilesystem reports true: a server exposes a single namespace.
func (c *Client) SameFilesystem(ctx context.Context, pathA, pathB string) (bool, error) {
	if !c.IsConnected() {
		return false, client.ErrNotConnected
	}
	return true, nil
}

// GetProtocol returns the protocol name.
func (c *Client) GetProtocol() string {
	return "ftp"
}

// GetConfig returns the FTP configuration.
func (c *Client) GetConfig() interface{} {
	return c.config
}

func (c *Client) objectID(fullPath string) string {
	return "ftp://" + c.addr() + path.Clean("/"+fullPath)
}

func (c *Client) toFileInfo(entry *goftp.Entry, p string) *client.FileInfo {
	size := int64(entry.Size)
	if entry.Size > uint64(1<<63-1) {
		size = 1<<63 - 1
	}

	info := &client.FileInfo{
		Name:    entry.Name,
		Size:    size,
		ModTime: entry.Time,
		Mode:    0644,
		Path:    p,
		ID:      c.objectID(c.resolvePath(p)),
	}
	switch entry.Type {
	case goftp.EntryTypeFolder:
		info.IsDir = true
		info.Size = 0
		info.Mode = os.ModeDir | 0755
	case goftp.EntryTypeLink:
		info.IsSymlink = true
		info.LinkTarget = entry.Target
		info.Mode = os.ModeSymlink | 0777
	}
	return info
}

// mapError translates FTP reply 550 to ErrNotExist.
func mapError(err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) && protoErr.Code == goftp.StatusFileUnavailable {
		return fmt.Errorf("%w: %v", client.ErrNotExist, err)
	}
	return err
}
