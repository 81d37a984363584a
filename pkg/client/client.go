// Package client defines the unified filesystem client interface
// supporting multiple protocols (SMB, FTP, NFS, WebDAV, SFTP, Local, Memory).
package client

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"
)

// Sentinel errors shared by every backend. Backends wrap their native errors
// so that errors.Is works regardless of the storage kind.
var (
	ErrNotConnected = errors.New("not connected")
	ErrNotExist     = fs.ErrNotExist
	ErrExist        = fs.ErrExist
	ErrNotDir       = errors.New("not a directory")
	ErrNotEmpty     = errors.New("directory not empty")
	ErrNotSupported = errors.New("operation not supported")
)

// FileInfo represents file information from any filesystem.
type FileInfo struct {
	Name       string
	Size       int64
	ModTime    time.Time
	IsDir      bool
	IsSymlink  bool
	Mode       os.FileMode
	Path       string
	LinkTarget string
	// ID identifies the underlying object for loop detection. Local disks use
	// the device and inode pair, remote backends the canonical path.
	ID string
}

// CreateOptions controls how CreateFile creates the target.
type CreateOptions struct {
	// Exclusive makes CreateFile fail with ErrExist when the entry exists.
	Exclusive bool
	Perm      os.FileMode
}

// Client defines the interface for filesystem operations.
// This abstraction allows supporting multiple protocols.
type Client interface {
	// Connection management
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	TestConnection(ctx context.Context) error

	// File operations
	OpenFile(ctx context.Context, path string) (io.ReadCloser, error)
	CreateFile(ctx context.Context, path string, opts CreateOptions) (io.WriteCloser, error)
	GetFileInfo(ctx context.Context, path string) (*FileInfo, error)
	FileExists(ctx context.Context, path string) (bool, error)
	DeleteFile(ctx context.Context, path string) error
	Move(ctx context.Context, srcPath, dstPath string, overwrite bool) error

	// Directory operations
	ListDirectory(ctx context.Context, path string) ([]*FileInfo, error)
	CreateDirectory(ctx context.Context, path string, perm os.FileMode) error
	DeleteDirectory(ctx context.Context, path string, recursive bool) error

	// SameFilesystem reports whether an atomic Move between the two paths is possible.
	SameFilesystem(ctx context.Context, pathA, pathB string) (bool, error)

	// Metadata
	GetProtocol() string
	GetConfig() interface{}
}

// BlockSizer is implemented by clients that prefer a specific transfer block size.
type BlockSizer interface {
	BlockSize() int
}

// SymlinkClient is implemented by clients able to create symbolic links.
type SymlinkClient interface {
	CreateSymlink(ctx context.Context, target, path string) error
}

// StorageConfig represents the configuration for a storage backend.
type StorageConfig struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Protocol  string                 `json:"protocol"`
	Enabled   bool                   `json:"enabled"`
	MaxDepth  int                    `json:"max_depth"`
	Settings  map[string]interface{} `json:"settings"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Factory creates filesystem clients based on protocol.
type Factory interface {
	CreateClient(config *StorageConfig) (Client, error)
	SupportedProtocols() []string
}

// JoinPath joins slash separated path elements. An empty dir yields name alone,
// so relative addressing inside a backend root stays relative.
func JoinPath(dir, name string) string {
	if dir == "" || dir == "." {
		return name
	}
	if name == "" {
		return dir
	}
	return path.Join(dir, name)
}

// IsNotExist reports whether err means the entry does not exist.
func IsNotExist(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotExist) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "file does not exist") || strings.Contains(msg, "no such file or directory")
}

// IsExist reports whether err means the entry already exists.
func IsExist(err error) bool {
	return err != nil && errors.Is(err, ErrExist)
}
