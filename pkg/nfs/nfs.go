//go:build linux

// Package nfs implements the filesystem client for NFS protocol.
//
// The export is mounted through the kernel client; once mounted every file
// operation is served by a local client rooted at the mount point.
package nfs

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"digital.vasic.vfs/pkg/client"
	"digital.vasic.vfs/pkg/local"
)

// Config contains NFS connection configuration.
type Config struct {
	Host       string `json:"host"`
	Path       string `json:"path"`
	MountPoint string `json:"mount_point"`
	Options    string `json:"options"`
}

// Client implements client.Client for NFS protocol.
type Client struct {
	*local.Client
	config     Config
	mounted    bool
	connected  bool
	mountPoint string
}

// NewNFSClient creates a new NFS client.
func NewNFSClient(config Config) (*Client, error) {
	if config.MountPoint == "" {
		return nil, fmt.Errorf("mount point is required")
	}
	mountPoint := filepath.Clean(config.MountPoint)
	return &Client{
		Client:     local.NewLocalClient(&local.Config{BasePath: mountPoint}),
		config:     config,
		mounted:    false,
		connected:  false,
		mountPoint: mountPoint,
	}, nil
}

// Connect establishes the NFS connection by mounting the filesystem. An
// export that is already mounted at the mount point is used as is.
func (c *Client) Connect(ctx context.Context) error {
	if !c.isMounted() {
		if err := os.MkdirAll(c.mountPoint, 0755); err != nil {
			return fmt.Errorf("failed to create mount point %s: %w", c.mountPoint, err)
		}

		source := fmt.Sprintf("%s:%s", c.config.Host, c.config.Path)
		options := "vers=3"
		if c.config.Options != "" {
			options = c.config.Options
		}
		if c.config.Host != "" && !strings.Contains(options, "addr=") {
			options += ",addr=" + c.config.Host
		}

		err := unix.Mount(source, c.mountPoint, "nfs", 0, options)
		if err != nil {
			return fmt.Errorf("failed to mount NFS share %s to %s: %w", source, c.mountPoint, err)
		}
		c.mounted = true
	}

	if err := c.Client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to open NFS mount %s: %w", c.mountPoint, err)
	}
	c.connected = true
	return nil
}

// Disconnect unmounts the NFS filesystem if this client mounted it.
func (c *Client) Disconnect(ctx context.Context) error {
	c.Client.Disconnect(ctx)
	if c.mounted {
		err := unix.Unmount(c.mountPoint, 0)
		if err != nil {
			return fmt.Errorf("failed to unmount NFS share from %s: %w", c.mountPoint, err)
		}
		c.mounted = false
	}
	c.connected = false
	return nil
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.connected && c.Client.IsConnected()
}

// TestConnection tests the NFS connection.
func (c *Client) TestConnection(ctx context.Context) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	if !c.isMounted() {
		return fmt.Errorf("NFS share is no longer mounted at %s", c.mountPoint)
	}
	return c.Client.TestConnection(ctx)
}

// isMounted checks if the mount point is actually mounted.
func (c *Client) isMounted() bool {
	file, err := os.Open("/proc/mounts")
	if err != nil {
		return false
	}
	defer file.Close()
	return mountedIn(file, c.mountPoint)
}

// mountedIn reports whether mountPoint appears as a target in a
// /proc/mounts formatted table.
func mountedIn(r io.Reader, mountPoint string) bool {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		// spaces in mount targets are octal escaped
		target := strings.ReplaceAll(fields[1], `\040`, " ")
		if target == mountPoint {
			return true
		}
	}
	return false
}

// GetProtocol returns the protocol name.
func (c *Client) GetProtocol() string {
	return "nfs"
}

// GetConfig returns the NFS configuration.
func (c *Client) GetConfig() interface{} {
	return &c.config
}
