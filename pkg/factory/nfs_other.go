//go:build !linux

package factory

import (
	"fmt"

	"digital.vasic.vfs/pkg/client"
)

// NFS mounts go through the Linux kernel client.
func (f *DefaultFactory) createNFSClient(config *client.StorageConfig) (client.Client, error) {
	return nil, fmt.Errorf("nfs storage %q: only supported on Linux: %w", config.Name, client.ErrNotSupported)
}
