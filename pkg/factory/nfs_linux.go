//go:build linux

package factory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"digital.vasic.vfs/pkg/client"
	"digital.vasic.vfs/pkg/nfs"
)

func (f *DefaultFactory) createNFSClient(config *client.StorageConfig) (client.Client, error) {
	host := GetStringSetting(config.Settings, "host", "")
	export := GetStringSetting(config.Settings, "path", "")
	if host == "" || export == "" {
		return nil, fmt.Errorf("nfs storage %q needs host and path settings", config.Name)
	}

	c, err := nfs.NewNFSClient(nfs.Config{
		Host:       host,
		Path:       export,
		MountPoint: GetStringSetting(config.Settings, "mount_point", defaultMountPoint(host, export)),
		Options:    GetStringSetting(config.Settings, "options", "vers=3"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create NFS client: %w", err)
	}
	return c, nil
}

// defaultMountPoint names a per-export directory under the temp dir, so
// two addresses for the same export share one mount.
func defaultMountPoint(host, export string) string {
	name := strings.Trim(strings.ReplaceAll(export, "/", "_"), "_")
	if name == "" {
		name = "root"
	}
	return filepath.Join(os.TempDir(), "vfsxfer-nfs", host+"_"+name)
}
