//go:build !unix

package local

import (
	"os"
	"path/filepath"
	"strings"
)

func fileID(_ os.FileInfo, fullPath string) string {
	return fullPath
}

// deviceOf approximates a device id with the volume name.
func deviceOf(fullPath string) (uint64, error) {
	if _, err := os.Stat(fullPath); err != nil {
		return 0, err
	}
	var id uint64
	for _, r := range strings.ToLower(filepath.VolumeName(fullPath)) {
		id = id*31 + uint64(r)
	}
	return id, nil
}

func isNotEmpty(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not empty")
}
