//go:build unix

package local

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// fileID returns the device and inode pair of an entry.
func fileID(info os.FileInfo, fullPath string) string {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return fmt.Sprintf("%d:%d", uint64(stat.Dev), uint64(stat.Ino))
	}
	return fullPath
}

func deviceOf(fullPath string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(fullPath, &st); err != nil {
		return 0, err
	}
	return uint64(st.Dev), nil
}

func isNotEmpty(err error) bool {
	return errors.Is(err, unix.ENOTEMPTY) || errors.Is(err, unix.EEXIST)
}
