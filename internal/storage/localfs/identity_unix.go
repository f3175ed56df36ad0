//go:build unix

package localfs

import (
	"io/fs"
	"strconv"
	"syscall"
)

// fileIdentifier derives a rename-stable identifier from the device and inode numbers.
func fileIdentifier(info fs.FileInfo) (string, bool) {
	status, supported := info.Sys().(*syscall.Stat_t)
	if !supported {
		return "", false
	}
	return strconv.FormatUint(uint64(status.Dev), 36) + "-" + strconv.FormatUint(uint64(status.Ino), 10), true
}

func fileOwnerUserIdentifier(info fs.FileInfo) (string, bool) {
	status, supported := info.Sys().(*syscall.Stat_t)
	if !supported {
		return "", false
	}
	return strconv.FormatUint(uint64(status.Uid), 10), true
}
