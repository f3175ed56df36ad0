//go:build !unix

package localfs

import "io/fs"

func fileIdentifier(fs.FileInfo) (string, bool) {
	return "", false
}

func fileOwnerUserIdentifier(fs.FileInfo) (string, bool) {
	return "", false
}
