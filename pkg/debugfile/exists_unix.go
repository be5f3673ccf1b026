//go:build unix

package debugfile

import "golang.org/x/sys/unix"

func exists(path string) bool {
	return unix.Access(path, unix.F_OK) == nil
}
