//go:build unix

package filesystem

import "golang.org/x/sys/unix"

func canRead(p string) bool {
	return unix.Access(p, unix.R_OK) == nil
}

func canWrite(p string) bool {
	return unix.Access(p, unix.W_OK) == nil
}
