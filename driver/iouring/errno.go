//go:build linux

package iouring

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// syscallErrno converts a positive kernel errno (as carried in a
// negative CQE.Res) into a Go error value.
func syscallErrno(errno int32) error {
	return unix.Errno(errno)
}

func isTimeout(err error) bool {
	return err == unix.ETIME
}

func uintptrOfWake(b *[8]byte) uintptr {
	return uintptr(unsafe.Pointer(b))
}
