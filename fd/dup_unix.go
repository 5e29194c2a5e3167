//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package fd

import (
	"golang.org/x/sys/unix"

	"github.com/xtaci/proactor/driver"
)

// TryClone dup()s the underlying fd and returns a fresh Shared handle
// with its own attached flag reset to false: the dup'd fd is a
// distinct kernel object and must be Attach'd to the driver
// independently.
func TryClone[T any](s Shared[T]) (Shared[T], error) {
	nfd, err := unix.Dup(int(s.in.raw))
	if err != nil {
		var zero Shared[T]
		return zero, err
	}
	return New(driver.RawFd(nfd), s.in.val), nil
}
