//go:build windows

package fd

import (
	"golang.org/x/sys/windows"

	"github.com/xtaci/proactor/driver"
)

// TryClone duplicates the underlying handle via DuplicateHandle — the
// Windows counterpart to dup(2).
func TryClone[T any](s Shared[T]) (Shared[T], error) {
	proc := windows.CurrentProcess()
	var dup windows.Handle
	err := windows.DuplicateHandle(proc, windows.Handle(s.in.raw), proc, &dup, 0, true, windows.DUPLICATE_SAME_ACCESS)
	if err != nil {
		var zero Shared[T]
		return zero, err
	}
	return New(driver.RawFd(dup), s.in.val), nil
}
