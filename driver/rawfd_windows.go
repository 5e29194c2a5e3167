//go:build windows

package driver

import "golang.org/x/sys/windows"

// RawFd on Windows is a pointer-sized value that may alias either a
// HANDLE or a SOCKET.
type RawFd = windows.Handle

// InvalidFd is the sentinel "no file descriptor" value.
const InvalidFd RawFd = ^RawFd(0)
