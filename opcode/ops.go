//go:build !windows

// Operation descriptors in this file are shared by the io_uring and
// poll backends (both unix-family). The Windows/IOCP equivalents live
// in ops_windows.go, prepared against syscall.Overlapped instead of
// unix readiness semantics.
package opcode

import (
	"net"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/xtaci/proactor/buf"
	"github.com/xtaci/proactor/driver"
)

// ReadAt reads into Buf starting at Offset, the byte-addressable
// read counterpart to any fd (file or socket).
type ReadAt struct {
	Fd     driver.RawFd
	Offset int64
	Buf    buf.MutBuffer
}

func (o *ReadAt) OpName() string { return "ReadAt" }
func (o *ReadAt) IntoInner() any { return o.Buf }

func (o *ReadAt) PreSubmit() driver.Decision {
	return o.tryOnce()
}

func (o *ReadAt) OnEvent(driver.Event) (bool, int, error) {
	d := o.tryOnce()
	switch d.Kind {
	case driver.DecisionCompleted:
		return true, d.N, d.Err
	default:
		return false, 0, nil
	}
}

func (o *ReadAt) tryOnce() driver.Decision {
	n, err := unix.Pread(int(o.Fd), o.Buf.Bytes(), o.Offset)
	if err == unix.EAGAIN {
		return driver.Decision{Kind: driver.DecisionWait, Fd: o.Fd, Interest: driver.InterestReadable}
	}
	if err == nil {
		o.Buf.SetInit(n)
	}
	return driver.Decision{Kind: driver.DecisionCompleted, N: n, Err: err}
}

// WriteAt writes Buf's initialized bytes at Offset.
type WriteAt struct {
	Fd     driver.RawFd
	Offset int64
	Buf    buf.Buffer
}

func (o *WriteAt) OpName() string { return "WriteAt" }
func (o *WriteAt) IntoInner() any { return o.Buf }

func (o *WriteAt) PreSubmit() driver.Decision { return o.tryOnce() }

func (o *WriteAt) OnEvent(driver.Event) (bool, int, error) {
	d := o.tryOnce()
	return d.Kind == driver.DecisionCompleted, d.N, d.Err
}

func (o *WriteAt) tryOnce() driver.Decision {
	n, err := unix.Pwrite(int(o.Fd), o.Buf.Bytes(), o.Offset)
	if err == unix.EAGAIN {
		return driver.Decision{Kind: driver.DecisionWait, Fd: o.Fd, Interest: driver.InterestWritable}
	}
	return driver.Decision{Kind: driver.DecisionCompleted, N: n, Err: err}
}

// ReadVectoredAt and WriteVectoredAt are the scatter/gather forms.
// The iovs field holds the syscall-shaped iovec array for the ring
// backend; it must live inside the op so the kernel's pointer into it
// stays valid for the whole operation.
type ReadVectoredAt struct {
	Fd     driver.RawFd
	Offset int64
	Vec    *buf.IoVecMut

	iovs []syscall.Iovec
}

func (o *ReadVectoredAt) OpName() string { return "ReadVectoredAt" }
func (o *ReadVectoredAt) IntoInner() any { return o.Vec }

func (o *ReadVectoredAt) PreSubmit() driver.Decision { return o.tryOnce() }
func (o *ReadVectoredAt) OnEvent(driver.Event) (bool, int, error) {
	d := o.tryOnce()
	return d.Kind == driver.DecisionCompleted, d.N, d.Err
}
func (o *ReadVectoredAt) tryOnce() driver.Decision {
	n, err := unix.Readv(int(o.Fd), o.Vec.RawSlices())
	if err == unix.EAGAIN {
		return driver.Decision{Kind: driver.DecisionWait, Fd: o.Fd, Interest: driver.InterestReadable}
	}
	if err == nil {
		o.Vec.SetInit(n)
	}
	return driver.Decision{Kind: driver.DecisionCompleted, N: n, Err: err}
}

type WriteVectoredAt struct {
	Fd     driver.RawFd
	Offset int64
	Vec    *buf.IoVec

	iovs []syscall.Iovec
}

func (o *WriteVectoredAt) OpName() string { return "WriteVectoredAt" }
func (o *WriteVectoredAt) IntoInner() any { return o.Vec }
func (o *WriteVectoredAt) PreSubmit() driver.Decision { return o.tryOnce() }
func (o *WriteVectoredAt) OnEvent(driver.Event) (bool, int, error) {
	d := o.tryOnce()
	return d.Kind == driver.DecisionCompleted, d.N, d.Err
}
func (o *WriteVectoredAt) tryOnce() driver.Decision {
	n, err := unix.Writev(int(o.Fd), o.Vec.Slices())
	if err == unix.EAGAIN {
		return driver.Decision{Kind: driver.DecisionWait, Fd: o.Fd, Interest: driver.InterestWritable}
	}
	return driver.Decision{Kind: driver.DecisionCompleted, N: n, Err: err}
}

// Recv/Send are the socket analogues of ReadAt/WriteAt.
type Recv struct {
	Fd  driver.RawFd
	Buf buf.MutBuffer
}

func (o *Recv) OpName() string { return "Recv" }
func (o *Recv) IntoInner() any { return o.Buf }
func (o *Recv) PreSubmit() driver.Decision { return o.tryOnce() }
func (o *Recv) OnEvent(driver.Event) (bool, int, error) {
	d := o.tryOnce()
	return d.Kind == driver.DecisionCompleted, d.N, d.Err
}
func (o *Recv) tryOnce() driver.Decision {
	n, err := unix.Read(int(o.Fd), o.Buf.Bytes())
	if err == unix.EAGAIN {
		return driver.Decision{Kind: driver.DecisionWait, Fd: o.Fd, Interest: driver.InterestReadable}
	}
	if err == nil {
		o.Buf.SetInit(n)
	}
	return driver.Decision{Kind: driver.DecisionCompleted, N: n, Err: err}
}

type Send struct {
	Fd  driver.RawFd
	Buf buf.Buffer
}

func (o *Send) OpName() string { return "Send" }
func (o *Send) IntoInner() any { return o.Buf }
func (o *Send) PreSubmit() driver.Decision { return o.tryOnce() }
func (o *Send) OnEvent(driver.Event) (bool, int, error) {
	d := o.tryOnce()
	return d.Kind == driver.DecisionCompleted, d.N, d.Err
}
func (o *Send) tryOnce() driver.Decision {
	n, err := unix.Write(int(o.Fd), o.Buf.Bytes())
	if err == unix.EAGAIN {
		return driver.Decision{Kind: driver.DecisionWait, Fd: o.Fd, Interest: driver.InterestWritable}
	}
	return driver.Decision{Kind: driver.DecisionCompleted, N: n, Err: err}
}

// RecvFrom/SendTo carry a peer address for datagram sockets.
type RecvFrom struct {
	Fd   driver.RawFd
	Buf  buf.MutBuffer
	From net.Addr

	msg syscall.Msghdr
	iov syscall.Iovec
	rsa syscall.RawSockaddrAny
}

func (o *RecvFrom) OpName() string { return "RecvFrom" }
func (o *RecvFrom) IntoInner() any { return o.Buf }
func (o *RecvFrom) PreSubmit() driver.Decision { return o.tryOnce() }
func (o *RecvFrom) OnEvent(driver.Event) (bool, int, error) {
	d := o.tryOnce()
	return d.Kind == driver.DecisionCompleted, d.N, d.Err
}
func (o *RecvFrom) tryOnce() driver.Decision {
	n, from, err := unix.Recvfrom(int(o.Fd), o.Buf.Bytes(), 0)
	if err == unix.EAGAIN {
		return driver.Decision{Kind: driver.DecisionWait, Fd: o.Fd, Interest: driver.InterestReadable}
	}
	if err == nil {
		o.Buf.SetInit(n)
		o.From = sockaddrToUDPAddr(from)
	}
	return driver.Decision{Kind: driver.DecisionCompleted, N: n, Err: err}
}

type SendTo struct {
	Fd   driver.RawFd
	Buf  buf.Buffer
	To   unix.Sockaddr

	msg    syscall.Msghdr
	iov    syscall.Iovec
	raw    syscall.RawSockaddrAny
	rawLen uint32
}

func (o *SendTo) OpName() string { return "SendTo" }
func (o *SendTo) IntoInner() any { return o.Buf }
func (o *SendTo) PreSubmit() driver.Decision { return o.tryOnce() }
func (o *SendTo) OnEvent(driver.Event) (bool, int, error) {
	d := o.tryOnce()
	return d.Kind == driver.DecisionCompleted, d.N, d.Err
}
func (o *SendTo) tryOnce() driver.Decision {
	err := unix.Sendto(int(o.Fd), o.Buf.Bytes(), 0, o.To)
	if err == unix.EAGAIN {
		return driver.Decision{Kind: driver.DecisionWait, Fd: o.Fd, Interest: driver.InterestWritable}
	}
	n := 0
	if err == nil {
		n = len(o.Buf.Bytes())
	}
	return driver.Decision{Kind: driver.DecisionCompleted, N: n, Err: err}
}

// RecvVectored/SendVectored are the scatter/gather socket forms.
type RecvVectored struct {
	Fd  driver.RawFd
	Vec *buf.IoVecMut

	iovs []syscall.Iovec
}

func (o *RecvVectored) OpName() string { return "RecvVectored" }
func (o *RecvVectored) IntoInner() any { return o.Vec }
func (o *RecvVectored) PreSubmit() driver.Decision { return o.tryOnce() }
func (o *RecvVectored) OnEvent(driver.Event) (bool, int, error) {
	d := o.tryOnce()
	return d.Kind == driver.DecisionCompleted, d.N, d.Err
}
func (o *RecvVectored) tryOnce() driver.Decision {
	n, err := unix.Readv(int(o.Fd), o.Vec.RawSlices())
	if err == unix.EAGAIN {
		return driver.Decision{Kind: driver.DecisionWait, Fd: o.Fd, Interest: driver.InterestReadable}
	}
	if err == nil {
		o.Vec.SetInit(n)
	}
	return driver.Decision{Kind: driver.DecisionCompleted, N: n, Err: err}
}

type SendVectored struct {
	Fd  driver.RawFd
	Vec *buf.IoVec

	iovs []syscall.Iovec
}

func (o *SendVectored) OpName() string { return "SendVectored" }
func (o *SendVectored) IntoInner() any { return o.Vec }
func (o *SendVectored) PreSubmit() driver.Decision { return o.tryOnce() }
func (o *SendVectored) OnEvent(driver.Event) (bool, int, error) {
	d := o.tryOnce()
	return d.Kind == driver.DecisionCompleted, d.N, d.Err
}
func (o *SendVectored) tryOnce() driver.Decision {
	n, err := unix.Writev(int(o.Fd), o.Vec.Slices())
	if err == unix.EAGAIN {
		return driver.Decision{Kind: driver.DecisionWait, Fd: o.Fd, Interest: driver.InterestWritable}
	}
	return driver.Decision{Kind: driver.DecisionCompleted, N: n, Err: err}
}

// Accept produces a new connected fd from a listening socket.
type Accept struct {
	Fd       driver.RawFd
	Accepted driver.RawFd
	Peer     net.Addr
}

func (o *Accept) OpName() string { return "Accept" }
func (o *Accept) IntoInner() any { return nil }
func (o *Accept) PreSubmit() driver.Decision { return o.tryOnce() }
func (o *Accept) OnEvent(driver.Event) (bool, int, error) {
	d := o.tryOnce()
	return d.Kind == driver.DecisionCompleted, d.N, d.Err
}
func (o *Accept) tryOnce() driver.Decision {
	nfd, sa, err := unix.Accept(int(o.Fd))
	if err == unix.EAGAIN {
		return driver.Decision{Kind: driver.DecisionWait, Fd: o.Fd, Interest: driver.InterestReadable}
	}
	if err == nil {
		unix.SetNonblock(nfd, true)
		o.Accepted = driver.RawFd(nfd)
		o.Peer = sockaddrToAddr(sa)
	}
	return driver.Decision{Kind: driver.DecisionCompleted, N: nfd, Err: err}
}

// Connect initiates a connect(2) on a pre-created non-blocking socket.
// raw holds the serialized sockaddr for the ring backend; the kernel
// reads it asynchronously, so it must live inside the op.
type Connect struct {
	Fd   driver.RawFd
	Addr unix.Sockaddr

	raw    syscall.RawSockaddrAny
	rawLen uint32
}

func (o *Connect) OpName() string { return "Connect" }
func (o *Connect) IntoInner() any { return nil }
func (o *Connect) PreSubmit() driver.Decision {
	err := unix.Connect(int(o.Fd), o.Addr)
	if err == nil || err == unix.EINPROGRESS {
		return driver.Decision{Kind: driver.DecisionWait, Fd: o.Fd, Interest: driver.InterestWritable}
	}
	return driver.Decision{Kind: driver.DecisionCompleted, Err: err}
}
func (o *Connect) OnEvent(driver.Event) (bool, int, error) {
	errno, err := unix.GetsockoptInt(int(o.Fd), unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return true, 0, err
	}
	if errno != 0 {
		return true, 0, unix.Errno(errno)
	}
	return true, 0, nil
}

// Sync is fsync/fdatasync, offloaded via Asyncify since no readiness
// notion applies to it.
type Sync struct {
	Fd       driver.RawFd
	DataOnly bool
}

func (o *Sync) OpName() string { return "Sync" }
func (o *Sync) IntoInner() any { return nil }
func (o *Sync) Run() (int, error) {
	if o.DataOnly {
		return 0, unix.Fdatasync(int(o.Fd))
	}
	return 0, unix.Fsync(int(o.Fd))
}

// ShutdownSocket calls shutdown(2).
type ShutdownSocket struct {
	Fd  driver.RawFd
	How int
}

func (o *ShutdownSocket) OpName() string { return "ShutdownSocket" }
func (o *ShutdownSocket) IntoInner() any { return nil }
func (o *ShutdownSocket) PreSubmit() driver.Decision {
	err := unix.Shutdown(int(o.Fd), o.How)
	return driver.Decision{Kind: driver.DecisionCompleted, Err: err}
}
func (o *ShutdownSocket) OnEvent(driver.Event) (bool, int, error) { return true, 0, nil }

// CloseSocket and CloseFile both reduce to close(2); kept as distinct
// opcodes because some backends close sockets differently, e.g. IOCP
// uses closesocket for sockets and CloseHandle for files.
type CloseSocket struct{ Fd driver.RawFd }

func (o *CloseSocket) OpName() string { return "CloseSocket" }
func (o *CloseSocket) IntoInner() any { return nil }
func (o *CloseSocket) Run() (int, error) { return 0, unix.Close(int(o.Fd)) }

type CloseFile struct{ Fd driver.RawFd }

func (o *CloseFile) OpName() string { return "CloseFile" }
func (o *CloseFile) IntoInner() any { return nil }
func (o *CloseFile) Run() (int, error) { return 0, unix.Close(int(o.Fd)) }

// OpenFile offloads os.OpenFile to the Asyncify pool — path resolution
// can block on slow filesystems/network mounts.
type OpenFile struct {
	Path string
	Flag int
	Perm os.FileMode

	Opened driver.RawFd
}

func (o *OpenFile) OpName() string { return "OpenFile" }
func (o *OpenFile) IntoInner() any { return nil }
func (o *OpenFile) Run() (int, error) {
	f, err := os.OpenFile(o.Path, o.Flag, o.Perm)
	if err != nil {
		return 0, err
	}
	o.Opened = driver.RawFd(f.Fd())
	return int(o.Opened), nil
}

// FileStat/PathStat offload fstat/stat.
type FileStat struct {
	Fd   driver.RawFd
	Stat unix.Stat_t
}

func (o *FileStat) OpName() string { return "FileStat" }
func (o *FileStat) IntoInner() any { return o.Stat }
func (o *FileStat) Run() (int, error) { return 0, unix.Fstat(int(o.Fd), &o.Stat) }

// PathStat stats by path; NoFollow switches to lstat(2) so a symlink
// reports its own metadata instead of its target's.
type PathStat struct {
	Path     string
	NoFollow bool
	Stat     unix.Stat_t
}

func (o *PathStat) OpName() string { return "PathStat" }
func (o *PathStat) IntoInner() any { return o.Stat }
func (o *PathStat) Run() (int, error) {
	if o.NoFollow {
		return 0, unix.Lstat(o.Path, &o.Stat)
	}
	return 0, unix.Stat(o.Path, &o.Stat)
}

// PollOnce exposes a bare readiness check with no I/O attached —
// useful for edge-triggered wakeups a caller wants to drive by hand.
type PollOnce struct {
	Fd       driver.RawFd
	Interest driver.Interest
}

func (o *PollOnce) OpName() string { return "PollOnce" }
func (o *PollOnce) IntoInner() any { return nil }
func (o *PollOnce) PreSubmit() driver.Decision {
	return driver.Decision{Kind: driver.DecisionWait, Fd: o.Fd, Interest: o.Interest}
}
func (o *PollOnce) OnEvent(driver.Event) (bool, int, error) { return true, 0, nil }

// Splice moves bytes between two fds without a userspace buffer hop.
type Splice struct {
	FdIn, FdOut driver.RawFd
	Len         int
}

func (o *Splice) OpName() string { return "Splice" }
func (o *Splice) IntoInner() any { return nil }
func (o *Splice) Run() (int, error) {
	return unix.Splice(int(o.FdIn), nil, int(o.FdOut), nil, o.Len, 0)
}

// Asyncify wraps an arbitrary blocking function as a driver.BlockingOp,
// the general escape hatch for syscalls with no async kernel path
// (e.g. getaddrinfo).
type Asyncify struct {
	Fn func() (int, error)
}

func (o *Asyncify) OpName() string { return "Asyncify" }
func (o *Asyncify) IntoInner() any { return nil }
func (o *Asyncify) Run() (int, error) { return o.Fn() }

// RecvManaged/ReadManagedAt read into Buf, a buffer the caller leased
// from a pool. GroupID and BufID are carried as the caller set them;
// no driver fills them in, and no kernel provided-buffer selection is
// used.
type RecvManaged struct {
	Fd      driver.RawFd
	GroupID uint16
	BufID   uint16
	Buf     buf.MutBuffer
}

func (o *RecvManaged) OpName() string { return "RecvManaged" }
func (o *RecvManaged) IntoInner() any { return o.Buf }
func (o *RecvManaged) PreSubmit() driver.Decision {
	return (&Recv{Fd: o.Fd, Buf: o.Buf}).tryOnce()
}
func (o *RecvManaged) OnEvent(ev driver.Event) (bool, int, error) {
	return (&Recv{Fd: o.Fd, Buf: o.Buf}).OnEvent(ev)
}

type ReadManagedAt struct {
	Fd      driver.RawFd
	Offset  int64
	GroupID uint16
	BufID   uint16
	Buf     buf.MutBuffer
}

func (o *ReadManagedAt) OpName() string { return "ReadManagedAt" }
func (o *ReadManagedAt) IntoInner() any { return o.Buf }
func (o *ReadManagedAt) PreSubmit() driver.Decision {
	return (&ReadAt{Fd: o.Fd, Offset: o.Offset, Buf: o.Buf}).tryOnce()
}
func (o *ReadManagedAt) OnEvent(ev driver.Event) (bool, int, error) {
	return (&ReadAt{Fd: o.Fd, Offset: o.Offset, Buf: o.Buf}).OnEvent(ev)
}

func sockaddrToAddr(sa unix.Sockaddr) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: a.Addr[:], Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: a.Addr[:], Port: a.Port}
	default:
		return nil
	}
}

func sockaddrToUDPAddr(sa unix.Sockaddr) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.UDPAddr{IP: a.Addr[:], Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.UDPAddr{IP: a.Addr[:], Port: a.Port}
	default:
		return nil
	}
}
