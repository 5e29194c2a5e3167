//go:build windows

// Windows/IOCP op descriptors. These reuse the names of the unix-family
// ops in ops.go, but are prepared against a syscall.Overlapped rather
// than readiness decisions. ReadVectoredAt, WriteVectoredAt, PollOnce,
// Splice, RecvManaged and ReadManagedAt have no Windows counterpart. WSA calls report ERROR_IO_PENDING for a
// successfully queued overlapped operation; PrepareOverlapped swallows
// it, since the completion port delivers the real outcome.
package opcode

import (
	"net"
	"os"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/xtaci/proactor/buf"
	"github.com/xtaci/proactor/driver"
)

// OverlappedPreparer is implemented by every overlapped op type in
// this file. It has the same method set as driver/iocp's own Preparer
// interface, which is what driver/iocp type-asserts Op values against.
type OverlappedPreparer interface {
	PrepareOverlapped(ol *syscall.Overlapped) error
}

func pendingOK(err error) error {
	if err == windows.ERROR_IO_PENDING {
		return nil
	}
	return err
}

type ReadAt struct {
	Fd     driver.RawFd
	Offset int64
	Buf    buf.MutBuffer
}

func (o *ReadAt) OpName() string        { return "ReadAt" }
func (o *ReadAt) IntoInner() any        { return o.Buf }
func (o *ReadAt) RawFD() driver.RawFd   { return o.Fd }
func (o *ReadAt) OnCompletion(n int, err error) {
	if err == nil {
		o.Buf.SetInit(n)
	}
}
func (o *ReadAt) PrepareOverlapped(ol *syscall.Overlapped) error {
	ol.Offset = uint32(o.Offset)
	ol.OffsetHigh = uint32(o.Offset >> 32)
	b := o.Buf.Bytes()
	var done uint32
	err := windows.ReadFile(windows.Handle(o.Fd), b, &done, (*windows.Overlapped)(unsafe.Pointer(ol)))
	return pendingOK(err)
}

type WriteAt struct {
	Fd     driver.RawFd
	Offset int64
	Buf    buf.Buffer
}

func (o *WriteAt) OpName() string      { return "WriteAt" }
func (o *WriteAt) IntoInner() any      { return o.Buf }
func (o *WriteAt) RawFD() driver.RawFd { return o.Fd }
func (o *WriteAt) PrepareOverlapped(ol *syscall.Overlapped) error {
	ol.Offset = uint32(o.Offset)
	ol.OffsetHigh = uint32(o.Offset >> 32)
	b := o.Buf.Bytes()
	var done uint32
	err := windows.WriteFile(windows.Handle(o.Fd), b, &done, (*windows.Overlapped)(unsafe.Pointer(ol)))
	return pendingOK(err)
}

type Recv struct {
	Fd  driver.RawFd
	Buf buf.MutBuffer

	wsaBuf windows.WSABuf
}

func (o *Recv) OpName() string      { return "Recv" }
func (o *Recv) IntoInner() any      { return o.Buf }
func (o *Recv) RawFD() driver.RawFd { return o.Fd }
func (o *Recv) OnCompletion(n int, err error) {
	if err == nil {
		o.Buf.SetInit(n)
	}
}
func (o *Recv) PrepareOverlapped(ol *syscall.Overlapped) error {
	b := o.Buf.Bytes()
	var done, flags uint32
	o.wsaBuf = windows.WSABuf{Len: uint32(len(b)), Buf: bufPtr(b)}
	err := windows.WSARecv(windows.Handle(o.Fd), &o.wsaBuf, 1, &done, &flags, (*windows.Overlapped)(unsafe.Pointer(ol)), nil)
	return pendingOK(err)
}

type Send struct {
	Fd  driver.RawFd
	Buf buf.Buffer

	wsaBuf windows.WSABuf
}

func (o *Send) OpName() string      { return "Send" }
func (o *Send) IntoInner() any      { return o.Buf }
func (o *Send) RawFD() driver.RawFd { return o.Fd }
func (o *Send) PrepareOverlapped(ol *syscall.Overlapped) error {
	b := o.Buf.Bytes()
	var done uint32
	o.wsaBuf = windows.WSABuf{Len: uint32(len(b)), Buf: bufPtr(b)}
	err := windows.WSASend(windows.Handle(o.Fd), &o.wsaBuf, 1, &done, 0, (*windows.Overlapped)(unsafe.Pointer(ol)), nil)
	return pendingOK(err)
}

type RecvFrom struct {
	Fd   driver.RawFd
	Buf  buf.MutBuffer
	From net.Addr

	wsaBuf windows.WSABuf
	rsa    windows.RawSockaddrAny
	rsaLen int32
}

func (o *RecvFrom) OpName() string      { return "RecvFrom" }
func (o *RecvFrom) IntoInner() any      { return o.Buf }
func (o *RecvFrom) RawFD() driver.RawFd { return o.Fd }
func (o *RecvFrom) OnCompletion(n int, err error) {
	if err != nil {
		return
	}
	o.Buf.SetInit(n)
	if sa, saErr := o.rsa.Sockaddr(); saErr == nil {
		o.From = winSockaddrToUDPAddr(sa)
	}
}
func (o *RecvFrom) PrepareOverlapped(ol *syscall.Overlapped) error {
	b := o.Buf.Bytes()
	var done, flags uint32
	o.wsaBuf = windows.WSABuf{Len: uint32(len(b)), Buf: bufPtr(b)}
	o.rsaLen = int32(unsafe.Sizeof(o.rsa))
	err := windows.WSARecvFrom(windows.Handle(o.Fd), &o.wsaBuf, 1, &done, &flags, &o.rsa, &o.rsaLen, (*windows.Overlapped)(unsafe.Pointer(ol)), nil)
	return pendingOK(err)
}

type SendTo struct {
	Fd  driver.RawFd
	Buf buf.Buffer
	To  windows.Sockaddr

	wsaBuf windows.WSABuf
}

func (o *SendTo) OpName() string      { return "SendTo" }
func (o *SendTo) IntoInner() any      { return o.Buf }
func (o *SendTo) RawFD() driver.RawFd { return o.Fd }
func (o *SendTo) PrepareOverlapped(ol *syscall.Overlapped) error {
	b := o.Buf.Bytes()
	var done uint32
	o.wsaBuf = windows.WSABuf{Len: uint32(len(b)), Buf: bufPtr(b)}
	err := windows.WSASendto(windows.Handle(o.Fd), &o.wsaBuf, 1, &done, 0, o.To, (*windows.Overlapped)(unsafe.Pointer(ol)), nil)
	return pendingOK(err)
}

type RecvVectored struct {
	Fd  driver.RawFd
	Vec *buf.IoVecMut

	wsaBufs []windows.WSABuf
}

func (o *RecvVectored) OpName() string      { return "RecvVectored" }
func (o *RecvVectored) IntoInner() any      { return o.Vec }
func (o *RecvVectored) RawFD() driver.RawFd { return o.Fd }
func (o *RecvVectored) OnCompletion(n int, err error) {
	if err == nil {
		o.Vec.SetInit(n)
	}
}
func (o *RecvVectored) PrepareOverlapped(ol *syscall.Overlapped) error {
	o.wsaBufs = makeWSABufs(o.Vec.RawSlices())
	var done, flags uint32
	err := windows.WSARecv(windows.Handle(o.Fd), &o.wsaBufs[0], uint32(len(o.wsaBufs)), &done, &flags, (*windows.Overlapped)(unsafe.Pointer(ol)), nil)
	return pendingOK(err)
}

type SendVectored struct {
	Fd  driver.RawFd
	Vec *buf.IoVec

	wsaBufs []windows.WSABuf
}

func (o *SendVectored) OpName() string      { return "SendVectored" }
func (o *SendVectored) IntoInner() any      { return o.Vec }
func (o *SendVectored) RawFD() driver.RawFd { return o.Fd }
func (o *SendVectored) PrepareOverlapped(ol *syscall.Overlapped) error {
	o.wsaBufs = makeWSABufs(o.Vec.Slices())
	var done uint32
	err := windows.WSASend(windows.Handle(o.Fd), &o.wsaBufs[0], uint32(len(o.wsaBufs)), &done, 0, (*windows.Overlapped)(unsafe.Pointer(ol)), nil)
	return pendingOK(err)
}

type Accept struct {
	Fd       driver.RawFd
	Accepted driver.RawFd
	Peer     net.Addr

	acceptBuf [2 * (unsafe.Sizeof(windows.RawSockaddrAny{}) + 16)]byte
}

func (o *Accept) OpName() string      { return "Accept" }
func (o *Accept) IntoInner() any      { return nil }
func (o *Accept) RawFD() driver.RawFd { return o.Fd }
func (o *Accept) PrepareOverlapped(ol *syscall.Overlapped) error {
	var done uint32
	err := windows.AcceptEx(windows.Handle(o.Fd), windows.Handle(o.Accepted), &o.acceptBuf[0],
		0, uint32(unsafe.Sizeof(windows.RawSockaddrAny{}))+16, uint32(unsafe.Sizeof(windows.RawSockaddrAny{}))+16,
		&done, (*windows.Overlapped)(unsafe.Pointer(ol)))
	return pendingOK(err)
}

type Connect struct {
	Fd   driver.RawFd
	Addr windows.Sockaddr
}

func (o *Connect) OpName() string      { return "Connect" }
func (o *Connect) IntoInner() any      { return nil }
func (o *Connect) RawFD() driver.RawFd { return o.Fd }
func (o *Connect) PrepareOverlapped(ol *syscall.Overlapped) error {
	err := windows.ConnectEx(windows.Handle(o.Fd), o.Addr, nil, 0, nil, (*windows.Overlapped)(unsafe.Pointer(ol)))
	return pendingOK(err)
}

// Sync, ShutdownSocket, CloseSocket, CloseFile, OpenFile, FileStat,
// PathStat and Asyncify have no useful overlapped form on Windows —
// they run on the shared Asyncify pool.

type Sync struct {
	Fd       driver.RawFd
	DataOnly bool
}

func (o *Sync) OpName() string    { return "Sync" }
func (o *Sync) IntoInner() any    { return nil }
func (o *Sync) Run() (int, error) { return 0, windows.FlushFileBuffers(windows.Handle(o.Fd)) }

type ShutdownSocket struct {
	Fd  driver.RawFd
	How int
}

func (o *ShutdownSocket) OpName() string    { return "ShutdownSocket" }
func (o *ShutdownSocket) IntoInner() any    { return nil }
func (o *ShutdownSocket) Run() (int, error) { return 0, windows.Shutdown(windows.Handle(o.Fd), o.How) }

type CloseSocket struct{ Fd driver.RawFd }

func (o *CloseSocket) OpName() string    { return "CloseSocket" }
func (o *CloseSocket) IntoInner() any    { return nil }
func (o *CloseSocket) Run() (int, error) { return 0, windows.Closesocket(windows.Handle(o.Fd)) }

type CloseFile struct{ Fd driver.RawFd }

func (o *CloseFile) OpName() string    { return "CloseFile" }
func (o *CloseFile) IntoInner() any    { return nil }
func (o *CloseFile) Run() (int, error) { return 0, windows.CloseHandle(windows.Handle(o.Fd)) }

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

type FileStat struct {
	Fd   driver.RawFd
	Info windows.ByHandleFileInformation
}

func (o *FileStat) OpName() string { return "FileStat" }
func (o *FileStat) IntoInner() any { return o.Info }
func (o *FileStat) Run() (int, error) {
	return 0, windows.GetFileInformationByHandle(windows.Handle(o.Fd), &o.Info)
}

// PathStat stats by path; NoFollow reports a reparse point's own
// metadata instead of its target's.
type PathStat struct {
	Path     string
	NoFollow bool
	Info     os.FileInfo
}

func (o *PathStat) OpName() string { return "PathStat" }
func (o *PathStat) IntoInner() any { return o.Info }
func (o *PathStat) Run() (int, error) {
	var info os.FileInfo
	var err error
	if o.NoFollow {
		info, err = os.Lstat(o.Path)
	} else {
		info, err = os.Stat(o.Path)
	}
	if err != nil {
		return 0, err
	}
	o.Info = info
	return 0, nil
}

type Asyncify struct{ Fn func() (int, error) }

func (o *Asyncify) OpName() string    { return "Asyncify" }
func (o *Asyncify) IntoInner() any    { return nil }
func (o *Asyncify) Run() (int, error) { return o.Fn() }

func bufPtr(b []byte) *byte {
	if len(b) == 0 {
		return nil
	}
	return &b[0]
}

func makeWSABufs(slices [][]byte) []windows.WSABuf {
	out := make([]windows.WSABuf, 0, len(slices))
	for _, s := range slices {
		out = append(out, windows.WSABuf{Len: uint32(len(s)), Buf: bufPtr(s)})
	}
	return out
}

func winSockaddrToUDPAddr(sa windows.Sockaddr) net.Addr {
	switch a := sa.(type) {
	case *windows.SockaddrInet4:
		ip := make(net.IP, 4)
		copy(ip, a.Addr[:])
		return &net.UDPAddr{IP: ip, Port: a.Port}
	case *windows.SockaddrInet6:
		ip := make(net.IP, 16)
		copy(ip, a.Addr[:])
		return &net.UDPAddr{IP: ip, Port: a.Port}
	default:
		return nil
	}
}
