//go:build !windows

// Package asocket provides thin async TCP/UDP consumers built on
// runtime.Runtime.Submit: each stream or socket owns its own fd.Shared
// rather than sharing one watcher-owned net.Conn.
package asocket

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/xtaci/proactor/buf"
	"github.com/xtaci/proactor/driver"
	"github.com/xtaci/proactor/fd"
	"github.com/xtaci/proactor/opcode"
	"github.com/xtaci/proactor/runtime"
	"github.com/xtaci/proactor/runtime/timer"
)

// TCPStream is a connected TCP socket driven entirely through one
// Runtime's Proactor.
type TCPStream struct {
	rt *runtime.Runtime
	h  fd.Shared[struct{}]
}

// DialTCP connects to addr and attaches the resulting socket to rt.
func DialTCP(ctx context.Context, rt *runtime.Runtime, network, addr string) (*TCPStream, error) {
	raddr, err := net.ResolveTCPAddr(network, addr)
	if err != nil {
		return nil, err
	}
	domain := unix.AF_INET
	if raddr.IP.To4() == nil {
		domain = unix.AF_INET6
	}
	sysfd, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(sysfd, true); err != nil {
		unix.Close(sysfd)
		return nil, err
	}

	s := &TCPStream{rt: rt, h: fd.New(driver.RawFd(sysfd), struct{}{})}
	if err := rt.Proactor().Attach(s.h.Raw()); err != nil {
		unix.Close(sysfd)
		return nil, err
	}

	sa, err := toSockaddr(raddr)
	if err != nil {
		s.Close()
		return nil, err
	}
	if _, err := rt.Submit(&opcode.Connect{Fd: s.h.Raw(), Addr: sa}); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Read fills buf from the stream with a single recv.
func (s *TCPStream) Read(b buf.MutBuffer) (int, error) {
	return s.rt.Submit(&opcode.Recv{Fd: s.h.Raw(), Buf: b})
}

// ReadFull repeatedly Reads until b's full capacity is initialized or
// an error occurs.
func (s *TCPStream) ReadFull(b buf.MutBuffer) (int, error) {
	total := 0
	full := b.Bytes()
	for total < len(full) {
		n, err := s.rt.Submit(&opcode.Recv{Fd: s.h.Raw(), Buf: sliceView{full[total:]}})
		total += n
		b.SetInit(total)
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, fmt.Errorf("asocket: connection closed with %d/%d bytes read", total, len(full))
		}
	}
	return total, nil
}

// Write sends buf with a single send and returns how many bytes were
// written, which may be fewer than len(buf.Bytes()).
func (s *TCPStream) Write(b buf.Buffer) (int, error) {
	return s.rt.Submit(&opcode.Send{Fd: s.h.Raw(), Buf: b})
}

// ReadTimeout is Read raced against a deadline. When the deadline wins
// the pending recv is Cancelled, not abandoned: its buffer is
// reclaimed by the runtime and no stalled op is left queued on the fd.
func (s *TCPStream) ReadTimeout(ctx context.Context, b buf.MutBuffer, deadline time.Time) (int, error) {
	var n int
	err := timer.Timeout(ctx, s.rt.Timer(), deadline, func(ctx context.Context) error {
		var innerErr error
		n, innerErr = s.rt.SubmitContext(ctx, &opcode.Recv{Fd: s.h.Raw(), Buf: b})
		return innerErr
	})
	return n, err
}

// WriteTimeout is Write raced against a deadline, with the same
// cancel-the-loser contract as ReadTimeout.
func (s *TCPStream) WriteTimeout(ctx context.Context, b buf.Buffer, deadline time.Time) (int, error) {
	var n int
	err := timer.Timeout(ctx, s.rt.Timer(), deadline, func(ctx context.Context) error {
		var innerErr error
		n, innerErr = s.rt.SubmitContext(ctx, &opcode.Send{Fd: s.h.Raw(), Buf: b})
		return innerErr
	})
	return n, err
}

// Close shuts down and releases the underlying fd.
func (s *TCPStream) Close() error {
	return s.h.Release(func(raw driver.RawFd) error {
		return unix.Close(int(raw))
	})
}

// sliceView adapts a raw []byte window as a buf.MutBuffer for
// ReadFull's partial-progress sub-reads, without allocating a new
// buf.Slice per iteration.
type sliceView struct{ b []byte }

func (s sliceView) Bytes() []byte { return s.b }
func (s sliceView) Init() int     { return len(s.b) }
func (s sliceView) SetInit(int)   {}

func toSockaddr(addr *net.TCPAddr) (unix.Sockaddr, error) {
	if ip4 := addr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return sa, nil
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	return sa, nil
}
