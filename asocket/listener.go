//go:build !windows

package asocket

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/xtaci/proactor/driver"
	"github.com/xtaci/proactor/fd"
	"github.com/xtaci/proactor/opcode"
	"github.com/xtaci/proactor/runtime"
)

// TCPListener accepts connections asynchronously through one Runtime.
type TCPListener struct {
	rt   *runtime.Runtime
	h    fd.Shared[struct{}]
	addr *net.TCPAddr
}

// Addr returns the listener's bound local address, resolved from the
// kernel (so callers that bound to port 0 can discover the assigned
// port).
func (l *TCPListener) Addr() *net.TCPAddr { return l.addr }

func sockaddrToTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, 4)
		copy(ip, v.Addr[:])
		return &net.TCPAddr{IP: ip, Port: v.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, 16)
		copy(ip, v.Addr[:])
		return &net.TCPAddr{IP: ip, Port: v.Port}
	default:
		return nil
	}
}

// ListenTCP binds and listens on addr.
func ListenTCP(rt *runtime.Runtime, network, addr string) (*TCPListener, error) {
	laddr, err := net.ResolveTCPAddr(network, addr)
	if err != nil {
		return nil, err
	}
	domain := unix.AF_INET
	if laddr.IP.To4() == nil {
		domain = unix.AF_INET6
	}
	sysfd, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(sysfd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(sysfd)
		return nil, err
	}
	sa, err := toSockaddr(laddr)
	if err != nil {
		unix.Close(sysfd)
		return nil, err
	}
	if err := unix.Bind(sysfd, sa); err != nil {
		unix.Close(sysfd)
		return nil, err
	}
	if err := unix.Listen(sysfd, unix.SOMAXCONN); err != nil {
		unix.Close(sysfd)
		return nil, err
	}
	if err := unix.SetNonblock(sysfd, true); err != nil {
		unix.Close(sysfd)
		return nil, err
	}

	boundAddr := laddr
	if sa, err := unix.Getsockname(sysfd); err == nil {
		if resolved := sockaddrToTCPAddr(sa); resolved != nil {
			boundAddr = resolved
		}
	}

	l := &TCPListener{rt: rt, h: fd.New(driver.RawFd(sysfd), struct{}{}), addr: boundAddr}
	if err := rt.Proactor().Attach(l.h.Raw()); err != nil {
		unix.Close(sysfd)
		return nil, err
	}
	return l, nil
}

// Accept blocks until a new connection arrives.
func (l *TCPListener) Accept() (*TCPStream, error) {
	op := &opcode.Accept{Fd: l.h.Raw()}
	if _, err := l.rt.Submit(op); err != nil {
		return nil, err
	}
	s := &TCPStream{rt: l.rt, h: fd.New(op.Accepted, struct{}{})}
	if err := l.rt.Proactor().Attach(s.h.Raw()); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the listening socket.
func (l *TCPListener) Close() error {
	return l.h.Release(func(raw driver.RawFd) error {
		return unix.Close(int(raw))
	})
}
