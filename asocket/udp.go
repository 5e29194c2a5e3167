//go:build !windows

package asocket

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/xtaci/proactor/buf"
	"github.com/xtaci/proactor/driver"
	"github.com/xtaci/proactor/fd"
	"github.com/xtaci/proactor/opcode"
	"github.com/xtaci/proactor/runtime"
)

// UDPSocket is a bound (possibly unconnected) datagram socket.
type UDPSocket struct {
	rt   *runtime.Runtime
	h    fd.Shared[struct{}]
	addr *net.UDPAddr
}

// LocalAddr returns the socket's bound address, resolved from the
// kernel so callers that bound to port 0 can discover the assigned
// port.
func (u *UDPSocket) LocalAddr() *net.UDPAddr { return u.addr }

// ListenUDP binds a UDP socket on addr.
func ListenUDP(rt *runtime.Runtime, network, addr string) (*UDPSocket, error) {
	laddr, err := net.ResolveUDPAddr(network, addr)
	if err != nil {
		return nil, err
	}
	domain := unix.AF_INET
	if laddr.IP.To4() == nil {
		domain = unix.AF_INET6
	}
	sysfd, err := unix.Socket(domain, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, err
	}
	sa := &unix.SockaddrInet4{Port: laddr.Port}
	if ip4 := laddr.IP.To4(); ip4 != nil {
		copy(sa.Addr[:], ip4)
		if err := unix.Bind(sysfd, sa); err != nil {
			unix.Close(sysfd)
			return nil, err
		}
	} else {
		sa6 := &unix.SockaddrInet6{Port: laddr.Port}
		copy(sa6.Addr[:], laddr.IP.To16())
		if err := unix.Bind(sysfd, sa6); err != nil {
			unix.Close(sysfd)
			return nil, err
		}
	}
	if err := unix.SetNonblock(sysfd, true); err != nil {
		unix.Close(sysfd)
		return nil, err
	}

	boundAddr := laddr
	if sa, err := unix.Getsockname(sysfd); err == nil {
		if resolved := sockaddrToUDPAddr(sa); resolved != nil {
			boundAddr = resolved
		}
	}

	u := &UDPSocket{rt: rt, h: fd.New(driver.RawFd(sysfd), struct{}{}), addr: boundAddr}
	if err := rt.Proactor().Attach(u.h.Raw()); err != nil {
		unix.Close(sysfd)
		return nil, err
	}
	return u, nil
}

func sockaddrToUDPAddr(sa unix.Sockaddr) *net.UDPAddr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, 4)
		copy(ip, v.Addr[:])
		return &net.UDPAddr{IP: ip, Port: v.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, 16)
		copy(ip, v.Addr[:])
		return &net.UDPAddr{IP: ip, Port: v.Port}
	default:
		return nil
	}
}

// RecvFrom reads one datagram and its sender's address.
func (u *UDPSocket) RecvFrom(b buf.MutBuffer) (int, net.Addr, error) {
	op := &opcode.RecvFrom{Fd: u.h.Raw(), Buf: b}
	n, err := u.rt.Submit(op)
	return n, op.From, err
}

// SendTo writes one datagram to addr.
func (u *UDPSocket) SendTo(b buf.Buffer, addr *net.UDPAddr) (int, error) {
	sa := &unix.SockaddrInet4{Port: addr.Port}
	var target unix.Sockaddr = sa
	if ip4 := addr.IP.To4(); ip4 != nil {
		copy(sa.Addr[:], ip4)
	} else {
		sa6 := &unix.SockaddrInet6{Port: addr.Port}
		copy(sa6.Addr[:], addr.IP.To16())
		target = sa6
	}
	return u.rt.Submit(&opcode.SendTo{Fd: u.h.Raw(), Buf: b, To: target})
}

// Close releases the socket.
func (u *UDPSocket) Close() error {
	return u.h.Release(func(raw driver.RawFd) error {
		return unix.Close(int(raw))
	})
}
