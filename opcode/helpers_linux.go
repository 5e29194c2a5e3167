//go:build linux

package opcode

import (
	"net"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	pollIn  = 0x001
	pollOut = 0x004
)

func uintptrOf(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&b[0])))
}

func uintptrOfIovecs(iovs []syscall.Iovec) uint64 {
	if len(iovs) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&iovs[0])))
}

func uintptrOfMsghdr(m *syscall.Msghdr) uint64 {
	return uint64(uintptr(unsafe.Pointer(m)))
}

func uintptrOfSockaddr(rsa *syscall.RawSockaddrAny) uint64 {
	return uint64(uintptr(unsafe.Pointer(rsa)))
}

func rawSockaddrPtr(rsa *syscall.RawSockaddrAny) unsafe.Pointer {
	return unsafe.Pointer(rsa)
}

func makeIovecs(slices [][]byte) []syscall.Iovec {
	iovs := make([]syscall.Iovec, 0, len(slices))
	for _, s := range slices {
		if len(s) == 0 {
			continue
		}
		iov := syscall.Iovec{Base: &s[0]}
		iov.SetLen(len(s))
		iovs = append(iovs, iov)
	}
	return iovs
}

// fillMsghdr wires msg's iovec to b and, when rsa is non-nil, its name
// to rsa for the kernel to fill the peer address into.
func fillMsghdr(msg *syscall.Msghdr, iov *syscall.Iovec, rsa *syscall.RawSockaddrAny, b []byte) {
	*msg = syscall.Msghdr{}
	if len(b) > 0 {
		iov.Base = &b[0]
	} else {
		iov.Base = nil
	}
	iov.SetLen(len(b))
	msg.Iov = iov
	msg.SetIovlen(1)
	if rsa != nil {
		msg.Name = (*byte)(unsafe.Pointer(rsa))
		msg.Namelen = uint32(unsafe.Sizeof(*rsa))
	}
}

// encodeSockaddr serializes sa into rsa, returning the populated
// length, the wire form connect/sendmsg expect.
func encodeSockaddr(rsa *syscall.RawSockaddrAny, sa unix.Sockaddr) uint32 {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		v := (*syscall.RawSockaddrInet4)(unsafe.Pointer(rsa))
		*v = syscall.RawSockaddrInet4{Family: unix.AF_INET, Port: htons(uint16(a.Port))}
		copy(v.Addr[:], a.Addr[:])
		return uint32(unsafe.Sizeof(*v))
	case *unix.SockaddrInet6:
		v := (*syscall.RawSockaddrInet6)(unsafe.Pointer(rsa))
		*v = syscall.RawSockaddrInet6{Family: unix.AF_INET6, Port: htons(uint16(a.Port))}
		copy(v.Addr[:], a.Addr[:])
		return uint32(unsafe.Sizeof(*v))
	default:
		return 0
	}
}

// rawSockaddrToAddr decodes a kernel-filled RawSockaddrAny into a
// net.Addr, the inverse of encodeSockaddr. Datagram sockets are the
// only caller, so the result is a *net.UDPAddr.
func rawSockaddrToAddr(rsa *syscall.RawSockaddrAny) net.Addr {
	switch rsa.Addr.Family {
	case unix.AF_INET:
		v := (*syscall.RawSockaddrInet4)(unsafe.Pointer(rsa))
		ip := make(net.IP, 4)
		copy(ip, v.Addr[:])
		return &net.UDPAddr{IP: ip, Port: int(htons(v.Port))}
	case unix.AF_INET6:
		v := (*syscall.RawSockaddrInet6)(unsafe.Pointer(rsa))
		ip := make(net.IP, 16)
		copy(ip, v.Addr[:])
		return &net.UDPAddr{IP: ip, Port: int(htons(v.Port))}
	default:
		return nil
	}
}

func htons(v uint16) uint16 {
	return (v << 8) | (v >> 8)
}
