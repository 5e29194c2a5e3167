//go:build linux

package driver

import (
	"encoding/binary"
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller is the Linux sysPoller, used either as the sole poll
// backend or, via the default constructor's fallback, when creating an
// io_uring ring fails. A registered eventfd carries
// cross-goroutine wakeups: writing to it makes a blocked EpollWait
// return, and the write's counter persists until drained, so a wake
// issued before the wait starts is not lost.
type epollPoller struct {
	fd      int
	wakeFd  int
	events  []unix.EpollEvent
	fdToIdx map[RawFd]bool
}

func newSysPoller() (sysPoller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}
	if err := unix.EpollCtl(fd, unix.EPOLL_CTL_ADD, wakeFd, &ev); err != nil {
		unix.Close(wakeFd)
		unix.Close(fd)
		return nil, err
	}
	return &epollPoller{
		fd:      fd,
		wakeFd:  wakeFd,
		events:  make([]unix.EpollEvent, 128),
		fdToIdx: make(map[RawFd]bool),
	}, nil
}

func (p *epollPoller) Watch(fd RawFd) error {
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLRDHUP,
		Fd:     int32(fd),
	}
	if p.fdToIdx[fd] {
		return unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &ev)
	}
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return err
	}
	p.fdToIdx[fd] = true
	return nil
}

func (p *epollPoller) Unwatch(fd RawFd) error {
	delete(p.fdToIdx, fd)
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) Notify() error {
	var one [8]byte
	binary.LittleEndian.PutUint64(one[:], 1)
	_, err := unix.Write(p.wakeFd, one[:])
	if err == unix.EAGAIN {
		// Counter saturated: a wake is already pending.
		return nil
	}
	return err
}

func (p *epollPoller) Wait(timeout *time.Duration) ([]sysEvent, error) {
	ms := -1
	if timeout != nil {
		ms = int(timeout.Milliseconds())
	}
	for {
		n, err := unix.EpollWait(p.fd, p.events, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, err
		}
		out := make([]sysEvent, 0, n)
		for i := 0; i < n; i++ {
			e := p.events[i]
			if int(e.Fd) == p.wakeFd {
				var drain [8]byte
				unix.Read(p.wakeFd, drain[:])
				continue
			}
			out = append(out, sysEvent{
				Fd:       RawFd(e.Fd),
				Readable: e.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0,
				Writable: e.Events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			})
		}
		return out, nil
	}
}

func (p *epollPoller) Close() error {
	unix.Close(p.wakeFd)
	return unix.Close(p.fd)
}
