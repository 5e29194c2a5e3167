//go:build darwin || netbsd || freebsd || openbsd || dragonfly

package driver

import (
	"time"

	"golang.org/x/sys/unix"
)

// kqueuePoller is the BSD/Darwin sysPoller: EVFILT_READ/EVFILT_WRITE
// filters registered with EV_ADD|EV_ENABLE. A self-pipe carries
// cross-goroutine wakeups (EVFILT_USER is not available on every BSD
// x/sys supports, a pipe is): a write to wakeW makes a blocked Kevent
// return, and the byte stays readable until drained, so a wake issued
// before the wait starts is not lost.
type kqueuePoller struct {
	fd     int
	wakeR  int
	wakeW  int
	events []unix.Kevent_t
}

func newSysPoller() (sysPoller, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		unix.Close(fd)
		return nil, err
	}
	var pipeFds [2]int
	if err := unix.Pipe(pipeFds[:]); err != nil {
		unix.Close(fd)
		return nil, err
	}
	unix.SetNonblock(pipeFds[0], true)
	unix.SetNonblock(pipeFds[1], true)
	changes := []unix.Kevent_t{
		{Ident: uint64(pipeFds[0]), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_ENABLE},
	}
	if _, err := unix.Kevent(fd, changes, nil, nil); err != nil {
		unix.Close(pipeFds[0])
		unix.Close(pipeFds[1])
		unix.Close(fd)
		return nil, err
	}
	return &kqueuePoller{
		fd:     fd,
		wakeR:  pipeFds[0],
		wakeW:  pipeFds[1],
		events: make([]unix.Kevent_t, 128),
	}, nil
}

func (p *kqueuePoller) Watch(fd RawFd) error {
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_ENABLE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD | unix.EV_ENABLE},
	}
	_, err := unix.Kevent(p.fd, changes, nil, nil)
	return err
}

func (p *kqueuePoller) Unwatch(fd RawFd) error {
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	_, err := unix.Kevent(p.fd, changes, nil, nil)
	return err
}

func (p *kqueuePoller) Notify() error {
	_, err := unix.Write(p.wakeW, []byte{1})
	if err == unix.EAGAIN {
		// Pipe full: a wake is already pending.
		return nil
	}
	return err
}

func (p *kqueuePoller) Wait(timeout *time.Duration) ([]sysEvent, error) {
	var ts *unix.Timespec
	if timeout != nil {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}
	for {
		n, err := unix.Kevent(p.fd, nil, p.events, ts)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, err
		}
		out := make([]sysEvent, 0, n)
		for i := 0; i < n; i++ {
			e := p.events[i]
			if int(e.Ident) == p.wakeR {
				var drain [64]byte
				unix.Read(p.wakeR, drain[:])
				continue
			}
			out = append(out, sysEvent{
				Fd:       RawFd(e.Ident),
				Readable: e.Filter == unix.EVFILT_READ,
				Writable: e.Filter == unix.EVFILT_WRITE,
			})
		}
		return out, nil
	}
}

func (p *kqueuePoller) Close() error {
	unix.Close(p.wakeR)
	unix.Close(p.wakeW)
	return unix.Close(p.fd)
}
