//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package driver

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"
)

// sysPoller is the thin syscall-level abstraction each OS's readiness
// facility (epoll, kqueue) implements. It is intentionally minimal:
// register a fd for both-direction readiness, block for a batch of
// events, and carry its own wake fd (an eventfd under epoll, a
// self-pipe under kqueue) so Notify can interrupt a blocked Wait from
// another goroutine. Wait drains and filters the wake fd's events
// itself; callers never see them.
type sysPoller interface {
	Watch(fd RawFd) error
	Unwatch(fd RawFd) error
	Wait(timeout *time.Duration) ([]sysEvent, error)
	Notify() error
	Close() error
}

type sysEvent struct {
	Fd       RawFd
	Readable bool
	Writable bool
}

// fdWaiters holds the FIFO of queued operations per fd: one list for
// pending reads, one for pending writes, each entry any
// ReadinessPreparer op.
type fdWaiters struct {
	readers list.List
	writers list.List
}

type queuedOp struct {
	userData uint64
	op       ReadinessPreparer
}

// pollDriver is the epoll/kqueue readiness-backend Driver, used on any
// platform without io_uring and as the Linux fallback when creating an
// io_uring ring fails (a silent downgrade, decided in DESIGN.md to stay
// silent). No per-opcode probe of the kernel is made.
type pollDriver struct {
	mu       sync.Mutex
	sys      sysPoller
	fds      map[RawFd]*fdWaiters
	watched  map[RawFd]bool
	nextUser uint64
	ready    []Entry // synchronously completed ops awaiting delivery
	notify   NotifyHandle
	closed   bool
}

// NewPollDriver constructs the readiness-backend Driver.
func NewPollDriver() (Driver, error) {
	sys, err := newSysPoller()
	if err != nil {
		return nil, err
	}
	return &pollDriver{
		sys:     sys,
		fds:     make(map[RawFd]*fdWaiters),
		watched: make(map[RawFd]bool),
		notify:  NewNotifyHandle(sys.Notify),
	}, nil
}

func (d *pollDriver) Attach(fd RawFd) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.watched[fd] {
		return nil
	}
	if err := d.sys.Watch(fd); err != nil {
		if errors.Is(err, syscall.EPERM) {
			// epoll refuses regular files and directories; such fds are
			// treated as always-ready and need no registration.
			return nil
		}
		return err
	}
	d.watched[fd] = true
	d.fds[fd] = &fdWaiters{}
	return nil
}

func (d *pollDriver) Push(op Operation) (uint64, error) {
	rp, ok := op.(ReadinessPreparer)
	if !ok {
		if bop, ok := op.(BlockingOp); ok {
			return d.pushBlocking(bop)
		}
		return 0, fmt.Errorf("driver: op %q does not support the poll backend", op.OpName())
	}

	d.mu.Lock()
	ud := d.nextUser
	d.nextUser++

	dec := rp.PreSubmit()
	switch dec.Kind {
	case DecisionCompleted:
		d.ready = append(d.ready, Entry{UserData: ud, N: dec.N, Err: dec.Err})
		d.mu.Unlock()
		// A Poll may already be blocked in the OS wait with no reason to
		// return; the inline completion has to force one.
		d.notify.Notify()
	case DecisionBlocking:
		d.mu.Unlock()
		return d.runBlockingPreparer(ud, rp)
	default: // DecisionWait
		fw := d.fds[dec.Fd]
		if fw == nil {
			fw = &fdWaiters{}
			d.fds[dec.Fd] = fw
		}
		q := &queuedOp{userData: ud, op: rp}
		if dec.Interest == InterestWritable {
			fw.writers.PushBack(q)
		} else {
			fw.readers.PushBack(q)
		}
		needWatch := !d.watched[dec.Fd]
		if needWatch {
			d.watched[dec.Fd] = true
		}
		d.mu.Unlock()
		if needWatch {
			if err := d.sys.Watch(dec.Fd); err != nil {
				return ud, err
			}
		}
	}
	return ud, nil
}

func (d *pollDriver) Cancel(userData uint64) {
	d.mu.Lock()
	found := false
	for _, fw := range d.fds {
		if removeCancelled(&fw.readers, userData, &d.ready) {
			found = true
			break
		}
		if removeCancelled(&fw.writers, userData, &d.ready) {
			found = true
			break
		}
	}
	d.mu.Unlock()
	if found {
		d.notify.Notify()
	}
}

// removeCancelled pulls a queued op out of its waiter list immediately
// rather than leaving it to be discovered on the fd's next readiness
// event, which may never come — a cancelled op must resolve on its own
// schedule, not on the fd's, by forcing a synthetic delivery rather
// than waiting for the next poll event.
func removeCancelled(l *list.List, userData uint64, ready *[]Entry) bool {
	for e := l.Front(); e != nil; e = e.Next() {
		q := e.Value.(*queuedOp)
		if q.userData == userData {
			l.Remove(e)
			if c, ok := q.op.(Cancellable); ok {
				c.Cancelled()
			}
			*ready = append(*ready, Entry{UserData: userData, Err: ErrCancelled})
			return true
		}
	}
	return false
}

func (d *pollDriver) Poll(timeout *time.Duration, out *[]Entry) error {
	d.mu.Lock()
	if len(d.ready) > 0 {
		*out = append(*out, d.ready...)
		d.ready = d.ready[:0]
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	events, err := d.sys.Wait(timeout)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		d.mu.Lock()
		if len(d.ready) > 0 {
			*out = append(*out, d.ready...)
			d.ready = d.ready[:0]
			d.mu.Unlock()
			return nil
		}
		d.mu.Unlock()
		if timeout != nil {
			return ErrTimedOut
		}
		return nil
	}

	d.mu.Lock()
	for _, ev := range events {
		fw := d.fds[ev.Fd]
		if fw == nil {
			continue
		}
		if ev.Readable {
			drainWaiters(&fw.readers, out)
		}
		if ev.Writable {
			drainWaiters(&fw.writers, out)
		}
	}
	if len(d.ready) > 0 {
		*out = append(*out, d.ready...)
		d.ready = d.ready[:0]
	}
	d.mu.Unlock()
	return nil
}

// drainWaiters resumes queued ops front-to-back, stopping at the first
// one that re-arms (OnEvent returns done=false).
func drainWaiters(l *list.List, out *[]Entry) {
	var next *list.Element
	for e := l.Front(); e != nil; e = next {
		next = e.Next()
		q := e.Value.(*queuedOp)
		done, n, err := q.op.OnEvent(Event{Readable: true, Writable: true})
		if done {
			l.Remove(e)
			*out = append(*out, Entry{UserData: q.userData, N: n, Err: err})
		} else {
			break
		}
	}
}

func (d *pollDriver) Handle() NotifyHandle { return d.notify }

func (d *pollDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.sys.Close()
}
