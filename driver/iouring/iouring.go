//go:build linux

// Package iouring is the io_uring-backed Driver, built on
// pawelgaczynski/giouring and following its getSQE/PrepRead/PrepWrite
// dispatch shape for filling in submission queue entries.
package iouring

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/pawelgaczynski/giouring"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/xtaci/proactor/driver"
)

// Preparer is implemented by opcode descriptors that know how to fill
// in a submission queue entry for the io_uring backend. opcode's
// linux-only files implement this structurally (no import of this
// package is required on opcode's side, avoiding a driver/iouring ->
// opcode -> driver import cycle).
type Preparer interface {
	PrepareSQE(sqe *giouring.SubmissionQueueEntry)
}

// slot is the per-in-flight-operation bookkeeping record, indexed by
// slab position rather than pooled by sync.Pool. The user_data carried
// in each SQE is gen<<32|idx, not the bare index: gen is bumped every
// time a freed index is handed out again, so a completion for an
// earlier occupant of the same slot decodes to a stale generation and
// is dropped instead of resolving the wrong operation.
type slot struct {
	inUse     bool
	cancelled bool
	gen       uint32
	op        driver.Operation
}

func slotKey(gen, idx uint32) uint64 { return uint64(gen)<<32 | uint64(idx) }

func splitKey(key uint64) (gen, idx uint32) { return uint32(key >> 32), uint32(key) }

// Reserved user_data values, outside the slab index namespace.
const (
	cancelSentinel = ^uint64(0)     // ASYNC_CANCEL requests, no observer
	wakeSentinel   = ^uint64(0) - 1 // the re-armed eventfd read
)

// ringDriver implements driver.Driver on top of a single io_uring
// instance. The ring itself is touched only from Poll's goroutine:
// Push and Cancel run on whichever goroutine submitted the op, so they
// never prep SQEs directly — they enqueue the request and wake the
// ring via the eventfd, and Poll drains the queue into SQEs before its
// one blocking wait. That keeps every ring call single-threaded
// without a mutex around the kernel interface.
type ringDriver struct {
	ring *giouring.Ring

	mu      sync.Mutex
	slab    []slot
	free    []uint32
	queue   *queue.Queue   // descriptors waiting for a free SQE
	cancels []uint64       // user_data values awaiting an ASYNC_CANCEL SQE
	ready   []driver.Entry // synthetic completions from the Asyncify pool

	wakeFd  int
	wakeBuf [8]byte // target of the re-armed eventfd read; address must stay stable
	notify  driver.NotifyHandle
}

type queuedPrep struct {
	key uint64
	op  driver.Operation
}

const defaultEntries = 256

// New constructs the io_uring Driver with the given submission queue
// depth (0 means the default). It returns an error (rather than
// panicking) whenever the running kernel lacks io_uring support or
// CreateRing fails for any other reason, letting the caller fall back
// to the poll backend instead.
func New(entries uint32) (driver.Driver, error) {
	if entries == 0 {
		entries = defaultEntries
	}
	ring, err := giouring.CreateRing(entries)
	if err != nil {
		return nil, errors.Wrap(err, "iouring: create ring")
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		ring.QueueExit()
		return nil, errors.Wrap(err, "iouring: create wake eventfd")
	}
	d := &ringDriver{
		ring:   ring,
		queue:  queue.New(),
		wakeFd: wakeFd,
	}
	d.notify = driver.NewNotifyHandle(d.wake)
	d.armWake()
	return d, nil
}

// wake interrupts a blocked SubmitAndWaitTimeout: the eventfd read
// armed by armWake completes, delivering the wakeSentinel CQE. The
// eventfd counter persists until read, so a wake issued before the
// wait starts is not lost.
func (d *ringDriver) wake() error {
	var one [8]byte
	binary.LittleEndian.PutUint64(one[:], 1)
	_, err := unix.Write(d.wakeFd, one[:])
	return err
}

// armWake preps a read on the wake eventfd. Called once at
// construction and re-called from Poll each time the previous wake
// read completes; both sites run on the ring-owning goroutine.
func (d *ringDriver) armWake() {
	sqe := d.ring.GetSQE()
	if sqe == nil {
		// The submission queue is full; Poll re-arms after it drains.
		return
	}
	sqe.PrepareRead(int32(d.wakeFd), uint64(uintptrOfWake(&d.wakeBuf)), 8, 0)
	sqe.UserData = wakeSentinel
}

func (d *ringDriver) Attach(fd driver.RawFd) error {
	// io_uring needs no per-fd registration step for the non-fixed-file
	// path used here; sockets/files are referenced directly by fd in
	// each SQE, matching giouring's default (non-IORING_REGISTER_FILES)
	// usage.
	return nil
}

func (d *ringDriver) allocSlot(op driver.Operation) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	var idx uint32
	var gen uint32
	if n := len(d.free); n > 0 {
		idx = d.free[n-1]
		d.free = d.free[:n-1]
		gen = d.slab[idx].gen + 1
		d.slab[idx] = slot{inUse: true, gen: gen, op: op}
	} else {
		idx = uint32(len(d.slab))
		d.slab = append(d.slab, slot{inUse: true, op: op})
	}
	return slotKey(gen, idx)
}

// lookupLocked resolves a user_data key to its slot index, nil-ing out
// on a free slot or a stale generation. Callers hold d.mu.
func (d *ringDriver) lookupLocked(key uint64) (uint32, *slot) {
	gen, idx := splitKey(key)
	if int(idx) >= len(d.slab) {
		return 0, nil
	}
	s := &d.slab[idx]
	if !s.inUse || s.gen != gen {
		return 0, nil
	}
	return idx, s
}

func (d *ringDriver) freeSlot(key uint64) {
	d.mu.Lock()
	if idx, s := d.lookupLocked(key); s != nil {
		// Keep gen so the next occupant of this index gets a fresh one.
		d.slab[idx] = slot{gen: s.gen}
		d.free = append(d.free, idx)
	}
	d.mu.Unlock()
}

func (d *ringDriver) Push(op driver.Operation) (uint64, error) {
	if _, ok := op.(Preparer); !ok {
		if bop, ok := op.(driver.BlockingOp); ok {
			return d.pushBlocking(op, bop)
		}
		return 0, fmt.Errorf("iouring: op %q has no io_uring preparation", op.OpName())
	}

	key := d.allocSlot(op)
	d.mu.Lock()
	d.queue.Add(queuedPrep{key: key, op: op})
	d.mu.Unlock()
	d.wake()
	return key, nil
}

func (d *ringDriver) Cancel(userData uint64) {
	d.mu.Lock()
	_, s := d.lookupLocked(userData)
	if s == nil {
		d.mu.Unlock()
		return
	}
	s.cancelled = true
	op := s.op
	d.cancels = append(d.cancels, userData)
	d.mu.Unlock()

	if c, ok := op.(driver.Cancellable); ok {
		c.Cancelled()
	}
	d.wake()
}

// pushBlocking handles an op with no io_uring preparation (file-path
// syscalls like OpenFile/FileStat that the kernel has no uniform
// async path for) by offloading it to the shared Asyncify pool and
// delivering a synthetic completion the next time Poll runs.
func (d *ringDriver) pushBlocking(op driver.Operation, bop driver.BlockingOp) (uint64, error) {
	key := d.allocSlot(op)
	err := driver.RunBlocking(bop.Run, func(n int, err error) {
		d.mu.Lock()
		d.ready = append(d.ready, driver.Entry{UserData: key, N: n, Err: err})
		d.mu.Unlock()
		d.wake()
	})
	return key, err
}

// drainPending moves queued preps and cancel requests into SQEs. Runs
// only on Poll's goroutine, the ring's single owner.
func (d *ringDriver) drainPending() {
	d.mu.Lock()
	pendingLen := d.queue.Length()
	cancels := d.cancels
	d.cancels = nil
	d.mu.Unlock()

	for i := 0; i < pendingLen; i++ {
		d.mu.Lock()
		if d.queue.Length() == 0 {
			d.mu.Unlock()
			break
		}
		q := d.queue.Remove().(queuedPrep)
		d.mu.Unlock()

		sqe := d.ring.GetSQE()
		if sqe == nil {
			d.mu.Lock()
			d.queue.Add(q)
			d.mu.Unlock()
			break
		}
		q.op.(Preparer).PrepareSQE(sqe)
		sqe.UserData = q.key
	}

	for _, ud := range cancels {
		sqe := d.ring.GetSQE()
		if sqe == nil {
			d.mu.Lock()
			d.cancels = append(d.cancels, ud)
			d.mu.Unlock()
			break
		}
		sqe.PrepareCancel64(ud, 0)
		sqe.UserData = cancelSentinel
	}
}

func (d *ringDriver) Poll(timeout *time.Duration, out *[]driver.Entry) error {
	before := len(*out)

	d.mu.Lock()
	if len(d.ready) > 0 {
		for _, e := range d.ready {
			if idx, s := d.lookupLocked(e.UserData); s != nil {
				if s.cancelled {
					e.N = 0
					e.Err = driver.ErrCancelled
				}
				d.slab[idx] = slot{gen: s.gen}
				d.free = append(d.free, idx)
			}
			*out = append(*out, e)
		}
		d.ready = d.ready[:0]
	}
	d.mu.Unlock()

	d.drainPending()

	var ts *unix.Timespec
	if timeout != nil {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}
	if _, err := d.ring.SubmitAndWaitTimeout(1, ts, nil); err != nil {
		if !isTimeout(err) {
			return errors.Wrap(err, "iouring: submit_and_wait")
		}
	}

	var cqes [128]*giouring.CompletionQueueEvent
	for {
		n := d.ring.PeekBatchCQE(cqes[:])
		if n == 0 {
			break
		}
		for i := uint32(0); i < n; i++ {
			cqe := cqes[i]
			switch cqe.UserData {
			case cancelSentinel:
				d.ring.CQESeen(cqe)
				continue
			case wakeSentinel:
				d.ring.CQESeen(cqe)
				d.armWake()
				continue
			}
			d.mu.Lock()
			_, s := d.lookupLocked(cqe.UserData)
			var cancelled bool
			var op driver.Operation
			if s != nil {
				cancelled = s.cancelled
				op = s.op
			}
			d.mu.Unlock()
			if s == nil {
				// A stale generation: the slot was freed and reissued;
				// this completion's operation already resolved.
				d.ring.CQESeen(cqe)
				continue
			}

			e := driver.Entry{UserData: cqe.UserData, N: int(cqe.Res)}
			if cqe.Res < 0 {
				e.N = 0
				e.Err = syscallErrno(-cqe.Res)
			}
			if cancelled {
				e.N = 0
				e.Err = driver.ErrCancelled
			} else if cc, ok := op.(driver.CompletionConsumer); ok {
				cc.OnCompletion(e.N, e.Err)
			}
			*out = append(*out, e)
			d.freeSlot(cqe.UserData)
			d.ring.CQESeen(cqe)
		}
	}

	// New submissions or cancels may have arrived while reaping; leave
	// them for the next Poll, which the wake eventfd guarantees happens
	// promptly.
	if len(*out) == before && timeout != nil {
		return driver.ErrTimedOut
	}
	return nil
}

func (d *ringDriver) Handle() driver.NotifyHandle { return d.notify }

func (d *ringDriver) Close() error {
	d.ring.QueueExit()
	return unix.Close(d.wakeFd)
}
