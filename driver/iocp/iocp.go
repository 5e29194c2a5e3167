//go:build windows

// Package iocp is the Windows completion-port Driver: a
// CreateIoCompletionPort/GetQueuedCompletionStatus loop exposing the
// same multi-op push/poll shape the other backends expose, correlating
// completions back to their operation via the OVERLAPPED pointer's
// identity rather than a separate slab lookup.
package iocp

import (
	"fmt"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/xtaci/proactor/driver"
)

// Preparer is implemented by every opcode type's PrepareOverlapped
// method (see opcode/ops_windows.go). Declared locally so this package
// never imports opcode (opcode imports driver, not the reverse).
type Preparer interface {
	PrepareOverlapped(ol *syscall.Overlapped) error
}

// fdCarrier lets Cancel recover the handle an overlapped op was issued
// against, the first argument CancelIoEx needs.
type fdCarrier interface {
	RawFD() driver.RawFd
}

// wakeKey marks the zero-byte packets Notify posts to unblock Poll
// from another goroutine; they carry no operation.
const wakeKey = ^uintptr(0)

// opRecord is the heap-pinned per-operation record. Its OVERLAPPED
// field MUST stay first: GetQueuedCompletionStatus hands back a
// *syscall.Overlapped that is, bit-for-bit, the address of this
// struct, letting user_data be the record's own pointer reinterpreted
// as a uint64, recoverable via unsafe.Pointer without a slab lookup.
type opRecord struct {
	ol syscall.Overlapped

	op        driver.Operation
	fd        driver.RawFd
	cancelled bool
}

type iocpDriver struct {
	port windows.Handle

	mu      sync.Mutex
	records map[uint64]*opRecord
	nextUd  uint64 // key namespace for Asyncify-pool ops with no OVERLAPPED
	ready   []driver.Entry
	notify  driver.NotifyHandle
}

// New constructs the IOCP-backed Driver.
func New() (driver.Driver, error) {
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("iocp: create completion port: %w", err)
	}
	d := &iocpDriver{
		port:    port,
		records: make(map[uint64]*opRecord),
		nextUd:  1,
	}
	d.notify = driver.NewNotifyHandle(d.wake)
	return d, nil
}

// wake posts a keyed zero-byte packet so a blocked
// GetQueuedCompletionStatus returns promptly. Queued packets persist,
// so a wake issued before the wait starts is not lost.
func (d *iocpDriver) wake() error {
	return windows.PostQueuedCompletionStatus(d.port, 0, wakeKey, nil)
}

// Attach associates fd with the completion port. This must happen
// exactly once per handle; a second call is a caller bug, reported
// rather than silently ignored.
func (d *iocpDriver) Attach(fd driver.RawFd) error {
	_, err := windows.CreateIoCompletionPort(windows.Handle(fd), d.port, 0, 0)
	return err
}

func (d *iocpDriver) Push(op driver.Operation) (uint64, error) {
	prep, ok := op.(Preparer)
	if !ok {
		if bop, ok := op.(driver.BlockingOp); ok {
			return d.pushBlocking(bop)
		}
		return 0, fmt.Errorf("iocp: op %q has no overlapped preparation", op.OpName())
	}

	rec := &opRecord{op: op}
	if fc, ok := op.(fdCarrier); ok {
		rec.fd = fc.RawFD()
	}
	ud := uint64(uintptr(unsafe.Pointer(rec)))

	d.mu.Lock()
	d.records[ud] = rec
	d.mu.Unlock()

	if err := prep.PrepareOverlapped(&rec.ol); err != nil {
		d.mu.Lock()
		delete(d.records, ud)
		d.mu.Unlock()
		return 0, err
	}
	return ud, nil
}

// pushBlocking offloads an op with no overlapped form (FlushFileBuffers,
// CloseHandle, path syscalls) to the shared Asyncify pool, delivering
// its result as a posted wake the next Poll picks up from ready.
func (d *iocpDriver) pushBlocking(bop driver.BlockingOp) (uint64, error) {
	d.mu.Lock()
	ud := d.nextUd
	d.nextUd++
	d.mu.Unlock()

	err := driver.RunBlocking(bop.Run, func(n int, err error) {
		d.mu.Lock()
		d.ready = append(d.ready, driver.Entry{UserData: ud, N: n, Err: err})
		d.mu.Unlock()
		d.wake()
	})
	return ud, err
}

func (d *iocpDriver) Cancel(userData uint64) {
	d.mu.Lock()
	rec, ok := d.records[userData]
	if ok {
		rec.cancelled = true
	}
	d.mu.Unlock()
	if !ok {
		return
	}
	if c, ok := rec.op.(driver.Cancellable); ok {
		c.Cancelled()
	}
	// Best-effort: ask the kernel to abort the outstanding I/O. Failure
	// is tolerated; the records entry is freed only once its completion
	// is actually observed in Poll, never here, the same discipline the
	// poll/io_uring backends follow.
	windows.CancelIoEx(windows.Handle(rec.fd), (*windows.Overlapped)(unsafe.Pointer(&rec.ol)))
}

func (d *iocpDriver) Poll(timeout *time.Duration, out *[]driver.Entry) error {
	d.mu.Lock()
	if len(d.ready) > 0 {
		*out = append(*out, d.ready...)
		d.ready = d.ready[:0]
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	ms := uint32(windows.INFINITE)
	if timeout != nil {
		ms = uint32(timeout.Milliseconds())
	}

	var bytes uint32
	var key uintptr
	var ol *windows.Overlapped
	err := windows.GetQueuedCompletionStatus(d.port, &bytes, &key, &ol, ms)
	if err == windows.WAIT_TIMEOUT {
		if timeout != nil {
			return driver.ErrTimedOut
		}
		return nil
	}

	if ol == nil {
		// A posted wake (or a port-level failure with no packet).
		if key == wakeKey || err == nil {
			d.mu.Lock()
			if len(d.ready) > 0 {
				*out = append(*out, d.ready...)
				d.ready = d.ready[:0]
			}
			d.mu.Unlock()
			return nil
		}
		return err
	}

	ud := uint64(uintptr(unsafe.Pointer(ol)))
	d.mu.Lock()
	rec, found := d.records[ud]
	if found {
		delete(d.records, ud)
	}
	d.mu.Unlock()
	if !found {
		return nil
	}

	e := driver.Entry{UserData: ud, N: int(bytes)}
	if rec.cancelled {
		e.N = 0
		e.Err = driver.ErrCancelled
	} else if err != nil {
		e.Err = err
	} else if cc, ok := rec.op.(driver.CompletionConsumer); ok {
		cc.OnCompletion(e.N, e.Err)
	}
	*out = append(*out, e)
	return nil
}

func (d *iocpDriver) Handle() driver.NotifyHandle { return d.notify }

func (d *iocpDriver) Close() error {
	return windows.CloseHandle(d.port)
}
