// Package proactor implements the submission/completion algorithm of
// the async I/O system: a single active driver.Driver behind an op
// slab keyed by user_data, push/cancel/attach/poll over any opcode.Op.
package proactor

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/xtaci/proactor/driver"
	"github.com/xtaci/proactor/internal/logging"
	"github.com/xtaci/proactor/opcode"
)

// Error wraps a failed operation with the opcode name and user_data
// that produced it, layered over github.com/pkg/errors so callers can
// still unwrap down to the underlying syscall error.
type Error struct {
	Op       string
	UserData uint64
	Inner    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("proactor: %s (user_data=%d): %v", e.Op, e.UserData, e.Inner)
}

func (e *Error) Unwrap() error { return e.Inner }

// ErrCancelled is returned through a handle's Wait when Cancel raced a
// completion and won.
var ErrCancelled = errors.New("proactor: operation cancelled")

// Proactor is the façade over one driver.Driver. Poll is driven from
// the runtime's event loop, while Push and Cancel may be called from
// any goroutine (runtime.Runtime.Submit runs on its caller's
// goroutine); mu guards the slab shared between them.
type Proactor struct {
	drv driver.Driver

	slab map[uint64]*opcode.RawOpHandle

	mu sync.Mutex
}

// New constructs a Proactor over an already-selected driver.Driver
// (see the per-OS NewDefault constructors for backend selection).
func New(drv driver.Driver) *Proactor {
	return &Proactor{
		drv:  drv,
		slab: make(map[uint64]*opcode.RawOpHandle),
	}
}

// Attach registers fd with the active driver. Idempotent on io_uring
// (which needs no registration) and poll (which ignores an fd it
// already watches); on IOCP a second Attach for the same fd is a
// caller bug and the underlying CreateIoCompletionPort call surfaces
// its own error rather than being silently ignored.
func (p *Proactor) Attach(fd driver.RawFd) error {
	err := p.drv.Attach(fd)
	if err != nil {
		logging.L().Warn("attach failed", logging.Err(err))
	}
	return err
}

// Push submits op and returns a handle whose Wait blocks for the
// completion: allocate a slab slot and hand the op to the driver.
// Backpressure from a full
// submission ring is absorbed inside the driver itself (the io_uring
// backend requeues internally when SQEs are exhausted); a failure
// surfaced here is a genuine submission error, not a retryable one, so
// the handle completes immediately with it.
func (p *Proactor) Push(op opcode.Op) *opcode.RawOpHandle {
	handle := opcode.NewRawOpHandle(op)

	// Held across drv.Push so a concurrent Poll cannot see this op's
	// completion before its handle is in the slab.
	p.mu.Lock()
	defer p.mu.Unlock()
	ud, err := p.drv.Push(op)
	if err != nil {
		logging.L().Debug("push failed", logging.Op(op.OpName()), logging.Err(err))
		handle.Complete(0, &Error{Op: op.OpName(), Inner: err})
		return handle
	}

	handle.UserData = ud
	p.slab[ud] = handle
	return handle
}

// Cancel best-effort cancels the operation identified by userData.
// The slab slot is not freed here — only once Poll observes the
// (possibly synthetic) completion, so the kernel's in-flight pointer
// into the op always stays valid until that completion arrives.
func (p *Proactor) Cancel(userData uint64) {
	p.mu.Lock()
	if h, ok := p.slab[userData]; ok {
		h.MarkCancelled()
	}
	p.mu.Unlock()
	p.drv.Cancel(userData)
}

// Poll drains at most one backend wait syscall's worth of completions
// and resolves their handles. timeout is the caller-computed deadline
// (driven by runtime.Runtime's event loop and the timer wheel).
func (p *Proactor) Poll(timeout *time.Duration) (int, error) {
	var entries []driver.Entry
	if err := p.drv.Poll(timeout, &entries); err != nil {
		if errors.Is(err, driver.ErrTimedOut) {
			// An elapsed timeout is the caller's loop condition, not a
			// failure; surface it unwrapped so it stays matchable.
			return 0, driver.ErrTimedOut
		}
		return 0, errors.Wrap(err, "proactor: poll")
	}

	p.mu.Lock()
	for _, e := range entries {
		h, ok := p.slab[e.UserData]
		if !ok {
			continue
		}
		delete(p.slab, e.UserData)
		p.mu.Unlock()

		err := e.Err
		if err != nil {
			if errors.Is(err, driver.ErrCancelled) {
				err = ErrCancelled
			}
			err = &Error{Op: h.Op.OpName(), UserData: e.UserData, Inner: err}
		}
		h.Complete(e.N, err)

		p.mu.Lock()
	}
	n := len(entries)
	p.mu.Unlock()
	return n, nil
}

// Handle exposes the driver's cross-thread wake channel so
// runtime.Runtime can fold it into its select loop.
func (p *Proactor) Handle() driver.NotifyHandle { return p.drv.Handle() }

// Close releases the underlying driver. Any handles still pending at
// Close time never complete — callers must Cancel and observe
// completion first if that matters to them.
func (p *Proactor) Close() error {
	return p.drv.Close()
}
