// Package opcode defines the concrete I/O operation descriptors pushed
// through a proactor.Proactor. Each type owns its buffer for the
// operation's lifetime and exposes IntoInner to recover it once the
// operation completes or is abandoned.
package opcode

import (
	"sync/atomic"

	"github.com/xtaci/proactor/driver"
)

// Op is the common interface every operation descriptor satisfies.
// Backend-specific capability is added via the optional interfaces
// driver.ReadinessPreparer (poll backend) and, per build tag, the
// io_uring/IOCP preparer interfaces declared in driver/iouring and
// driver/iocp.
type Op interface {
	driver.Operation
	// IntoInner recovers the buffer (or other owned resource) this op
	// was constructed with, valid to call once the op has completed or
	// been abandoned before submission.
	IntoInner() any
}

// RawOpHandle is the heap-pinned completion record for one in-flight
// operation. Go's GC never relocates heap allocations, so holding a
// *RawOpHandle is sufficient to "pin" it for the kernel's lifetime; no
// explicit pin/unpin API is needed.
type RawOpHandle struct {
	Op        Op
	UserData  uint64
	cancelled atomic.Bool

	done   chan struct{}
	result int
	err    error
}

// NewRawOpHandle allocates a completion record for op. The returned
// handle is ready to be waited on via Wait once its UserData has been
// set by the owning Proactor.
func NewRawOpHandle(op Op) *RawOpHandle {
	return &RawOpHandle{Op: op, done: make(chan struct{})}
}

// Complete delivers a completion to whoever is waiting on Wait. It
// must be called exactly once per handle.
func (h *RawOpHandle) Complete(n int, err error) {
	h.result = n
	h.err = err
	close(h.done)
}

// Wait blocks until Complete has been called and returns its result.
func (h *RawOpHandle) Wait() (int, error) {
	<-h.done
	return h.result, h.err
}

// Done returns a channel closed once Complete has been called, so a
// caller can race the completion against other events (a context, a
// timer) in a select before committing to Wait.
func (h *RawOpHandle) Done() <-chan struct{} { return h.done }

// Cancelled reports whether Cancel has been requested for this op.
func (h *RawOpHandle) Cancelled() bool { return h.cancelled.Load() }

// MarkCancelled flags the handle so a caller blocked in Wait can tell
// a genuine completion from a cancellation race once it resolves.
func (h *RawOpHandle) MarkCancelled() { h.cancelled.Store(true) }
