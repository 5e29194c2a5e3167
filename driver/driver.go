// Package driver abstracts the operating system's native completion
// facility (io_uring, IOCP, or an epoll/kqueue readiness fallback)
// behind one interface: submit operation descriptors, block/wait for
// their completion, and translate kernel events into (user_data,
// result) entries.
//
// The submission/completion algorithm below is the direct realization
// of the Proactor-level pseudocode: drain the submit queue into the
// backend, issue at most one blocking wait syscall, and translate its
// entries. See proactor.Proactor for the slab bookkeeping on top
// of this interface.
package driver

import (
	"errors"
	"time"
)

// ErrTimedOut is returned by Poll when its timeout elapses with no
// completions. Cancelled operations do not use it: every backend
// completes them with ErrCancelled.
var ErrTimedOut = errors.New("driver: timed out")

// ErrCancelled is the synthetic completion error delivered for an op
// that was cancelled before the kernel (or the userspace readiness
// loop) ever acted on it.
var ErrCancelled = errors.New("driver: operation cancelled")

// Operation is the minimal shape the driver needs from an opcode
// descriptor: a name for logging/errors. Concrete descriptors live in
// package opcode and additionally implement one of the backend-shaped
// interfaces below (ReadinessPreparer for the poll backend; the
// iouring/iocp packages declare their own preparer interfaces to avoid
// this package depending on opcode or on OS-specific syscall types).
type Operation interface {
	OpName() string
}

// Entry is the unit item yielded by a driver's Wait/Poll: a completion
// correlated back to its submission by UserData.
type Entry struct {
	UserData uint64
	N        int
	Err      error
}

// Interest describes which readiness condition a readiness-backend
// operation is waiting on.
type Interest int

const (
	InterestNone Interest = iota
	InterestReadable
	InterestWritable
)

// DecisionKind is the outcome of a readiness-backend operation's
// pre-submit attempt.
type DecisionKind int

const (
	// DecisionCompleted means the operation finished synchronously
	// (e.g. it was serviced from data already buffered, or the fd is a
	// regular file/directory which epoll cannot register and is
	// treated as always-ready).
	DecisionCompleted DecisionKind = iota
	// DecisionWait means the operation must be re-armed against fd
	// readiness before it can make progress.
	DecisionWait
	// DecisionBlocking means the operation should run on the Asyncify
	// thread pool instead of being driven by readiness at all.
	DecisionBlocking
)

// Decision is returned by a ReadinessPreparer's PreSubmit.
type Decision struct {
	Kind     DecisionKind
	N        int
	Err      error
	Fd       RawFd
	Interest Interest
}

// Event is a single readiness notification delivered to a queued
// operation by the poll backend.
type Event struct {
	Fd       RawFd
	Readable bool
	Writable bool
}

// ReadinessPreparer is implemented by opcode descriptors that can run
// on the epoll/kqueue readiness backend: PreSubmit attempts the
// operation without blocking, and OnEvent resumes it once the fd
// reports the requested interest. Returning done=false from OnEvent
// re-arms the operation for another readiness notification.
type ReadinessPreparer interface {
	PreSubmit() Decision
	OnEvent(ev Event) (done bool, n int, err error)
}

// Cancellable is implemented by opcode descriptors that need to know
// they were cancelled, so e.g. a pool-leased buffer can be released
// without being handed to any caller.
type Cancellable interface {
	Cancelled()
}

// CompletionConsumer is implemented by opcode descriptors that need to
// observe their kernel completion before it is surfaced: a read op
// promotes the kernel-written bytes via its buffer's SetInit, an
// accept op records the new fd carried in the completion's result.
// The readiness backend never calls this — its ops run the syscall
// themselves in OnEvent and already see the outcome; the completion
// backends (io_uring, IOCP) call it once per reaped entry, before the
// entry is delivered.
type CompletionConsumer interface {
	OnCompletion(n int, err error)
}

// NotifyHandle is a clonable, thread-safe wake-up handle to a driver's
// blocking wait. It is the only handle in this module meant to cross
// goroutine/thread boundaries. Each backend supplies the wake function
// that actually interrupts its OS wait: an eventfd write for epoll and
// io_uring, a self-pipe write for kqueue, a PostQueuedCompletionStatus
// for IOCP.
type NotifyHandle struct {
	wake func() error
}

// NewNotifyHandle wraps a backend's wake function. wake must be safe
// to call from any goroutine and must be level-persistent: a wake
// issued before the driver blocks still causes the next wait to return
// promptly.
func NewNotifyHandle(wake func() error) NotifyHandle {
	return NotifyHandle{wake: wake}
}

// Notify wakes a blocked Poll call. Safe to call from any goroutine.
func (h NotifyHandle) Notify() error {
	if h.wake == nil {
		return nil
	}
	return h.wake()
}

// Driver is the platform abstraction every backend (io_uring, IOCP,
// poll) implements.
type Driver interface {
	// Push submits op for execution and returns its user_data key.
	Push(op Operation) (userData uint64, err error)
	// Cancel best-effort asks the kernel to abort the operation
	// identified by userData. It is safe to call before or after the
	// operation has actually been submitted to the kernel, and a no-op
	// if userData was never pushed.
	Cancel(userData uint64)
	// Attach registers fd with this driver. Idempotent on io_uring and
	// poll backends; mandatory-once on IOCP.
	Attach(fd RawFd) error
	// Poll drains any queued submissions, performs at most one
	// blocking wait syscall bounded by timeout (nil means block
	// forever), and appends any resulting completions to out.
	Poll(timeout *time.Duration, out *[]Entry) error
	// Handle returns this driver's cross-thread wake-up handle.
	Handle() NotifyHandle
	// Close releases all OS resources held by the driver.
	Close() error
}

// Kind identifies which backend a Driver was constructed from.
type Kind string

const (
	KindIOURing Kind = "io-uring"
	KindIOCP    Kind = "iocp"
	KindPoll    Kind = "poll"
)
