// Package fd provides a reference-counted, attach-once file
// descriptor wrapper as an explicit, generic refcounted handle (Go
// has no Rc<T>; an atomic counter plus an explicit Release is the
// idiomatic stand-in).
package fd

import (
	"fmt"
	"sync/atomic"

	"github.com/xtaci/proactor/driver"
)

type inner[T any] struct {
	raw      driver.RawFd
	val      T
	refs     atomic.Int32
	attached atomic.Bool
	closed   atomic.Bool
}

// Shared is a cheaply-cloned handle to a single underlying fd. Each
// clone holds its own reference; the fd is actually closed only once
// the last clone is Released, so it never closes while any consumer
// might still be using it.
type Shared[T any] struct {
	in *inner[T]
}

// New wraps raw as a Shared handle carrying the caller-chosen
// companion value val (e.g. a *net.TCPConn kept around for Close/
// SetDeadline, or a file path for diagnostics).
func New[T any](raw driver.RawFd, val T) Shared[T] {
	in := &inner[T]{raw: raw, val: val}
	in.refs.Store(1)
	return Shared[T]{in: in}
}

// Raw returns the underlying fd.
func (s Shared[T]) Raw() driver.RawFd { return s.in.raw }

// Value returns the companion value New was constructed with.
func (s Shared[T]) Value() T { return s.in.val }

// Clone increments the refcount and returns a new handle to the same
// underlying fd.
func (s Shared[T]) Clone() Shared[T] {
	s.in.refs.Add(1)
	return Shared[T]{in: s.in}
}

// MarkAttached records that Attach has been called for this fd's
// driver. Idempotent: safe to call from every clone.
func (s Shared[T]) MarkAttached() bool {
	return s.in.attached.CompareAndSwap(false, true)
}

// Attached reports whether MarkAttached has already succeeded once.
func (s Shared[T]) Attached() bool { return s.in.attached.Load() }

// Release decrements the refcount, closing the underlying fd via
// closeFn once it reaches zero. Calling Release more times than Clone
// (+1 for the original New) was called is a caller bug and returns an
// error rather than double-closing silently.
func (s Shared[T]) Release(closeFn func(driver.RawFd) error) error {
	if s.in.refs.Add(-1) > 0 {
		return nil
	}
	if !s.in.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("fd: double release of fd %v", s.in.raw)
	}
	return closeFn(s.in.raw)
}

// RefCount reports the current reference count, for tests and
// diagnostics only.
func (s Shared[T]) RefCount() int32 { return s.in.refs.Load() }
