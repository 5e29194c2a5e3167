// Package buf defines the buffer-ownership contract that makes
// completion-based I/O safe: once a buffer is handed to a submitted
// operation, nothing else may observe or mutate it until the kernel
// hands it back.
package buf

import "errors"

// ErrEmptyBuffer is the error value for an empty buffer. No operation
// in this module returns it.
var ErrEmptyBuffer = errors.New("buf: empty buffer")

// Buffer is an immutable view suitable for write-shaped operations.
// Implementations must guarantee the slice returned by Bytes remains
// valid and unmoved for as long as the Buffer is held by an in-flight
// operation.
type Buffer interface {
	// Bytes returns the full readable content of the buffer.
	Bytes() []byte
}

// MutBuffer is mutable storage suitable for read-shaped operations.
// SetInit is the only sanctioned path by which caller code learns how
// many bytes the kernel actually wrote; nothing else may shrink or
// grow the reported length.
type MutBuffer interface {
	// Bytes returns the full capacity of the buffer, including the
	// still-uninitialized tail. Callers must not read past Init().
	Bytes() []byte
	// Init returns the number of leading bytes known initialized.
	Init() int
	// SetInit promotes the first n bytes of the buffer to initialized.
	// n must not exceed len(Bytes()). Only the driver calls this, after
	// an operation completes.
	SetInit(n int)
}

// Slice is a growable, heap-owned buffer implementation of both Buffer
// and MutBuffer.
type Slice struct {
	data []byte
	init int
}

// NewSlice wraps an existing []byte, treating its full length as
// already initialized (suitable for writes).
func NewSlice(b []byte) *Slice {
	return &Slice{data: b, init: len(b)}
}

// NewSliceCap allocates a buffer of the given capacity with nothing
// initialized yet, suitable for reads.
func NewSliceCap(capacity int) *Slice {
	return &Slice{data: make([]byte, capacity)}
}

func (s *Slice) Bytes() []byte { return s.data }
func (s *Slice) Init() int     { return s.init }
func (s *Slice) SetInit(n int) {
	if n < 0 || n > len(s.data) {
		panic("buf: SetInit out of range")
	}
	s.init = n
}

// Initialized returns the bytes actually written so far, i.e.
// Bytes()[:Init()]. This is the slice callers should read after a
// completed read operation.
func (s *Slice) Initialized() []byte { return s.data[:s.init] }

// Fixed is a fixed-capacity, stack- or struct-embeddable buffer that
// avoids a heap allocation per operation for hot-path fixed-size
// reads/writes.
type Fixed struct {
	data [][]byte // single-element slice to keep a stable backing array
	init int
}

// NewFixed wraps a pre-sized array-backed slice (e.g. from a pool or a
// caller's own [N]byte) without copying.
func NewFixed(b []byte) *Fixed {
	return &Fixed{data: [][]byte{b}}
}

func (f *Fixed) Bytes() []byte { return f.data[0] }
func (f *Fixed) Init() int     { return f.init }
func (f *Fixed) SetInit(n int) {
	if n < 0 || n > len(f.data[0]) {
		panic("buf: SetInit out of range")
	}
	f.init = n
}
