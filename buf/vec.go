package buf

// IoVec is an ordered, idempotent view over several immutable buffers,
// used by vectored write operations (WriteVectoredAt, SendVectored).
type IoVec struct {
	slices [][]byte
}

// NewIoVec builds a vectored buffer view from the given slices. The
// slices are not copied; callers must not mutate them while an
// operation holding this IoVec is in flight.
func NewIoVec(slices ...[]byte) *IoVec {
	return &IoVec{slices: slices}
}

// Slices returns the sub-buffers in stable order.
func (v *IoVec) Slices() [][]byte { return v.slices }

// Bytes concatenates the vector into a single contiguous slice. Most
// drivers avoid calling this (they pass Slices() straight to a
// vectored syscall); it exists for callers that need a flat view.
func (v *IoVec) Bytes() []byte {
	total := 0
	for _, s := range v.slices {
		total += len(s)
	}
	out := make([]byte, 0, total)
	for _, s := range v.slices {
		out = append(out, s...)
	}
	return out
}

// IoVecMut is the mutable counterpart used by vectored reads.
type IoVecMut struct {
	slices []*Slice
}

// NewIoVecMut builds a vectored mutable buffer view from the given
// capacities.
func NewIoVecMut(caps ...int) *IoVecMut {
	slices := make([]*Slice, len(caps))
	for i, c := range caps {
		slices[i] = NewSliceCap(c)
	}
	return &IoVecMut{slices: slices}
}

// Slices returns each sub-buffer in stable order.
func (v *IoVecMut) Slices() []*Slice { return v.slices }

// RawSlices returns the raw []byte view of each sub-buffer, for handing
// to a vectored syscall (readv/writev/WSARecv).
func (v *IoVecMut) RawSlices() [][]byte {
	out := make([][]byte, len(v.slices))
	for i, s := range v.slices {
		out[i] = s.Bytes()
	}
	return out
}

// SetInit distributes n initialized bytes across the sub-buffers in
// order, the way the kernel fills a readv/WSARecv vector front to back.
func (v *IoVecMut) SetInit(n int) {
	remaining := n
	for _, s := range v.slices {
		cap := len(s.Bytes())
		if remaining >= cap {
			s.SetInit(cap)
			remaining -= cap
		} else {
			s.SetInit(remaining)
			remaining = 0
		}
	}
}
