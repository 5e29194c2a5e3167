package buf_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xtaci/proactor/buf"
)

func TestSliceSetInit(t *testing.T) {
	s := buf.NewSliceCap(16)
	require.Equal(t, 0, s.Init())
	require.Len(t, s.Bytes(), 16)

	s.SetInit(5)
	require.Equal(t, 5, s.Init())
	require.Len(t, s.Initialized(), 5)
}

func TestSliceSetInitOutOfRangePanics(t *testing.T) {
	s := buf.NewSliceCap(4)
	require.Panics(t, func() { s.SetInit(5) })
	require.Panics(t, func() { s.SetInit(-1) })
}

func TestNewSliceTreatsInputAsFullyInitialized(t *testing.T) {
	s := buf.NewSlice([]byte("hello"))
	require.Equal(t, 5, s.Init())
	require.Equal(t, "hello", string(s.Bytes()))
}

func TestFixedBuffer(t *testing.T) {
	backing := make([]byte, 8)
	f := buf.NewFixed(backing)
	require.Equal(t, 0, f.Init())
	f.SetInit(3)
	require.Equal(t, 3, f.Init())
	require.Panics(t, func() { f.SetInit(9) })
}

func TestResultTryPropagatesError(t *testing.T) {
	r := buf.Result[*buf.Slice]{Err: buf.ErrEmptyBuffer, Buf: buf.NewSliceCap(1)}
	_, err := r.Try()
	require.ErrorIs(t, err, buf.ErrEmptyBuffer)
	require.False(t, r.Ok())
}

func TestResultMap(t *testing.T) {
	r := buf.Result[*buf.Slice]{N: 4, Buf: buf.NewSliceCap(4)}
	doubled := buf.Map(r, func(n int) int { return n * 2 })
	require.Equal(t, 8, doubled.N)
}

func TestIoVecMutSetInitDistributesAcrossSlices(t *testing.T) {
	v := buf.NewIoVecMut(4, 4)
	v.SetInit(6)
	slices := v.Slices()
	require.Equal(t, 4, slices[0].Init())
	require.Equal(t, 2, slices[1].Init())
}
