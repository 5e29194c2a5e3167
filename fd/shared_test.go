package fd_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xtaci/proactor/driver"
	"github.com/xtaci/proactor/fd"
)

func TestCloneKeepsFdOpenUntilAllReleased(t *testing.T) {
	closed := 0
	closeFn := func(driver.RawFd) error { closed++; return nil }

	s := fd.New[struct{}](driver.RawFd(42), struct{}{})
	c := s.Clone()
	require.Equal(t, int32(2), s.RefCount())

	require.NoError(t, s.Release(closeFn))
	require.Equal(t, 0, closed)

	require.NoError(t, c.Release(closeFn))
	require.Equal(t, 1, closed)
}

func TestDoubleReleaseIsAnError(t *testing.T) {
	s := fd.New[struct{}](driver.RawFd(1), struct{}{})
	closeFn := func(driver.RawFd) error { return nil }
	require.NoError(t, s.Release(closeFn))
	require.Error(t, s.Release(closeFn))
}

func TestMarkAttachedIsIdempotent(t *testing.T) {
	s := fd.New[struct{}](driver.RawFd(1), struct{}{})
	require.True(t, s.MarkAttached())
	require.False(t, s.MarkAttached())
	require.True(t, s.Attached())
}
