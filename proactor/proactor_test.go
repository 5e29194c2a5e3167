//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package proactor_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/xtaci/proactor/buf"
	"github.com/xtaci/proactor/driver"
	"github.com/xtaci/proactor/opcode"
	"github.com/xtaci/proactor/proactor"
)

func newPipePair(t *testing.T) (r, w int) {
	t.Helper()
	fds := make([]int, 2)
	require.NoError(t, unix.Pipe2(fds, unix.O_NONBLOCK))
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func newPollProactor(t *testing.T) *proactor.Proactor {
	t.Helper()
	drv, err := driver.NewPollDriver()
	require.NoError(t, err)
	p := proactor.New(drv)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestPushSendThenRecvOverPipe(t *testing.T) {
	r, w := newPipePair(t)
	p := newPollProactor(t)

	require.NoError(t, p.Attach(driver.RawFd(r)))
	require.NoError(t, p.Attach(driver.RawFd(w)))

	deadline := 2 * time.Second

	wh := p.Push(&opcode.Send{Fd: driver.RawFd(w), Buf: buf.NewSlice([]byte("hello"))})
	_, err := p.Poll(&deadline)
	require.NoError(t, err)
	n, err := wh.Wait()
	require.NoError(t, err)
	require.Equal(t, 5, n)

	out := buf.NewSliceCap(16)
	rh := p.Push(&opcode.Recv{Fd: driver.RawFd(r), Buf: out})
	_, err = p.Poll(&deadline)
	require.NoError(t, err)

	n, err = rh.Wait()
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(out.Initialized()))
}

func TestCancelQueuedRecvDeliversCancellation(t *testing.T) {
	r, _ := newPipePair(t)
	p := newPollProactor(t)

	require.NoError(t, p.Attach(driver.RawFd(r)))

	out := buf.NewSliceCap(4)
	h := p.Push(&opcode.Recv{Fd: driver.RawFd(r), Buf: out})
	p.Cancel(h.UserData)

	deadline := 2 * time.Second
	_, err := p.Poll(&deadline)
	require.NoError(t, err)

	_, err = h.Wait()
	require.ErrorIs(t, err, proactor.ErrCancelled)
	require.True(t, h.Cancelled())
}

func TestCancelUnknownUserDataIsNoOp(t *testing.T) {
	p := newPollProactor(t)
	p.Cancel(12345)
}

func TestZeroTimeoutPollReturnsImmediately(t *testing.T) {
	p := newPollProactor(t)

	start := time.Now()
	zero := time.Duration(0)
	n, err := p.Poll(&zero)
	require.ErrorIs(t, err, driver.ErrTimedOut)
	require.Zero(t, n)
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestBuilderForcesPollBackend(t *testing.T) {
	p, err := proactor.NewBuilder(proactor.WithDriverKind(driver.KindPoll)).Build()
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestNotifyWakesBlockedPoll(t *testing.T) {
	p := newPollProactor(t)
	h := p.Handle()

	done := make(chan error, 1)
	go func() {
		// No timeout: only the notify can make this return.
		_, err := p.Poll(nil)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, h.Notify())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("notify did not wake the blocked poll")
	}
}
