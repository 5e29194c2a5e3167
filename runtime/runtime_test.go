//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package runtime_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/xtaci/proactor/buf"
	"github.com/xtaci/proactor/driver"
	"github.com/xtaci/proactor/opcode"
	"github.com/xtaci/proactor/runtime"
)

// newTestRuntime constructs a poll-backed Runtime with its BlockOn
// loop already running on its own goroutine, torn down at test end by
// cancelling the loop's context and nudging it awake.
func newTestRuntime(t *testing.T) *runtime.Runtime {
	t.Helper()
	os.Setenv("PROACTOR_DRIVER", "poll")
	rt, err := runtime.New()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		rt.BlockOn(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		rt.GoCrossThread(func() {})
		select {
		case <-loopDone:
		case <-time.After(2 * time.Second):
		}
		rt.Close()
	})
	return rt
}

func TestSubmitSendRecvOverPipe(t *testing.T) {
	rt := newTestRuntime(t)

	fds := make([]int, 2)
	require.NoError(t, unix.Pipe2(fds, unix.O_NONBLOCK))
	r, w := fds[0], fds[1]
	defer unix.Close(r)
	defer unix.Close(w)
	require.NoError(t, rt.Proactor().Attach(driver.RawFd(r)))
	require.NoError(t, rt.Proactor().Attach(driver.RawFd(w)))

	n, err := rt.Submit(&opcode.Send{Fd: driver.RawFd(w), Buf: buf.NewSlice([]byte("ping"))})
	require.NoError(t, err)
	require.Equal(t, 4, n)

	out := buf.NewSliceCap(8)
	n, err = rt.Submit(&opcode.Recv{Fd: driver.RawFd(r), Buf: out})
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "ping", string(out.Initialized()))
}

func TestSpawnBlockingCompletesThroughNotify(t *testing.T) {
	rt := newTestRuntime(t)

	h := rt.SpawnBlocking(func() (int, error) {
		time.Sleep(10 * time.Millisecond)
		return 42, nil
	})
	n, err := h.Wait()
	require.NoError(t, err)
	require.Equal(t, 42, n)
}

func TestCrossThreadWakeRunsWithinOneTick(t *testing.T) {
	rt := newTestRuntime(t)

	ran := make(chan time.Time, 1)
	start := time.Now()
	go rt.GoCrossThread(func() { ran <- time.Now() })

	select {
	case at := <-ran:
		require.Less(t, at.Sub(start), time.Second)
	case <-time.After(2 * time.Second):
		t.Fatal("cross-thread runnable never ran")
	}
}

func TestTimeoutElapsesAgainstBlockedRead(t *testing.T) {
	rt := newTestRuntime(t)

	fds := make([]int, 2)
	require.NoError(t, unix.Pipe2(fds, unix.O_NONBLOCK))
	r := fds[0]
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])
	require.NoError(t, rt.Proactor().Attach(driver.RawFd(r)))

	start := time.Now()
	err := rt.Timeout(context.Background(), 100*time.Millisecond, func(ctx context.Context) error {
		// Nothing ever writes: the read only ends via the deadline
		// cancelling it.
		_, err := rt.SubmitContext(ctx, &opcode.Recv{Fd: driver.RawFd(r), Buf: buf.NewSliceCap(4)})
		return err
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	elapsed := time.Since(start)
	require.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	require.Less(t, elapsed, time.Second)

	// The cancelled recv must not stall later ops queued on the same fd.
	go func() {
		time.Sleep(20 * time.Millisecond)
		unix.Write(fds[1], []byte("late"))
	}()
	out := buf.NewSliceCap(8)
	n, err := rt.Submit(&opcode.Recv{Fd: driver.RawFd(r), Buf: out})
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "late", string(out.Initialized()))
}

func TestSleepAgainstRuntimeWheel(t *testing.T) {
	rt := newTestRuntime(t)

	start := time.Now()
	require.NoError(t, rt.Sleep(context.Background(), 30*time.Millisecond))
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestEventIntervalDefault(t *testing.T) {
	require.Equal(t, 61, runtime.DefaultEventInterval)
}
