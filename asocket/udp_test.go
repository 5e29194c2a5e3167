//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package asocket_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xtaci/proactor/asocket"
	"github.com/xtaci/proactor/buf"
	"github.com/xtaci/proactor/runtime"
)

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

func TestUDPSendToRecvFrom(t *testing.T) {
	rt := newTestRuntime(t)

	a, err := asocket.ListenUDP(rt, "udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer a.Close()

	b, err := asocket.ListenUDP(rt, "udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer b.Close()

	recvDone := make(chan struct{})
	var gotN int
	var got []byte
	var recvErr error
	go func() {
		defer close(recvDone)
		out := buf.NewSliceCap(8)
		n, _, err := b.RecvFrom(out)
		gotN, recvErr = n, err
		got = append([]byte(nil), out.Initialized()...)
	}()

	// Give the receiver a moment to queue before the datagram flies.
	time.Sleep(20 * time.Millisecond)

	n, err := a.SendTo(buf.NewSlice([]byte("hi")), b.LocalAddr())
	require.NoError(t, err)
	require.Equal(t, 2, n)

	select {
	case <-recvDone:
	case <-time.After(2 * time.Second):
		t.Fatal("datagram never arrived")
	}
	require.NoError(t, recvErr)
	require.Equal(t, 2, gotN)
	require.Equal(t, "hi", string(got))
}
