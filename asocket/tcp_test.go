//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package asocket_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/xtaci/proactor/asocket"
	"github.com/xtaci/proactor/buf"
	"github.com/xtaci/proactor/driver"
	"github.com/xtaci/proactor/opcode"
	"github.com/xtaci/proactor/proactor"
)

func TestTCPEchoRoundTrip(t *testing.T) {
	rt := newTestRuntime(t)

	ln, err := asocket.ListenTCP(rt, "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan struct{})
	rt.Spawn(func(context.Context) {
		defer close(serverDone)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		in := buf.NewSliceCap(64)
		n, err := conn.Read(in)
		if err != nil {
			return
		}
		conn.Write(buf.NewSlice(in.Bytes()[:n]))
	})

	clientDone := make(chan struct{})
	var got []byte
	var clientErr error
	rt.Spawn(func(ctx context.Context) {
		defer close(clientDone)
		conn, err := asocket.DialTCP(ctx, rt, "tcp", ln.Addr().String())
		if err != nil {
			clientErr = err
			return
		}
		defer conn.Close()

		payload := buf.NewSlice([]byte("ping-pong"))
		if _, err := conn.Write(payload); err != nil {
			clientErr = err
			return
		}

		out := buf.NewSliceCap(64)
		n, err := conn.Read(out)
		if err != nil {
			clientErr = err
			return
		}
		got = append([]byte(nil), out.Bytes()[:n]...)
	})

	select {
	case <-serverDone:
	case <-time.After(3 * time.Second):
		t.Fatal("server side never finished")
	}
	select {
	case <-clientDone:
	case <-time.After(3 * time.Second):
		t.Fatal("client side never finished")
	}

	require.NoError(t, clientErr)
	require.Equal(t, "ping-pong", string(got))
}

// A cancelled in-flight connect must not poison the runtime: later
// submissions on the same proactor still complete, and the socket
// still closes cleanly.
func TestCancelledConnectLeavesRuntimeUsable(t *testing.T) {
	rt := newTestRuntime(t)

	sysfd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(sysfd, true))
	require.NoError(t, rt.Proactor().Attach(driver.RawFd(sysfd)))

	// TEST-NET-1 (RFC 5737): guaranteed unrouteable, the connect can
	// only end via cancellation.
	sa := &unix.SockaddrInet4{Port: 81}
	copy(sa.Addr[:], []byte{192, 0, 2, 1})

	h := rt.Proactor().Push(&opcode.Connect{Fd: driver.RawFd(sysfd), Addr: sa})
	rt.Proactor().Cancel(h.UserData)

	done := make(chan error, 1)
	go func() {
		_, err := h.Wait()
		done <- err
	}()
	select {
	case err := <-done:
		require.ErrorIs(t, err, proactor.ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled connect never resolved")
	}

	require.NoError(t, unix.Close(sysfd))

	// The runtime keeps working after the cancellation.
	ln, err := asocket.ListenTCP(rt, "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, ln.Close())
}
