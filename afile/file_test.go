//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package afile_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/xtaci/proactor/afile"
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

func TestFileWriteReadStatRoundTrip(t *testing.T) {
	rt := newTestRuntime(t)

	path := filepath.Join(t.TempDir(), "roundtrip.bin")

	f, err := afile.Open(rt, path, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	defer f.Close()

	payload := []byte("hello, async file")
	n, err := f.WriteAt(buf.NewSlice(payload), 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	require.NoError(t, f.Sync(false))

	st, err := f.Stat()
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), st.Size)

	out := buf.NewSliceCap(64)
	n, err = f.ReadAt(out, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, out.Initialized())
}

func TestWriteAtOffsetThenReadBack(t *testing.T) {
	rt := newTestRuntime(t)

	path := filepath.Join(t.TempDir(), "offset.bin")
	f, err := afile.Open(rt, path, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.WriteAt(buf.NewSlice([]byte("world")), 6)
	require.NoError(t, err)
	_, err = f.WriteAt(buf.NewSlice([]byte("hello ")), 0)
	require.NoError(t, err)

	out := buf.NewSliceCap(11)
	n, err := f.ReadAt(out, 0)
	require.NoError(t, err)
	require.Equal(t, 11, n)
	require.Equal(t, "hello world", string(out.Initialized()))
}

func TestPathStat(t *testing.T) {
	rt := newTestRuntime(t)

	path := filepath.Join(t.TempDir(), "stat.bin")
	require.NoError(t, os.WriteFile(path, []byte("12345"), 0o644))

	st, err := afile.Stat(rt, path)
	require.NoError(t, err)
	require.Equal(t, int64(5), st.Size)
}

func TestLStatDescribesTheLinkNotTheTarget(t *testing.T) {
	rt := newTestRuntime(t)

	dir := t.TempDir()
	target := filepath.Join(dir, "target.bin")
	link := filepath.Join(dir, "link")
	require.NoError(t, os.WriteFile(target, []byte("12345"), 0o644))
	require.NoError(t, os.Symlink(target, link))

	followed, err := afile.Stat(rt, link)
	require.NoError(t, err)
	require.EqualValues(t, unix.S_IFREG, followed.Mode&unix.S_IFMT)

	st, err := afile.LStat(rt, link)
	require.NoError(t, err)
	require.EqualValues(t, unix.S_IFLNK, st.Mode&unix.S_IFMT)
}
