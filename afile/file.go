//go:build !windows

// Package afile provides a thin async file consumer built on
// runtime.Runtime.Submit, the file-side counterpart to asocket.
package afile

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/xtaci/proactor/buf"
	"github.com/xtaci/proactor/driver"
	"github.com/xtaci/proactor/fd"
	"github.com/xtaci/proactor/opcode"
	"github.com/xtaci/proactor/runtime"
)

// File wraps a regular file for positional async reads/writes.
type File struct {
	rt *runtime.Runtime
	h  fd.Shared[struct{}]
}

// Open opens path with flag/perm and attaches it to rt. Opening itself
// runs on the Asyncify pool — path resolution may block on slow
// filesystems.
func Open(rt *runtime.Runtime, path string, flag int, perm os.FileMode) (*File, error) {
	op := &opcode.OpenFile{Path: path, Flag: flag, Perm: perm}
	if _, err := rt.Submit(op); err != nil {
		return nil, err
	}
	f := &File{rt: rt, h: fd.New(op.Opened, struct{}{})}
	if err := rt.Proactor().Attach(f.h.Raw()); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// ReadAt reads into b starting at offset.
func (f *File) ReadAt(b buf.MutBuffer, offset int64) (int, error) {
	return f.rt.Submit(&opcode.ReadAt{Fd: f.h.Raw(), Offset: offset, Buf: b})
}

// WriteAt writes b's initialized bytes at offset.
func (f *File) WriteAt(b buf.Buffer, offset int64) (int, error) {
	return f.rt.Submit(&opcode.WriteAt{Fd: f.h.Raw(), Offset: offset, Buf: b})
}

// Sync fsyncs (or fdatasyncs) the file.
func (f *File) Sync(dataOnly bool) error {
	_, err := f.rt.Submit(&opcode.Sync{Fd: f.h.Raw(), DataOnly: dataOnly})
	return err
}

// Stat fstats the file.
func (f *File) Stat() (unix.Stat_t, error) {
	op := &opcode.FileStat{Fd: f.h.Raw()}
	_, err := f.rt.Submit(op)
	return op.Stat, err
}

// Stat stats path without opening it, the path-addressed counterpart
// to File.Stat.
func Stat(rt *runtime.Runtime, path string) (unix.Stat_t, error) {
	op := &opcode.PathStat{Path: path}
	_, err := rt.Submit(op)
	return op.Stat, err
}

// LStat is Stat without following a final symlink: the link itself is
// described, not its target.
func LStat(rt *runtime.Runtime, path string) (unix.Stat_t, error) {
	op := &opcode.PathStat{Path: path, NoFollow: true}
	_, err := rt.Submit(op)
	return op.Stat, err
}

// Close releases the underlying fd.
func (f *File) Close() error {
	return f.h.Release(func(raw driver.RawFd) error {
		return unix.Close(int(raw))
	})
}
