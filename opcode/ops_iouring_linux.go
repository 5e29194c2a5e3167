//go:build linux

package opcode

import (
	"github.com/pawelgaczynski/giouring"

	"github.com/xtaci/proactor/driver"
)

// PrepareSQE methods give each op type the shape driver/iouring.Preparer
// expects, without opcode importing driver/iouring (Go's structural
// typing lets the io_uring driver type-assert Op values against its own
// locally declared interface), using giouring's Prepare* calling
// convention. Any pointer handed to the kernel here must target storage
// owned by the op itself, never a local: the kernel reads it after
// PrepareSQE returns.
//
// OnCompletion methods are the completion-backend counterpart to the
// syscall-running OnEvent path: the ring driver calls them once per
// reaped CQE so a read can promote its buffer's initialized length and
// an accept can record the fd the kernel returned.

func (o *ReadAt) PrepareSQE(sqe *giouring.SubmissionQueueEntry) {
	b := o.Buf.Bytes()
	sqe.PrepareRead(int32(o.Fd), uintptrOf(b), uint32(len(b)), uint64(o.Offset))
}

func (o *ReadAt) OnCompletion(n int, err error) {
	if err == nil {
		o.Buf.SetInit(n)
	}
}

func (o *WriteAt) PrepareSQE(sqe *giouring.SubmissionQueueEntry) {
	b := o.Buf.Bytes()
	sqe.PrepareWrite(int32(o.Fd), uintptrOf(b), uint32(len(b)), uint64(o.Offset))
}

func (o *ReadVectoredAt) PrepareSQE(sqe *giouring.SubmissionQueueEntry) {
	o.iovs = makeIovecs(o.Vec.RawSlices())
	sqe.PrepareReadv(int32(o.Fd), uintptrOfIovecs(o.iovs), uint32(len(o.iovs)), uint64(o.Offset))
}

func (o *ReadVectoredAt) OnCompletion(n int, err error) {
	if err == nil {
		o.Vec.SetInit(n)
	}
}

func (o *WriteVectoredAt) PrepareSQE(sqe *giouring.SubmissionQueueEntry) {
	o.iovs = makeIovecs(o.Vec.Slices())
	sqe.PrepareWritev(int32(o.Fd), uintptrOfIovecs(o.iovs), uint32(len(o.iovs)), uint64(o.Offset))
}

func (o *Recv) PrepareSQE(sqe *giouring.SubmissionQueueEntry) {
	b := o.Buf.Bytes()
	sqe.PrepareRecv(int32(o.Fd), uintptrOf(b), uint32(len(b)), 0)
}

func (o *Recv) OnCompletion(n int, err error) {
	if err == nil {
		o.Buf.SetInit(n)
	}
}

func (o *Send) PrepareSQE(sqe *giouring.SubmissionQueueEntry) {
	b := o.Buf.Bytes()
	sqe.PrepareSend(int32(o.Fd), uintptrOf(b), uint32(len(b)), 0)
}

func (o *RecvFrom) PrepareSQE(sqe *giouring.SubmissionQueueEntry) {
	fillMsghdr(&o.msg, &o.iov, &o.rsa, o.Buf.Bytes())
	sqe.PrepareRecvMsg(int32(o.Fd), uintptrOfMsghdr(&o.msg), 0)
}

func (o *RecvFrom) OnCompletion(n int, err error) {
	if err != nil {
		return
	}
	o.Buf.SetInit(n)
	o.From = rawSockaddrToAddr(&o.rsa)
}

func (o *SendTo) PrepareSQE(sqe *giouring.SubmissionQueueEntry) {
	o.rawLen = encodeSockaddr(&o.raw, o.To)
	fillMsghdr(&o.msg, &o.iov, nil, o.Buf.Bytes())
	o.msg.Name = (*byte)(rawSockaddrPtr(&o.raw))
	o.msg.Namelen = o.rawLen
	sqe.PrepareSendMsg(int32(o.Fd), uintptrOfMsghdr(&o.msg), 0)
}

func (o *RecvVectored) PrepareSQE(sqe *giouring.SubmissionQueueEntry) {
	o.iovs = makeIovecs(o.Vec.RawSlices())
	sqe.PrepareReadv(int32(o.Fd), uintptrOfIovecs(o.iovs), uint32(len(o.iovs)), 0)
}

func (o *RecvVectored) OnCompletion(n int, err error) {
	if err == nil {
		o.Vec.SetInit(n)
	}
}

func (o *SendVectored) PrepareSQE(sqe *giouring.SubmissionQueueEntry) {
	o.iovs = makeIovecs(o.Vec.Slices())
	sqe.PrepareWritev(int32(o.Fd), uintptrOfIovecs(o.iovs), uint32(len(o.iovs)), 0)
}

func (o *Accept) PrepareSQE(sqe *giouring.SubmissionQueueEntry) {
	sqe.PrepareAccept(int32(o.Fd), 0, 0, 0)
}

func (o *Accept) OnCompletion(n int, err error) {
	if err == nil {
		o.Accepted = driver.RawFd(n)
	}
}

func (o *Connect) PrepareSQE(sqe *giouring.SubmissionQueueEntry) {
	o.rawLen = encodeSockaddr(&o.raw, o.Addr)
	sqe.PrepareConnect(int32(o.Fd), uintptrOfSockaddr(&o.raw), o.rawLen)
}

func (o *ShutdownSocket) PrepareSQE(sqe *giouring.SubmissionQueueEntry) {
	sqe.PrepareShutdown(int32(o.Fd), int32(o.How))
}

func (o *CloseSocket) PrepareSQE(sqe *giouring.SubmissionQueueEntry) {
	sqe.PrepareClose(int32(o.Fd))
}

func (o *CloseFile) PrepareSQE(sqe *giouring.SubmissionQueueEntry) {
	sqe.PrepareClose(int32(o.Fd))
}

func (o *Sync) PrepareSQE(sqe *giouring.SubmissionQueueEntry) {
	if o.DataOnly {
		sqe.PrepareFsync(int32(o.Fd), giouring.FsyncDatasync)
	} else {
		sqe.PrepareFsync(int32(o.Fd), 0)
	}
}

func (o *PollOnce) PrepareSQE(sqe *giouring.SubmissionQueueEntry) {
	var mask uint32 = pollIn
	if o.Interest == driver.InterestWritable {
		mask = pollOut
	}
	sqe.PreparePollAdd(int32(o.Fd), mask)
}

func (o *Splice) PrepareSQE(sqe *giouring.SubmissionQueueEntry) {
	sqe.PrepareSplice(int32(o.FdIn), -1, int32(o.FdOut), -1, uint32(o.Len), 0)
}

// The managed variants run as their plain counterparts on this path:
// the buffer was leased from a user-space pool before submission, so
// the caller-visible behavior is identical whether or not the kernel's
// provided-buffer selection is in play.

func (o *RecvManaged) PrepareSQE(sqe *giouring.SubmissionQueueEntry) {
	b := o.Buf.Bytes()
	sqe.PrepareRecv(int32(o.Fd), uintptrOf(b), uint32(len(b)), 0)
}

func (o *RecvManaged) OnCompletion(n int, err error) {
	if err == nil {
		o.Buf.SetInit(n)
	}
}

func (o *ReadManagedAt) PrepareSQE(sqe *giouring.SubmissionQueueEntry) {
	b := o.Buf.Bytes()
	sqe.PrepareRead(int32(o.Fd), uintptrOf(b), uint32(len(b)), uint64(o.Offset))
}

func (o *ReadManagedAt) OnCompletion(n int, err error) {
	if err == nil {
		o.Buf.SetInit(n)
	}
}
