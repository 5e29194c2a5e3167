package driver

import (
	"sync"

	"github.com/panjf2000/ants/v2"
)

// BlockingOp is implemented by opcode descriptors that must run on a
// thread pool rather than be driven by readiness or a kernel ring.
type BlockingOp interface {
	Run() (int, error)
}

var (
	asyncifyOnce sync.Once
	asyncifyPool *ants.Pool
)

// asyncifyPoolOf lazily constructs the shared Asyncify thread pool.
// Every backend (poll, io_uring, iocp) dispatches BlockingOp through
// this single reusable goroutine pool rather than each spinning up its
// own.
func asyncifyPoolOf() *ants.Pool {
	asyncifyOnce.Do(func() {
		p, err := ants.NewPool(256, ants.WithNonblocking(false))
		if err != nil {
			// ants.NewPool only fails on a negative size; 256 is fixed.
			panic(err)
		}
		asyncifyPool = p
	})
	return asyncifyPool
}

// RunBlocking submits fn to the Asyncify pool and delivers its result
// as a synthetic completion through deliver once fn returns. Exported
// so every backend (poll, io_uring, iocp) can share one pool.
func RunBlocking(fn func() (int, error), deliver func(n int, err error)) error {
	return asyncifyPoolOf().Submit(func() {
		n, err := fn()
		deliver(n, err)
	})
}
