// Package runtime is the single-threaded cooperative scheduler that
// owns one proactor.Proactor: an event-interval-bounded drain-then-
// poll cycle wrapped into a reusable task scheduler any
// opcode.Op-producing package can submit work through.
package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/eapache/queue"

	"github.com/xtaci/proactor/driver"
	"github.com/xtaci/proactor/internal/logging"
	"github.com/xtaci/proactor/opcode"
	"github.com/xtaci/proactor/proactor"
	"github.com/xtaci/proactor/runtime/timer"
)

// DefaultEventInterval bounds how many locally-queued runnables
// BlockOn drains before forcing a driver.Poll pass.
const DefaultEventInterval = 61

type runnable func()

// Runtime owns exactly one Proactor, whose event loop runs on the
// goroutine that calls BlockOn. Other goroutines reach it through
// Submit/SubmitContext (which push onto the Proactor directly),
// through the cross channel fed by GoCrossThread, and through the
// driver's NotifyHandle, which wakes a blocked Poll.
type Runtime struct {
	p   *proactor.Proactor
	t   *timer.Wheel
	evI int

	// local holds runnables queued from BlockOn's own goroutine; cross
	// is the multi-producer side, a buffered channel being the idiomatic
	// MPSC primitive with a single consumer.
	local *queue.Queue
	cross chan runnable
}

// New constructs a Runtime over the platform-default driver backend.
func New() (*Runtime, error) {
	p, err := proactor.NewDefault()
	if err != nil {
		return nil, err
	}
	return newRuntime(p), nil
}

// NewWith constructs a Runtime over a caller-configured backend, e.g.
// runtime.NewWith(proactor.NewBuilder(proactor.WithDriverKind(driver.KindPoll))).
func NewWith(b *proactor.Builder) (*Runtime, error) {
	p, err := b.Build()
	if err != nil {
		return nil, err
	}
	return newRuntime(p), nil
}

func newRuntime(p *proactor.Proactor) *Runtime {
	t := timer.New()
	t.OnSchedule(func() { p.Handle().Notify() })
	return &Runtime{
		p:     p,
		t:     t,
		evI:   DefaultEventInterval,
		local: queue.New(),
		cross: make(chan runnable, 1024),
	}
}

// SetEventInterval overrides DefaultEventInterval, e.g. for latency-
// sensitive benchmarks that want to poll more eagerly.
func (r *Runtime) SetEventInterval(n int) { r.evI = n }

// Proactor exposes the underlying façade for packages (asocket, afile,
// pool) that submit opcode.Op values directly.
func (r *Runtime) Proactor() *proactor.Proactor { return r.p }

// Timer exposes the deadline wheel for Sleep/Timeout helpers.
func (r *Runtime) Timer() *timer.Wheel { return r.t }

// Submit pushes op and blocks the calling goroutine until it
// completes, the one-line primitive asocket/afile build every method
// on top of.
func (r *Runtime) Submit(op opcode.Op) (int, error) {
	h := r.p.Push(op)
	return h.Wait()
}

// SubmitContext is Submit raced against ctx: when ctx ends first the
// op is Cancelled, and the call still waits for the (possibly
// synthetic) completion before returning, so the buffer is never
// observable while the kernel may still hold it. The op itself never
// outlives this call un-cancelled — this is the primitive Timeout
// composes its deadline race from.
func (r *Runtime) SubmitContext(ctx context.Context, op opcode.Op) (int, error) {
	h := r.p.Push(op)
	select {
	case <-h.Done():
		return h.Wait()
	case <-ctx.Done():
		r.p.Cancel(h.UserData)
		n, err := h.Wait()
		if err != nil {
			return n, ctx.Err()
		}
		// The completion beat the cancellation; the result is real.
		return n, nil
	}
}

// Task tracks a goroutine launched via Spawn. True non-preemptive
// cooperative scheduling of arbitrary Go code has no userspace
// scheduler to hang off of in Go, so Spawn runs fn on its own
// goroutine and relies on ctx for best-effort cancellation (see
// DESIGN.md's Open Question on this). All I/O fn performs must still
// go through this same Runtime's Submit, so every op still funnels
// through the one Proactor.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Spawn runs fn on a new goroutine, passing it a context cancelled by
// Task.Cancel. Closing the Runtime does not cancel it, and a panic in
// fn is not recovered.
func (r *Runtime) Spawn(fn func(ctx context.Context)) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		fn(ctx)
	}()
	return t
}

// Cancel best-effort-signals the task's context; it does not forcibly
// stop the goroutine (Go has no such primitive).
func (t *Task) Cancel() { t.cancel() }

// Wait blocks until the task's function has returned.
func (t *Task) Wait() { <-t.done }

// SpawnBlocking offloads fn to the shared Asyncify thread pool and
// resolves once fn returns, without ever blocking BlockOn's goroutine.
func (r *Runtime) SpawnBlocking(fn func() (int, error)) *opcode.RawOpHandle {
	return r.p.Push(&opcode.Asyncify{Fn: fn})
}

// Go schedules fn to run on BlockOn's own goroutine at its next drain
// point — the local (same-thread) half of the task queue, as opposed
// to Spawn's separate-goroutine path. Useful for cheap callbacks that
// don't need their own stack.
func (r *Runtime) Go(fn func()) {
	r.local.Add(runnable(fn))
}

// GoCrossThread is the MPSC counterpart to Go: safe to call from any
// goroutine, including ones not owned by this Runtime. The notify
// makes a BlockOn already parked in its driver wait pick the runnable
// up promptly instead of on the next unrelated completion.
func (r *Runtime) GoCrossThread(fn func()) {
	r.cross <- fn
	r.p.Handle().Notify()
}

// BlockOn drains the local and cross-thread task queues up to
// EventInterval runnables, then blocks in exactly one driver.Poll
// whose timeout is bounded by the timer wheel's next deadline.
func (r *Runtime) BlockOn(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		drained := 0
		for drained < r.evI && r.local.Length() > 0 {
			fn := r.local.Remove().(runnable)
			fn()
			drained++
		}
	drainCross:
		for drained < r.evI {
			select {
			case fn := <-r.cross:
				fn()
				drained++
			default:
				break drainCross
			}
		}

		now := time.Now()
		r.t.Advance(now)

		timeout := r.pollTimeout(now)
		if _, err := r.p.Poll(timeout); err != nil {
			if errors.Is(err, driver.ErrTimedOut) {
				// The bounded wait elapsed: timers (or queued tasks) are
				// due, which is exactly why the timeout was set.
				continue
			}
			logging.L().Warn("poll failed", logging.Err(err))
			return err
		}
	}
}

// pollTimeout computes min(nextDeadline, 0-if-more-ready-tasks-else-∞).
func (r *Runtime) pollTimeout(now time.Time) *time.Duration {
	if r.local.Length() > 0 || len(r.cross) > 0 {
		zero := time.Duration(0)
		return &zero
	}
	if dl, ok := r.t.NextDeadline(); ok {
		d := dl.Sub(now)
		if d < 0 {
			d = 0
		}
		return &d
	}
	return nil
}

// Sleep blocks the calling goroutine for d against this Runtime's
// timer wheel.
func (r *Runtime) Sleep(ctx context.Context, d time.Duration) error {
	return timer.Sleep(ctx, r.t, d)
}

// SleepUntil is Sleep against an absolute deadline.
func (r *Runtime) SleepUntil(ctx context.Context, deadline time.Time) error {
	return timer.SleepUntil(ctx, r.t, deadline)
}

// Timeout races fn against d, returning context.DeadlineExceeded if d
// elapses first. On timeout fn's context is cancelled, so any op fn
// submitted through SubmitContext is Cancelled rather than abandoned.
func (r *Runtime) Timeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	return timer.Timeout(ctx, r.t, time.Now().Add(d), fn)
}

// Interval starts a repeating ticker against this Runtime's timer
// wheel.
func (r *Runtime) Interval(d time.Duration) *timer.Ticker {
	return timer.Interval(r.t, d)
}

// Close releases the underlying Proactor and driver.
func (r *Runtime) Close() error {
	return r.p.Close()
}
