package timer

import (
	"context"
	"sync"
	"time"
)

// SleepUntil blocks until deadline fires on w or ctx is cancelled,
// whichever comes first — the building block Sleep and Timeout are
// built from.
func SleepUntil(ctx context.Context, w *Wheel, deadline time.Time) error {
	waker, h := w.Schedule(deadline)
	select {
	case <-waker:
		return nil
	case <-ctx.Done():
		h.Cancel()
		return ctx.Err()
	}
}

// Sleep is SleepUntil relative to now.
func Sleep(ctx context.Context, w *Wheel, d time.Duration) error {
	return SleepUntil(ctx, w, time.Now().Add(d))
}

// Timeout races fn's completion against deadline and cancels the
// loser: when the deadline fires first, fn's context ends, and Timeout
// still reaps fn's goroutine before returning so nothing it started is
// left abandoned. fn must honor its context the way
// runtime.SubmitContext does — a fn that ignores cancellation turns
// the reap into an indefinite wait.
func Timeout(ctx context.Context, w *Wheel, deadline time.Time, fn func(ctx context.Context) error) error {
	fnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(fnCtx) }()

	waker, h := w.Schedule(deadline)
	select {
	case err := <-done:
		h.Cancel()
		return err
	case <-waker:
		cancel()
		<-done
		return context.DeadlineExceeded
	case <-ctx.Done():
		h.Cancel()
		cancel()
		<-done
		return ctx.Err()
	}
}

// Ticker repeatedly fires every interval until Stop is called, built
// on the same Wheel as Sleep and Timeout rather than a second timer
// facility.
type Ticker struct {
	C <-chan time.Time

	c    chan time.Time
	w    *Wheel
	d    time.Duration
	stop chan struct{}
	once sync.Once
}

// Interval arms a Ticker that ticks every d, starting d from now.
func Interval(w *Wheel, d time.Duration) *Ticker {
	c := make(chan time.Time, 1)
	t := &Ticker{C: c, c: c, w: w, d: d, stop: make(chan struct{})}
	go t.loop()
	return t
}

func (t *Ticker) loop() {
	next := time.Now().Add(t.d)
	for {
		waker, h := t.w.Schedule(next)
		select {
		case <-waker:
			now := time.Now()
			select {
			case t.c <- now:
			default: // matches time.Ticker: drop a tick nobody received yet
			}
			next = now.Add(t.d)
		case <-t.stop:
			h.Cancel()
			return
		}
	}
}

// Stop ends the ticker. Safe to call more than once.
func (t *Ticker) Stop() {
	t.once.Do(func() { close(t.stop) })
}
