package timer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xtaci/proactor/runtime/timer"
)

// driveWheel stands in for Runtime.BlockOn's per-iteration Advance
// call: the wheel only fires wakers when something calls Advance, so
// every timer test needs its own tiny ticker loop driving it.
func driveWheel(t *testing.T, w *timer.Wheel, done <-chan struct{}) {
	t.Helper()
	go func() {
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				w.Advance(now)
			case <-done:
				return
			}
		}
	}()
}

func TestSleepFiresAfterDuration(t *testing.T) {
	w := timer.New()
	done := make(chan struct{})
	defer close(done)
	driveWheel(t, w, done)

	start := time.Now()
	require.NoError(t, timer.Sleep(context.Background(), w, 20*time.Millisecond))
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestSleepCancelledByContext(t *testing.T) {
	w := timer.New()
	done := make(chan struct{})
	defer close(done)
	driveWheel(t, w, done)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	err := timer.Sleep(ctx, w, time.Hour)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTimeoutReturnsFnResultWhenFasterThanDeadline(t *testing.T) {
	w := timer.New()
	done := make(chan struct{})
	defer close(done)
	driveWheel(t, w, done)

	sentinel := errors.New("fn result")
	err := timer.Timeout(context.Background(), w, time.Now().Add(time.Hour), func(context.Context) error {
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
}

func TestTimeoutElapsesBeforeFn(t *testing.T) {
	w := timer.New()
	done := make(chan struct{})
	defer close(done)
	driveWheel(t, w, done)

	cancelled := make(chan struct{})
	err := timer.Timeout(context.Background(), w, time.Now().Add(10*time.Millisecond), func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The deadline must have cancelled the racing fn, not abandoned it.
	select {
	case <-cancelled:
	default:
		t.Fatal("fn's context was not cancelled on timeout")
	}
}

func TestIntervalTicksRepeatedly(t *testing.T) {
	w := timer.New()
	done := make(chan struct{})
	defer close(done)
	driveWheel(t, w, done)

	tk := timer.Interval(w, 10*time.Millisecond)
	defer tk.Stop()

	<-tk.C
	<-tk.C
}
