package timer_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xtaci/proactor/runtime/timer"
)

func TestWheelFiresInDeadlineOrder(t *testing.T) {
	w := timer.New()
	base := time.Now()

	var fired []int
	waker1, _ := w.Schedule(base.Add(20 * time.Millisecond))
	waker2, _ := w.Schedule(base.Add(10 * time.Millisecond))

	require.Equal(t, 2, w.Len())

	n := w.Advance(base.Add(15 * time.Millisecond))
	require.Equal(t, 1, n)
	select {
	case <-waker2:
		fired = append(fired, 2)
	default:
		t.Fatal("expected waker2 to have fired")
	}
	select {
	case <-waker1:
		t.Fatal("waker1 should not have fired yet")
	default:
	}

	w.Advance(base.Add(25 * time.Millisecond))
	select {
	case <-waker1:
		fired = append(fired, 1)
	default:
		t.Fatal("expected waker1 to have fired")
	}
	require.Equal(t, []int{2, 1}, fired)
}

func TestHandleCancelPreventsFiring(t *testing.T) {
	w := timer.New()
	deadline := time.Now().Add(10 * time.Millisecond)
	waker, h := w.Schedule(deadline)
	h.Cancel()
	require.Equal(t, 0, w.Len())

	w.Advance(deadline.Add(time.Millisecond))
	select {
	case <-waker:
		t.Fatal("cancelled waker must not fire")
	default:
	}
}

func TestNextDeadline(t *testing.T) {
	w := timer.New()
	_, ok := w.NextDeadline()
	require.False(t, ok)

	d1 := time.Now().Add(50 * time.Millisecond)
	w.Schedule(d1)
	got, ok := w.NextDeadline()
	require.True(t, ok)
	require.WithinDuration(t, d1, got, time.Millisecond)
}
