package pacing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWaiter() (*Waiter, *VirtualClock) {
	clock := NewVirtualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewWaiter(WithClock(clock), WithSeed(42)), clock
}

func TestJitterBounds(t *testing.T) {
	w, _ := newTestWaiter()

	for _, base := range []time.Duration{time.Nanosecond, 3 * time.Nanosecond, 10 * time.Millisecond, 500 * time.Millisecond, 2 * time.Second, 10 * time.Second} {
		low := float64(base) * 0.75
		high := float64(base) * 1.25
		for i := 0; i < 1000; i++ {
			got := float64(w.Jitter(base))
			require.GreaterOrEqual(t, got, low, "base %v", base)
			require.LessOrEqual(t, got, high, "base %v", base)
		}
	}
}

func TestJitterZeroBase(t *testing.T) {
	w, _ := newTestWaiter()

	assert.Equal(t, time.Duration(0), w.Jitter(0))
	assert.Equal(t, time.Duration(0), w.Jitter(-time.Second))
}

func TestJitterCustomFraction(t *testing.T) {
	w := NewWaiter(WithJitter(0), WithSeed(1))

	assert.Equal(t, time.Second, w.Jitter(time.Second))
}

func TestDelayAdvancesClock(t *testing.T) {
	w, clock := newTestWaiter()
	start := clock.Now()

	require.NoError(t, w.Delay(context.Background(), 1500*time.Millisecond))

	assert.Equal(t, 1500*time.Millisecond, clock.Now().Sub(start))
	assert.Equal(t, 1500*time.Millisecond, clock.Slept())
}

func TestDelayCancelled(t *testing.T) {
	w, clock := newTestWaiter()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.Delay(ctx, time.Second)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, clock.Slept())
}

func TestPollUntilSucceeds(t *testing.T) {
	w, clock := newTestWaiter()
	calls := 0

	ok := w.PollUntil(context.Background(), func(context.Context) bool {
		calls++
		return calls == 4
	}, 5*time.Second, 300*time.Millisecond)

	assert.True(t, ok)
	assert.Equal(t, 4, calls)
	assert.Equal(t, 900*time.Millisecond, clock.Slept())
}

func TestPollUntilTimesOut(t *testing.T) {
	w, clock := newTestWaiter()
	calls := 0

	ok := w.PollUntil(context.Background(), func(context.Context) bool {
		calls++
		return false
	}, time.Second, 300*time.Millisecond)

	assert.False(t, ok)
	assert.Equal(t, time.Second, clock.Slept())
	// 0, 300, 600, 900, 1000ms
	assert.Equal(t, 5, calls)
}

func TestPollUntilObservesCancellationWithinOneInterval(t *testing.T) {
	w, clock := newTestWaiter()
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	ok := w.PollUntil(ctx, func(context.Context) bool {
		calls++
		if calls == 2 {
			cancel()
		}
		return false
	}, time.Minute, 300*time.Millisecond)

	assert.False(t, ok)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 300*time.Millisecond, clock.Slept())
}

func TestPollUntilRealClock(t *testing.T) {
	w := NewWaiter()
	start := time.Now()

	ok := w.PollUntil(context.Background(), func(context.Context) bool {
		return time.Since(start) > 20*time.Millisecond
	}, time.Second, 5*time.Millisecond)

	assert.True(t, ok)
}
