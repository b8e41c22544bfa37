package pacing

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// DefaultJitter is the fraction applied around a base delay.
const DefaultJitter = 0.25

// Waiter is the only way the scan flow suspends.
type Waiter struct {
	clock    Clock
	fraction float64

	mu  sync.Mutex
	rnd *rand.Rand
}

// Option configures a Waiter.
type Option func(*Waiter)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(w *Waiter) { w.clock = c }
}

// WithJitter sets the jitter fraction; values outside [0,1) are ignored.
func WithJitter(fraction float64) Option {
	return func(w *Waiter) {
		if fraction >= 0 && fraction < 1 {
			w.fraction = fraction
		}
	}
}

// WithSeed makes Jitter deterministic.
func WithSeed(seed uint64) Option {
	return func(w *Waiter) { w.rnd = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// NewWaiter builds a Waiter on the real clock with 25% jitter.
func NewWaiter(opts ...Option) *Waiter {
	w := &Waiter{
		clock:    RealClock{},
		fraction: DefaultJitter,
		rnd:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5bd1e995)),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Clock returns the underlying time source.
func (w *Waiter) Clock() Clock { return w.clock }

// Jitter returns a duration uniformly drawn from [base·(1-f), base·(1+f)].
func (w *Waiter) Jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	w.mu.Lock()
	r := w.rnd.Float64()
	w.mu.Unlock()

	spread := time.Duration(float64(base) * w.fraction)
	low, high := base-spread, base+spread
	d := low + time.Duration(r*float64(high-low))
	if d > high {
		d = high
	}
	return d
}

// Delay suspends for d. It returns ctx.Err() if the context ends first.
func (w *Waiter) Delay(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.clock.After(d):
		return nil
	}
}

// PollUntil evaluates pred every interval until it holds (true), timeout
// elapses (false) or ctx is cancelled (false).
func (w *Waiter) PollUntil(ctx context.Context, pred func(context.Context) bool, timeout, interval time.Duration) bool {
	if interval <= 0 {
		interval = timeout
	}
	deadline := w.clock.Now().Add(timeout)

	for {
		if ctx.Err() != nil {
			return false
		}
		if pred(ctx) {
			return true
		}

		remaining := deadline.Sub(w.clock.Now())
		if remaining <= 0 {
			return false
		}
		wait := interval
		if remaining < wait {
			wait = remaining
		}
		if err := w.Delay(ctx, wait); err != nil {
			return false
		}
	}
}
