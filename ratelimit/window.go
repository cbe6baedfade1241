// Package ratelimit paces calls to the stock-profile API with a sliding
// window: at most Limit calls in any Period, shared by every worker.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Defaults match the profile API quota.
const (
	DefaultLimit  = 200
	DefaultPeriod = 60 * time.Second
)

// Window is a sliding-window limiter backed by the timestamps of admitted
// calls. Construct one per upstream quota and inject it; it is safe for
// concurrent use.
type Window struct {
	mu     sync.Mutex
	limit  int
	period time.Duration
	calls  []time.Time // admitted call times, oldest first

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Window.
type Option func(*Window)

// WithLimit sets the number of calls allowed per period.
func WithLimit(n int) Option { return func(w *Window) { w.limit = n } }

// WithPeriod sets the window length.
func WithPeriod(d time.Duration) Option { return func(w *Window) { w.period = d } }

// WithClock replaces time.Now (tests).
func WithClock(fn func() time.Time) Option { return func(w *Window) { w.now = fn } }

// WithSleeper replaces the context-aware sleep (tests).
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(w *Window) { w.sleep = fn }
}

// New returns a Window of DefaultLimit calls per DefaultPeriod.
func New(opts ...Option) *Window {
	w := &Window{
		limit:  DefaultLimit,
		period: DefaultPeriod,
		now:    time.Now,
		sleep:  sleepCtx,
	}
	for _, o := range opts {
		o(w)
	}
	if w.limit <= 0 {
		w.limit = DefaultLimit
	}
	if w.period <= 0 {
		w.period = DefaultPeriod
	}
	return w
}

// Wait blocks until a call may be made and records it. When the window is
// full it sleeps until the oldest call leaves the window, then evicts again
// before admitting, so a burst of waiters released by the same expiry
// cannot exceed the limit.
func (w *Window) Wait(ctx context.Context) error {
	for {
		w.mu.Lock()
		now := w.now()
		w.evict(now)
		if len(w.calls) < w.limit {
			w.calls = append(w.calls, now)
			w.mu.Unlock()
			return nil
		}
		wait := w.calls[0].Add(w.period).Sub(now)
		w.mu.Unlock()

		if err := w.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// InFlight returns the number of calls inside the current window.
func (w *Window) InFlight() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evict(w.now())
	return len(w.calls)
}

// evict drops calls at or before now-period. Must be called with mu held.
func (w *Window) evict(now time.Time) {
	cutoff := now.Add(-w.period)
	i := 0
	for i < len(w.calls) && !w.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.calls = append(w.calls[:0], w.calls[i:]...)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
