package core

import (
	"context"
	"sync"
	"time"
)

// DefaultNegligibleWait is the wait below which a Clock returns immediately
// instead of arming a timer.
const DefaultNegligibleWait = time.Microsecond

// Clock is the time source used by axes and machines while pulsing motors.
type Clock interface {
	// Now returns the current time
	Now() time.Time

	// Sleep blocks for d or until ctx is done, whichever comes first.
	// It returns ctx.Err() when the wait was cut short.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is a Clock backed by the wall clock
type SystemClock struct {
	negligible time.Duration
}

// NewSystemClock creates a wall clock that skips waits of at most negligible
func NewSystemClock(negligible time.Duration) *SystemClock {
	if negligible < 0 {
		negligible = 0
	}
	return &SystemClock{negligible: negligible}
}

// Now returns time.Now()
func (c *SystemClock) Now() time.Time {
	return time.Now()
}

// Sleep waits for d, honouring ctx cancellation
func (c *SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= c.negligible {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ManualClock is a Clock whose time only advances when Sleep is called.
// It is meant for tests and dry runs where real waiting is pointless.
type ManualClock struct {
	mu    sync.Mutex
	now   time.Time
	slept time.Duration
}

// NewManualClock creates a manual clock starting at start
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current manual time
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep advances the clock by d without blocking
func (c *ManualClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.slept += d
	c.mu.Unlock()
	return nil
}

// Slept returns the total time passed to Sleep so far
func (c *ManualClock) Slept() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slept
}
