//go:build rp2040

package main

import (
	"context"
	"runtime/volatile"
	"time"
	"unsafe"
)

// RP2040 timer peripheral: a free running 64-bit microsecond counter
const (
	timerBase     = 0x40054000
	timerTIMERAWH = timerBase + 0x24
	timerTIMERAWL = timerBase + 0x28
)

var (
	timerRAWH = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWH)))
	timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))
)

// spinBelow is the wait under which hardwareClock spins on the counter
// instead of handing control to the scheduler
const spinBelow = 200 * time.Microsecond

// uptime reads the full 64-bit counter
func uptime() uint64 {
	for {
		high1 := timerRAWH.Get()
		low := timerRAWL.Get()
		high2 := timerRAWH.Get()
		// A changed high word means the low word rolled over mid read
		if high1 == high2 {
			return uint64(high1)<<32 | uint64(low)
		}
	}
}

// hardwareClock is a core.Clock on the microsecond timer. Short waits spin
// so step pulses keep their width.
type hardwareClock struct {
	boot time.Time
}

func newHardwareClock() *hardwareClock {
	return &hardwareClock{boot: time.Now().Add(-time.Duration(uptime()) * time.Microsecond)}
}

func (c *hardwareClock) Now() time.Time {
	return c.boot.Add(time.Duration(uptime()) * time.Microsecond)
}

func (c *hardwareClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d >= spinBelow {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}
	deadline := uptime() + uint64(d/time.Microsecond)
	for uptime() < deadline {
	}
	return nil
}
