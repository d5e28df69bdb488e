package stepgen

import (
	"context"
	"fmt"
	"iter"

	"millstep/core"
)

// Run emits a pulse sequence on motors, indexed by AxisID. Each pulse is
// issued once its offset from the start of the run has passed; pulses
// running late are issued back to back.
func Run(ctx context.Context, clock core.Clock, motors [NumAxes]core.MotorDriver, events iter.Seq[StepPulseEvent]) error {
	start := clock.Now()
	for ev := range events {
		if wait := ev.Offset - clock.Now().Sub(start); wait > 0 {
			if err := clock.Sleep(ctx, wait); err != nil {
				return err
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		if err := core.Step(ctx, clock, motors[ev.Axis], 2*ev.Width); err != nil {
			return fmt.Errorf("axis %s: %w", ev.Axis, err)
		}
	}
	return nil
}
