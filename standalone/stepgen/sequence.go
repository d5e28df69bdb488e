package stepgen

import (
	"iter"
	"math"
	"slices"
	"time"
)

// AxisID identifies a machine axis. The numeric order X < Y < Z is also
// the tie-break order for pulses scheduled at the same instant.
type AxisID uint8

const (
	AxisX AxisID = iota
	AxisY
	AxisZ
)

// NumAxes is the number of axes a machine drives
const NumAxes = 3

func (a AxisID) String() string {
	switch a {
	case AxisX:
		return "X"
	case AxisY:
		return "Y"
	case AxisZ:
		return "Z"
	default:
		return "?"
	}
}

// StepPulseEvent is one step pulse within a move
type StepPulseEvent struct {
	Offset time.Duration // Time of the rising edge, relative to move start
	Axis   AxisID
	Width  time.Duration // High time; the low phase lasts as long
}

// MoveDuration returns how long a move of length mm takes at feedRate
// (mm per minute).
func MoveDuration(length, feedRate float64) time.Duration {
	if feedRate <= 0 || length <= 0 {
		return 0
	}
	return time.Duration(60 * length / feedRate * float64(time.Second))
}

// PulseWidth returns the high time for an axis issuing n pulses in
// duration: half of the pulse slot, capped at maxWidth when maxWidth > 0.
func PulseWidth(duration, maxWidth time.Duration, n int64) time.Duration {
	if n <= 0 {
		return 0
	}
	w := duration / time.Duration(2*n)
	if maxWidth > 0 && w > maxWidth {
		w = maxWidth
	}
	return w
}

// Schedule spreads the step counts of a move evenly over duration.
// Pulse k of an axis with N steps fires at duration*k/N; counts that are
// not positive contribute no pulses. Events come back sorted by offset,
// ties broken in axis order.
func Schedule(duration, maxWidth time.Duration, stepsX, stepsY, stepsZ int64) []StepPulseEvent {
	return slices.Collect(Pulses(duration, maxWidth, stepsX, stepsY, stepsZ))
}

// Pulses yields the events of Schedule in order without holding them all,
// merging the three evenly spaced axis sequences as it goes.
func Pulses(duration, maxWidth time.Duration, stepsX, stepsY, stepsZ int64) iter.Seq[StepPulseEvent] {
	counts := [NumAxes]int64{stepsX, stepsY, stepsZ}
	return func(yield func(StepPulseEvent) bool) {
		var (
			next   [NumAxes]int64
			widths [NumAxes]time.Duration
		)
		for i, n := range counts {
			widths[i] = PulseWidth(duration, maxWidth, n)
		}
		for {
			best := -1
			var offset time.Duration
			for i, n := range counts {
				if next[i] >= n {
					continue
				}
				if o := scaleDuration(duration, next[i], n); best < 0 || o < offset {
					best, offset = i, o
				}
			}
			if best < 0 {
				return
			}
			next[best]++
			if !yield(StepPulseEvent{Offset: offset, Axis: AxisID(best), Width: widths[best]}) {
				return
			}
		}
	}
}

// scaleDuration returns d*k/n without overflowing int64 on long moves
func scaleDuration(d time.Duration, k, n int64) time.Duration {
	if d <= 0 {
		return 0
	}
	if k == 0 {
		return 0
	}
	if int64(d) <= math.MaxInt64/k {
		return time.Duration(int64(d) * k / n)
	}
	return time.Duration(float64(d) * float64(k) / float64(n))
}
