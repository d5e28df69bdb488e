package stepgen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleInterleavesAxes(t *testing.T) {
	events := Schedule(time.Second, 0, 5, 2, 0)

	type slot struct {
		offset time.Duration
		axis   AxisID
	}
	want := []slot{
		{0, AxisX},
		{0, AxisY},
		{200 * time.Millisecond, AxisX},
		{400 * time.Millisecond, AxisX},
		{500 * time.Millisecond, AxisY},
		{600 * time.Millisecond, AxisX},
		{800 * time.Millisecond, AxisX},
	}

	require.Len(t, events, len(want))
	for i, w := range want {
		assert.Equal(t, w.offset, events[i].Offset, "event %d offset", i)
		assert.Equal(t, w.axis, events[i].Axis, "event %d axis", i)
	}
}

func TestScheduleCountsPerAxis(t *testing.T) {
	tests := []struct {
		name    string
		x, y, z int64
	}{
		{"single axis", 7, 0, 0},
		{"all axes", 3, 11, 4},
		{"negative ignored", -4, 2, 0},
		{"nothing", 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := Schedule(time.Second, 0, tt.x, tt.y, tt.z)
			got := map[AxisID]int64{}
			for i, ev := range events {
				got[ev.Axis]++
				assert.Less(t, ev.Offset, time.Second)
				if i > 0 {
					prev := events[i-1]
					assert.True(t, prev.Offset < ev.Offset ||
						(prev.Offset == ev.Offset && prev.Axis < ev.Axis), "events out of order at %d", i)
				}
			}
			for axis, want := range map[AxisID]int64{AxisX: tt.x, AxisY: tt.y, AxisZ: tt.z} {
				if want < 0 {
					want = 0
				}
				assert.Equal(t, want, got[axis], "axis %s", axis)
			}
		})
	}
}

func TestPulseWidth(t *testing.T) {
	assert.Equal(t, 50*time.Millisecond, PulseWidth(time.Second, 0, 10))
	assert.Equal(t, 30*time.Microsecond, PulseWidth(time.Second, 30*time.Microsecond, 10))
	assert.Equal(t, time.Duration(0), PulseWidth(time.Second, 0, 0))

	events := Schedule(time.Second, time.Millisecond, 4, 1000, 0)
	for _, ev := range events {
		assert.LessOrEqual(t, ev.Width, time.Millisecond)
		if ev.Axis == AxisY {
			assert.Equal(t, 500*time.Microsecond, ev.Width)
		}
	}
}

func TestMoveDuration(t *testing.T) {
	assert.Equal(t, 6*time.Second, MoveDuration(10, 100))
	assert.Equal(t, time.Duration(0), MoveDuration(10, 0))
	assert.Equal(t, time.Duration(0), MoveDuration(0, 100))
}

func TestAxisIDString(t *testing.T) {
	assert.Equal(t, "X", AxisX.String())
	assert.Equal(t, "Y", AxisY.String())
	assert.Equal(t, "Z", AxisZ.String())
	assert.Equal(t, "?", AxisID(9).String())
}

func TestPulsesStopsWhenAsked(t *testing.T) {
	var got []StepPulseEvent
	for ev := range Pulses(time.Second, 0, 5, 2, 0) {
		got = append(got, ev)
		if len(got) == 3 {
			break
		}
	}
	require.Len(t, got, 3)
	assert.Equal(t, AxisX, got[2].Axis)
	assert.Equal(t, 200*time.Millisecond, got[2].Offset)
}
