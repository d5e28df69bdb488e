package gcode

import (
	"context"
	"fmt"
	"math"
)

const (
	// arcRadiusEpsilon bounds both the start/finish radius mismatch and
	// the smallest usable radius (mm)
	arcRadiusEpsilon = 1e-2

	// arcAngularSteps is the number of chords per full turn
	arcAngularSteps = 60

	// arcChordTolerance keeps float noise from eating the last chord
	arcChordTolerance = 1e-9
)

// arc linearizes a G2/G3 move in the XY plane into chords of a fixed
// angular step. The center is given by I/J relative to the start point.
func (interp *Interpreter) arc(ctx context.Context, cmd Command) error {
	fail := func(format string, args ...any) error {
		return &InterpretationError{Command: cmd.String(), Reason: fmt.Sprintf(format, args...)}
	}

	if unknown := unknownParameters(cmd, "XYZIJR"); unknown != "" {
		return fail("unknown parameters %s", unknown)
	}
	if cmd.Direction != Clockwise && cmd.Direction != CounterClockwise {
		return fail("unknown angular direction %d", cmd.Direction)
	}
	if interp.state.Plane != PlaneXY {
		return fail("arcs are only supported in the XY plane")
	}
	if cmd.HasParameter('R') {
		return fail("radius form arcs are not supported")
	}
	if !cmd.HasParameter('I') && !cmd.HasParameter('J') {
		return fail("expected I and J center offsets")
	}

	var finish [3]float64
	for i, letter := range axisLetters {
		if v, ok := cmd.Parameters[letter]; ok {
			finish[i] = interp.toIncremental(i, v)
		}
	}
	if finish[2] != 0 {
		return fail("helical moves are not supported")
	}

	ci := cmd.GetParameter('I', 0)
	cj := cmd.GetParameter('J', 0)
	radius := math.Hypot(ci, cj)
	radius2 := math.Hypot(finish[0]-ci, finish[1]-cj)
	if math.Abs(radius-radius2) > arcRadiusEpsilon {
		return fail("radius mismatch: %0.6f vs %0.6f", radius, radius2)
	}
	if radius <= arcRadiusEpsilon {
		return fail("null radius")
	}

	step := float64(cmd.Direction) * 2 * math.Pi / arcAngularSteps
	chord := math.Hypot(radius*math.Sin(step), radius*math.Cos(step)-radius)
	start := interp.state.Position
	angle := math.Atan2(-cj, -ci)

	for n := 0; n < arcAngularSteps; n++ {
		angle += step
		px := ci + radius*math.Cos(angle)
		py := cj + radius*math.Sin(angle)
		if math.Hypot(px-finish[0], py-finish[1]) < chord*(1-arcChordTolerance) {
			break
		}
		if err := interp.moveTo(ctx, [3]float64{start[0] + px, start[1] + py, start[2]}); err != nil {
			return err
		}
	}
	return interp.moveTo(ctx, [3]float64{start[0] + finish[0], start[1] + finish[1], start[2]})
}
