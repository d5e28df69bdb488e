package standalone

import (
	"context"

	"millstep/standalone/gcode"
	"millstep/standalone/machine"
)

// Simulate runs a program on a fresh simulated machine and returns the
// tool path it traced. The path starts at the origin.
func Simulate(ctx context.Context, text string, defaultFeed, rapidFeed float64) ([]machine.SimulatedMove, error) {
	sim := machine.NewSimulated(defaultFeed, rapidFeed)
	if err := sim.Initialize(ctx); err != nil {
		return nil, err
	}
	if err := gcode.NewInterpreter(sim).Run(ctx, text); err != nil {
		return nil, err
	}
	return sim.Moves(), nil
}
