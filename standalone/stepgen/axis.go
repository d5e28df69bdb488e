package stepgen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"millstep/core"
)

// AxisConfig describes the mechanics of one lead-screw axis
type AxisConfig struct {
	Backlash           float64       // Slack in the drive train (mm)
	MMPerRevolution    float64       // Travel per screw revolution (mm)
	StepsPerRevolution float64       // Motor steps per revolution, microstepping included
	StepTime           time.Duration // Period of one backlash/initialization step
}

// Validate checks the configuration for values the step math cannot use
func (c AxisConfig) Validate() error {
	if c.MMPerRevolution <= 0 {
		return errors.New("mm per revolution must be positive")
	}
	if c.StepsPerRevolution <= 0 {
		return errors.New("steps per revolution must be positive")
	}
	if c.Backlash < 0 {
		return errors.New("backlash must not be negative")
	}
	if c.StepTime < 0 {
		return errors.New("step time must not be negative")
	}
	return nil
}

// Axis converts millimeters into motor steps for one axis and takes up
// the backlash whenever the direction of travel reverses.
type Axis struct {
	name   string
	config AxisConfig
	motor  core.MotorDriver
	clock  core.Clock

	// Sign of the last nonzero move: -1, 0 (at rest) or +1
	lastSign int
}

// NewAxis creates an axis driving motor, timed by clock
func NewAxis(name string, config AxisConfig, motor core.MotorDriver, clock core.Clock) (*Axis, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("axis %s: %w", name, err)
	}
	if motor == nil {
		return nil, fmt.Errorf("axis %s: motor driver is required", name)
	}
	if clock == nil {
		return nil, fmt.Errorf("axis %s: clock is required", name)
	}
	return &Axis{
		name:   name,
		config: config,
		motor:  motor,
		clock:  clock,
	}, nil
}

// Name returns the axis name
func (a *Axis) Name() string { return a.name }

// Motor returns the motor driver behind this axis
func (a *Axis) Motor() core.MotorDriver { return a.motor }

// Config returns the axis configuration
func (a *Axis) Config() AxisConfig { return a.config }

// LastSign returns the direction of the last nonzero move
func (a *Axis) LastSign() int { return a.lastSign }

// StepsPerMM returns the fractional number of steps covering mm
func (a *Axis) StepsPerMM(mm float64) float64 {
	return a.config.StepsPerRevolution * mm / a.config.MMPerRevolution
}

// StepsNeededToMoveBy returns the whole steps for a signed move.
// The fraction is truncated toward zero.
func (a *Axis) StepsNeededToMoveBy(mm float64) int64 {
	return int64(a.StepsPerMM(mm))
}

// StepSize returns the travel of a single step (mm)
func (a *Axis) StepSize() float64 {
	return a.config.MMPerRevolution / a.config.StepsPerRevolution
}

func (a *Axis) deadSteps(mm float64) int {
	return int(a.StepsPerMM(mm))
}

// Initialize seats the drive train against a known flank: half the
// backlash left, the full backlash right, then half left again.
// Afterwards the axis counts as at rest.
func (a *Axis) Initialize(ctx context.Context) error {
	half := a.deadSteps(a.config.Backlash / 2)
	full := a.deadSteps(a.config.Backlash)

	if err := a.repeat(ctx, half, core.StepLeft); err != nil {
		return err
	}
	if err := a.repeat(ctx, full, core.StepRight); err != nil {
		return err
	}
	if err := a.repeat(ctx, half, core.StepLeft); err != nil {
		return err
	}
	a.lastSign = 0
	return nil
}

// CompensateForBacklash issues the dead steps needed before a move of
// amount mm and records its direction. It returns the number of dead
// steps emitted. A zero amount does nothing and keeps the last sign.
func (a *Axis) CompensateForBacklash(ctx context.Context, amount float64) (int, error) {
	var sign int
	switch {
	case amount > 0:
		sign = 1
	case amount < 0:
		sign = -1
	default:
		return 0, nil
	}
	if sign == a.lastSign {
		return 0, nil
	}

	var steps int
	switch {
	case a.lastSign == 0:
		steps = a.deadSteps(a.config.Backlash / 2)
	default:
		steps = a.deadSteps(a.config.Backlash)
	}

	stepFn := core.StepLeft
	if sign < 0 {
		stepFn = core.StepRight
	}
	if err := a.repeat(ctx, steps, stepFn); err != nil {
		return 0, err
	}
	a.lastSign = sign
	return steps, nil
}

type stepFunc func(ctx context.Context, clock core.Clock, m core.MotorDriver, period time.Duration) error

func (a *Axis) repeat(ctx context.Context, n int, step stepFunc) error {
	for i := 0; i < n; i++ {
		if err := step(ctx, a.clock, a.motor, a.config.StepTime); err != nil {
			return fmt.Errorf("axis %s: %w", a.name, err)
		}
	}
	return nil
}
