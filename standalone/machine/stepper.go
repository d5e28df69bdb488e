package machine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"math"
	"sync"
	"time"

	"millstep/core"
	"millstep/standalone/stepgen"
)

// StepperConfig holds the machine-wide settings of a local stepper machine
type StepperConfig struct {
	DefaultFeedRate   float64       // mm/min
	RapidMoveFeedRate float64       // mm/min
	MaxPulseWidth     time.Duration // Upper bound for a step pulse high time, 0 for none
}

// StepperOption customizes a StepperMotorControl
type StepperOption func(*StepperMotorControl)

// WithLogger sets the logger used for move tracing
func WithLogger(logger *slog.Logger) StepperOption {
	return func(s *StepperMotorControl) {
		s.logger = logger
	}
}

// WithCloser registers a resource released by Close, typically the GPIO
// driver the motors were built on
func WithCloser(c io.Closer) StepperOption {
	return func(s *StepperMotorControl) {
		s.closer = c
	}
}

// StepperMotorControl drives three local stepper axes directly
type StepperMotorControl struct {
	mu          sync.Mutex
	axes        [stepgen.NumAxes]*stepgen.Axis
	clock       core.Clock
	config      StepperConfig
	initialized bool
	logger      *slog.Logger
	closer      io.Closer
}

// NewStepperMotorControl creates a machine from its three axes
func NewStepperMotorControl(x, y, z *stepgen.Axis, clock core.Clock, config StepperConfig, opts ...StepperOption) (*StepperMotorControl, error) {
	if x == nil || y == nil || z == nil {
		return nil, errors.New("all three axes are required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if err := validateFeedRates(config.DefaultFeedRate, config.RapidMoveFeedRate); err != nil {
		return nil, err
	}
	s := &StepperMotorControl{
		axes:   [stepgen.NumAxes]*stepgen.Axis{x, y, z},
		clock:  clock,
		config: config,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *StepperMotorControl) DefaultFeedRate() float64   { return s.config.DefaultFeedRate }
func (s *StepperMotorControl) RapidMoveFeedRate() float64 { return s.config.RapidMoveFeedRate }

// Initialized reports whether Initialize has completed successfully
func (s *StepperMotorControl) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Initialize seats every axis against its backlash. The machine only
// accepts moves once all three axes initialized.
func (s *StepperMotorControl) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = false
	for _, axis := range s.axes {
		if err := axis.Initialize(ctx); err != nil {
			return fmt.Errorf("initialize: %w", err)
		}
	}
	s.initialized = true
	return nil
}

// Flush is a no-op: MoveBy returns only after the last pulse went out
func (s *StepperMotorControl) Flush(ctx context.Context) error {
	return ctx.Err()
}

// MoveBy takes up backlash, then pulses all axes in one interleaved
// schedule so that they start and finish together.
func (s *StepperMotorControl) MoveBy(ctx context.Context, x, y, z, feedRate float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return &StateError{Op: "move_by", Err: ErrUninitialized}
	}

	deltas := [stepgen.NumAxes]float64{x, y, z}
	for i, axis := range s.axes {
		if _, err := axis.CompensateForBacklash(ctx, deltas[i]); err != nil {
			return fmt.Errorf("move_by: %w", err)
		}
	}

	var steps [stepgen.NumAxes]int64
	moving := false
	for i, axis := range s.axes {
		steps[i] = axis.StepsNeededToMoveBy(deltas[i])
		if steps[i] != 0 {
			moving = true
		}
	}
	if !moving {
		return nil
	}
	if feedRate <= 0 {
		return fmt.Errorf("move_by: invalid feed rate %v", feedRate)
	}

	// Time the move by the distance actually travelled, not the one asked for
	var sq float64
	for i, axis := range s.axes {
		mm := float64(steps[i]) * axis.StepSize()
		sq += mm * mm
	}
	duration := stepgen.MoveDuration(math.Sqrt(sq), feedRate)

	for i, axis := range s.axes {
		var err error
		switch {
		case steps[i] < 0:
			err = axis.Motor().SignalGoRight()
			steps[i] = -steps[i]
		case steps[i] > 0:
			err = axis.Motor().SignalGoLeft()
		}
		if err != nil {
			return fmt.Errorf("move_by: axis %s: %w", axis.Name(), err)
		}
	}

	s.logger.Debug("move",
		"x", x, "y", y, "z", z,
		"feed", feedRate,
		"steps", steps,
		"duration", duration)

	return s.run(ctx, stepgen.Pulses(duration, s.config.MaxPulseWidth, steps[0], steps[1], steps[2]))
}

func (s *StepperMotorControl) run(ctx context.Context, events iter.Seq[stepgen.StepPulseEvent]) error {
	var motors [stepgen.NumAxes]core.MotorDriver
	for i, axis := range s.axes {
		motors[i] = axis.Motor()
	}
	if err := stepgen.Run(ctx, s.clock, motors, events); err != nil {
		return fmt.Errorf("move_by: %w", err)
	}
	return nil
}

// Close releases the resource registered with WithCloser, if any
func (s *StepperMotorControl) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
