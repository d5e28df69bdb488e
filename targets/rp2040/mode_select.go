//go:build rp2040

package main

import (
	"machine"
	"time"

	"millstep/standalone/stepgen"
)

// MotorKind selects the motor driver built for each axis
type MotorKind int

const (
	// MotorPIO drives step/dir stepper drivers with PIO timed pulses
	MotorPIO MotorKind = iota
	// MotorGPIO drives step/dir stepper drivers with CPU timed pulses
	MotorGPIO
	// MotorCoil drives four-wire unipolar steppers directly
	MotorCoil
)

// AxisPins wires one axis. Step and Dir serve MotorPIO and MotorGPIO,
// Coils serve MotorCoil.
type AxisPins struct {
	Step, Dir machine.Pin
	InvertDir bool
	Coils     [4]machine.Pin
}

// ModeConfig determines how the board runs
type ModeConfig struct {
	// Standalone interprets G-code lines received over USB. Otherwise the
	// board is the controller of a host running the serial backend.
	Standalone bool
	Motors     MotorKind
	Pins       [stepgen.NumAxes]AxisPins
	Axis       stepgen.AxisConfig
	CoilRPM    int32

	DefaultFeedRate   float64
	RapidMoveFeedRate float64
	MaxPulseWidth     time.Duration
}

// GetMode returns the board configuration. Change it here and reflash.
func GetMode() ModeConfig {
	return ModeConfig{
		Standalone: false,
		Motors:     MotorPIO,
		Pins: [stepgen.NumAxes]AxisPins{
			{Step: machine.GPIO2, Dir: machine.GPIO3, Coils: [4]machine.Pin{machine.GPIO10, machine.GPIO11, machine.GPIO12, machine.GPIO13}},
			{Step: machine.GPIO4, Dir: machine.GPIO5, Coils: [4]machine.Pin{machine.GPIO14, machine.GPIO15, machine.GPIO16, machine.GPIO17}},
			{Step: machine.GPIO6, Dir: machine.GPIO7, Coils: [4]machine.Pin{machine.GPIO18, machine.GPIO19, machine.GPIO20, machine.GPIO21}},
		},
		// 3mm lead screws, 200 full steps at 32x microstepping
		Axis: stepgen.AxisConfig{
			Backlash:           0.25,
			MMPerRevolution:    3,
			StepsPerRevolution: 6400,
			StepTime:           3 * time.Microsecond,
		},
		CoilRPM:           15,
		DefaultFeedRate:   200,
		RapidMoveFeedRate: 1000,
		MaxPulseWidth:     time.Millisecond,
	}
}
