package core

import "time"

// MotorDriver is the capability every stepper driver backend provides.
// A driver knows nothing about millimeters or feed rates: it only latches
// a direction and toggles the pulse line.
type MotorDriver interface {
	// SignalGoLeft latches the "left" (positive) direction
	SignalGoLeft() error

	// SignalGoRight latches the "right" (negative) direction
	SignalGoRight() error

	// SignalPulseHigh drives the step line high
	SignalPulseHigh() error

	// SignalPulseLow drives the step line low
	SignalPulseLow() error
}

// PulseGenerator is implemented by drivers that can time the high phase of
// a step pulse in hardware (PIO, timers). Step prefers it over toggling the
// pulse line from software.
type PulseGenerator interface {
	GeneratePulse(width time.Duration) error
}
