package core

import (
	"context"
	"errors"
	"time"
)

// ErrNoHardware is returned by DummyMotorDriver for every signal
var ErrNoHardware = errors.New("no actual milling machine connected")

// Step emits one full step of the given period: the pulse line is held high
// for half of it and low for the other half.
func Step(ctx context.Context, clock Clock, m MotorDriver, period time.Duration) error {
	half := period / 2
	if pg, ok := m.(PulseGenerator); ok {
		if err := pg.GeneratePulse(half); err != nil {
			return err
		}
		return clock.Sleep(ctx, period)
	}

	if err := m.SignalPulseHigh(); err != nil {
		return err
	}
	if err := clock.Sleep(ctx, half); err != nil {
		// Never leave the step line high behind a cancelled wait
		_ = m.SignalPulseLow()
		return err
	}
	if err := m.SignalPulseLow(); err != nil {
		return err
	}
	return clock.Sleep(ctx, half)
}

// StepLeft latches the left direction and emits one step
func StepLeft(ctx context.Context, clock Clock, m MotorDriver, period time.Duration) error {
	if err := m.SignalGoLeft(); err != nil {
		return err
	}
	return Step(ctx, clock, m, period)
}

// StepRight latches the right direction and emits one step
func StepRight(ctx context.Context, clock Clock, m MotorDriver, period time.Duration) error {
	if err := m.SignalGoRight(); err != nil {
		return err
	}
	return Step(ctx, clock, m, period)
}

// PinMotorDriver drives a step/dir stepper driver through two GPIO pins.
// Left is the direction pin driven high, unless InvertDir is set.
type PinMotorDriver struct {
	gpio      GPIODriver
	stepPin   GPIOPin
	dirPin    GPIOPin
	invertDir bool
}

// NewPinMotorDriver configures both pins as outputs, step line low
func NewPinMotorDriver(gpio GPIODriver, stepPin, dirPin GPIOPin, invertDir bool) (*PinMotorDriver, error) {
	if gpio == nil {
		return nil, errors.New("gpio driver is required")
	}
	if stepPin == dirPin {
		return nil, errors.New("step and dir pins must differ")
	}
	if err := gpio.ConfigureOutput(stepPin); err != nil {
		return nil, err
	}
	if err := gpio.ConfigureOutput(dirPin); err != nil {
		return nil, err
	}
	if err := gpio.SetPin(stepPin, false); err != nil {
		return nil, err
	}
	return &PinMotorDriver{
		gpio:      gpio,
		stepPin:   stepPin,
		dirPin:    dirPin,
		invertDir: invertDir,
	}, nil
}

func (d *PinMotorDriver) SignalGoLeft() error {
	return d.gpio.SetPin(d.dirPin, !d.invertDir)
}

func (d *PinMotorDriver) SignalGoRight() error {
	return d.gpio.SetPin(d.dirPin, d.invertDir)
}

func (d *PinMotorDriver) SignalPulseHigh() error {
	return d.gpio.SetPin(d.stepPin, true)
}

func (d *PinMotorDriver) SignalPulseLow() error {
	return d.gpio.SetPin(d.stepPin, false)
}

// DummyMotorDriver stands in for hardware that is not attached.
// Every signal fails with ErrNoHardware.
type DummyMotorDriver struct{}

func (DummyMotorDriver) SignalGoLeft() error    { return ErrNoHardware }
func (DummyMotorDriver) SignalGoRight() error   { return ErrNoHardware }
func (DummyMotorDriver) SignalPulseHigh() error { return ErrNoHardware }
func (DummyMotorDriver) SignalPulseLow() error  { return ErrNoHardware }
