//go:build rp2040

package main

import (
	"machine"

	"tinygo.org/x/drivers/easystepper"
)

// CoilMotorDriver runs a four-wire unipolar stepper (28BYJ-48 and the
// like) through easystepper. One step is taken on each falling edge of the
// step signal, in the last signalled direction.
type CoilMotorDriver struct {
	dev  *easystepper.Device
	dir  int32
	high bool
}

// NewCoilMotorDriver configures the four coil pins. rpm bounds the step
// rate easystepper allows; it should exceed what the feed rates ask for.
func NewCoilMotorDriver(pins [4]machine.Pin, stepsPerRevolution int32, rpm int32) (*CoilMotorDriver, error) {
	dev, err := easystepper.New(easystepper.DeviceConfig{
		Pin1:      pins[0],
		Pin2:      pins[1],
		Pin3:      pins[2],
		Pin4:      pins[3],
		StepCount: uint(stepsPerRevolution),
		RPM:       uint(rpm),
		Mode:      easystepper.ModeFour,
	})
	if err != nil {
		return nil, err
	}
	dev.Configure()
	return &CoilMotorDriver{dev: dev, dir: 1}, nil
}

func (d *CoilMotorDriver) SignalGoLeft() error {
	d.dir = 1
	return nil
}

func (d *CoilMotorDriver) SignalGoRight() error {
	d.dir = -1
	return nil
}

func (d *CoilMotorDriver) SignalPulseHigh() error {
	d.high = true
	return nil
}

func (d *CoilMotorDriver) SignalPulseLow() error {
	if d.high {
		d.dev.Move(d.dir)
	}
	d.high = false
	return nil
}

// Off releases the coils
func (d *CoilMotorDriver) Off() {
	d.dev.Off()
}
