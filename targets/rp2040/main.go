//go:build rp2040

package main

import (
	"context"
	"fmt"
	"machine"
	"time"

	"millstep/core"
	"millstep/standalone/stepgen"
)

func main() {
	// Clear any watchdog state left from before the reset
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}

	port, err := initUSB()
	if err != nil {
		fatal()
	}

	mode := GetMode()
	clock := newHardwareClock()
	motors, err := buildMotors(mode)
	if err != nil {
		fatal()
	}

	ctx := context.Background()
	if mode.Standalone {
		err = runStandalone(ctx, mode, motors, clock, port)
	} else {
		err = runController(ctx, mode, motors, clock, port)
	}
	if err != nil {
		fatal()
	}
}

func buildMotors(mode ModeConfig) ([stepgen.NumAxes]core.MotorDriver, error) {
	var motors [stepgen.NumAxes]core.MotorDriver
	for i, pins := range mode.Pins {
		var err error
		switch mode.Motors {
		case MotorPIO:
			motors[i], err = NewPIOMotorDriver(0, uint8(i), pins.Step, pins.Dir, pins.InvertDir)
		case MotorGPIO:
			motors[i], err = core.NewPinMotorDriver(pinDriver{}, core.GPIOPin(pins.Step), core.GPIOPin(pins.Dir), pins.InvertDir)
		case MotorCoil:
			motors[i], err = NewCoilMotorDriver(pins.Coils, int32(mode.Axis.StepsPerRevolution), mode.CoilRPM)
		default:
			err = fmt.Errorf("unknown motor kind %d", mode.Motors)
		}
		if err != nil {
			return motors, fmt.Errorf("axis %s: %w", stepgen.AxisID(i), err)
		}
	}
	return motors, nil
}

// fatal blinks the LED rapidly forever
func fatal() {
	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})
	for {
		led.High()
		time.Sleep(100 * time.Millisecond)
		led.Low()
		time.Sleep(100 * time.Millisecond)
	}
}
