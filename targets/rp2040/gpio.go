//go:build rp2040

package main

import (
	"machine"

	"millstep/core"
)

// pinDriver drives GPIO lines through the machine package
type pinDriver struct{}

func (pinDriver) ConfigureOutput(pin core.GPIOPin) error {
	machine.Pin(pin).Configure(machine.PinConfig{Mode: machine.PinOutput})
	return nil
}

func (pinDriver) SetPin(pin core.GPIOPin, value bool) error {
	machine.Pin(pin).Set(value)
	return nil
}
