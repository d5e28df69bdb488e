//go:build rp2040

package main

import (
	"machine"
	"time"
)

// usbPollInterval is how long a read waits between checks of the USB
// receive buffer
const usbPollInterval = 50 * time.Microsecond

// usbPort is the USB CDC serial port as a blocking io.ReadWriter
type usbPort struct{}

func initUSB() (usbPort, error) {
	// machine.Serial is USB CDC on the RP2040; TinyGo sets the descriptors
	return usbPort{}, machine.Serial.Configure(machine.UARTConfig{})
}

// Read waits for at least one byte, then returns what is buffered
func (usbPort) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for machine.Serial.Buffered() == 0 {
		time.Sleep(usbPollInterval)
	}
	n := 0
	for n < len(p) && machine.Serial.Buffered() > 0 {
		b, err := machine.Serial.ReadByte()
		if err != nil {
			return n, err
		}
		p[n] = b
		n++
	}
	return n, nil
}

func (usbPort) Write(p []byte) (int, error) {
	return machine.Serial.Write(p)
}
