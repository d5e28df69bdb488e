// Package serial opens the serial line to a step-pulse controller
package serial

import "time"

// Line settings the controller firmware expects
const (
	DefaultBaud        = 9600
	DefaultReadTimeout = 100 * time.Millisecond
)

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	Baud int

	// Read timeout (0 = blocking). With a timeout, a read that saw no
	// data returns io.EOF.
	ReadTimeout time.Duration
}
