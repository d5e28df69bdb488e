package serial

import (
	"errors"
	"fmt"

	"github.com/tarm/serial"
)

// Open opens the port described by cfg. A zero Baud means DefaultBaud.
func Open(cfg Config) (*serial.Port, error) {
	if cfg.Device == "" {
		return nil, errors.New("serial device is required")
	}
	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaud
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}
	return port, nil
}
