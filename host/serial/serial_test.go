package serial

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpenRejectsBadConfig(t *testing.T) {
	_, err := Open(Config{Baud: DefaultBaud})
	assert.EqualError(t, err, "serial device is required")

	_, err = Open(Config{Device: "/nonexistent/tty"})
	assert.ErrorContains(t, err, "failed to open serial port /nonexistent/tty")
}
