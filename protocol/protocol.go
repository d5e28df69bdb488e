// Package protocol implements the byte protocol spoken between the host
// and a remote step-pulse microcontroller
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Message identifiers. Each message starts with one of these bytes.
const (
	MessageUnknown           byte = 0x30
	MessagePing              byte = 0x31
	MessagePong              byte = 0x32
	MessageThreePWM          byte = 0x33
	MessageThreePWMScheduled byte = 0x34
	MessageSetDir            byte = 0x36
	MessageSetDirScheduled   byte = 0x37
	MessageThreePWMError     byte = 0x38
	MessageFlush             byte = 0x39
	MessageFlushStarted      byte = 0x3a
	MessageFlushFinished     byte = 0x3b
	MessageFlushFailed       byte = 0x3c
)

// Axis identifiers used by SET_DIR
const (
	AxisX uint8 = 0
	AxisY uint8 = 1
	AxisZ uint8 = 2
)

// Direction states used by SET_DIR
const (
	DirNegative uint8 = 0
	DirPositive uint8 = 1
)

// Reasons following FLUSH_FAILED
const (
	FlushFailedMotor     byte = 0x01
	FlushFailedCancelled byte = 0x02
)

// Message sizes, identifier byte included
const (
	SetDirSize   = 3
	ThreePWMSize = 17
)

var messageNames = map[byte]string{
	MessageUnknown:           "UNKNOWN",
	MessagePing:              "PING",
	MessagePong:              "PONG",
	MessageThreePWM:          "THREE_PWM",
	MessageThreePWMScheduled: "THREE_PWM_SCHEDULED",
	MessageSetDir:            "SET_DIR",
	MessageSetDirScheduled:   "SET_DIR_SCHEDULED",
	MessageThreePWMError:     "THREE_PWM_ERROR",
	MessageFlush:             "FLUSH",
	MessageFlushStarted:      "FLUSH_STARTED",
	MessageFlushFinished:     "FLUSH_FINISHED",
	MessageFlushFailed:       "FLUSH_FAILED",
}

// MessageName returns a printable name for a message byte
func MessageName(b byte) string {
	if name, ok := messageNames[b]; ok {
		return name
	}
	return fmt.Sprintf("0x%02x", b)
}

// SetDir latches the direction of one axis
type SetDir struct {
	Axis  uint8
	State uint8
}

// ThreePWM asks for a coordinated burst of steps on all three axes,
// spread over TimeMicros
type ThreePWM struct {
	TimeMicros uint32
	Steps      [3]uint32
}

// EncodeSetDir encodes a SET_DIR message
func EncodeSetDir(m SetDir) []byte {
	return []byte{MessageSetDir, m.Axis, m.State}
}

// EncodeThreePWM encodes a THREE_PWM message: the identifier followed by
// four little-endian uint32 (time, then X, Y and Z steps)
func EncodeThreePWM(m ThreePWM) []byte {
	buf := make([]byte, ThreePWMSize)
	buf[0] = MessageThreePWM
	binary.LittleEndian.PutUint32(buf[1:], m.TimeMicros)
	for i, s := range m.Steps {
		binary.LittleEndian.PutUint32(buf[5+4*i:], s)
	}
	return buf
}

// Command is one decoded host-to-device message
type Command struct {
	Type     byte
	SetDir   SetDir
	ThreePWM ThreePWM
}

// ReadCommand reads one host-to-device message from r. It is what a
// device (or a test double of one) uses to follow the host.
func ReadCommand(r io.Reader) (Command, error) {
	var id [1]byte
	if _, err := io.ReadFull(r, id[:]); err != nil {
		return Command{}, err
	}
	cmd := Command{Type: id[0]}

	switch id[0] {
	case MessagePing, MessageFlush:
		return cmd, nil
	case MessageSetDir:
		var body [SetDirSize - 1]byte
		if _, err := io.ReadFull(r, body[:]); err != nil {
			return cmd, fmt.Errorf("SET_DIR: %w", err)
		}
		cmd.SetDir = SetDir{Axis: body[0], State: body[1]}
		if cmd.SetDir.Axis > AxisZ || cmd.SetDir.State > DirPositive {
			return cmd, fmt.Errorf("SET_DIR: invalid axis %d or state %d", body[0], body[1])
		}
		return cmd, nil
	case MessageThreePWM:
		var body [ThreePWMSize - 1]byte
		if _, err := io.ReadFull(r, body[:]); err != nil {
			return cmd, fmt.Errorf("THREE_PWM: %w", err)
		}
		cmd.ThreePWM.TimeMicros = binary.LittleEndian.Uint32(body[0:])
		for i := range cmd.ThreePWM.Steps {
			cmd.ThreePWM.Steps[i] = binary.LittleEndian.Uint32(body[4+4*i:])
		}
		return cmd, nil
	default:
		return cmd, fmt.Errorf("unknown message %s", MessageName(id[0]))
	}
}
