// Package mcu implements a Machine backed by a remote step-pulse
// microcontroller reached over a serial link
package mcu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"millstep/core"
	"millstep/protocol"
	"millstep/standalone/machine"
)

// DefaultPingInterval is the pause between handshake pings
const DefaultPingInterval = 100 * time.Millisecond

// Config describes the axes of a remote machine
type Config struct {
	StepsPerMM        [3]float64 // X, Y, Z
	Invert            [3]bool    // Flip the direction line of an axis
	DefaultFeedRate   float64    // mm/min
	RapidMoveFeedRate float64    // mm/min
	PingInterval      time.Duration
}

// ErrOutOfRange reports a move whose step count or duration does not fit
// the 32-bit fields of THREE_PWM. Nothing is sent for such a move.
var ErrOutOfRange = errors.New("value exceeds the protocol range")

// CommunicationError reports a protocol violation or a failed exchange
// with the device. It invalidates the cached axis directions.
type CommunicationError struct {
	Op  string
	Err error
}

func (e *CommunicationError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *CommunicationError) Unwrap() error {
	return e.Err
}

// Option customizes a RemoteMachine
type Option func(*RemoteMachine)

// WithLogger sets the logger for protocol tracing
func WithLogger(logger *slog.Logger) Option {
	return func(m *RemoteMachine) {
		m.logger = logger
	}
}

// WithClock sets the clock used to pace handshake pings
func WithClock(clock core.Clock) Option {
	return func(m *RemoteMachine) {
		m.clock = clock
	}
}

const dirUnknown = -1

// RemoteMachine streams moves to a microcontroller which schedules the
// step pulses itself. Moves are acknowledged when queued; Flush waits
// until the device has executed them.
type RemoteMachine struct {
	mu          sync.Mutex
	port        io.ReadWriteCloser
	config      Config
	clock       core.Clock
	logger      *slog.Logger
	initialized bool
	pending     bool // moves queued since the last flush
	lastDir     [3]int

	closeOnce sync.Once
	closeErr  error
}

// NewRemoteMachine creates a machine talking over port
func NewRemoteMachine(port io.ReadWriteCloser, config Config, opts ...Option) (*RemoteMachine, error) {
	if port == nil {
		return nil, errors.New("port is required")
	}
	for i, spm := range config.StepsPerMM {
		if spm <= 0 {
			return nil, fmt.Errorf("steps per mm of axis %d must be positive", i)
		}
	}
	if config.DefaultFeedRate <= 0 || config.RapidMoveFeedRate <= 0 {
		return nil, errors.New("feed rates must be positive")
	}
	if config.PingInterval <= 0 {
		config.PingInterval = DefaultPingInterval
	}

	m := &RemoteMachine{
		port:   port,
		config: config,
		clock:  core.NewSystemClock(0),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.invalidateDirections()
	return m, nil
}

func (m *RemoteMachine) DefaultFeedRate() float64   { return m.config.DefaultFeedRate }
func (m *RemoteMachine) RapidMoveFeedRate() float64 { return m.config.RapidMoveFeedRate }

// Initialize pings the device until it answers
func (m *RemoteMachine) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.initialized = false
	m.invalidateDirections()
	if err := m.pingUntilOK(ctx); err != nil {
		return err
	}
	m.initialized = true
	m.logger.Info("controller answered handshake")
	return nil
}

func (m *RemoteMachine) pingUntilOK(ctx context.Context) error {
	buf := make([]byte, 64)
	for attempt := 1; ; attempt++ {
		if err := m.write("ping", []byte{protocol.MessagePing}); err != nil {
			return err
		}
		if err := m.clock.Sleep(ctx, m.config.PingInterval); err != nil {
			return err
		}
		n, err := m.readAvailable(buf)
		if err != nil {
			return m.fail("ping", err)
		}
		for _, b := range buf[:n] {
			if b == protocol.MessagePong {
				m.logger.Debug("pong", "attempt", attempt)
				return m.drainLatePongs(ctx, buf)
			}
		}
	}
}

// drainLatePongs discards answers to pings sent while the device was
// still waking up, so they are not mistaken for acknowledgments later
func (m *RemoteMachine) drainLatePongs(ctx context.Context, buf []byte) error {
	if err := m.clock.Sleep(ctx, m.config.PingInterval); err != nil {
		return err
	}
	for {
		n, err := m.readAvailable(buf)
		if err != nil {
			return m.fail("ping", err)
		}
		if n == 0 {
			return nil
		}
	}
}

// Flush waits until the device executed every queued move
func (m *RemoteMachine) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.pending {
		return ctx.Err()
	}
	if err := m.write("flush", []byte{protocol.MessageFlush}); err != nil {
		return err
	}
	if err := m.expect(ctx, "flush", protocol.MessageFlushStarted); err != nil {
		return err
	}

	b, err := m.readByte(ctx)
	if err != nil {
		return m.fail("flush", err)
	}
	switch b {
	case protocol.MessageFlushFinished:
		m.pending = false
		return nil
	case protocol.MessageFlushFailed:
		reason, err := m.readByte(ctx)
		if err != nil {
			return m.fail("flush", err)
		}
		return m.fail("flush", fmt.Errorf("failed flush: reason 0x%02x", reason))
	default:
		return m.fail("flush", fmt.Errorf("invalid response %s", protocol.MessageName(b)))
	}
}

// MoveBy latches the axis directions that changed, then queues one
// coordinated burst of steps on the device
func (m *RemoteMachine) MoveBy(ctx context.Context, x, y, z, feedRate float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return &machine.StateError{Op: "move_by", Err: machine.ErrUninitialized}
	}

	deltas := [3]float64{x, y, z}
	var (
		burst   protocol.ThreePWM
		states  [3]uint8
		longest float64
	)
	for i, d := range deltas {
		states[i] = protocol.DirPositive
		if (d < 0) != m.config.Invert[i] {
			states[i] = protocol.DirNegative
		}
		d = math.Abs(d)
		longest = math.Max(longest, d)
		steps := d * m.config.StepsPerMM[i]
		if steps > math.MaxUint32 {
			return fmt.Errorf("move_by: %.0f steps on axis %d: %w", steps, i, ErrOutOfRange)
		}
		burst.Steps[i] = uint32(steps)
	}
	moving := burst.Steps != [3]uint32{}
	if moving && feedRate > 0 {
		micros := 1e6 * 60 * longest / feedRate
		if micros > math.MaxUint32 {
			return fmt.Errorf("move_by: move of %.0fµs: %w", micros, ErrOutOfRange)
		}
		burst.TimeMicros = uint32(micros)
	}

	for i, state := range states {
		if err := m.setDir(ctx, uint8(i), state); err != nil {
			return err
		}
	}
	if !moving {
		return nil
	}
	if feedRate <= 0 {
		return fmt.Errorf("move_by: invalid feed rate %v", feedRate)
	}

	if err := m.write("three_pwm", protocol.EncodeThreePWM(burst)); err != nil {
		return err
	}
	b, err := m.readByte(ctx)
	if err != nil {
		return m.fail("three_pwm", err)
	}
	switch b {
	case protocol.MessageThreePWMScheduled:
		m.pending = true
		return nil
	case protocol.MessageThreePWMError:
		return m.fail("three_pwm", fmt.Errorf("device rejected %d %v", burst.TimeMicros, burst.Steps))
	default:
		return m.fail("three_pwm", fmt.Errorf("invalid response %s", protocol.MessageName(b)))
	}
}

func (m *RemoteMachine) setDir(ctx context.Context, axis, state uint8) error {
	if m.lastDir[axis] == int(state) {
		return nil
	}
	if err := m.write("set_dir", protocol.EncodeSetDir(protocol.SetDir{Axis: axis, State: state})); err != nil {
		return err
	}
	if err := m.expect(ctx, "set_dir", protocol.MessageSetDirScheduled); err != nil {
		return err
	}
	m.lastDir[axis] = int(state)
	return nil
}

// Close closes the port. It does not wait for a move in progress, which
// then fails on its next read.
func (m *RemoteMachine) Close() error {
	m.closeOnce.Do(func() {
		m.closeErr = m.port.Close()
	})
	return m.closeErr
}

func (m *RemoteMachine) write(op string, msg []byte) error {
	if _, err := m.port.Write(msg); err != nil {
		return m.fail(op, err)
	}
	return nil
}

func (m *RemoteMachine) expect(ctx context.Context, op string, want byte) error {
	b, err := m.readByte(ctx)
	if err != nil {
		return m.fail(op, err)
	}
	if b != want {
		return m.fail(op, fmt.Errorf("invalid response %s, expected %s",
			protocol.MessageName(b), protocol.MessageName(want)))
	}
	return nil
}

// readByte waits for a single byte. A port with a read timeout reports an
// idle line as io.EOF, so that only ends the wait when ctx does.
func (m *RemoteMachine) readByte(ctx context.Context) (byte, error) {
	var b [1]byte
	for {
		n, err := m.port.Read(b[:])
		if n == 1 {
			return b[0], nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
	}
}

// readAvailable returns what arrived so far without waiting for more
func (m *RemoteMachine) readAvailable(buf []byte) (int, error) {
	n, err := m.port.Read(buf)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return n, err
}

func (m *RemoteMachine) fail(op string, err error) error {
	m.invalidateDirections()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	m.logger.Warn("controller exchange failed", "op", op, "error", err)
	return &CommunicationError{Op: op, Err: err}
}

func (m *RemoteMachine) invalidateDirections() {
	for i := range m.lastDir {
		m.lastDir[i] = dirUnknown
	}
}
