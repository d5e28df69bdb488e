// Package device is the microcontroller side of the remote machine
// protocol: it answers a host, queues direction changes and step bursts,
// and emits them on three motors when the host flushes.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"millstep/core"
	"millstep/protocol"
	"millstep/standalone/stepgen"
)

// DefaultQueueCapacity is the number of step bursts held between flushes
const DefaultQueueCapacity = 64

type entry struct {
	setDir   *protocol.SetDir
	threePWM protocol.ThreePWM
}

// Option customizes a Controller
type Option func(*Controller)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithQueueCapacity bounds the number of queued bursts
func WithQueueCapacity(n int) Option {
	return func(c *Controller) {
		c.capacity = n
	}
}

// WithMaxPulseWidth caps the high time of a step pulse
func WithMaxPulseWidth(d time.Duration) Option {
	return func(c *Controller) {
		c.maxWidth = d
	}
}

// Controller executes protocol commands on three motors
type Controller struct {
	motors   [stepgen.NumAxes]core.MotorDriver
	clock    core.Clock
	logger   *slog.Logger
	capacity int
	maxWidth time.Duration

	queue  []entry
	bursts int
}

// NewController creates a controller driving motors, indexed X, Y, Z
func NewController(motors [stepgen.NumAxes]core.MotorDriver, clock core.Clock, opts ...Option) (*Controller, error) {
	for i, m := range motors {
		if m == nil {
			return nil, fmt.Errorf("motor %s is required", stepgen.AxisID(i))
		}
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	c := &Controller{
		motors:   motors,
		clock:    clock,
		logger:   slog.New(slog.DiscardHandler),
		capacity: DefaultQueueCapacity,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.capacity <= 0 {
		return nil, errors.New("queue capacity must be positive")
	}
	return c, nil
}

// Pending returns the number of queued bursts
func (c *Controller) Pending() int {
	return c.bursts
}

// Serve answers commands read from rw until ctx ends or rw fails.
// Malformed commands are answered with UNKNOWN.
func (c *Controller) Serve(ctx context.Context, rw io.ReadWriter) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		cmd, err := protocol.ReadCommand(rw)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return err
		}
		if err != nil {
			c.logger.Warn("bad command", "error", err)
			cmd = protocol.Command{Type: protocol.MessageUnknown}
		}
		if err := c.Handle(ctx, cmd, rw); err != nil {
			return err
		}
	}
}

// Handle executes one command and writes its replies to w. A flush is
// acknowledged with FLUSH_STARTED before the queue runs, and answered
// again once it has.
func (c *Controller) Handle(ctx context.Context, cmd protocol.Command, w io.Writer) error {
	reply := func(b ...byte) error {
		_, err := w.Write(b)
		return err
	}

	switch cmd.Type {
	case protocol.MessagePing:
		return reply(protocol.MessagePong)
	case protocol.MessageSetDir:
		d := cmd.SetDir
		c.queue = append(c.queue, entry{setDir: &d})
		return reply(protocol.MessageSetDirScheduled)
	case protocol.MessageThreePWM:
		if c.bursts >= c.capacity {
			return reply(protocol.MessageThreePWMError)
		}
		c.queue = append(c.queue, entry{threePWM: cmd.ThreePWM})
		c.bursts++
		return reply(protocol.MessageThreePWMScheduled)
	case protocol.MessageFlush:
		if err := reply(protocol.MessageFlushStarted); err != nil {
			return err
		}
		if reason, err := c.flush(ctx); err != nil {
			c.logger.Warn("flush failed", "error", err)
			return reply(protocol.MessageFlushFailed, reason)
		}
		return reply(protocol.MessageFlushFinished)
	default:
		return reply(protocol.MessageUnknown)
	}
}

// flush empties the queue. On failure the rest of the queue is dropped.
func (c *Controller) flush(ctx context.Context) (byte, error) {
	queue := c.queue
	c.queue = nil
	c.bursts = 0

	for _, e := range queue {
		if e.setDir != nil {
			if err := c.applyDir(*e.setDir); err != nil {
				return protocol.FlushFailedMotor, err
			}
			continue
		}
		if err := c.runBurst(ctx, e.threePWM); err != nil {
			if ctx.Err() != nil {
				return protocol.FlushFailedCancelled, err
			}
			return protocol.FlushFailedMotor, err
		}
	}
	return 0, nil
}

// applyDir maps the positive direction onto the motor's left
func (c *Controller) applyDir(d protocol.SetDir) error {
	m := c.motors[d.Axis]
	if d.State == protocol.DirPositive {
		return m.SignalGoLeft()
	}
	return m.SignalGoRight()
}

func (c *Controller) runBurst(ctx context.Context, b protocol.ThreePWM) error {
	duration := time.Duration(b.TimeMicros) * time.Microsecond
	pulses := stepgen.Pulses(duration, c.maxWidth,
		int64(b.Steps[0]), int64(b.Steps[1]), int64(b.Steps[2]))
	return stepgen.Run(ctx, c.clock, c.motors, pulses)
}
