package mcu

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"millstep/core"
	"millstep/protocol"
	"millstep/standalone/machine"
)

// fakeDevice answers the host the way the controller firmware does
type fakeDevice struct {
	mu       sync.Mutex
	in       bytes.Buffer
	out      bytes.Buffer
	commands []protocol.Command

	silentPings int  // pings ignored before the first PONG
	latePongs   int  // extra PONGs queued after the first
	rejectPWM   bool // answer THREE_PWM with THREE_PWM_ERROR
	failFlush   byte // nonzero: answer FLUSH with FLUSH_FAILED and this reason
	garbage     byte // nonzero: answer the next SET_DIR with this byte
	closed      bool
}

func (d *fakeDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, io.ErrClosedPipe
	}
	d.in.Write(p)
	for d.in.Len() > 0 {
		cmd, err := protocol.ReadCommand(&d.in)
		if err != nil {
			return len(p), err
		}
		d.commands = append(d.commands, cmd)
		d.respond(cmd)
	}
	return len(p), nil
}

func (d *fakeDevice) respond(cmd protocol.Command) {
	switch cmd.Type {
	case protocol.MessagePing:
		if d.silentPings > 0 {
			d.silentPings--
			return
		}
		d.out.WriteByte(protocol.MessagePong)
		for ; d.latePongs > 0; d.latePongs-- {
			d.out.WriteByte(protocol.MessagePong)
		}
	case protocol.MessageSetDir:
		if d.garbage != 0 {
			d.out.WriteByte(d.garbage)
			d.garbage = 0
			return
		}
		d.out.WriteByte(protocol.MessageSetDirScheduled)
	case protocol.MessageThreePWM:
		if d.rejectPWM {
			d.out.WriteByte(protocol.MessageThreePWMError)
			return
		}
		d.out.WriteByte(protocol.MessageThreePWMScheduled)
	case protocol.MessageFlush:
		d.out.WriteByte(protocol.MessageFlushStarted)
		if d.failFlush != 0 {
			d.out.Write([]byte{protocol.MessageFlushFailed, d.failFlush})
			return
		}
		d.out.WriteByte(protocol.MessageFlushFinished)
	}
}

func (d *fakeDevice) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, io.ErrClosedPipe
	}
	if d.out.Len() == 0 {
		return 0, io.EOF
	}
	return d.out.Read(p)
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDevice) sent(kind byte) []protocol.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []protocol.Command
	for _, c := range d.commands {
		if c.Type == kind {
			out = append(out, c)
		}
	}
	return out
}

func (d *fakeDevice) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = nil
}

var testConfig = Config{
	StepsPerMM:        [3]float64{100, 100, 400},
	Invert:            [3]bool{false, true, false},
	DefaultFeedRate:   300,
	RapidMoveFeedRate: 1200,
}

func newTestMachine(t *testing.T, dev *fakeDevice) (*RemoteMachine, *core.ManualClock) {
	t.Helper()
	clock := core.NewManualClock(time.Unix(0, 0))
	m, err := NewRemoteMachine(dev, testConfig, WithClock(clock))
	require.NoError(t, err)
	return m, clock
}

func TestInitializePingsUntilPong(t *testing.T) {
	dev := &fakeDevice{silentPings: 3, latePongs: 2}
	m, clock := newTestMachine(t, dev)

	require.NoError(t, m.Initialize(context.Background()))
	assert.Len(t, dev.sent(protocol.MessagePing), 4)
	assert.Equal(t, 5*DefaultPingInterval, clock.Slept())

	// Late PONGs were drained and do not upset the next exchange
	require.NoError(t, m.MoveBy(context.Background(), 1, 0, 0, 300))
}

func TestInitializeCancelled(t *testing.T) {
	dev := &fakeDevice{silentPings: 1 << 30}
	m, _ := newTestMachine(t, dev)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Initialize(ctx), context.Canceled)
	assert.ErrorIs(t, m.MoveBy(context.Background(), 1, 0, 0, 300), machine.ErrUninitialized)
}

func TestMoveBySendsDirectionsAndBurst(t *testing.T) {
	dev := &fakeDevice{}
	m, _ := newTestMachine(t, dev)
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))
	dev.reset()

	require.NoError(t, m.MoveBy(ctx, 2, -1, 0.5, 60))

	// Y is inverted: a negative move drives its line high
	var dirs []protocol.SetDir
	for _, c := range dev.sent(protocol.MessageSetDir) {
		dirs = append(dirs, c.SetDir)
	}
	assert.Equal(t, []protocol.SetDir{
		{Axis: protocol.AxisX, State: protocol.DirPositive},
		{Axis: protocol.AxisY, State: protocol.DirPositive},
		{Axis: protocol.AxisZ, State: protocol.DirPositive},
	}, dirs)

	bursts := dev.sent(protocol.MessageThreePWM)
	require.Len(t, bursts, 1)
	assert.Equal(t, protocol.ThreePWM{
		TimeMicros: 2000000,
		Steps:      [3]uint32{200, 100, 200},
	}, bursts[0].ThreePWM)
}

func TestMoveByOutOfRange(t *testing.T) {
	tests := []struct {
		name    string
		x, feed float64
	}{
		// 100mm at 1mm/min takes 6e9µs
		{"duration", 100, 1},
		// 5e7mm at 100 steps/mm is 5e9 steps
		{"steps", 5e7, 1e9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := &fakeDevice{}
			m, _ := newTestMachine(t, dev)
			ctx := context.Background()
			require.NoError(t, m.Initialize(ctx))
			dev.reset()

			err := m.MoveBy(ctx, tt.x, 0, 0, tt.feed)
			assert.ErrorIs(t, err, ErrOutOfRange)
			assert.Empty(t, dev.sent(protocol.MessageSetDir))
			assert.Empty(t, dev.sent(protocol.MessageThreePWM))
		})
	}
}

func TestSetDirOnlyOnChange(t *testing.T) {
	dev := &fakeDevice{}
	m, _ := newTestMachine(t, dev)
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))

	require.NoError(t, m.MoveBy(ctx, 1, 1, 1, 300))
	dev.reset()
	require.NoError(t, m.MoveBy(ctx, 2, 2, 2, 300))
	assert.Empty(t, dev.sent(protocol.MessageSetDir))

	require.NoError(t, m.MoveBy(ctx, -1, 2, 2, 300))
	dirs := dev.sent(protocol.MessageSetDir)
	require.Len(t, dirs, 1)
	assert.Equal(t, protocol.SetDir{Axis: protocol.AxisX, State: protocol.DirNegative}, dirs[0].SetDir)
}

func TestZeroMoveSendsNoBurst(t *testing.T) {
	dev := &fakeDevice{}
	m, _ := newTestMachine(t, dev)
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))
	dev.reset()

	require.NoError(t, m.MoveBy(ctx, 0.001, 0, 0, 0))
	assert.Empty(t, dev.sent(protocol.MessageThreePWM))

	// Nothing was queued, so there is nothing to flush
	require.NoError(t, m.Flush(ctx))
	assert.Empty(t, dev.sent(protocol.MessageFlush))
}

func TestFlush(t *testing.T) {
	dev := &fakeDevice{}
	m, _ := newTestMachine(t, dev)
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))

	require.NoError(t, m.MoveBy(ctx, 1, 0, 0, 300))
	require.NoError(t, m.Flush(ctx))
	assert.Len(t, dev.sent(protocol.MessageFlush), 1)

	require.NoError(t, m.Flush(ctx))
	assert.Len(t, dev.sent(protocol.MessageFlush), 1, "second flush has nothing pending")
}

func TestFlushFailed(t *testing.T) {
	dev := &fakeDevice{failFlush: 0x05}
	m, _ := newTestMachine(t, dev)
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))
	require.NoError(t, m.MoveBy(ctx, 1, 1, 0, 300))

	err := m.Flush(ctx)
	var commErr *CommunicationError
	require.True(t, errors.As(err, &commErr))
	assert.EqualError(t, err, "flush: failed flush: reason 0x05")

	// The direction cache was dropped: the next move re-sends every direction
	dev.failFlush = 0
	dev.reset()
	require.NoError(t, m.MoveBy(ctx, 1, 1, 0, 300))
	assert.Len(t, dev.sent(protocol.MessageSetDir), 3)
}

func TestUnexpectedAcknowledgment(t *testing.T) {
	dev := &fakeDevice{}
	m, _ := newTestMachine(t, dev)
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))

	dev.garbage = protocol.MessagePong
	err := m.MoveBy(ctx, 1, 0, 0, 300)
	assert.EqualError(t, err, "set_dir: invalid response PONG, expected SET_DIR_SCHEDULED")

	dev.rejectPWM = true
	err = m.MoveBy(ctx, 1, 0, 0, 300)
	var commErr *CommunicationError
	require.True(t, errors.As(err, &commErr))
	assert.Equal(t, "three_pwm", commErr.Op)
}

func TestCloseFailsPendingExchange(t *testing.T) {
	dev := &fakeDevice{}
	m, _ := newTestMachine(t, dev)
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.MoveBy(ctx, 1, 0, 0, 300), io.ErrClosedPipe)
}

func TestNewRemoteMachineValidation(t *testing.T) {
	_, err := NewRemoteMachine(nil, testConfig)
	assert.Error(t, err)

	bad := testConfig
	bad.StepsPerMM[2] = 0
	_, err = NewRemoteMachine(&fakeDevice{}, bad)
	assert.ErrorContains(t, err, "axis 2")

	bad = testConfig
	bad.RapidMoveFeedRate = 0
	_, err = NewRemoteMachine(&fakeDevice{}, bad)
	assert.Error(t, err)
}
