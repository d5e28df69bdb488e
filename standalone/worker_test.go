package standalone

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"millstep/standalone/machine"
)

// waitForLogs polls GetLogs until n entries arrived
func waitForLogs(t *testing.T, w *WorkerProcess, n int) []LogEntry {
	t.Helper()
	var logs []LogEntry
	require.Eventually(t, func() bool {
		logs = append(logs, w.GetLogs()...)
		return len(logs) >= n
	}, 5*time.Second, 5*time.Millisecond)
	return logs
}

func TestWorkerInitializeThenBadGCode(t *testing.T) {
	w, err := CreateAndStart(machine.NewSimulated(0, 0))
	require.NoError(t, err)
	defer w.Kill()

	initID, err := w.SendInitialize()
	require.NoError(t, err)
	badID, err := w.SendGCode("G0 X1 W2")
	require.NoError(t, err)

	logs := waitForLogs(t, w, 2)
	require.Len(t, logs, 2)

	assert.Equal(t, initID, logs[0].JobID)
	assert.Equal(t, LevelInfo, logs[0].Level)
	assert.Equal(t, "Machine initialized successfully", logs[0].Message)

	assert.Equal(t, badID, logs[1].JobID)
	assert.Equal(t, LevelError, logs[1].Level)
	assert.Contains(t, logs[1].Message, "unknown axes W")

	// The worker survives a failed job
	okID, err := w.SendGCode("G1 X1 Y1")
	require.NoError(t, err)
	logs = waitForLogs(t, w, 1)
	require.Len(t, logs, 1)
	assert.Equal(t, okID, logs[0].JobID)
	assert.Equal(t, LevelInfo, logs[0].Level)
	assert.True(t, strings.HasPrefix(logs[0].Message, "gcode interpreted successfully, took "), logs[0].Message)
}

func TestWorkerParseFailure(t *testing.T) {
	w, err := CreateAndStart(machine.NewSimulated(0, 0))
	require.NoError(t, err)
	defer w.Kill()

	_, err = w.SendGCode("Invalid")
	require.NoError(t, err)

	logs := waitForLogs(t, w, 1)
	assert.Equal(t, LevelError, logs[0].Level)
	assert.Equal(t, "line 1: word 'I' value invalid", logs[0].Message)
}

func TestWorkerUninitializedMachine(t *testing.T) {
	w, err := CreateAndStart(machine.NewSimulated(0, 0))
	require.NoError(t, err)
	defer w.Kill()

	_, err = w.SendGCode("G0 X1")
	require.NoError(t, err)

	logs := waitForLogs(t, w, 1)
	assert.Equal(t, LevelError, logs[0].Level)
	assert.Contains(t, logs[0].Message, "uninitialized machine")
}

func TestWorkerJobsRunInOrder(t *testing.T) {
	w, err := CreateAndStart(machine.NewSimulated(0, 0))
	require.NoError(t, err)
	defer w.Kill()

	var ids []uuid.UUID
	id, err := w.SendInitialize()
	require.NoError(t, err)
	ids = append(ids, id)
	for i := 0; i < 10; i++ {
		id, err := w.SendGCode("G91\nG1 X1")
		require.NoError(t, err)
		ids = append(ids, id)
	}

	logs := waitForLogs(t, w, len(ids))
	for i, entry := range logs {
		assert.Equal(t, ids[i], entry.JobID)
		assert.Equal(t, LevelInfo, entry.Level)
	}
}

func TestWorkerLifecycle(t *testing.T) {
	w := NewWorkerProcess(machine.NewSimulated(0, 0))
	assert.Equal(t, StateNotStarted, w.State())

	_, err := w.SendInitialize()
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, w.Start())
	assert.Equal(t, StateRunning, w.State())
	assert.ErrorIs(t, w.Start(), ErrAlreadyStarted)

	require.NoError(t, w.Kill())
	assert.Equal(t, StateKilled, w.State())
	assert.ErrorIs(t, w.Start(), ErrAlreadyStarted)
	assert.ErrorIs(t, w.Kill(), ErrWorkerKilled)

	_, err = w.SendGCode("G0 X1")
	assert.ErrorIs(t, err, ErrWorkerKilled)
	_, err = w.SendInitialize()
	assert.ErrorIs(t, err, ErrWorkerKilled)

	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker loop did not exit")
	}
	assert.Empty(t, w.GetLogs())
}

// blockingMachine parks in MoveBy until its context ends
type blockingMachine struct {
	*machine.Simulated
	entered chan struct{}
	once    sync.Once

	mu     sync.Mutex
	closed bool
}

func newBlockingMachine() *blockingMachine {
	return &blockingMachine{
		Simulated: machine.NewSimulated(0, 0),
		entered:   make(chan struct{}),
	}
}

func (m *blockingMachine) MoveBy(ctx context.Context, x, y, z, feed float64) error {
	m.once.Do(func() { close(m.entered) })
	<-ctx.Done()
	return ctx.Err()
}

func (m *blockingMachine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return errors.New("port already gone")
}

func TestWorkerKillAbortsRunningJob(t *testing.T) {
	m := newBlockingMachine()
	w, err := CreateAndStart(m)
	require.NoError(t, err)

	_, err = w.SendInitialize()
	require.NoError(t, err)
	_, err = w.SendGCode("G0 X100")
	require.NoError(t, err)
	_, err = w.SendGCode("G0 X200")
	require.NoError(t, err)

	select {
	case <-m.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("move never started")
	}

	err = w.Kill()
	assert.EqualError(t, err, "port already gone")
	assert.True(t, m.closed)

	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker loop did not exit")
	}

	logs := w.GetLogs()
	require.Len(t, logs, 1, "only the initialization finished")
	assert.Equal(t, "Machine initialized successfully", logs[0].Message)
}

// panickyMachine panics on Initialize
type panickyMachine struct {
	*machine.Simulated
}

func (m *panickyMachine) Initialize(ctx context.Context) error {
	panic("driver exploded")
}

func TestWorkerRecoversFromPanic(t *testing.T) {
	w, err := CreateAndStart(&panickyMachine{Simulated: machine.NewSimulated(0, 0)})
	require.NoError(t, err)
	defer w.Kill()

	_, err = w.SendInitialize()
	require.NoError(t, err)
	logs := waitForLogs(t, w, 1)
	assert.Equal(t, LevelError, logs[0].Level)
	assert.Equal(t, "driver exploded", logs[0].Message)

	_, err = w.SendGCode("(nothing to do)")
	require.NoError(t, err)
	logs = waitForLogs(t, w, 1)
	assert.Equal(t, LevelInfo, logs[0].Level)
}

func TestSimulate(t *testing.T) {
	moves, err := Simulate(context.Background(), "G0 X10 Y10\nG1 Z-1\nG1 X20", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []machine.SimulatedMove{
		{X: 0, Y: 0, Z: 0},
		{X: 10, Y: 10, Z: 0, Rapid: true},
		{X: 10, Y: 10, Z: -1},
		{X: 20, Y: 10, Z: -1},
	}, moves)

	_, err = Simulate(context.Background(), "G2 X1 R1", 0, 0)
	assert.Error(t, err)
}
