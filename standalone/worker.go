// Package standalone runs G-code jobs against a machine in an isolated
// worker loop that reports outcomes through a log channel.
package standalone

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"millstep/standalone/gcode"
	"millstep/standalone/machine"
)

// WorkerProcess owns one Machine and executes Initialize and G-code jobs
// on it one at a time. Submission never blocks; outcomes are collected
// with GetLogs. A killed worker cannot be restarted.
type WorkerProcess struct {
	mu      sync.Mutex
	state   State
	machine machine.Machine
	jobs    *queue[Job]
	logs    *queue[LogEntry]
	cancel  context.CancelFunc
	done    chan struct{}
	logger  *slog.Logger
}

// Option customizes a WorkerProcess
type Option func(*WorkerProcess)

// WithLogger sets the logger for job tracing
func WithLogger(logger *slog.Logger) Option {
	return func(w *WorkerProcess) {
		w.logger = logger
	}
}

// NewWorkerProcess creates a worker for m. It does nothing until Start.
func NewWorkerProcess(m machine.Machine, opts ...Option) *WorkerProcess {
	w := &WorkerProcess{
		machine: m,
		jobs:    newQueue[Job](),
		logs:    newQueue[LogEntry](),
		done:    make(chan struct{}),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// CreateAndStart creates a worker for m and starts it
func CreateAndStart(m machine.Machine, opts ...Option) (*WorkerProcess, error) {
	w := NewWorkerProcess(m, opts...)
	if err := w.Start(); err != nil {
		return nil, err
	}
	return w, nil
}

// Start launches the job loop
func (w *WorkerProcess) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateNotStarted {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.state = StateRunning
	go w.run(ctx)
	return nil
}

// State returns the lifecycle state
func (w *WorkerProcess) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Done is closed once the job loop has exited after Kill
func (w *WorkerProcess) Done() <-chan struct{} {
	return w.done
}

// SendInitialize queues a machine initialization
func (w *WorkerProcess) SendInitialize() (uuid.UUID, error) {
	return w.submit(Job{Kind: JobInitialize})
}

// SendGCode queues a G-code program
func (w *WorkerProcess) SendGCode(text string) (uuid.UUID, error) {
	return w.submit(Job{Kind: JobGCode, GCode: text})
}

func (w *WorkerProcess) submit(job Job) (uuid.UUID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case StateNotStarted:
		return uuid.Nil, ErrNotStarted
	case StateKilled:
		return uuid.Nil, ErrWorkerKilled
	}
	job.ID = uuid.New()
	w.jobs.push(job)
	w.logger.Debug("job queued", "job", job.ID, "kind", job.Kind)
	return job.ID, nil
}

// Kill stops the worker at once, abandoning the running job mid-move and
// every queued one. Hardware is left wherever it stopped. A machine that
// holds resources (io.Closer) is closed.
func (w *WorkerProcess) Kill() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case StateKilled:
		return ErrWorkerKilled
	case StateNotStarted:
		w.state = StateKilled
		close(w.done)
	default:
		w.state = StateKilled
		w.cancel()
	}
	abandoned := len(w.jobs.drain())
	w.logger.Info("worker killed", "abandoned_jobs", abandoned)

	var err error
	if c, ok := w.machine.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	return err
}

// GetLogs returns and removes every log entry produced so far. It never
// blocks and keeps working after Kill.
func (w *WorkerProcess) GetLogs() []LogEntry {
	logs := w.logs.drain()
	if logs == nil {
		logs = []LogEntry{}
	}
	return logs
}

func (w *WorkerProcess) run(ctx context.Context) {
	defer close(w.done)
	for {
		job, err := w.jobs.pop(ctx)
		if err != nil {
			return
		}
		entry := w.execute(ctx, job)
		if ctx.Err() != nil {
			// Killed mid-job, nobody is waiting for its outcome
			return
		}
		w.logs.push(entry)
	}
}

// execute runs one job and turns its outcome, panics included, into a
// log entry
func (w *WorkerProcess) execute(ctx context.Context, job Job) (entry LogEntry) {
	entry.JobID = job.ID
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("job panicked", "job", job.ID, "panic", r)
			entry.Level = LevelError
			entry.Message = fmt.Sprintf("%v", r)
		}
	}()

	var err error
	var message string
	start := time.Now()
	switch job.Kind {
	case JobInitialize:
		err = w.machine.Initialize(ctx)
		message = "Machine initialized successfully"
	case JobGCode:
		err = gcode.NewInterpreter(w.machine).Run(ctx, job.GCode)
		message = fmt.Sprintf("gcode interpreted successfully, took %.02f seconds", time.Since(start).Seconds())
	default:
		err = fmt.Errorf("unknown job kind %q", job.Kind)
	}

	if err != nil {
		w.logger.Warn("job failed", "job", job.ID, "kind", job.Kind, "error", err)
		return LogEntry{JobID: job.ID, Level: LevelError, Message: err.Error()}
	}
	w.logger.Info("job done", "job", job.ID, "kind", job.Kind, "elapsed", time.Since(start))
	return LogEntry{JobID: job.ID, Level: LevelInfo, Message: message}
}
