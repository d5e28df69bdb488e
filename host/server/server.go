// Package server exposes a worker over HTTP: submit G-code, initialize,
// abort, poll logs, and simulate programs without touching the machine
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"millstep/standalone"
	"millstep/standalone/machine"
)

// MachineFactory builds a fresh machine; called at start and after every
// abort
type MachineFactory func() (machine.Machine, error)

// DefaultAbortTimeout bounds how long Abort waits for a killed job to let
// go of the machine
const DefaultAbortTimeout = 5 * time.Second

// ErrAbortTimeout is returned by Abort when the killed job did not exit in
// time. No new machine is built then; a later Abort tries again.
var ErrAbortTimeout = errors.New("killed job did not stop in time")

// App owns the current worker and replaces it when a job is aborted
type App struct {
	factory      MachineFactory
	logger       *slog.Logger
	defaultFeed  float64
	rapidFeed    float64
	abortTimeout time.Duration

	mu      sync.Mutex
	worker  *standalone.WorkerProcess
	carried []standalone.LogEntry // entries left by killed workers
}

// Option customizes an App
type Option func(*App)

// WithLogger sets the operator logger
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) {
		a.logger = logger
	}
}

// WithSimulationFeedRates sets the feed rates of simulation runs
func WithSimulationFeedRates(defaultFeed, rapidFeed float64) Option {
	return func(a *App) {
		a.defaultFeed = defaultFeed
		a.rapidFeed = rapidFeed
	}
}

// WithAbortTimeout overrides DefaultAbortTimeout
func WithAbortTimeout(d time.Duration) Option {
	return func(a *App) {
		a.abortTimeout = d
	}
}

// NewApp builds the first machine and starts a worker on it
func NewApp(factory MachineFactory, opts ...Option) (*App, error) {
	if factory == nil {
		return nil, errors.New("machine factory is required")
	}
	a := &App{
		factory:      factory,
		logger:       slog.New(slog.DiscardHandler),
		abortTimeout: DefaultAbortTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	w, err := a.startWorker()
	if err != nil {
		return nil, err
	}
	a.worker = w
	return a, nil
}

func (a *App) startWorker() (*standalone.WorkerProcess, error) {
	m, err := a.factory()
	if err != nil {
		return nil, fmt.Errorf("failed to build machine: %w", err)
	}
	return standalone.CreateAndStart(m, standalone.WithLogger(a.logger))
}

// Worker returns the current worker
func (a *App) Worker() *standalone.WorkerProcess {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.worker
}

// Abort kills the current worker and replaces it with a fresh one on a
// newly built machine. The new machine is only built once the killed job
// has exited, and must be initialized again.
func (a *App) Abort() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	old := a.worker
	if err := old.Kill(); err != nil && !errors.Is(err, standalone.ErrWorkerKilled) {
		a.logger.Warn("releasing machine after abort", "error", err)
	}
	timer := time.NewTimer(a.abortTimeout)
	defer timer.Stop()
	select {
	case <-old.Done():
	case <-timer.C:
		return ErrAbortTimeout
	}
	a.carried = append(a.carried, old.GetLogs()...)

	w, err := a.startWorker()
	if err != nil {
		return err
	}
	a.worker = w
	a.logger.Info("worker replaced after abort")
	return nil
}

// GetLogs returns the pending log entries, including those of workers
// killed since the last call
func (a *App) GetLogs() []standalone.LogEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	logs := append(a.carried, a.worker.GetLogs()...)
	a.carried = nil
	if logs == nil {
		logs = []standalone.LogEntry{}
	}
	return logs
}

// Close kills the current worker
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	err := a.worker.Kill()
	if errors.Is(err, standalone.ErrWorkerKilled) {
		return nil
	}
	return err
}
