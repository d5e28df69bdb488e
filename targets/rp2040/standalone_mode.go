//go:build rp2040

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"millstep/core"
	"millstep/standalone"
	"millstep/standalone/machine"
	"millstep/standalone/stepgen"
)

const (
	logPollInterval = 20 * time.Millisecond
	abortTimeout    = 5 * time.Second
)

// runStandalone reads G-code over USB, one job per line. "INIT" queues an
// initialization and "ABORT" kills the worker and starts a fresh one.
// Every finished job is answered with "ok <message>" or "error <message>".
func runStandalone(ctx context.Context, mode ModeConfig, motors [stepgen.NumAxes]core.MotorDriver, clock core.Clock, port io.ReadWriter) error {
	start := func() (*standalone.WorkerProcess, error) {
		m, err := buildStepperMachine(mode, motors, clock)
		if err != nil {
			return nil, err
		}
		return standalone.CreateAndStart(m)
	}
	first, err := start()
	if err != nil {
		return err
	}
	var current atomic.Pointer[standalone.WorkerProcess]
	current.Store(first)

	go reportLogs(ctx, &current, port)

	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		worker := current.Load()
		switch strings.ToUpper(line) {
		case "":
			continue
		case "INIT":
			_, err = worker.SendInitialize()
		case "ABORT":
			err = abort(worker, start, &current, port)
		default:
			_, err = worker.SendGCode(line)
		}
		if err != nil {
			fmt.Fprintf(port, "error %v\n", err)
		}
	}
	return scanner.Err()
}

// abort kills worker and starts a fresh one on a rebuilt machine, which
// has to be initialized again. The machine is only rebuilt once the killed
// job let go of the motors.
func abort(worker *standalone.WorkerProcess, start func() (*standalone.WorkerProcess, error), current *atomic.Pointer[standalone.WorkerProcess], out io.Writer) error {
	worker.Kill()
	select {
	case <-worker.Done():
	case <-time.After(abortTimeout):
		return errors.New("killed job did not stop in time")
	}
	printLogs(out, worker.GetLogs())
	fresh, err := start()
	if err != nil {
		return err
	}
	current.Store(fresh)
	return nil
}

func buildStepperMachine(mode ModeConfig, motors [stepgen.NumAxes]core.MotorDriver, clock core.Clock) (*machine.StepperMotorControl, error) {
	var axes [stepgen.NumAxes]*stepgen.Axis
	for i, motor := range motors {
		axis, err := stepgen.NewAxis(stepgen.AxisID(i).String(), mode.Axis, motor, clock)
		if err != nil {
			return nil, err
		}
		axes[i] = axis
	}
	return machine.NewStepperMotorControl(axes[0], axes[1], axes[2], clock, machine.StepperConfig{
		DefaultFeedRate:   mode.DefaultFeedRate,
		RapidMoveFeedRate: mode.RapidMoveFeedRate,
		MaxPulseWidth:     mode.MaxPulseWidth,
	})
}

func reportLogs(ctx context.Context, current *atomic.Pointer[standalone.WorkerProcess], out io.Writer) {
	ticker := time.NewTicker(logPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		printLogs(out, current.Load().GetLogs())
	}
}

func printLogs(out io.Writer, entries []standalone.LogEntry) {
	for _, e := range entries {
		status := "ok"
		if e.Level == standalone.LevelError {
			status = "error"
		}
		fmt.Fprintf(out, "%s %s\n", status, e.Message)
	}
}
