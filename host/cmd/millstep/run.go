package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"millstep/standalone"
	"millstep/standalone/config"
)

const logPollInterval = 100 * time.Millisecond

var errJobFailed = errors.New("job failed")

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <file>",
		Short: "Initialize the machine and execute a G-code program",
		Long: `Initialize the configured machine, then execute a G-code program on it.

Log entries are printed as jobs finish. Ctrl-C aborts the running program
and releases the machine.

Example:
  millstep run --config mill.yaml part.nc`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read program: %w", err)
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger := opts.logger()
			m, err := config.Build(cfg, logger)
			if err != nil {
				return err
			}
			w, err := standalone.CreateAndStart(m, standalone.WithLogger(logger))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runProgram(ctx, w, string(text), cmd.OutOrStdout())
		},
	}
}

// runProgram submits an initialization and the program to w and prints log
// entries until the program's entry arrives. The worker is killed on return.
func runProgram(ctx context.Context, w *standalone.WorkerProcess, text string, out io.Writer) error {
	defer w.Kill()

	if _, err := w.SendInitialize(); err != nil {
		return err
	}
	programID, err := w.SendGCode(text)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(logPollInterval)
	defer ticker.Stop()
	for {
		entry, done := printLogs(out, w.GetLogs(), programID)
		if done {
			if entry.Level == standalone.LevelError {
				return errJobFailed
			}
			return nil
		}
		select {
		case <-ctx.Done():
			if err := w.Kill(); err != nil && !errors.Is(err, standalone.ErrWorkerKilled) {
				fmt.Fprintln(out, renderError(err))
			}
			fmt.Fprintln(out, renderAborted())
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// printLogs prints entries and reports whether the entry of job was among
// them
func printLogs(out io.Writer, entries []standalone.LogEntry, job uuid.UUID) (standalone.LogEntry, bool) {
	var (
		found standalone.LogEntry
		done  bool
	)
	for _, e := range entries {
		fmt.Fprintln(out, renderEntry(e))
		if e.JobID == job {
			found, done = e, true
		}
	}
	return found, done
}
