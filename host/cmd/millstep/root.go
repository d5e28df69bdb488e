package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"millstep/logging"
	"millstep/standalone/config"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "millstep",
		Short: "Drive a three-axis stepper mill from G-code",
		Long: `millstep interprets G-code programs and drives a three-axis mill.

The machine is described by a configuration file (JSON, YAML or TOML) whose
backend selects a simulated machine, stepper motors on local GPIO pins, or a
microcontroller reached over a serial port. Every key can be overridden with
a MILLSTEP_ environment variable, for example MILLSTEP_SERIAL_DEVICE.

Quick Start:
  1. Preview a program:   millstep simulate part.nc
  2. Cut it:              millstep run --config mill.yaml part.nc
  3. Serve the HTTP API:  millstep serve --config mill.yaml --addr :8080`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "machine configuration file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "operator log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", logging.FormatText, "operator log format (text, json)")

	rootCmd.AddCommand(newRunCmd(opts), newSimulateCmd(opts), newServeCmd(opts))
	return rootCmd
}

func (o *rootOptions) logger() *slog.Logger {
	return logging.New(os.Stderr, o.logLevel, o.logFormat)
}

func (o *rootOptions) loadConfig() (*config.MachineConfig, error) {
	if o.configPath == "" {
		return config.Default()
	}
	return config.Load(o.configPath)
}
