//go:build rp2040

package main

import (
	"context"
	"io"

	"millstep/core"
	"millstep/standalone/device"
	"millstep/standalone/stepgen"
)

// runController answers a host speaking the remote machine protocol
func runController(ctx context.Context, mode ModeConfig, motors [stepgen.NumAxes]core.MotorDriver, clock core.Clock, port io.ReadWriter) error {
	ctrl, err := device.NewController(motors, clock, device.WithMaxPulseWidth(mode.MaxPulseWidth))
	if err != nil {
		return err
	}
	return ctrl.Serve(ctx, port)
}
