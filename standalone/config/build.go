package config

import (
	"fmt"
	"log/slog"

	"millstep/core"
	"millstep/host/gpio"
	"millstep/host/mcu"
	"millstep/host/serial"
	"millstep/standalone/machine"
	"millstep/standalone/stepgen"
)

// Build constructs the machine backend the configuration selects
func Build(cfg *MachineConfig, logger *slog.Logger) (machine.Machine, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case BackendSimulated:
		return machine.NewSimulated(cfg.DefaultFeedRate, cfg.RapidMoveFeedRate), nil
	case BackendStepper:
		return buildStepper(cfg, logger)
	case BackendSerial:
		return buildSerial(cfg, logger)
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

func buildStepper(cfg *MachineConfig, logger *slog.Logger) (machine.Machine, error) {
	clock := core.NewSystemClock(cfg.NegligibleWait)
	opts := []machine.StepperOption{machine.WithLogger(logger)}

	var motors [3]core.MotorDriver
	switch cfg.GPIO.Driver {
	case GPIODummy:
		for i := range motors {
			motors[i] = core.DummyMotorDriver{}
		}
	case GPIOSysfs:
		drv := gpio.NewSysfs(cfg.GPIO.SysfsRoot)
		for i, axis := range cfg.Axes.All() {
			m, err := core.NewPinMotorDriver(drv, core.GPIOPin(axis.StepPin), core.GPIOPin(axis.DirPin), axis.InvertDir)
			if err != nil {
				drv.Close()
				return nil, fmt.Errorf("axis %c: %w", "XYZ"[i], err)
			}
			motors[i] = m
		}
		opts = append(opts, machine.WithCloser(drv))
	}

	var axes [3]*stepgen.Axis
	for i, axis := range cfg.Axes.All() {
		a, err := stepgen.NewAxis(string("XYZ"[i]), stepgen.AxisConfig{
			Backlash:           axis.Backlash,
			MMPerRevolution:    axis.MMPerRevolution,
			StepsPerRevolution: axis.StepsPerRevolution,
			StepTime:           axis.StepTime,
		}, motors[i], clock)
		if err != nil {
			return nil, err
		}
		axes[i] = a
	}

	return machine.NewStepperMotorControl(axes[0], axes[1], axes[2], clock, machine.StepperConfig{
		DefaultFeedRate:   cfg.DefaultFeedRate,
		RapidMoveFeedRate: cfg.RapidMoveFeedRate,
		MaxPulseWidth:     cfg.MaxPulseWidth,
	}, opts...)
}

func buildSerial(cfg *MachineConfig, logger *slog.Logger) (machine.Machine, error) {
	port, err := serial.Open(serial.Config{
		Device:      cfg.Serial.Device,
		Baud:        cfg.Serial.Baud,
		ReadTimeout: cfg.Serial.ReadTimeout,
	})
	if err != nil {
		return nil, err
	}

	var mc mcu.Config
	for i, axis := range cfg.Axes.All() {
		mc.StepsPerMM[i] = axis.StepsPerMM()
		mc.Invert[i] = axis.InvertDir
	}
	mc.DefaultFeedRate = cfg.DefaultFeedRate
	mc.RapidMoveFeedRate = cfg.RapidMoveFeedRate
	mc.PingInterval = cfg.Serial.PingInterval

	m, err := mcu.NewRemoteMachine(port, mc, mcu.WithLogger(logger.With("device", cfg.Serial.Device)))
	if err != nil {
		port.Close()
		return nil, err
	}
	return m, nil
}
