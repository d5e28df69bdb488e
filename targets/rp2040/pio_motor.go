//go:build rp2040

package main

import (
	"errors"
	"machine"
	"time"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"

	"millstep/core"
)

// The pulse program takes one word per step: the number of extra cycles
// the step line stays high. Pulse timing is then independent of the CPU.
func buildPulseProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		// .wrap_target
		asm.Pull(false, true).Encode(),            // 0: pull block
		asm.Out(rp2pio.OutDestX, 32).Encode(),     // 1: out x, 32 (high cycles)
		asm.Set(rp2pio.SetDestPins, 1).Encode(),   // 2: set pins, 1
		asm.Jmp(3, rp2pio.JmpXNZeroDec).Encode(), // 3: jmp x--, 3
		asm.Set(rp2pio.SetDestPins, 0).Encode(),   // 4: set pins, 0
		// .wrap
	}
}

// pulseProgramCycles is the fixed cost of one pulse besides the hold loop
const pulseProgramCycles = 3

// PIOMotorDriver is a step/dir driver whose step pulses come from a PIO
// state machine. The direction line is a plain output.
type PIOMotorDriver struct {
	pio       *rp2pio.PIO
	sm        rp2pio.StateMachine
	stepPin   machine.Pin
	dirPin    machine.Pin
	invertDir bool
}

// NewPIOMotorDriver claims state machine smNum of PIO pioNum and loads
// the pulse program into it if it is not loaded yet
func NewPIOMotorDriver(pioNum, smNum uint8, stepPin, dirPin machine.Pin, invertDir bool) (*PIOMotorDriver, error) {
	hw := rp2pio.PIO0
	if pioNum == 1 {
		hw = rp2pio.PIO1
	}
	d := &PIOMotorDriver{
		pio:       hw,
		sm:        hw.StateMachine(smNum),
		stepPin:   stepPin,
		dirPin:    dirPin,
		invertDir: invertDir,
	}
	if !d.sm.TryClaim() {
		return nil, errors.New("pio state machine already in use")
	}

	program := buildPulseProgram()
	offset, err := pulseProgramOffset(hw, program)
	if err != nil {
		return nil, err
	}

	d.dirPin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	d.stepPin.Configure(machine.PinConfig{Mode: hw.PinMode()})

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetSetPins(d.stepPin, 1)
	cfg.SetOutShift(true, false, 32)
	cfg.SetWrap(offset+uint8(len(program))-1, offset)
	cfg.SetClkDivIntFrac(1, 0)

	// Pin directions only stick after Init
	d.sm.Init(offset, cfg)
	d.sm.SetPindirsConsecutive(d.stepPin, 1, true)
	d.sm.SetPinsConsecutive(d.stepPin, 1, false)
	d.sm.SetEnabled(true)
	return d, nil
}

// programs loaded per PIO block; the three axes share one copy
var pulseProgramOffsets = map[*rp2pio.PIO]uint8{}

func pulseProgramOffset(hw *rp2pio.PIO, program []uint16) (uint8, error) {
	if offset, ok := pulseProgramOffsets[hw]; ok {
		return offset, nil
	}
	offset, err := hw.AddProgram(program, -1)
	if err != nil {
		return 0, err
	}
	pulseProgramOffsets[hw] = offset
	return offset, nil
}

func (d *PIOMotorDriver) SignalGoLeft() error {
	d.dirPin.Set(!d.invertDir)
	return nil
}

func (d *PIOMotorDriver) SignalGoRight() error {
	d.dirPin.Set(d.invertDir)
	return nil
}

// SignalPulseHigh and SignalPulseLow drive the step line from the CPU
// for callers that time pulses themselves
func (d *PIOMotorDriver) SignalPulseHigh() error {
	d.sm.SetPinsConsecutive(d.stepPin, 1, true)
	return nil
}

func (d *PIOMotorDriver) SignalPulseLow() error {
	d.sm.SetPinsConsecutive(d.stepPin, 1, false)
	return nil
}

// GeneratePulse queues one step pulse of the given high time
func (d *PIOMotorDriver) GeneratePulse(width time.Duration) error {
	cycles := uint64(width.Nanoseconds()) * uint64(machine.CPUFrequency()) / uint64(time.Second)
	if cycles > pulseProgramCycles {
		cycles -= pulseProgramCycles
	} else {
		cycles = 0
	}
	for d.sm.IsTxFIFOFull() {
	}
	d.sm.TxPut(uint32(min(cycles, 1<<32-1)))
	return nil
}

var _ core.PulseGenerator = (*PIOMotorDriver)(nil)
