package gcode

import (
	"context"
	"fmt"
	"strings"

	"millstep/standalone/machine"
)

// Mode is the distance mode of axis words
type Mode int

const (
	Absolute Mode = iota
	Incremental
)

// Plane is the plane arcs are drawn in
type Plane int

const (
	PlaneXY Plane = iota
	PlaneZX
	PlaneYZ
)

// State is the interpreter's modal state and tracked tool position.
// The position follows the moves the interpreter issued, which is not
// necessarily where the hardware ended up.
type State struct {
	Mode     Mode
	Plane    Plane
	FeedRate float64    // mm/min
	Position [3]float64 // X, Y, Z
}

// Interpreter executes G-code against a Machine
type Interpreter struct {
	machine machine.Machine
	parser  *Parser
	state   State
	ended   bool
}

// NewInterpreter creates an interpreter driving m
func NewInterpreter(m machine.Machine) *Interpreter {
	interp := &Interpreter{
		machine: m,
		parser:  NewParser(),
	}
	interp.Reset()
	return interp
}

// Reset restores the power-on state: absolute mode, XY plane, the
// machine's default feed rate and the tool at the origin
func (interp *Interpreter) Reset() {
	interp.state = State{
		Mode:     Absolute,
		Plane:    PlaneXY,
		FeedRate: interp.machine.DefaultFeedRate(),
	}
	interp.ended = false
}

// State returns a copy of the current state
func (interp *Interpreter) State() State {
	return interp.state
}

// Run executes a G-code program. Commands run in line order and the
// machine is flushed after each one. The first failure stops the program;
// moves issued before it are not undone.
func (interp *Interpreter) Run(ctx context.Context, text string) error {
	for i, line := range strings.Split(text, "\n") {
		if err := ctx.Err(); err != nil {
			return err
		}
		cmds, err := interp.parser.ParseLine(line)
		if err != nil {
			return atLine(err, i+1)
		}
		for _, cmd := range cmds {
			if err := interp.Execute(ctx, cmd); err != nil {
				return atLine(err, i+1)
			}
			if cmd.Kind == KindComment {
				continue
			}
			if err := interp.machine.Flush(ctx); err != nil {
				return atLine(err, i+1)
			}
			if interp.ended {
				return nil
			}
		}
	}
	return nil
}

// Execute executes a single parsed command
func (interp *Interpreter) Execute(ctx context.Context, cmd Command) error {
	switch cmd.Kind {
	case KindComment, KindLineNumber, KindUseMillimeters:
		return nil
	case KindFeedRate:
		if cmd.Value <= 0 {
			return &InterpretationError{Command: cmd.String(), Reason: "feed rate must be positive"}
		}
		interp.state.FeedRate = cmd.Value
	case KindSelectPlaneXY:
		interp.state.Plane = PlaneXY
	case KindSelectPlaneZX:
		interp.state.Plane = PlaneZX
	case KindSelectPlaneYZ:
		interp.state.Plane = PlaneYZ
	case KindAbsoluteMode:
		interp.state.Mode = Absolute
	case KindIncrementalMode:
		interp.state.Mode = Incremental
	case KindRapidMove:
		return interp.linearMove(ctx, cmd, interp.machine.RapidMoveFeedRate())
	case KindLinearMove:
		return interp.linearMove(ctx, cmd, interp.state.FeedRate)
	case KindArcMove:
		return interp.arc(ctx, cmd)
	case KindEndProgram:
		interp.ended = true
	default:
		return &InterpretationError{Command: cmd.String(), Reason: "unknown gcode"}
	}
	return nil
}

var axisLetters = [3]byte{'X', 'Y', 'Z'}

func (interp *Interpreter) linearMove(ctx context.Context, cmd Command, feedRate float64) error {
	if unknown := unknownParameters(cmd, "XYZ"); unknown != "" {
		return &InterpretationError{Command: cmd.String(), Reason: "unknown axes " + unknown}
	}

	var delta [3]float64
	for i, letter := range axisLetters {
		if v, ok := cmd.Parameters[letter]; ok {
			delta[i] = interp.toIncremental(i, v)
		}
	}
	return interp.moveBy(ctx, delta, feedRate)
}

// toIncremental converts an axis word to a delta from the tracked position
func (interp *Interpreter) toIncremental(axis int, value float64) float64 {
	if interp.state.Mode == Absolute {
		return value - interp.state.Position[axis]
	}
	return value
}

func (interp *Interpreter) moveTo(ctx context.Context, target [3]float64) error {
	var delta [3]float64
	for i := range delta {
		delta[i] = target[i] - interp.state.Position[i]
	}
	return interp.moveBy(ctx, delta, interp.state.FeedRate)
}

// moveBy issues a move and tracks the position only once it went through
func (interp *Interpreter) moveBy(ctx context.Context, delta [3]float64, feedRate float64) error {
	if err := interp.machine.MoveBy(ctx, delta[0], delta[1], delta[2], feedRate); err != nil {
		return err
	}
	for i := range delta {
		interp.state.Position[i] += delta[i]
	}
	return nil
}

// unknownParameters returns the parameter letters of cmd not in allowed
func unknownParameters(cmd Command, allowed string) string {
	var unknown []string
	for _, l := range cmd.ParameterLetters() {
		if !strings.ContainsRune(allowed, rune(l)) {
			unknown = append(unknown, fmt.Sprintf("%c", l))
		}
	}
	return strings.Join(unknown, ",")
}
