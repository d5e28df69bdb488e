package gcode

import (
	"sort"
	"strconv"
	"strings"
)

// Kind identifies what a parsed command does
type Kind int

const (
	KindUnsupported Kind = iota
	KindComment
	KindLineNumber
	KindFeedRate
	KindSelectPlaneXY
	KindSelectPlaneZX
	KindSelectPlaneYZ
	KindUseMillimeters
	KindAbsoluteMode
	KindIncrementalMode
	KindRapidMove
	KindLinearMove
	KindArcMove
	KindEndProgram
)

var kindNames = map[Kind]string{
	KindUnsupported:     "unsupported",
	KindComment:         "comment",
	KindLineNumber:      "line number",
	KindFeedRate:        "feed rate",
	KindSelectPlaneXY:   "select XY plane",
	KindSelectPlaneZX:   "select ZX plane",
	KindSelectPlaneYZ:   "select YZ plane",
	KindUseMillimeters:  "use millimeters",
	KindAbsoluteMode:    "absolute mode",
	KindIncrementalMode: "incremental mode",
	KindRapidMove:       "rapid move",
	KindLinearMove:      "linear move",
	KindArcMove:         "arc move",
	KindEndProgram:      "end program",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// IsMotion reports whether the command moves the tool
func (k Kind) IsMotion() bool {
	return k == KindRapidMove || k == KindLinearMove || k == KindArcMove
}

// ArcDirection is the angular direction of an arc: clockwise is negative
type ArcDirection int

const (
	Clockwise        ArcDirection = -1
	CounterClockwise ArcDirection = 1
)

// Command is one typed command of a G-code line
type Command struct {
	Kind       Kind
	Word       string           // Source word, e.g. "G2" or "F300"
	Value      float64          // Value of F and N words
	Direction  ArcDirection     // Set for KindArcMove
	Parameters map[byte]float64 // Axis and arc parameters by letter
	Text       string           // Comment text
}

// HasParameter checks if a parameter exists in the command
func (cmd Command) HasParameter(param byte) bool {
	_, ok := cmd.Parameters[param]
	return ok
}

// GetParameter gets a parameter value, or returns the default if not present
func (cmd Command) GetParameter(param byte, defaultValue float64) float64 {
	if val, ok := cmd.Parameters[param]; ok {
		return val
	}
	return defaultValue
}

// ParameterLetters returns the parameter letters in alphabetical order
func (cmd Command) ParameterLetters() []byte {
	letters := make([]byte, 0, len(cmd.Parameters))
	for l := range cmd.Parameters {
		letters = append(letters, l)
	}
	sort.Slice(letters, func(i, j int) bool { return letters[i] < letters[j] })
	return letters
}

// String renders the command back as G-code
func (cmd Command) String() string {
	if cmd.Kind == KindComment {
		return "(" + cmd.Text + ")"
	}
	var b strings.Builder
	b.WriteString(cmd.Word)
	for _, l := range cmd.ParameterLetters() {
		b.WriteByte(' ')
		b.WriteByte(l)
		b.WriteString(strconv.FormatFloat(cmd.Parameters[l], 'f', -1, 64))
	}
	return b.String()
}

// executionOrder ranks commands of one line in the order they take effect:
// bookkeeping first, then feed and modal state, then motion, then stops.
func executionOrder(k Kind) int {
	switch k {
	case KindLineNumber, KindComment:
		return 0
	case KindFeedRate:
		return 1
	case KindSelectPlaneXY, KindSelectPlaneZX, KindSelectPlaneYZ:
		return 2
	case KindUseMillimeters:
		return 3
	case KindAbsoluteMode, KindIncrementalMode:
		return 4
	case KindEndProgram:
		return 6
	default:
		return 5
	}
}
