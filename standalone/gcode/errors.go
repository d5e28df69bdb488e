package gcode

import (
	"errors"
	"fmt"
	"strings"
)

// InterpretationError reports G-code that is malformed or that this
// interpreter does not support
type InterpretationError struct {
	Line    int    // 1-based source line, 0 when unknown
	Command string // Offending command, if any
	Reason  string
}

func (e *InterpretationError) Error() string {
	var parts []string
	if e.Line > 0 {
		parts = append(parts, fmt.Sprintf("line %d", e.Line))
	}
	if e.Command != "" {
		parts = append(parts, e.Command)
	}
	parts = append(parts, e.Reason)
	return strings.Join(parts, ": ")
}

// atLine attaches a source line to err
func atLine(err error, line int) error {
	var ie *InterpretationError
	if errors.As(err, &ie) {
		if ie.Line == 0 {
			ie.Line = line
		}
		return err
	}
	return fmt.Errorf("line %d: %w", line, err)
}
