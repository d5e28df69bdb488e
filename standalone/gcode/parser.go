package gcode

import (
	"fmt"
	"slices"
	"strconv"
)

// Parser splits G-code lines into typed commands
type Parser struct{}

// NewParser creates a new G-code parser
func NewParser() *Parser {
	return &Parser{}
}

type word struct {
	letter byte
	raw    string
	value  float64
}

// ParseLine parses a single line of G-code into commands, sorted into
// execution order. Axis and arc parameters are attached to the motion
// command of the line. An empty line yields no commands.
func (p *Parser) ParseLine(line string) ([]Command, error) {
	words, comments, err := scanWords(line)
	if err != nil {
		return nil, err
	}

	cmds := make([]Command, 0, len(words)+len(comments))
	for _, text := range comments {
		cmds = append(cmds, Command{Kind: KindComment, Text: text})
	}

	params := make(map[byte]float64)
	for _, w := range words {
		switch w.letter {
		case 'G':
			cmds = append(cmds, gWord(w))
		case 'M':
			cmds = append(cmds, mWord(w))
		case 'N':
			cmds = append(cmds, Command{Kind: KindLineNumber, Word: "N" + w.raw, Value: w.value})
		case 'F':
			cmds = append(cmds, Command{Kind: KindFeedRate, Word: "F" + w.raw, Value: w.value})
		case 'S', 'T':
			cmds = append(cmds, Command{Kind: KindUnsupported, Word: string(w.letter) + w.raw, Value: w.value})
		default:
			if _, dup := params[w.letter]; dup {
				return nil, &InterpretationError{Reason: fmt.Sprintf("word '%c' repeated", w.letter)}
			}
			params[w.letter] = w.value
		}
	}

	if err := attachParameters(cmds, params); err != nil {
		return nil, err
	}

	slices.SortStableFunc(cmds, func(a, b Command) int {
		return executionOrder(a.Kind) - executionOrder(b.Kind)
	})
	return cmds, nil
}

// attachParameters hands the line's parameters to its motion command, or
// to its first unsupported G word when there is no motion
func attachParameters(cmds []Command, params map[byte]float64) error {
	owner := -1
	for i, cmd := range cmds {
		if !cmd.Kind.IsMotion() {
			continue
		}
		if owner >= 0 {
			return &InterpretationError{Reason: fmt.Sprintf("motion words %s and %s on one line", cmds[owner].Word, cmd.Word)}
		}
		owner = i
	}
	if owner < 0 {
		for i, cmd := range cmds {
			if cmd.Kind == KindUnsupported && len(cmd.Word) > 0 && cmd.Word[0] == 'G' {
				owner = i
				break
			}
		}
	}

	if owner < 0 {
		if len(params) > 0 {
			return &InterpretationError{Reason: "parameters without a motion command"}
		}
		return nil
	}
	cmds[owner].Parameters = params
	return nil
}

func gWord(w word) Command {
	cmd := Command{Kind: KindUnsupported, Word: "G" + w.raw, Value: w.value}
	if w.value != float64(int(w.value)) {
		return cmd
	}
	switch int(w.value) {
	case 0:
		cmd.Kind = KindRapidMove
	case 1:
		cmd.Kind = KindLinearMove
	case 2:
		cmd.Kind = KindArcMove
		cmd.Direction = Clockwise
	case 3:
		cmd.Kind = KindArcMove
		cmd.Direction = CounterClockwise
	case 17:
		cmd.Kind = KindSelectPlaneXY
	case 18:
		cmd.Kind = KindSelectPlaneZX
	case 19:
		cmd.Kind = KindSelectPlaneYZ
	case 21:
		cmd.Kind = KindUseMillimeters
	case 90:
		cmd.Kind = KindAbsoluteMode
	case 91:
		cmd.Kind = KindIncrementalMode
	}
	return cmd
}

func mWord(w word) Command {
	cmd := Command{Kind: KindUnsupported, Word: "M" + w.raw, Value: w.value}
	if w.value == 2 || w.value == 30 {
		cmd.Kind = KindEndProgram
	}
	return cmd
}

// scanWords splits a line into letter/number words and comments
func scanWords(line string) ([]word, []string, error) {
	var words []word
	var comments []string

	i := 0
	for i < len(line) {
		c := line[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case c == '%':
			// Program delimiter
			i++
		case c == ';':
			comments = append(comments, line[i+1:])
			i = len(line)
		case c == '(':
			end := i + 1
			for end < len(line) && line[end] != ')' {
				end++
			}
			if end >= len(line) {
				return nil, nil, &InterpretationError{Reason: "unterminated comment"}
			}
			comments = append(comments, line[i+1:end])
			i = end + 1
		case isLetter(c):
			letter := toUpper(c)
			raw, next := scanNumber(line, i+1)
			value, err := strconv.ParseFloat(raw, 64)
			if raw == "" || err != nil {
				return nil, nil, &InterpretationError{Reason: fmt.Sprintf("word '%c' value invalid", letter)}
			}
			words = append(words, word{letter: letter, raw: raw, value: value})
			i = next
		default:
			return nil, nil, &InterpretationError{Reason: fmt.Sprintf("unexpected character %q", c)}
		}
	}
	return words, comments, nil
}

// scanNumber returns the numeric text starting at pos. Whitespace between
// a letter and its number is accepted ("X 10").
func scanNumber(s string, pos int) (string, int) {
	for pos < len(s) && (s[pos] == ' ' || s[pos] == '\t') {
		pos++
	}
	start := pos
	if pos < len(s) && (s[pos] == '-' || s[pos] == '+') {
		pos++
	}
	digits := 0
	for pos < len(s) && s[pos] >= '0' && s[pos] <= '9' {
		pos++
		digits++
	}
	if pos < len(s) && s[pos] == '.' {
		pos++
		for pos < len(s) && s[pos] >= '0' && s[pos] <= '9' {
			pos++
			digits++
		}
	}
	if digits == 0 {
		return "", pos
	}
	return s[start:pos], pos
}

// isLetter checks if a byte is a letter
func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// toUpper converts a byte to uppercase
func toUpper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}
