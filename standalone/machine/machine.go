// Package machine defines the milling machine capability the G-code
// interpreter drives, along with the local stepper and simulated backends.
package machine

import (
	"context"
	"errors"
)

// Machine is a three-axis milling machine that accepts relative moves
type Machine interface {
	// Initialize brings the machine into a known state. It must succeed
	// before MoveBy is accepted.
	Initialize(ctx context.Context) error

	// Flush blocks until all previously issued moves have completed
	Flush(ctx context.Context) error

	// MoveBy moves the tool by the given deltas (mm) at feedRate (mm/min)
	MoveBy(ctx context.Context, x, y, z, feedRate float64) error

	// DefaultFeedRate is the feed used before any F word is seen
	DefaultFeedRate() float64

	// RapidMoveFeedRate is the feed used for G0 moves
	RapidMoveFeedRate() float64
}

// ErrUninitialized is returned when a move reaches a machine before
// Initialize succeeded
var ErrUninitialized = errors.New("uninitialized machine")

// StateError reports an operation attempted in the wrong machine state
type StateError struct {
	Op  string
	Err error
}

func (e *StateError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StateError) Unwrap() error {
	return e.Err
}

func validateFeedRates(defaultFeed, rapidFeed float64) error {
	if defaultFeed <= 0 {
		return errors.New("default feed rate must be positive")
	}
	if rapidFeed <= 0 {
		return errors.New("rapid move feed rate must be positive")
	}
	return nil
}
