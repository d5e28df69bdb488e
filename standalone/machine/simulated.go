package machine

import (
	"context"
	"encoding/json"
	"sync"
)

// Feed rates of a simulated machine when none are configured
const (
	SimulatedDefaultFeedRate   = 1.0
	SimulatedRapidMoveFeedRate = 10.0
)

// SimulatedMove is one absolute tool position reached by a simulated machine
type SimulatedMove struct {
	X, Y, Z float64
	Rapid   bool
}

// MarshalJSON encodes the move as a compact [x, y, z, rapid] tuple
func (m SimulatedMove) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{m.X, m.Y, m.Z, m.Rapid})
}

// Simulated records the tool path instead of moving anything. A move
// counts as rapid when it was issued at the rapid feed rate.
type Simulated struct {
	mu          sync.Mutex
	defaultFeed float64
	rapidFeed   float64
	initialized bool
	position    [3]float64
	moves       []SimulatedMove
}

// NewSimulated creates a simulated machine. Non-positive feed rates fall
// back to SimulatedDefaultFeedRate and SimulatedRapidMoveFeedRate.
func NewSimulated(defaultFeed, rapidFeed float64) *Simulated {
	if defaultFeed <= 0 {
		defaultFeed = SimulatedDefaultFeedRate
	}
	if rapidFeed <= 0 {
		rapidFeed = SimulatedRapidMoveFeedRate
	}
	return &Simulated{
		defaultFeed: defaultFeed,
		rapidFeed:   rapidFeed,
		moves:       []SimulatedMove{{}},
	}
}

func (s *Simulated) DefaultFeedRate() float64   { return s.defaultFeed }
func (s *Simulated) RapidMoveFeedRate() float64 { return s.rapidFeed }

func (s *Simulated) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true
	return ctx.Err()
}

func (s *Simulated) Flush(ctx context.Context) error {
	return ctx.Err()
}

func (s *Simulated) MoveBy(ctx context.Context, x, y, z, feedRate float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return &StateError{Op: "move_by", Err: ErrUninitialized}
	}
	s.position[0] += x
	s.position[1] += y
	s.position[2] += z
	s.moves = append(s.moves, SimulatedMove{
		X:     s.position[0],
		Y:     s.position[1],
		Z:     s.position[2],
		Rapid: feedRate == s.rapidFeed,
	})
	return nil
}

// Moves returns the recorded path, starting at the origin
func (s *Simulated) Moves() []SimulatedMove {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SimulatedMove, len(s.moves))
	copy(out, s.moves)
	return out
}
