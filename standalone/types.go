package standalone

import (
	"errors"

	"github.com/google/uuid"
)

// JobKind is the kind of request sent to a worker
type JobKind string

const (
	JobInitialize JobKind = "INITIALIZE"
	JobGCode      JobKind = "GCODE"
)

// Job is one request queued on a worker's command channel
type Job struct {
	ID    uuid.UUID
	Kind  JobKind
	GCode string
}

// Level is the severity of a log entry
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

// LogEntry reports the outcome of one job
type LogEntry struct {
	JobID   uuid.UUID `json:"job_id"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
}

// State is the lifecycle state of a worker
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateKilled
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not started"
	case StateRunning:
		return "running"
	case StateKilled:
		return "killed"
	default:
		return "unknown"
	}
}

// Lifecycle errors. A worker that returned one of them cannot be reused.
var (
	ErrAlreadyStarted = errors.New("worker process has already been started")
	ErrNotStarted     = errors.New("worker process has not been started")
	ErrWorkerKilled   = errors.New("worker process has been killed")
)
