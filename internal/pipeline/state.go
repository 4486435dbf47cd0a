package pipeline

import (
	"errors"
	"log/slog"
	"sync"
)

// State is a step of one file's pipeline.
type State string

const (
	// StatePending is the state before any byte has been received.
	StatePending State = "PENDING"
	// StateReceiving indicates bytes are arriving from the upload.
	StateReceiving State = "RECEIVING"
	// StateConverting indicates bytes are streaming through the converter.
	StateConverting State = "CONVERTING"
	// StatePassThrough indicates bytes are streaming to the sink unmodified.
	StatePassThrough State = "PASS_THROUGH"
	// StateDelivering indicates the sink's completion is being awaited.
	StateDelivering State = "DELIVERING"
	// StateSucceeded indicates the primary path delivered the file.
	StateSucceeded State = "SUCCEEDED"
	// StateBackupSubstituted indicates the backup copy was delivered instead.
	StateBackupSubstituted State = "BACKUP_SUBSTITUTED"
	// StateFailed indicates no usable output was produced.
	StateFailed State = "FAILED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed. Stages
// overlap while bytes stream, so a state records the furthest stage reached.
var validTransitions = map[State][]State{
	StatePending:           {StateReceiving, StateFailed},
	StateReceiving:         {StateConverting, StatePassThrough},
	StateConverting:        {StateDelivering},
	StatePassThrough:       {StateDelivering},
	StateDelivering:        {StateSucceeded, StateBackupSubstituted, StateFailed},
	StateSucceeded:         {},
	StateBackupSubstituted: {},
	StateFailed:            {},
}

// canTransition checks if a transition from one state to another is valid.
func canTransition(from, to State) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true for the three outcome states.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateBackupSubstituted || s == StateFailed
}

// tracker holds the state of one file.
type tracker struct {
	mu     sync.Mutex
	state  State
	logger *slog.Logger
}

func newTracker(logger *slog.Logger) *tracker {
	return &tracker{state: StatePending, logger: logger}
}

// to moves to state s, returning ErrInvalidTransition if not allowed.
func (t *tracker) to(s State) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !canTransition(t.state, s) {
		return ErrInvalidTransition
	}
	t.logger.Debug("pipeline state",
		slog.String("from", string(t.state)),
		slog.String("to", string(s)),
	)
	t.state = s
	return nil
}

// get returns the current state.
func (t *tracker) get() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}
