// Package step provides the conversation step lifecycle state machine.
package step

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a conversation.
type State int

const (
	// StateAwaitingFirstStep - No step payload received yet.
	StateAwaitingFirstStep State = iota
	// StateStepActive - A question is displayed and an answer may be submitted.
	StateStepActive
	// StateSubmitting - An answer is in flight; further submissions are rejected.
	StateSubmitting
	// StateComplete - The collaborator reported the last step as accepted.
	StateComplete
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateAwaitingFirstStep:
		return "AWAITING_FIRST_STEP"
	case StateStepActive:
		return "STEP_ACTIVE"
	case StateSubmitting:
		return "SUBMITTING"
	case StateComplete:
		return "COMPLETE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// MarshalText renders the state for JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses the form produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for c := StateAwaitingFirstStep; c <= StateComplete; c++ {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// Errors for invalid state transitions.
var (
	ErrSubmissionInFlight = errors.New("submission already in flight")
	ErrNoActiveStep       = errors.New("no active step")
	ErrComplete           = errors.New("conversation is complete")
)

// Lifecycle manages the state machine for one conversation.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	AWAITING_FIRST_STEP ─ Activate() ─→ STEP_ACTIVE ─ BeginSubmit() ─→ SUBMITTING
//	                                        ↑                              │
//	                                        └──── Resolve() / Fail() ──────┘
//	STEP_ACTIVE | SUBMITTING ─ Complete() ─→ COMPLETE
//	any ─ Reset() ─→ AWAITING_FIRST_STEP
//
// Rules:
//   - BeginSubmit is the single mutual-exclusion point: it fails with
//     ErrSubmissionInFlight while SUBMITTING.
//   - Resolve and Fail are no-ops unless SUBMITTING.
type Lifecycle struct {
	mu    sync.RWMutex
	state State
}

// NewLifecycle creates a lifecycle in AWAITING_FIRST_STEP.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateAwaitingFirstStep}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// IsSubmitting returns true while an answer is in flight.
func (l *Lifecycle) IsSubmitting() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateSubmitting
}

// Activate moves a fresh conversation to STEP_ACTIVE.
// Returns true if the state changed.
func (l *Lifecycle) Activate() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateAwaitingFirstStep {
		return false
	}
	l.state = StateStepActive
	return true
}

// BeginSubmit validates and transitions to SUBMITTING.
func (l *Lifecycle) BeginSubmit() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateStepActive:
		l.state = StateSubmitting
		return nil
	case StateSubmitting:
		return ErrSubmissionInFlight
	case StateAwaitingFirstStep:
		return ErrNoActiveStep
	case StateComplete:
		return ErrComplete
	default:
		return fmt.Errorf("unexpected state: %v", l.state)
	}
}

// Resolve ends a successful submission and returns to STEP_ACTIVE.
func (l *Lifecycle) Resolve() bool {
	return l.leaveSubmitting()
}

// Fail ends a rejected submission and returns to STEP_ACTIVE so the
// answer can be retried.
func (l *Lifecycle) Fail() bool {
	return l.leaveSubmitting()
}

func (l *Lifecycle) leaveSubmitting() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateSubmitting {
		return false
	}
	l.state = StateStepActive
	return true
}

// Complete transitions to COMPLETE. Idempotent.
func (l *Lifecycle) Complete() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = StateComplete
}

// Reset returns the lifecycle to AWAITING_FIRST_STEP.
func (l *Lifecycle) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = StateAwaitingFirstStep
}
