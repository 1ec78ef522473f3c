package executor

import (
	"sync/atomic"
)

// ExecutorState represents the run state of an Executor (§8, §9).
//
// State Machine:
//
//	StateAwake (0) → StateRunning (3)      [Run()]
//	StateRunning (3) → StateSleeping (2)   [reactor parks on the ring]
//	StateRunning (3) → StateTerminating (4) [Shutdown()]
//	StateSleeping (2) → StateRunning (3)   [reactor wakes]
//	StateSleeping (2) → StateTerminating (4) [Shutdown()]
//	StateTerminating (4) → StateTerminated (1) [shutdown complete]
//	StateTerminated (1) → (terminal)
//
// State Transition Rules:
//   - Use TryTransition() (CAS) for temporary states (Running, Sleeping)
//   - Use Store() for irreversible states (Terminated)
//   - Using Store(Running) or Store(Sleeping) is a BUG (breaks CAS logic)
type ExecutorState uint64

const (
	// StateAwake indicates the executor has been created but not started.
	StateAwake ExecutorState = 0
	// StateTerminated indicates the executor has fully shut down.
	StateTerminated ExecutorState = 1
	// StateSleeping indicates the reactor is parked in the ring, waiting
	// for a completion, timer, or foreign wake.
	StateSleeping ExecutorState = 2
	// StateRunning indicates the executor is actively draining a
	// run-queue.
	StateRunning ExecutorState = 3
	// StateTerminating indicates shutdown has been requested but not
	// completed.
	StateTerminating ExecutorState = 4
)

// String returns a human-readable representation of the state.
func (s ExecutorState) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// FastState is a lock-free state machine with cache-line padding,
// backing Executor.state.
//
// PERFORMANCE: Uses pure atomic CAS operations with no mutex.
// Cache-line padding prevents false sharing between cores.
type FastState struct { // betteralign:ignore
	_ [64]byte      // Cache line padding (before value) //nolint:unused
	v atomic.Uint64 // State value
	_ [56]byte      // Pad to complete cache line (64 - 8 = 56) //nolint:unused
}

// NewFastState creates a new state machine in the Awake state.
func NewFastState() *FastState {
	s := &FastState{}
	s.v.Store(uint64(StateAwake))
	return s
}

// Load returns the current state atomically.
// PERFORMANCE: No validation, trusts the stored value.
func (s *FastState) Load() ExecutorState {
	return ExecutorState(s.v.Load())
}

// Store atomically stores a new state.
// PERFORMANCE: No transition validation.
func (s *FastState) Store(state ExecutorState) {
	s.v.Store(uint64(state))
}

// TryTransition attempts to atomically transition from one state to another.
// Returns true if the transition was successful.
// PERFORMANCE: Pure CAS, no validation of transition validity.
func (s *FastState) TryTransition(from, to ExecutorState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

// TransitionAny attempts to transition from any valid source state to the target.
// Returns true if the transition was successful.
// PERFORMANCE: Uses CAS loop for any-to-target transitions.
func (s *FastState) TransitionAny(validFrom []ExecutorState, to ExecutorState) bool {
	for _, from := range validFrom {
		if s.v.CompareAndSwap(uint64(from), uint64(to)) {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the current state is terminal (Terminated).
func (s *FastState) IsTerminal() bool {
	return s.Load() == StateTerminated
}

// IsRunning returns true if the executor is currently running or sleeping.
func (s *FastState) IsRunning() bool {
	state := s.Load()
	return state == StateRunning || state == StateSleeping
}

// CanAcceptWork returns true if the executor can accept new work.
func (s *FastState) CanAcceptWork() bool {
	state := s.Load()
	return state == StateAwake || state == StateRunning || state == StateSleeping
}
