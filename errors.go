// Package executor implements a thread-per-core, cooperative, single-
// threaded async runtime core.
package executor

import (
	"errors"
	"fmt"
)

// Sentinel errors returned directly (without extra fields) by executor
// operations, following the teacher's package-level var convention so
// callers can compare with errors.Is.
var (
	// ErrExecutorAlreadyRunning is returned by Run when the executor is
	// already running on another goroutine. A reentrant call from Run's
	// own goroutine gets an *InvalidArgumentError instead.
	ErrExecutorAlreadyRunning = errors.New("executor: already running")

	// ErrExecutorShutdown is returned by Spawn, Run and Shutdown once the
	// executor has begun, or completed, shutdown.
	ErrExecutorShutdown = errors.New("executor: shut down")

	// ErrInvalidQueue is returned when a QueueID does not name a queue
	// registered with this executor.
	ErrInvalidQueue = errors.New("executor: invalid run-queue")
)

// CapacityExceededError reports that a fixed-capacity resource (the task
// arena, §4.1; a shared channel endpoint, §4.6) is full and the
// operation could not be admitted.
//
// This executor's arena policy has no heap fallback (see DESIGN.md): a
// full arena always surfaces as CapacityExceededError, never a silent
// degrade to heap allocation.
type CapacityExceededError struct {
	// Resource names what was exhausted, e.g. "arena" or "channel ring".
	Resource string
	// Capacity is the fixed capacity of the resource.
	Capacity int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("executor: %s at capacity (%d)", e.Resource, e.Capacity)
}

// PeerDisconnectedError reports that the other end of a shared channel
// endpoint (§4.6) has disconnected, so the operation can never succeed.
type PeerDisconnectedError struct {
	// Endpoint names which side observed the disconnect, "channel sender"
	// or "channel receiver".
	Endpoint string
}

func (e *PeerDisconnectedError) Error() string {
	return fmt.Sprintf("executor: peer disconnected (%s side)", e.Endpoint)
}

// InvalidArgumentError reports a caller-supplied argument that violates
// an operation's preconditions (e.g. a non-positive arena capacity or
// drain budget, a queue count below 1, or Run called reentrantly from
// its own goroutine).
type InvalidArgumentError struct {
	Cause   error
	Message string
}

func (e *InvalidArgumentError) Error() string {
	if e.Message == "" {
		return "executor: invalid argument"
	}
	return e.Message
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *InvalidArgumentError) Unwrap() error {
	return e.Cause
}

// IoFailureError wraps a failed syscall made by the reactor's
// ring/poller (§4.7) or the arena: epoll creation or wait, eventfd
// creation, registering the wake fd, or the arena's mmap/mprotect.
// Errors from reading the wake eventfd are not reported.
type IoFailureError struct {
	Cause error
	Op    string
}

func (e *IoFailureError) Error() string {
	return fmt.Sprintf("executor: io failure during %s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *IoFailureError) Unwrap() error {
	return e.Cause
}

// TimeoutError reports that a staged timer (§4.4) expired before its
// associated operation completed.
type TimeoutError struct {
	Cause   error
	Message string
}

func (e *TimeoutError) Error() string {
	if e.Message == "" {
		return "executor: operation timed out"
	}
	return e.Message
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// TaskPanicError wraps a value recovered from a panicking task poll
// (§7), keeping the task's cause chain intact for errors.Is/errors.As
// when the panic value was itself an error.
type TaskPanicError struct {
	// Value is the raw value passed to panic().
	Value any
}

func (e *TaskPanicError) Error() string {
	return fmt.Sprintf("executor: task panicked: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error
// type, enabling [errors.Is] and [errors.As] through the cause chain.
// If the panic value is not an error (e.g. a string), returns nil.
func (e *TaskPanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// WrapError wraps an error with a message, preserving the cause chain
// for errors.Is.
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}
