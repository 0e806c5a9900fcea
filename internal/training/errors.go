package training

import (
	"errors"
	"fmt"
)

// ErrJobNotFound is returned when a job id is unknown to the registry.
var ErrJobNotFound = errors.New("training job not found")

// ErrJobTerminal is returned when an operation targets a job that has
// already reached a final state.
var ErrJobTerminal = errors.New("training job is in a terminal state")

func illegalTransition(from, to State) error {
	return fmt.Errorf("illegal state transition %s -> %s", from, to)
}

// ValidationError reports an unusable job configuration. It maps to a
// client error, never a retry.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ResourceExhaustedError reports that a required compute resource could
// not be obtained in time.
type ResourceExhaustedError struct {
	Resource string
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("resource exhausted: %s", e.Resource)
}

// AlignmentFailureError reports that phoneme alignment produced no usable
// labels, including after the basic fallback.
type AlignmentFailureError struct {
	Mode  AlignmentMode
	Cause error
}

func (e *AlignmentFailureError) Error() string {
	return fmt.Sprintf("alignment failed (%s): %v", e.Mode, e.Cause)
}

func (e *AlignmentFailureError) Unwrap() error {
	return e.Cause
}

// InternalError wraps unexpected failures from subprocesses or the
// filesystem that are not the caller's fault.
type InternalError struct {
	Op    string
	Cause error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *InternalError) Unwrap() error {
	return e.Cause
}
