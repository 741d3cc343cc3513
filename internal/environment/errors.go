package environment

import (
	"errors"
	"fmt"
)

// CouldNotLoadEnvironmentError reports that a machine could not be brought
// online and connected to an agent.
//
// The error is fatal to one activation attempt. Callers roll back the other
// environments of the same test and record the error in the test report.
type CouldNotLoadEnvironmentError struct {
	// Machine is the id of the machine that failed to load
	Machine string

	// Reason is a short human readable cause
	Reason string

	// Err is the underlying failure, if any
	Err error
}

// Error implements the error interface for CouldNotLoadEnvironmentError.
func (e *CouldNotLoadEnvironmentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("could not load environment %s: %s: %v", e.Machine, e.Reason, e.Err)
	}
	return fmt.Sprintf("could not load environment %s: %s", e.Machine, e.Reason)
}

// Unwrap returns the underlying failure.
func (e *CouldNotLoadEnvironmentError) Unwrap() error { return e.Err }

// IsCouldNotLoadEnvironment checks if an error is or wraps a
// CouldNotLoadEnvironmentError.
//
// Example:
//
//	env, err := activator.Load(ctx, machine, section, onUnload)
//	if environment.IsCouldNotLoadEnvironment(err) {
//	    // roll back the test
//	}
func IsCouldNotLoadEnvironment(err error) bool {
	var target *CouldNotLoadEnvironmentError
	return errors.As(err, &target)
}

// NewCouldNotLoadEnvironmentError creates a CouldNotLoadEnvironmentError.
func NewCouldNotLoadEnvironmentError(machine, reason string, err error) *CouldNotLoadEnvironmentError {
	return &CouldNotLoadEnvironmentError{Machine: machine, Reason: reason, Err: err}
}

// InvalidEnvironmentSpecificationError reports a machine description whose
// kind or settings do not fit the activator it was handed to.
type InvalidEnvironmentSpecificationError struct {
	Machine  string
	Expected string
	Actual   string
}

// Error implements the error interface for InvalidEnvironmentSpecificationError.
func (e *InvalidEnvironmentSpecificationError) Error() string {
	return fmt.Sprintf("invalid environment specification for %s: expected %s, got %s", e.Machine, e.Expected, e.Actual)
}

// IsInvalidEnvironmentSpecification checks if an error is or wraps an
// InvalidEnvironmentSpecificationError.
func IsInvalidEnvironmentSpecification(err error) bool {
	var target *InvalidEnvironmentSpecificationError
	return errors.As(err, &target)
}

// NewInvalidEnvironmentSpecificationError creates an InvalidEnvironmentSpecificationError.
func NewInvalidEnvironmentSpecificationError(machine, expected, actual string) *InvalidEnvironmentSpecificationError {
	return &InvalidEnvironmentSpecificationError{Machine: machine, Expected: expected, Actual: actual}
}

// EnvironmentAlreadyInUseError reports a virtual machine that was found
// running or paused before activation. Its snapshot state is unknown, so it
// is never reused.
type EnvironmentAlreadyInUseError struct {
	Machine string
	State   string
}

// Error implements the error interface for EnvironmentAlreadyInUseError.
func (e *EnvironmentAlreadyInUseError) Error() string {
	return fmt.Sprintf("environment %s is already in use (state %s)", e.Machine, e.State)
}

// IsEnvironmentAlreadyInUse checks if an error is or wraps an
// EnvironmentAlreadyInUseError.
func IsEnvironmentAlreadyInUse(err error) bool {
	var target *EnvironmentAlreadyInUseError
	return errors.As(err, &target)
}

// NewEnvironmentAlreadyInUseError creates an EnvironmentAlreadyInUseError.
func NewEnvironmentAlreadyInUseError(machine, state string) *EnvironmentAlreadyInUseError {
	return &EnvironmentAlreadyInUseError{Machine: machine, State: state}
}

// FailedToRestoreEnvironmentError reports that a virtual machine could not
// be stopped or reset to its snapshot after use.
type FailedToRestoreEnvironmentError struct {
	Machine  string
	Snapshot string
	Err      error
}

// Error implements the error interface for FailedToRestoreEnvironmentError.
func (e *FailedToRestoreEnvironmentError) Error() string {
	return fmt.Sprintf("failed to restore environment %s to snapshot %q: %v", e.Machine, e.Snapshot, e.Err)
}

// Unwrap returns the underlying failure.
func (e *FailedToRestoreEnvironmentError) Unwrap() error { return e.Err }

// IsFailedToRestoreEnvironment checks if an error is or wraps a
// FailedToRestoreEnvironmentError.
func IsFailedToRestoreEnvironment(err error) bool {
	var target *FailedToRestoreEnvironmentError
	return errors.As(err, &target)
}

// NewFailedToRestoreEnvironmentError creates a FailedToRestoreEnvironmentError.
func NewFailedToRestoreEnvironmentError(machine, snapshot string, err error) *FailedToRestoreEnvironmentError {
	return &FailedToRestoreEnvironmentError{Machine: machine, Snapshot: snapshot, Err: err}
}

// TestExecutionFailureError reports that an agent could not be told to
// start a test.
type TestExecutionFailureError struct {
	TestID      int
	Environment string
	Err         error
}

// Error implements the error interface for TestExecutionFailureError.
func (e *TestExecutionFailureError) Error() string {
	return fmt.Sprintf("failed to start test %d on environment %s: %v", e.TestID, e.Environment, e.Err)
}

// Unwrap returns the underlying failure.
func (e *TestExecutionFailureError) Unwrap() error { return e.Err }

// IsTestExecutionFailure checks if an error is or wraps a
// TestExecutionFailureError.
func IsTestExecutionFailure(err error) bool {
	var target *TestExecutionFailureError
	return errors.As(err, &target)
}

// NewTestExecutionFailureError creates a TestExecutionFailureError.
func NewTestExecutionFailureError(testID int, environment string, err error) *TestExecutionFailureError {
	return &TestExecutionFailureError{TestID: testID, Environment: environment, Err: err}
}
