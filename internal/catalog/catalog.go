// Package catalog stores the testing context: submitted tests and the
// machine pool with its active flags.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"testfleet/internal/model"
)

// NotFoundError is returned when a test or machine does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// IsNotFound checks if an error is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// NewNotFoundError creates a NotFoundError.
func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// Repository is the testing context consumed by the orchestrator.
type Repository interface {
	// InactiveTests returns queued tests in submission order.
	InactiveTests(ctx context.Context) ([]model.Test, error)
	// InactiveMachines returns machines not marked active that satisfy env,
	// ordered by id.
	InactiveMachines(ctx context.Context, env model.TestEnvironment) ([]model.MachineDescription, error)
	// StepsFor returns the steps of a test for one environment, by order.
	StepsFor(ctx context.Context, testID int, environment string) ([]model.TestStep, error)
	MarkMachineActive(ctx context.Context, id string) error
	MarkMachineInactive(ctx context.Context, id string) error
	StartTest(ctx context.Context, id int, at time.Time) error
	StopTest(ctx context.Context, id int, at time.Time) error

	// AddTest stores a new test and returns its id.
	AddTest(ctx context.Context, t model.Test) (int, error)
	Test(ctx context.Context, id int) (model.Test, error)
	Tests(ctx context.Context) ([]model.Test, error)
	// PutMachine adds or replaces a machine. The active flag is kept.
	PutMachine(ctx context.Context, m model.MachineDescription) error
	Machine(ctx context.Context, id string) (model.MachineDescription, error)
	Machines(ctx context.Context) ([]model.MachineDescription, error)

	Close() error
}

// Open returns the repository for driver. path is ignored by the memory
// driver.
func Open(driver, path string) (Repository, error) {
	switch driver {
	case "memory":
		return NewMemory(), nil
	case "sqlite", "":
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown catalog driver %q", driver)
	}
}
