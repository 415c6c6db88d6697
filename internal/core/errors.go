package core

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/edvin/fulfillment/internal/fulfillment"
)

var (
	// ErrDependenciesNotMet means a specification of the order still waits on
	// a dependency that is not active. It is retryable and never a failure.
	ErrDependenciesNotMet = errors.New("dependencies not met")
	// ErrContextNotFound means no workflow context is persisted for the order.
	ErrContextNotFound = errors.New("workflow context not found")
	// ErrInvalidStateTransition means an operation assumed a workflow or task
	// state it did not find.
	ErrInvalidStateTransition = fulfillment.ErrInvalidStateTransition
	// ErrInvalidOrder means the order failed validation.
	ErrInvalidOrder = errors.New("invalid service order")
)

// DatabaseError wraps a storage failure. It is always surfaced to the caller.
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database: %s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error { return e.Err }

// ActivationError wraps a failed activation or inventory side effect for one
// specification.
type ActivationError struct {
	SpecID uuid.UUID
	Op     string
	Err    error
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("%s for specification %s: %v", e.Op, e.SpecID, e.Err)
}

func (e *ActivationError) Unwrap() error { return e.Err }

func dbError(op string, err error) error {
	if err == nil {
		return nil
	}
	var dbErr *DatabaseError
	if errors.As(err, &dbErr) {
		return err
	}
	return &DatabaseError{Op: op, Err: err}
}
