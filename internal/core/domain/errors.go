package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnavailable          = errors.New("product unavailable")
	ErrInsufficientQuantity = errors.New("insufficient quantity")
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrConflict             = errors.New("conflict")
	ErrPreconditionFailed   = errors.New("precondition failed")
	ErrCodeGenerationFailed = errors.New("invoice code generation failed")
	ErrAlreadyAdvanced      = errors.New("already advanced")
	ErrNotFound             = errors.New("not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInternal             = errors.New("internal error")
)

var kinds = []error{
	ErrUnavailable,
	ErrInsufficientQuantity,
	ErrInvalidTransition,
	ErrConflict,
	ErrPreconditionFailed,
	ErrCodeGenerationFailed,
	ErrAlreadyAdvanced,
	ErrNotFound,
	ErrInvalidInput,
}

// Kind returns the taxonomy sentinel err belongs to, or ErrInternal when it
// wraps none of them.
func Kind(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrInternal
}

// OpError is the outward error of a lifecycle operation. errors.Is matches both
// the taxonomy kind and the underlying cause.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

func NewOpError(op string, err error) error {
	if err == nil {
		return nil
	}
	var opErr *OpError
	if errors.As(err, &opErr) {
		return err
	}
	return &OpError{Op: op, Kind: Kind(err), Err: err}
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}
