package incidents

import (
	"errors"
	"fmt"

	"github.com/datapulse/orchestrator/internal/domain"
)

// Repository errors.
var (
	ErrIncidentNotFound = errors.New("incident not found")
	ErrIncidentExists   = errors.New("incident already exists")
	ErrVersionConflict  = errors.New("incident was modified concurrently")
)

// Service errors.
var (
	ErrActionNotFound    = errors.New("action not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrPersistence       = errors.New("incident store unavailable")
	ErrUnknownAgent      = errors.New("unknown agent kind")
	ErrValidation        = errors.New("validation failed")
	ErrAuditChainBroken  = errors.New("audit chain broken")
)

// InvalidTransitionError names both sides of a rejected state change.
type InvalidTransitionError struct {
	From domain.ActionState
	To   domain.ActionState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// Is makes errors.Is(err, ErrInvalidTransition) match.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// CreateError is returned when a new incident could not be stored. It keeps
// the identifiers so callers can report them.
type CreateError struct {
	IncidentID    string
	CorrelationID string
	Err           error
}

func (e *CreateError) Error() string {
	return fmt.Sprintf("create incident %s: %v", e.IncidentID, e.Err)
}

func (e *CreateError) Unwrap() error {
	return e.Err
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// storeError tags unexpected repository failures as persistence failures.
func storeError(op string, err error) error {
	switch {
	case errors.Is(err, ErrIncidentNotFound),
		errors.Is(err, ErrIncidentExists),
		errors.Is(err, ErrVersionConflict):
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
