package appointment

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medtrack/scheduling-engine/internal/schedule"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrProviderNotFound    = errors.New("provider not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrRefundNotFound      = errors.New("refund not found")

	// ErrProviderBusy means the per-provider lock could not be acquired
	// within the bounded wait. Retryable by the caller with backoff.
	ErrProviderBusy = errors.New("provider is busy handling another booking, retry shortly")
)

// ValidationError rejects malformed input before any shared state is touched.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ConflictError means the requested interval overlaps an existing
// appointment. Alternatives are best-effort suggestions and may be empty.
type ConflictError struct {
	ProviderID   uuid.UUID
	Start        time.Time
	End          time.Time
	Alternatives []schedule.Slot
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("provider %s already has an appointment overlapping [%s, %s)",
		e.ProviderID, e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
}

// InvalidTransitionError reports an illegal lifecycle move. Never coerced.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid appointment transition %s -> %s", e.From, e.To)
}

// ForbiddenError means the principal's role does not permit the operation.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	return e.Reason
}
