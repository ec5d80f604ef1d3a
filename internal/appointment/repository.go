package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/medtrack/scheduling-engine/internal/schedule"
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	// Directory lookups (external collaborator boundary). They run before
	// any locking so a bad reference never holds the provider lock.
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error)
	GetProviderWorkingHours(ctx context.Context, providerID uuid.UUID) (schedule.WorkingHours, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Conflict checks. Only active (scheduled/confirmed) rows count; the
	// overlap predicate is start < candidateEnd AND end > candidateStart.
	ListOverlapping(ctx context.Context, providerID uuid.UUID, start, end time.Time, excludeID uuid.UUID) ([]Appointment, error)
	ListActiveByProviderBetween(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error)
	ListByProviderDay(ctx context.Context, providerID uuid.UUID, day time.Time) ([]Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)

	// Mutations. Status updates are compare-and-swap on the current status
	// so a lost race surfaces as ErrAppointmentNotFound, never a silent
	// overwrite.
	CreateAppointment(ctx context.Context, appt Appointment) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)
	CompleteAppointment(ctx context.Context, id uuid.UUID, from Status, notes *string) (*Appointment, error)

	// CancelAppointment transitions to cancelled and freezes the refund in
	// one transaction.
	CancelAppointment(ctx context.Context, id uuid.UUID, from Status, refund RefundRecord) (*Appointment, error)
	GetRefund(ctx context.Context, appointmentID uuid.UUID) (*RefundRecord, error)

	// RescheduleAppointment terminates the old row, inserts the successor
	// and the audit record in one transaction.
	RescheduleAppointment(ctx context.Context, oldID uuid.UUID, from Status, successor Appointment, rec RescheduleRecord) (*Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
