package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled   Status = "scheduled"
	StatusConfirmed   Status = "confirmed"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusRescheduled Status = "rescheduled"
)

type Role string

const (
	RolePatient  Role = "patient"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

// Actor is the verified principal supplied by the identity collaborator.
// The engine trusts it and only enforces role rules.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Provider struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	FeeCents  int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	ProviderID      uuid.UUID
	StartTime       time.Time
	EndTime         time.Time
	DurationMinutes int
	Status          Status
	Notes           *string
	FeeCents        int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RefundRecord is computed exactly once, at first cancellation, and frozen.
type RefundRecord struct {
	AppointmentID uuid.UUID
	Percentage    int
	AmountCents   int64
	CancelledAt   time.Time
	ComputedAt    time.Time
}

// RescheduleRecord is an append-only audit entry linking a rescheduled-away
// appointment to its successor.
type RescheduleRecord struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	SuccessorID   uuid.UUID
	OldStart      time.Time
	OldEnd        time.Time
	NewStart      time.Time
	NewEnd        time.Time
	Actor         string
	CreatedAt     time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// ConflictPair is a detected double-booking, surfaced by the diagnostic
// conflict scan.
type ConflictPair struct {
	First  Appointment
	Second Appointment
}
