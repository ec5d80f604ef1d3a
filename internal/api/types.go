package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/medtrack/scheduling-engine/internal/appointment"
	"github.com/medtrack/scheduling-engine/internal/availability"
	"github.com/medtrack/scheduling-engine/internal/schedule"
)

type BookAppointmentRequest struct {
	PatientID       string  `json:"patient_id"`
	ProviderID      string  `json:"provider_id"`
	StartTime       string  `json:"start_time"`
	DurationMinutes int     `json:"duration_minutes"`
	Notes           *string `json:"notes,omitempty"`
}

type RescheduleRequest struct {
	NewStartTime string `json:"new_start_time"`
}

type BulkRescheduleRequest struct {
	Items []BulkRescheduleItemRequest `json:"items"`
}

type BulkRescheduleItemRequest struct {
	AppointmentID string `json:"appointment_id"`
	NewStartTime  string `json:"new_start_time"`
}

type CancelRequest struct {
	CancelledAt string `json:"cancelled_at,omitempty"`
}

type CompleteRequest struct {
	Notes *string `json:"notes,omitempty"`
}

type AppointmentResponse struct {
	ID              uuid.UUID `json:"id"`
	PatientID       uuid.UUID `json:"patient_id"`
	ProviderID      uuid.UUID `json:"provider_id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          string    `json:"status"`
	Notes           *string   `json:"notes,omitempty"`
	FeeCents        int64     `json:"fee_cents"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		ProviderID:      a.ProviderID,
		StartTime:       a.StartTime,
		EndTime:         a.EndTime,
		DurationMinutes: a.DurationMinutes,
		Status:          string(a.Status),
		Notes:           a.Notes,
		FeeCents:        a.FeeCents,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

type RefundResponse struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	Percentage    int       `json:"percentage"`
	AmountCents   int64     `json:"amount_cents"`
	CancelledAt   time.Time `json:"cancelled_at"`
}

type AvailabilityResponse struct {
	ProviderID uuid.UUID               `json:"provider_id"`
	Slots      []availability.SlotView `json:"slots"`
}

type ConflictPairResponse struct {
	First  AppointmentResponse `json:"first"`
	Second AppointmentResponse `json:"second"`
}

type BulkRescheduleItemResponse struct {
	AppointmentID uuid.UUID            `json:"appointment_id"`
	Successor     *AppointmentResponse `json:"successor,omitempty"`
	Error         *ErrorResponse       `json:"error,omitempty"`
}

type ErrorResponse struct {
	Error        string          `json:"error"`
	Details      string          `json:"details,omitempty"`
	Alternatives []schedule.Slot `json:"alternatives,omitempty"`
}
