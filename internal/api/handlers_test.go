package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medtrack/scheduling-engine/internal/appointment"
	"github.com/medtrack/scheduling-engine/internal/availability"
	"github.com/medtrack/scheduling-engine/internal/schedule"
)

type stubAppointments struct {
	bookFn    func(ctx context.Context, actor appointment.Actor, in appointment.BookInput) (*appointment.Appointment, error)
	cancelFn  func(ctx context.Context, actor appointment.Actor, id uuid.UUID, at time.Time) (*appointment.RefundRecord, error)
	confirmFn func(ctx context.Context, actor appointment.Actor, id uuid.UUID) (*appointment.Appointment, error)
	getFn     func(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
}

func (s *stubAppointments) Book(ctx context.Context, actor appointment.Actor, in appointment.BookInput) (*appointment.Appointment, error) {
	return s.bookFn(ctx, actor, in)
}

func (s *stubAppointments) Confirm(ctx context.Context, actor appointment.Actor, id uuid.UUID) (*appointment.Appointment, error) {
	return s.confirmFn(ctx, actor, id)
}

func (s *stubAppointments) Cancel(ctx context.Context, actor appointment.Actor, id uuid.UUID, at time.Time) (*appointment.RefundRecord, error) {
	return s.cancelFn(ctx, actor, id, at)
}

func (s *stubAppointments) Complete(ctx context.Context, actor appointment.Actor, id uuid.UUID, notes *string) (*appointment.Appointment, error) {
	return nil, appointment.ErrAppointmentNotFound
}

func (s *stubAppointments) Reschedule(ctx context.Context, actor appointment.Actor, id uuid.UUID, newStart time.Time) (*appointment.Appointment, error) {
	return nil, appointment.ErrAppointmentNotFound
}

func (s *stubAppointments) BulkReschedule(ctx context.Context, actor appointment.Actor, items []appointment.BulkRescheduleItem) ([]appointment.BulkRescheduleResult, error) {
	return nil, nil
}

func (s *stubAppointments) GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return s.getFn(ctx, id)
}

func (s *stubAppointments) GetSchedule(ctx context.Context, providerID uuid.UUID, day time.Time) ([]appointment.Appointment, error) {
	return nil, nil
}

func (s *stubAppointments) ListPatientAppointments(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]appointment.Appointment, error) {
	return nil, nil
}

func (s *stubAppointments) GetConflicts(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]appointment.ConflictPair, error) {
	return nil, nil
}

type stubAvailability struct {
	views []availability.SlotView
	err   error
}

func (s *stubAvailability) GetAvailability(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]availability.SlotView, error) {
	return s.views, s.err
}

func testRouter(appts AppointmentService, avail AvailabilityService) http.Handler {
	return NewRouter(RouterConfig{
		Appointments: appts,
		Availability: avail,
		Env:          "test",
		Version:      "test",
		Log:          zerolog.Nop(),
	})
}

func asPatient(r *http.Request, id uuid.UUID) *http.Request {
	r.Header.Set("X-Principal-ID", id.String())
	r.Header.Set("X-Principal-Role", "patient")
	return r
}

func bookBody(patientID, providerID uuid.UUID, start time.Time) string {
	b, _ := json.Marshal(BookAppointmentRequest{
		PatientID:       patientID.String(),
		ProviderID:      providerID.String(),
		StartTime:       start.Format(time.RFC3339),
		DurationMinutes: 30,
	})
	return string(b)
}

func TestBookEndpointCreated(t *testing.T) {
	patientID := uuid.New()
	providerID := uuid.New()
	start := time.Now().Add(48 * time.Hour).Truncate(time.Second)

	appts := &stubAppointments{
		bookFn: func(ctx context.Context, actor appointment.Actor, in appointment.BookInput) (*appointment.Appointment, error) {
			assert.Equal(t, patientID, actor.ID)
			assert.Equal(t, appointment.RolePatient, actor.Role)
			assert.Equal(t, 30*time.Minute, in.Duration)
			return &appointment.Appointment{
				ID:         uuid.New(),
				PatientID:  in.PatientID,
				ProviderID: in.ProviderID,
				StartTime:  in.Start,
				EndTime:    in.Start.Add(in.Duration),
				Status:     appointment.StatusScheduled,
			}, nil
		},
	}
	router := testRouter(appts, &stubAvailability{})

	req := asPatient(httptest.NewRequest(http.MethodPost, "/appointments", strings.NewReader(bookBody(patientID, providerID, start))), patientID)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "scheduled", resp.Status)
	assert.Equal(t, patientID, resp.PatientID)
}

func TestBookEndpointConflictCarriesAlternatives(t *testing.T) {
	patientID := uuid.New()
	providerID := uuid.New()
	start := time.Now().Add(48 * time.Hour).Truncate(time.Second)
	alt := schedule.Slot{
		ProviderID: providerID,
		Start:      start.Add(30 * time.Minute),
		End:        start.Add(time.Hour),
		Duration:   30 * time.Minute,
	}

	appts := &stubAppointments{
		bookFn: func(ctx context.Context, actor appointment.Actor, in appointment.BookInput) (*appointment.Appointment, error) {
			return nil, &appointment.ConflictError{
				ProviderID:   providerID,
				Start:        in.Start,
				End:          in.Start.Add(in.Duration),
				Alternatives: []schedule.Slot{alt},
			}
		},
	}
	router := testRouter(appts, &stubAvailability{})

	req := asPatient(httptest.NewRequest(http.MethodPost, "/appointments", strings.NewReader(bookBody(patientID, providerID, start))), patientID)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "slot_conflict", resp.Error)
	require.Len(t, resp.Alternatives, 1)
	assert.True(t, resp.Alternatives[0].Start.Equal(alt.Start))
}

func TestBookEndpointBusyMapsToServiceUnavailable(t *testing.T) {
	patientID := uuid.New()
	appts := &stubAppointments{
		bookFn: func(ctx context.Context, actor appointment.Actor, in appointment.BookInput) (*appointment.Appointment, error) {
			return nil, appointment.ErrProviderBusy
		},
	}
	router := testRouter(appts, &stubAvailability{})

	body := bookBody(patientID, uuid.New(), time.Now().Add(48*time.Hour))
	req := asPatient(httptest.NewRequest(http.MethodPost, "/appointments", strings.NewReader(body)), patientID)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestBookEndpointRequiresPrincipal(t *testing.T) {
	router := testRouter(&stubAppointments{}, &stubAvailability{})

	body := bookBody(uuid.New(), uuid.New(), time.Now().Add(48*time.Hour))
	req := httptest.NewRequest(http.MethodPost, "/appointments", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBookEndpointRejectsBadUUID(t *testing.T) {
	router := testRouter(&stubAppointments{}, &stubAvailability{})

	body := `{"patient_id":"not-a-uuid","provider_id":"` + uuid.NewString() + `","start_time":"2026-09-07T09:00:00Z","duration_minutes":30}`
	req := asPatient(httptest.NewRequest(http.MethodPost, "/appointments", strings.NewReader(body)), uuid.New())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelEndpointReturnsRefund(t *testing.T) {
	patientID := uuid.New()
	apptID := uuid.New()
	cancelledAt := time.Now().Truncate(time.Second)

	appts := &stubAppointments{
		cancelFn: func(ctx context.Context, actor appointment.Actor, id uuid.UUID, at time.Time) (*appointment.RefundRecord, error) {
			assert.Equal(t, apptID, id)
			return &appointment.RefundRecord{
				AppointmentID: apptID,
				Percentage:    50,
				AmountCents:   5000,
				CancelledAt:   cancelledAt,
			}, nil
		},
	}
	router := testRouter(appts, &stubAvailability{})

	req := asPatient(httptest.NewRequest(http.MethodPost, "/appointments/"+apptID.String()+"/cancel", nil), patientID)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp RefundResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 50, resp.Percentage)
	assert.Equal(t, int64(5000), resp.AmountCents)
}

func TestConfirmEndpointInvalidTransition(t *testing.T) {
	appts := &stubAppointments{
		confirmFn: func(ctx context.Context, actor appointment.Actor, id uuid.UUID) (*appointment.Appointment, error) {
			return nil, &appointment.InvalidTransitionError{
				From: appointment.StatusCompleted,
				To:   appointment.StatusConfirmed,
			}
		},
	}
	router := testRouter(appts, &stubAvailability{})

	req := asPatient(httptest.NewRequest(http.MethodPost, "/appointments/"+uuid.NewString()+"/confirm", nil), uuid.New())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_status_transition", resp.Error)
}

func TestGetAppointmentNotFound(t *testing.T) {
	appts := &stubAppointments{
		getFn: func(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
			return nil, appointment.ErrAppointmentNotFound
		},
	}
	router := testRouter(appts, &stubAvailability{})

	req := httptest.NewRequest(http.MethodGet, "/appointments/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAvailabilityEndpoint(t *testing.T) {
	providerID := uuid.New()
	start := time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC)
	avail := &stubAvailability{
		views: []availability.SlotView{
			{Slot: schedule.Slot{ProviderID: providerID, Start: start, End: start.Add(30 * time.Minute)}, Free: true},
		},
	}
	router := testRouter(&stubAppointments{}, avail)

	req := httptest.NewRequest(http.MethodGet, "/providers/"+providerID.String()+"/availability?from=2026-09-07&to=2026-09-07", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp AvailabilityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, providerID, resp.ProviderID)
	require.Len(t, resp.Slots, 1)
	assert.True(t, resp.Slots[0].Free)
}

func TestAvailabilityEndpointRejectsBadRange(t *testing.T) {
	router := testRouter(&stubAppointments{}, &stubAvailability{})

	req := httptest.NewRequest(http.MethodGet, "/providers/"+uuid.NewString()+"/availability?from=bogus&to=2026-09-07", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
