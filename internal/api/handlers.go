package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medtrack/scheduling-engine/internal/appointment"
	"github.com/medtrack/scheduling-engine/internal/availability"
	"github.com/medtrack/scheduling-engine/internal/schedule"
)

// AppointmentService is the slice of the booking engine the handlers call.
type AppointmentService interface {
	Book(ctx context.Context, actor appointment.Actor, in appointment.BookInput) (*appointment.Appointment, error)
	Confirm(ctx context.Context, actor appointment.Actor, id uuid.UUID) (*appointment.Appointment, error)
	Cancel(ctx context.Context, actor appointment.Actor, id uuid.UUID, cancelledAt time.Time) (*appointment.RefundRecord, error)
	Complete(ctx context.Context, actor appointment.Actor, id uuid.UUID, notes *string) (*appointment.Appointment, error)
	Reschedule(ctx context.Context, actor appointment.Actor, id uuid.UUID, newStart time.Time) (*appointment.Appointment, error)
	BulkReschedule(ctx context.Context, actor appointment.Actor, items []appointment.BulkRescheduleItem) ([]appointment.BulkRescheduleResult, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	GetSchedule(ctx context.Context, providerID uuid.UUID, day time.Time) ([]appointment.Appointment, error)
	ListPatientAppointments(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]appointment.Appointment, error)
	GetConflicts(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]appointment.ConflictPair, error)
}

type AvailabilityService interface {
	GetAvailability(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]availability.SlotView, error)
}

const dateLayout = "2006-01-02"

// principal reads the caller identity from headers. Authentication itself is
// terminated upstream; these headers arrive from the gateway.
func principal(r *http.Request) (appointment.Actor, bool) {
	id, err := uuid.Parse(r.Header.Get("X-Principal-ID"))
	if err != nil {
		return appointment.Actor{}, false
	}
	role := appointment.Role(r.Header.Get("X-Principal-Role"))
	switch role {
	case appointment.RolePatient, appointment.RoleProvider, appointment.RoleAdmin:
		return appointment.Actor{ID: id, Role: role}, true
	}
	return appointment.Actor{}, false
}

func requirePrincipal(w http.ResponseWriter, r *http.Request) (appointment.Actor, bool) {
	actor, ok := principal(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_principal", "X-Principal-ID and X-Principal-Role headers are required")
	}
	return actor, ok
}

func bookAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requirePrincipal(w, r)
		if !ok {
			return
		}

		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		providerID, err := uuid.Parse(req.ProviderID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
			return
		}
		start, err := time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start_time", "start_time must be RFC 3339")
			return
		}

		appt, err := svc.Book(r.Context(), actor, appointment.BookInput{
			PatientID:  patientID,
			ProviderID: providerID,
			Start:      start,
			Duration:   time.Duration(req.DurationMinutes) * time.Minute,
			Notes:      req.Notes,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func confirmAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requirePrincipal(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.Confirm(r.Context(), actor, id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requirePrincipal(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		var req CancelRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
				return
			}
		}
		var cancelledAt time.Time
		if req.CancelledAt != "" {
			var err error
			cancelledAt, err = time.Parse(time.RFC3339, req.CancelledAt)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_cancelled_at", "cancelled_at must be RFC 3339")
				return
			}
		}

		refund, err := svc.Cancel(r.Context(), actor, id, cancelledAt)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, RefundResponse{
			AppointmentID: refund.AppointmentID,
			Percentage:    refund.Percentage,
			AmountCents:   refund.AmountCents,
			CancelledAt:   refund.CancelledAt,
		})
	}
}

func completeAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requirePrincipal(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		var req CompleteRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
				return
			}
		}

		appt, err := svc.Complete(r.Context(), actor, id, req.Notes)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rescheduleAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requirePrincipal(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		newStart, err := time.Parse(time.RFC3339, req.NewStartTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_new_start_time", "new_start_time must be RFC 3339")
			return
		}

		successor, err := svc.Reschedule(r.Context(), actor, id, newStart)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(successor))
	}
}

func bulkRescheduleHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requirePrincipal(w, r)
		if !ok {
			return
		}

		var req BulkRescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		items := make([]appointment.BulkRescheduleItem, 0, len(req.Items))
		for _, item := range req.Items {
			id, err := uuid.Parse(item.AppointmentID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointment_id must be a valid UUID")
				return
			}
			newStart, err := time.Parse(time.RFC3339, item.NewStartTime)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_new_start_time", "new_start_time must be RFC 3339")
				return
			}
			items = append(items, appointment.BulkRescheduleItem{AppointmentID: id, NewStart: newStart})
		}

		results, err := svc.BulkReschedule(r.Context(), actor, items)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		resp := make([]BulkRescheduleItemResponse, 0, len(results))
		for _, res := range results {
			item := BulkRescheduleItemResponse{AppointmentID: res.AppointmentID}
			if res.Err != nil {
				item.Error = domainErrorResponse(res.Err)
			} else if res.Successor != nil {
				s := toAppointmentResponse(res.Successor)
				item.Successor = &s
			}
			resp = append(resp, item)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func providerAvailabilityHandler(svc AvailabilityService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		from, to, ok := dateRange(w, r)
		if !ok {
			return
		}

		views, err := svc.GetAvailability(r.Context(), providerID, from, to)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, AvailabilityResponse{ProviderID: providerID, Slots: views})
	}
}

func providerScheduleHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		day, err := time.Parse(dateLayout, r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		appts, err := svc.GetSchedule(r.Context(), providerID, day)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func providerConflictsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		from, to, ok := dateRange(w, r)
		if !ok {
			return
		}

		pairs, err := svc.GetConflicts(r.Context(), providerID, from, to.AddDate(0, 0, 1))
		if err != nil {
			writeDomainError(w, err)
			return
		}

		resp := make([]ConflictPairResponse, 0, len(pairs))
		for _, p := range pairs {
			first, second := p.First, p.Second
			resp = append(resp, ConflictPairResponse{
				First:  toAppointmentResponse(&first),
				Second: toAppointmentResponse(&second),
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func patientAppointmentsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))

		appts, err := svc.ListPatientAppointments(r.Context(), patientID, limit, offset)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+param, param+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func dateRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	q := r.URL.Query()
	from, err := time.Parse(dateLayout, q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_from", "from must be YYYY-MM-DD")
		return time.Time{}, time.Time{}, false
	}
	to, err := time.Parse(dateLayout, q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_to", "to must be YYYY-MM-DD")
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

// writeDomainError maps service errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var conflict *appointment.ConflictError

	status := domainStatus(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	if errors.As(err, &conflict) {
		writeJSON(w, status, ErrorResponse{
			Error:        "slot_conflict",
			Details:      conflict.Error(),
			Alternatives: conflict.Alternatives,
		})
		return
	}
	writeJSON(w, status, *domainErrorResponse(err))
}

func domainStatus(err error) int {
	var validation *appointment.ValidationError
	var conflict *appointment.ConflictError
	var transition *appointment.InvalidTransitionError
	var forbidden *appointment.ForbiddenError
	var invalidSchedule *schedule.InvalidScheduleError

	switch {
	case errors.As(err, &validation), errors.As(err, &invalidSchedule):
		return http.StatusUnprocessableEntity
	case errors.As(err, &conflict), errors.As(err, &transition):
		return http.StatusConflict
	case errors.As(err, &forbidden):
		return http.StatusForbidden
	case errors.Is(err, appointment.ErrPatientNotFound),
		errors.Is(err, appointment.ErrProviderNotFound),
		errors.Is(err, appointment.ErrAppointmentNotFound),
		errors.Is(err, appointment.ErrRefundNotFound):
		return http.StatusNotFound
	case errors.Is(err, appointment.ErrProviderBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, schedule.ErrEmptyDateRange):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func domainErrorResponse(err error) *ErrorResponse {
	var conflict *appointment.ConflictError

	code := "internal_error"
	switch domainStatus(err) {
	case http.StatusUnprocessableEntity:
		code = "invalid_request"
	case http.StatusConflict:
		code = "slot_conflict"
		var transition *appointment.InvalidTransitionError
		if errors.As(err, &transition) {
			code = "invalid_status_transition"
		}
	case http.StatusForbidden:
		code = "forbidden"
	case http.StatusNotFound:
		code = "not_found"
	case http.StatusServiceUnavailable:
		code = "provider_busy"
	case http.StatusBadRequest:
		code = "invalid_range"
	}

	resp := &ErrorResponse{Error: code, Details: err.Error()}
	if errors.As(err, &conflict) {
		resp.Alternatives = conflict.Alternatives
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
