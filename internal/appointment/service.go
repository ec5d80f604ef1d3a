package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medtrack/scheduling-engine/internal/config"
	"github.com/medtrack/scheduling-engine/internal/metrics"
	redisclient "github.com/medtrack/scheduling-engine/internal/redis"
	"github.com/medtrack/scheduling-engine/internal/schedule"
)

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentConfirmed   = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
)

// CacheInvalidator drops the availability view for a provider-day after a
// mutation so reads observe the change before the TTL elapses.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, providerID uuid.UUID, day string) error
}

// ReminderScheduler computes reminder tasks for new bookings and supersedes
// pending ones when an appointment moves or dies. Delivery is external.
type ReminderScheduler interface {
	Schedule(ctx context.Context, appt Appointment) error
	Supersede(ctx context.Context, appointmentID uuid.UUID) error
}

// DayKey buckets cache invalidation by calendar day.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

type Service struct {
	repo      Repository
	locker    redisclient.Locker
	cache     CacheInvalidator
	reminders ReminderScheduler
	cfg       config.Config
	policy    RefundPolicy
	metrics   *metrics.EngineMetrics
	log       zerolog.Logger
}

func NewService(repo Repository, locker redisclient.Locker, cache CacheInvalidator, reminders ReminderScheduler, cfg config.Config, m *metrics.EngineMetrics, log zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		locker:    locker,
		cache:     cache,
		reminders: reminders,
		cfg:       cfg,
		policy:    RefundPolicy{FullAfter: cfg.FullRefundAfter, HalfAfter: cfg.HalfRefundAfter},
		metrics:   m,
		log:       log,
	}
}

type BookInput struct {
	PatientID  uuid.UUID
	ProviderID uuid.UUID
	Start      time.Time
	Duration   time.Duration
	Notes      *string
}

// Book reserves a provider-time window for a patient. The overlap check and
// the insert run inside the per-provider lock so that check-then-act is
// indivisible with respect to other booking attempts for the same provider.
func (s *Service) Book(ctx context.Context, actor Actor, in BookInput) (*Appointment, error) {
	started := time.Now()
	appt, err := s.book(ctx, actor, in)
	s.metrics.ObserveBooking("book", outcomeLabel(err), time.Since(started).Seconds())
	return appt, err
}

func (s *Service) book(ctx context.Context, actor Actor, in BookInput) (*Appointment, error) {
	if actor.Role == RolePatient && actor.ID != in.PatientID {
		return nil, &ForbiddenError{Reason: "patients may only book for themselves"}
	}
	if in.Duration <= 0 {
		return nil, validationErrorf("duration must be positive")
	}
	if in.Start.Before(time.Now().Add(s.cfg.MinLeadTime)) {
		return nil, validationErrorf("appointments must start at least %s from now", s.cfg.MinLeadTime)
	}

	// Directory checks happen before locking so a bad reference never
	// holds the provider lock.
	if _, err := s.repo.GetPatientByID(ctx, in.PatientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}
	provider, err := s.repo.GetProviderByID(ctx, in.ProviderID)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}

	end := in.Start.Add(in.Duration)

	var created *Appointment
	var conflicting bool

	err = s.locker.WithProviderLock(ctx, in.ProviderID, func(lockCtx context.Context) error {
		overlapping, err := s.repo.ListOverlapping(lockCtx, in.ProviderID, in.Start, end, uuid.Nil)
		if err != nil {
			return fmt.Errorf("check overlap: %w", err)
		}
		if len(overlapping) > 0 {
			conflicting = true
			return nil
		}

		appt := Appointment{
			ID:              uuid.New(),
			PatientID:       in.PatientID,
			ProviderID:      in.ProviderID,
			StartTime:       in.Start,
			EndTime:         end,
			DurationMinutes: int(in.Duration / time.Minute),
			Status:          StatusScheduled,
			Notes:           in.Notes,
			FeeCents:        provider.FeeCents,
		}

		created, err = s.repo.CreateAppointment(lockCtx, appt)
		if err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}

		s.logEvent(lockCtx, created.ID, EventAppointmentBooked, map[string]any{
			"patient_id":  in.PatientID.String(),
			"provider_id": in.ProviderID.String(),
			"start_time":  in.Start,
		})
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrProviderBusy
		}
		return nil, err
	}

	if conflicting {
		// Suggestions are a courtesy; the conflict is returned no matter
		// what happens while computing them.
		return nil, &ConflictError{
			ProviderID:   in.ProviderID,
			Start:        in.Start,
			End:          end,
			Alternatives: s.suggestAlternatives(ctx, in.ProviderID, in.Start, in.Duration),
		}
	}

	s.invalidateDay(ctx, in.ProviderID, in.Start)
	s.scheduleReminders(ctx, *created)

	return created, nil
}

// Reschedule moves an appointment by terminating the old record and creating
// a successor at the new time. The overlap check excludes the appointment's
// own interval; on conflict the original is left untouched.
func (s *Service) Reschedule(ctx context.Context, actor Actor, appointmentID uuid.UUID, newStart time.Time) (*Appointment, error) {
	started := time.Now()
	appt, err := s.reschedule(ctx, actor, appointmentID, newStart)
	s.metrics.ObserveBooking("reschedule", outcomeLabel(err), time.Since(started).Seconds())
	return appt, err
}

func (s *Service) reschedule(ctx context.Context, actor Actor, appointmentID uuid.UUID, newStart time.Time) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if err := s.requireParticipant(actor, appt); err != nil {
		return nil, err
	}
	if err := checkTransition(appt.Status, StatusRescheduled); err != nil {
		return nil, err
	}
	if newStart.Before(time.Now().Add(s.cfg.MinLeadTime)) {
		return nil, validationErrorf("appointments must start at least %s from now", s.cfg.MinLeadTime)
	}

	duration := time.Duration(appt.DurationMinutes) * time.Minute
	newEnd := newStart.Add(duration)

	var created *Appointment
	var conflicting bool

	err = s.locker.WithProviderLock(ctx, appt.ProviderID, func(lockCtx context.Context) error {
		overlapping, err := s.repo.ListOverlapping(lockCtx, appt.ProviderID, newStart, newEnd, appt.ID)
		if err != nil {
			return fmt.Errorf("check overlap: %w", err)
		}
		if len(overlapping) > 0 {
			conflicting = true
			return nil
		}

		successor := Appointment{
			ID:              uuid.New(),
			PatientID:       appt.PatientID,
			ProviderID:      appt.ProviderID,
			StartTime:       newStart,
			EndTime:         newEnd,
			DurationMinutes: appt.DurationMinutes,
			Status:          StatusScheduled,
			Notes:           appt.Notes,
			FeeCents:        appt.FeeCents,
		}
		rec := RescheduleRecord{
			ID:            uuid.New(),
			AppointmentID: appt.ID,
			SuccessorID:   successor.ID,
			OldStart:      appt.StartTime,
			OldEnd:        appt.EndTime,
			NewStart:      newStart,
			NewEnd:        newEnd,
			Actor:         string(actor.Role),
		}

		created, err = s.repo.RescheduleAppointment(lockCtx, appt.ID, appt.Status, successor, rec)
		if err != nil {
			return fmt.Errorf("reschedule appointment: %w", err)
		}

		s.logEvent(lockCtx, appt.ID, EventAppointmentRescheduled, map[string]any{
			"successor_id": created.ID.String(),
			"old_start":    appt.StartTime,
			"new_start":    newStart,
		})
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrProviderBusy
		}
		return nil, err
	}

	if conflicting {
		return nil, &ConflictError{
			ProviderID:   appt.ProviderID,
			Start:        newStart,
			End:          newEnd,
			Alternatives: s.suggestAlternatives(ctx, appt.ProviderID, newStart, duration),
		}
	}

	s.invalidateDay(ctx, appt.ProviderID, appt.StartTime)
	s.invalidateDay(ctx, appt.ProviderID, newStart)

	if s.reminders != nil {
		if err := s.reminders.Supersede(ctx, appt.ID); err != nil {
			s.log.Warn().Err(err).Stringer("appointment_id", appt.ID).Msg("supersede reminders failed")
		}
	}
	s.scheduleReminders(ctx, *created)

	return created, nil
}

type BulkRescheduleItem struct {
	AppointmentID uuid.UUID
	NewStart      time.Time
}

type BulkRescheduleResult struct {
	AppointmentID uuid.UUID
	Successor     *Appointment
	Err           error
}

// BulkReschedule fans out independent per-appointment reschedules. No lock
// spans the batch; each item succeeds or fails on its own.
func (s *Service) BulkReschedule(ctx context.Context, actor Actor, items []BulkRescheduleItem) ([]BulkRescheduleResult, error) {
	if actor.Role != RoleProvider && actor.Role != RoleAdmin {
		return nil, &ForbiddenError{Reason: "only providers and admins may bulk reschedule"}
	}

	results := make([]BulkRescheduleResult, 0, len(items))
	for _, item := range items {
		successor, err := s.Reschedule(ctx, actor, item.AppointmentID, item.NewStart)
		results = append(results, BulkRescheduleResult{
			AppointmentID: item.AppointmentID,
			Successor:     successor,
			Err:           err,
		})
	}
	return results, nil
}

// Cancel transitions an appointment to cancelled and freezes its refund.
// Cancelling an already-cancelled appointment is a no-op that returns the
// frozen record, regardless of the retried timestamp.
func (s *Service) Cancel(ctx context.Context, actor Actor, appointmentID uuid.UUID, cancelledAt time.Time) (*RefundRecord, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if err := s.requireParticipant(actor, appt); err != nil {
		return nil, err
	}

	if appt.Status == StatusCancelled {
		return s.repo.GetRefund(ctx, appt.ID)
	}
	if err := checkTransition(appt.Status, StatusCancelled); err != nil {
		return nil, err
	}

	if cancelledAt.IsZero() {
		cancelledAt = time.Now()
	}
	refund := s.policy.ComputeRefund(*appt, cancelledAt)

	err = s.locker.WithProviderLock(ctx, appt.ProviderID, func(lockCtx context.Context) error {
		_, err := s.repo.CancelAppointment(lockCtx, appt.ID, appt.Status, refund)
		return err
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrProviderBusy
		}
		if errors.Is(err, ErrAppointmentNotFound) {
			// Lost the CAS race; if a concurrent cancel won, its record is
			// the frozen one.
			if rec, refundErr := s.repo.GetRefund(ctx, appt.ID); refundErr == nil {
				return rec, nil
			}
			return nil, err
		}
		return nil, err
	}

	s.logEvent(ctx, appt.ID, EventAppointmentCancelled, map[string]any{
		"percentage":   refund.Percentage,
		"amount_cents": refund.AmountCents,
		"cancelled_at": cancelledAt,
	})

	s.invalidateDay(ctx, appt.ProviderID, appt.StartTime)

	if s.reminders != nil {
		if err := s.reminders.Supersede(ctx, appt.ID); err != nil {
			s.log.Warn().Err(err).Stringer("appointment_id", appt.ID).Msg("supersede reminders failed")
		}
	}

	return &refund, nil
}

// Confirm moves a scheduled appointment to confirmed.
func (s *Service) Confirm(ctx context.Context, actor Actor, appointmentID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if err := s.requireParticipant(actor, appt); err != nil {
		return nil, err
	}
	if err := checkTransition(appt.Status, StatusConfirmed); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, StatusConfirmed)
	if err != nil {
		return nil, fmt.Errorf("confirm appointment: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentConfirmed, map[string]any{})
	return updated, nil
}

// Complete marks a visit done. Only the assigned provider or an admin may
// complete, and never before the appointment has started.
func (s *Service) Complete(ctx context.Context, actor Actor, appointmentID uuid.UUID, notes *string) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if actor.Role != RoleAdmin && !(actor.Role == RoleProvider && actor.ID == appt.ProviderID) {
		return nil, &ForbiddenError{Reason: "only the assigned provider or an admin may complete an appointment"}
	}
	if err := checkTransition(appt.Status, StatusCompleted); err != nil {
		return nil, err
	}
	if time.Now().Before(appt.StartTime) {
		return nil, &InvalidTransitionError{From: appt.Status, To: StatusCompleted}
	}

	updated, err := s.repo.CompleteAppointment(ctx, appt.ID, appt.Status, notes)
	if err != nil {
		return nil, fmt.Errorf("complete appointment: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentCompleted, map[string]any{})
	return updated, nil
}

// GetAppointment retrieves an appointment by ID.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return appt, nil
}

// GetSchedule returns a provider's appointments for one day ordered by
// start time.
func (s *Service) GetSchedule(ctx context.Context, providerID uuid.UUID, day time.Time) ([]Appointment, error) {
	if _, err := s.repo.GetProviderByID(ctx, providerID); err != nil {
		return nil, err
	}
	return s.repo.ListByProviderDay(ctx, providerID, day)
}

// ListPatientAppointments retrieves a patient's appointment history.
func (s *Service) ListPatientAppointments(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// GetConflicts scans a provider's active appointments for overlapping pairs.
// A healthy store returns nothing; this exists for audit and diagnostics.
func (s *Service) GetConflicts(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]ConflictPair, error) {
	appts, err := s.repo.ListActiveByProviderBetween(ctx, providerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list active appointments: %w", err)
	}

	var pairs []ConflictPair
	for i := 0; i < len(appts); i++ {
		for j := i + 1; j < len(appts) && appts[j].StartTime.Before(appts[i].EndTime); j++ {
			pairs = append(pairs, ConflictPair{First: appts[i], Second: appts[j]})
		}
	}
	return pairs, nil
}

// suggestAlternatives computes up to SuggestionLimit nearest free slots for
// the requested window: same day first, then following days, nearest start
// first, earliest on ties. Best-effort only; any failure yields nil.
func (s *Service) suggestAlternatives(ctx context.Context, providerID uuid.UUID, wantStart time.Time, duration time.Duration) []schedule.Slot {
	hours, err := s.repo.GetProviderWorkingHours(ctx, providerID)
	if err != nil {
		s.log.Debug().Err(err).Stringer("provider_id", providerID).Msg("no working hours for suggestions")
		return nil
	}

	minStart := time.Now().Add(s.cfg.MinLeadTime)
	day0 := time.Date(wantStart.Year(), wantStart.Month(), wantStart.Day(), 0, 0, 0, 0, wantStart.Location())

	var candidates []schedule.Slot
	for d := 0; d <= s.cfg.SuggestionDays; d++ {
		day := day0.AddDate(0, 0, d)
		seq, err := schedule.GenerateDay(providerID, hours, day, s.cfg.SlotDuration)
		if err != nil {
			s.log.Debug().Err(err).Stringer("provider_id", providerID).Msg("slot generation failed for suggestions")
			return nil
		}
		busy, err := s.repo.ListActiveByProviderBetween(ctx, providerID, day, day.AddDate(0, 0, 1))
		if err != nil {
			s.log.Debug().Err(err).Msg("busy lookup failed for suggestions")
			break
		}

		for slot := range seq {
			if slot.Start.Before(minStart) {
				continue
			}
			slotEnd := slot.Start.Add(duration)
			free := true
			for _, b := range busy {
				if schedule.Overlaps(slot.Start, slotEnd, b.StartTime, b.EndTime) {
					free = false
					break
				}
			}
			if free {
				slot.End = slotEnd
				slot.Duration = duration
				candidates = append(candidates, slot)
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		di := dayOf(candidates[i].Start, day0)
		dj := dayOf(candidates[j].Start, day0)
		if di != dj {
			return di < dj
		}
		ai := absDuration(candidates[i].Start.Sub(wantStart))
		aj := absDuration(candidates[j].Start.Sub(wantStart))
		if ai != aj {
			return ai < aj
		}
		return candidates[i].Start.Before(candidates[j].Start)
	})

	if len(candidates) > s.cfg.SuggestionLimit {
		candidates = candidates[:s.cfg.SuggestionLimit]
	}
	return candidates
}

func dayOf(t, day0 time.Time) int {
	return int(t.Sub(day0) / (24 * time.Hour))
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func (s *Service) requireParticipant(actor Actor, appt *Appointment) error {
	switch actor.Role {
	case RoleAdmin:
		return nil
	case RolePatient:
		if actor.ID == appt.PatientID {
			return nil
		}
	case RoleProvider:
		if actor.ID == appt.ProviderID {
			return nil
		}
	}
	return &ForbiddenError{Reason: "actor is not a participant in this appointment"}
}

func (s *Service) invalidateDay(ctx context.Context, providerID uuid.UUID, t time.Time) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, providerID, DayKey(t)); err != nil {
		s.log.Warn().Err(err).Stringer("provider_id", providerID).Str("day", DayKey(t)).Msg("availability invalidation failed")
	}
}

func (s *Service) scheduleReminders(ctx context.Context, appt Appointment) {
	if s.reminders == nil {
		return
	}
	if err := s.reminders.Schedule(ctx, appt); err != nil {
		s.log.Warn().Err(err).Stringer("appointment_id", appt.ID).Msg("reminder scheduling failed")
	}
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event", eventType).Msg("marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("event", eventType).Stringer("appointment_id", appointmentID).Msg("insert event log")
	}
}

func outcomeLabel(err error) string {
	var conflict *ConflictError
	var validation *ValidationError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.As(err, &validation):
		return "invalid"
	case errors.Is(err, ErrProviderBusy):
		return "busy"
	default:
		return "error"
	}
}
