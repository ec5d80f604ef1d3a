package availability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medtrack/scheduling-engine/internal/appointment"
	"github.com/medtrack/scheduling-engine/internal/config"
	"github.com/medtrack/scheduling-engine/internal/metrics"
	"github.com/medtrack/scheduling-engine/internal/schedule"
)

// SlotView pairs a generated slot with its computed free/booked state.
type SlotView struct {
	Slot schedule.Slot `json:"slot"`
	Free bool          `json:"free"`
}

// Store is the short-TTL cache behind the availability view.
type Store interface {
	Get(ctx context.Context, providerID uuid.UUID, day string) ([]byte, bool, error)
	Set(ctx context.Context, providerID uuid.UUID, day string, view []byte) error
	Invalidate(ctx context.Context, providerID uuid.UUID, day string) error
}

// AppointmentSource is the slice of the booking store the view needs.
type AppointmentSource interface {
	GetProviderWorkingHours(ctx context.Context, providerID uuid.UUID) (schedule.WorkingHours, error)
	ListActiveByProviderBetween(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]appointment.Appointment, error)
}

// Service shapes availability read latency. It never owns correctness: the
// booking transaction always decides against the authoritative store.
type Service struct {
	source  AppointmentSource
	store   Store
	cfg     config.Config
	metrics *metrics.EngineMetrics
	log     zerolog.Logger
}

func NewService(source AppointmentSource, store Store, cfg config.Config, m *metrics.EngineMetrics, log zerolog.Logger) *Service {
	return &Service{
		source:  source,
		store:   store,
		cfg:     cfg,
		metrics: m,
		log:     log,
	}
}

// GetAvailability returns the slot/free view for every day in [from, to],
// assembling per-day cache entries and computing misses from the slot model
// plus the booking store.
func (s *Service) GetAvailability(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]SlotView, error) {
	fromDay := truncateToDay(from)
	toDay := truncateToDay(to)
	if toDay.Before(fromDay) {
		return nil, schedule.ErrEmptyDateRange
	}

	hours, err := s.source.GetProviderWorkingHours(ctx, providerID)
	if err != nil {
		return nil, err
	}

	var views []SlotView
	for day := fromDay; !day.After(toDay); day = day.AddDate(0, 0, 1) {
		dayViews, err := s.dayView(ctx, providerID, hours, day)
		if err != nil {
			return nil, err
		}
		views = append(views, dayViews...)
	}
	return views, nil
}

func (s *Service) dayView(ctx context.Context, providerID uuid.UUID, hours schedule.WorkingHours, day time.Time) ([]SlotView, error) {
	key := appointment.DayKey(day)

	data, hit, err := s.store.Get(ctx, providerID, key)
	if err != nil {
		// A cache failure degrades latency, not correctness.
		s.log.Warn().Err(err).Str("day", key).Msg("availability cache read failed")
		hit = false
	}
	s.metrics.ObserveCacheLookup(hit)

	if hit {
		var views []SlotView
		if err := json.Unmarshal(data, &views); err == nil {
			return views, nil
		}
		s.log.Warn().Str("day", key).Msg("availability cache entry corrupt, recomputing")
	}

	views, err := s.computeDay(ctx, providerID, hours, day)
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(views); err == nil {
		if err := s.store.Set(ctx, providerID, key, encoded); err != nil {
			s.log.Warn().Err(err).Str("day", key).Msg("availability cache write failed")
		}
	}

	return views, nil
}

func (s *Service) computeDay(ctx context.Context, providerID uuid.UUID, hours schedule.WorkingHours, day time.Time) ([]SlotView, error) {
	seq, err := schedule.GenerateDay(providerID, hours, day, s.cfg.SlotDuration)
	if err != nil {
		return nil, err
	}

	busy, err := s.source.ListActiveByProviderBetween(ctx, providerID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("load booked appointments: %w", err)
	}

	views := []SlotView{}
	for slot := range seq {
		free := true
		for _, b := range busy {
			if schedule.Overlaps(slot.Start, slot.End, b.StartTime, b.EndTime) {
				free = false
				break
			}
		}
		views = append(views, SlotView{Slot: slot, Free: free})
	}
	return views, nil
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
