package schedule

import (
	"errors"
	"iter"
	"time"

	"github.com/google/uuid"
)

var ErrEmptyDateRange = errors.New("date range is empty")

// Slot is a candidate bookable window derived from working hours. Slots are
// generated on demand and never persisted; whether one is free is always
// computed against the appointment store.
type Slot struct {
	ProviderID uuid.UUID     `json:"provider_id"`
	Start      time.Time     `json:"start"`
	End        time.Time     `json:"end"`
	Duration   time.Duration `json:"duration"`
	Type       SlotType      `json:"type"`
}

// Generate validates the working hours and returns a lazy, restartable
// sequence of candidate slots on a slotSize grid for every day in
// [from, to], inclusive. Booking state is not consulted.
func Generate(providerID uuid.UUID, hours WorkingHours, from, to time.Time, slotSize time.Duration) (iter.Seq[Slot], error) {
	if err := hours.Validate(); err != nil {
		return nil, err
	}
	if slotSize <= 0 {
		return nil, &InvalidScheduleError{Reason: "slot size must be positive"}
	}

	fromDay := truncateToDay(from)
	toDay := truncateToDay(to)
	if toDay.Before(fromDay) {
		return nil, ErrEmptyDateRange
	}

	return func(yield func(Slot) bool) {
		for day := fromDay; !day.After(toDay); day = day.AddDate(0, 0, 1) {
			for _, iv := range hours[day.Weekday()] {
				slotType := iv.Type
				if slotType == "" {
					slotType = SlotGeneral
				}
				start := day.Add(time.Duration(iv.StartMinute) * time.Minute)
				end := day.Add(time.Duration(iv.EndMinute) * time.Minute)
				for s := start; !s.Add(slotSize).After(end); s = s.Add(slotSize) {
					slot := Slot{
						ProviderID: providerID,
						Start:      s,
						End:        s.Add(slotSize),
						Duration:   slotSize,
						Type:       slotType,
					}
					if !yield(slot) {
						return
					}
				}
			}
		}
	}, nil
}

// GenerateDay is a single-day convenience wrapper around Generate.
func GenerateDay(providerID uuid.UUID, hours WorkingHours, day time.Time, slotSize time.Duration) (iter.Seq[Slot], error) {
	return Generate(providerID, hours, day, day, slotSize)
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
