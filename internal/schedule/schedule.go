package schedule

import (
	"fmt"
	"sort"
	"time"
)

type SlotType string

const (
	SlotGeneral   SlotType = "general"
	SlotEmergency SlotType = "emergency"
)

// Interval is one open stretch of a provider's day, expressed as minutes
// since local midnight.
type Interval struct {
	StartMinute int
	EndMinute   int
	Type        SlotType
}

func (iv Interval) Duration() time.Duration {
	return time.Duration(iv.EndMinute-iv.StartMinute) * time.Minute
}

// WorkingHours holds a provider's recurring weekly open intervals.
type WorkingHours map[time.Weekday][]Interval

// InvalidScheduleError reports a malformed working-hours definition. Slot
// generation fails for just the offending provider, not the whole system.
type InvalidScheduleError struct {
	Weekday time.Weekday
	Reason  string
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("invalid schedule on %s: %s", e.Weekday, e.Reason)
}

// Validate rejects non-positive intervals and overlapping intervals within
// the same weekday.
func (wh WorkingHours) Validate() error {
	for day, intervals := range wh {
		sorted := make([]Interval, len(intervals))
		copy(sorted, intervals)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i].StartMinute < sorted[j].StartMinute
		})

		for i, iv := range sorted {
			if iv.StartMinute < 0 || iv.EndMinute > 24*60 {
				return &InvalidScheduleError{Weekday: day, Reason: fmt.Sprintf("interval [%d,%d) outside the day", iv.StartMinute, iv.EndMinute)}
			}
			if iv.EndMinute <= iv.StartMinute {
				return &InvalidScheduleError{Weekday: day, Reason: fmt.Sprintf("interval [%d,%d) has non-positive duration", iv.StartMinute, iv.EndMinute)}
			}
			if i > 0 && iv.StartMinute < sorted[i-1].EndMinute {
				return &InvalidScheduleError{Weekday: day, Reason: fmt.Sprintf("interval [%d,%d) overlaps [%d,%d)", iv.StartMinute, iv.EndMinute, sorted[i-1].StartMinute, sorted[i-1].EndMinute)}
			}
		}
	}
	return nil
}

// Overlaps is the half-open interval intersection test used everywhere a
// conflict is decided: [aStart,aEnd) and [bStart,bEnd) intersect iff
// aStart < bEnd && bStart < aEnd.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}
